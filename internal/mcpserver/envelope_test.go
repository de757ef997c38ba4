package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mcp-jive/jive/internal/memory"
	"github.com/mcp-jive/jive/internal/storage"
	"github.com/mcp-jive/jive/internal/workitem"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{storage.ErrNotFound, CodeNotFound},
		{fmt.Errorf("item %q: %w", "w-1", storage.ErrNotFound), CodeNotFound},
		{storage.ErrConflict, CodeConflict},
		{storage.ErrUnavailable, CodeUnavailable},
		{storage.ErrInvalidFilter, CodeValidation},
		{workitem.ErrInvalidHierarchy, CodeInvalidHierarchy},
		{fmt.Errorf("reparent: %w", workitem.ErrInvalidHierarchy), CodeInvalidHierarchy},
		{memory.ErrInvalidSlug, CodeValidation},
		{&workitem.ValidationError{Field: "type", Provided: "saga"}, CodeValidation},
		{context.DeadlineExceeded, CodeTimeout},
		{context.Canceled, CodeCancelled},
		{errors.New("disk on fire"), CodeInternal},
	}
	for _, tc := range cases {
		if got := classifyError(tc.err); got != tc.want {
			t.Errorf("classifyError(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestEnvelopeShape(t *testing.T) {
	ok := okEnvelope(map[string]any{"id": "w-1"})
	if !ok.Success || ok.ErrorCode != "" || ok.Timestamp.IsZero() {
		t.Fatalf("unexpected ok envelope: %+v", ok)
	}

	bad := errEnvelope(storage.ErrNotFound)
	if bad.Success || bad.ErrorCode != CodeNotFound {
		t.Fatalf("unexpected error envelope: %+v", bad)
	}
	if bad.Error == "" || bad.Error != bad.Message {
		t.Fatalf("failure envelope must carry error (message as alias): %+v", bad)
	}
}

func TestErrorCodeLiterals(t *testing.T) {
	if CodeUnavailable != "STORAGE_UNAVAILABLE" {
		t.Fatalf("unexpected unavailable code %q", CodeUnavailable)
	}
	if CodeInvalidHierarchy != "INVALID_HIERARCHY" {
		t.Fatalf("unexpected hierarchy code %q", CodeInvalidHierarchy)
	}
}

func TestValidationErrorCarriesDetails(t *testing.T) {
	env := errEnvelope(&workitem.ValidationError{
		Field:    "type",
		Provided: "saga",
		Expected: "initiative|epic|feature|story|task",
	})
	if env.ErrorCode != CodeValidation {
		t.Fatalf("unexpected code %q", env.ErrorCode)
	}
	if env.Details["field"] != "type" || env.Details["provided_value"] != "saga" {
		t.Fatalf("details missing: %v", env.Details)
	}
}
