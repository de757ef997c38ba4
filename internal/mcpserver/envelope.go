package mcpserver

import (
	"context"
	"errors"
	"time"

	"github.com/mcp-jive/jive/internal/memory"
	"github.com/mcp-jive/jive/internal/storage"
	"github.com/mcp-jive/jive/internal/workitem"
)

// Error codes surfaced in the response envelope.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeValidation       = "VALIDATION_ERROR"
	CodeInvalidHierarchy = "INVALID_HIERARCHY"
	CodeTimeout          = "TIMEOUT"
	CodeCancelled        = "CANCELLED"
	CodeTooManyRequests  = "TOO_MANY_REQUESTS"
	CodeUnavailable      = "STORAGE_UNAVAILABLE"
	CodeInternal         = "INTERNAL_ERROR"
)

// Envelope is the uniform response wrapper every tool returns. Failures carry
// both error and message with the same text; message survives shaping as part
// of the allowlist.
type Envelope struct {
	Success   bool           `json:"success"`
	Data      any            `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func okEnvelope(data any) *Envelope {
	return &Envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func errEnvelope(err error) *Envelope {
	env := &Envelope{
		Success:   false,
		Error:     err.Error(),
		ErrorCode: classifyError(err),
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
	}
	var vErr *workitem.ValidationError
	if errors.As(err, &vErr) {
		env.Details = map[string]any{
			"field":           vErr.Field,
			"provided_value":  vErr.Provided,
			"expected_format": vErr.Expected,
		}
	}
	return env
}

// classifyError maps domain sentinel errors to envelope codes.
func classifyError(err error) string {
	var vErr *workitem.ValidationError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, storage.ErrConflict):
		return CodeConflict
	case errors.Is(err, storage.ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, workitem.ErrInvalidHierarchy):
		return CodeInvalidHierarchy
	case errors.As(err, &vErr),
		errors.Is(err, storage.ErrInvalidFilter),
		errors.Is(err, memory.ErrInvalidSlug):
		return CodeValidation
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	default:
		return CodeInternal
	}
}
