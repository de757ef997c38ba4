package memory

import (
	"context"
	"strings"
	"testing"
)

func seedArchitectureTree(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	items := []*ArchitectureItem{
		{
			UniqueSlug:     "platform",
			Title:          "Platform",
			AIRequirements: strings.Repeat("The platform owns ingress, auth, and storage. ", 20),
			ChildrenSlugs:  []string{"ingress", "auth", "missing-child"},
			RelatedSlugs:   []string{"billing"},
		},
		{
			UniqueSlug:     "ingress",
			Title:          "Ingress",
			AIRequirements: strings.Repeat("Ingress terminates TLS and routes by host. ", 30),
		},
		{
			UniqueSlug:     "auth",
			Title:          "Auth",
			AIRequirements: "Short requirements.",
		},
		{
			UniqueSlug:     "billing",
			Title:          "Billing",
			AIRequirements: strings.Repeat("Billing reconciles usage nightly. ", 30),
		},
	}
	for _, item := range items {
		if _, err := s.CreateArchitecture(ctx, item); err != nil {
			t.Fatalf("seed %s: %v", item.UniqueSlug, err)
		}
	}
}

func TestAssembleContext(t *testing.T) {
	s := newTestStore(t)
	seedArchitectureTree(t, s)

	result, err := s.AssembleContext(context.Background(), "platform", 2000)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if result.Primary.Slug != "platform" || result.Primary.Truncated {
		t.Fatalf("primary must render verbatim: %+v", result.Primary)
	}
	if result.TokenBudget != 2000 {
		t.Fatalf("unexpected budget %d", result.TokenBudget)
	}
	if result.TokensUsed > result.TokenBudget {
		t.Fatalf("budget exceeded: used %d of %d", result.TokensUsed, result.TokenBudget)
	}
	// Children render in declaration order; the unresolvable slug is skipped.
	if len(result.Children) < 1 || result.Children[0].Slug != "ingress" {
		t.Fatalf("unexpected children: %+v", result.Children)
	}
	for _, c := range result.Children {
		if c.Slug == "missing-child" {
			t.Fatal("unresolvable child must be skipped")
		}
		if c.Tokens > childSummaryTokens {
			t.Fatalf("child summary over budget: %+v", c)
		}
	}
	if result.Markdown == "" || !strings.Contains(result.Markdown, "# Platform") {
		t.Fatalf("missing markdown rendering: %q", result.Markdown)
	}
}

func TestAssembleContextDefaultsBudget(t *testing.T) {
	s := newTestStore(t)
	seedArchitectureTree(t, s)

	result, err := s.AssembleContext(context.Background(), "platform", 0)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if result.TokenBudget != DefaultTokenBudget {
		t.Fatalf("expected default budget, got %d", result.TokenBudget)
	}
}

func TestAssembleContextTightBudgetMarksTruncation(t *testing.T) {
	s := newTestStore(t)
	seedArchitectureTree(t, s)

	// Barely more than the primary: no room for children or related items.
	primary, err := s.GetArchitecture(context.Background(), "platform")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	budget := estimateTokens(primary.AIRequirements) + 10

	result, err := s.AssembleContext(context.Background(), "platform", budget)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(result.Children) != 0 || len(result.Related) != 0 {
		t.Fatalf("tight budget should exclude secondary sections: %+v", result)
	}
	if !result.TruncationApplied {
		t.Fatal("dropping sections must set truncation_applied")
	}
}

func TestTruncateToTokens(t *testing.T) {
	short := "fits easily"
	if got, truncated := truncateToTokens(short, 100); got != short || truncated {
		t.Fatalf("short text must pass through, got %q (%v)", got, truncated)
	}

	// Sentence boundary in the last 30% of the window gets a clean cut.
	text := strings.Repeat("x", 360) + ". tail that exceeds the window by a lot more text"
	got, truncated := truncateToTokens(text, 100)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if !strings.HasSuffix(got, ".") {
		t.Fatalf("expected sentence-boundary cut, got %q", got[len(got)-20:])
	}

	// No boundary: hard cut with marker.
	got, truncated = truncateToTokens(strings.Repeat("y", 1000), 50)
	if !truncated || !strings.HasSuffix(got, truncationMarker) {
		t.Fatalf("expected hard cut with marker, got %q", got[len(got)-10:])
	}
}
