package memory

import (
	"context"
	"strings"
	"testing"
)

func seedSolutions(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	items := []*TroubleshootItem{
		{
			UniqueSlug:   "db-lock",
			Title:        "Database lock contention",
			AIUseCase:    []string{"sqlite writes time out under load", "SQLITE_BUSY errors in logs"},
			AISolutions:  "Enable WAL mode. Set busy_timeout to 5000ms. Serialize writers behind a queue.",
			UsageCount:   10,
			SuccessCount: 9,
		},
		{
			UniqueSlug:   "slow-search",
			Title:        "Slow semantic search",
			AIUseCase:    []string{"vector search latency spikes"},
			AISolutions:  "Bound concurrent searches and pre-normalize vectors.",
			UsageCount:   10,
			SuccessCount: 1,
		},
		{
			UniqueSlug:  "cert-expiry",
			Title:       "TLS certificate expired",
			AIUseCase:   []string{"clients see certificate errors"},
			AISolutions: "Rotate the certificate and reload listeners.",
		},
	}
	for _, item := range items {
		if _, err := s.CreateTroubleshoot(ctx, item); err != nil {
			t.Fatalf("seed %s: %v", item.UniqueSlug, err)
		}
	}
}

func TestMatchSolutionsRanksRelevantFirst(t *testing.T) {
	s := newTestStore(t)
	seedSolutions(t, s)

	matches, err := s.MatchSolutions(context.Background(), "sqlite writes time out under load", MatchingContext{})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected matches")
	}
	if matches[0].Item.UniqueSlug != "db-lock" {
		t.Fatalf("expected db-lock first, got %s", matches[0].Item.UniqueSlug)
	}
	if matches[0].Preview == "" {
		t.Fatal("expected a solution preview")
	}
	// The overlapping use case is surfaced.
	found := false
	for _, uc := range matches[0].MatchedUseCases {
		if strings.Contains(uc, "time out") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the overlapping use case, got %v", matches[0].MatchedUseCases)
	}
}

func TestMatchSolutionsIsSideEffectFree(t *testing.T) {
	s := newTestStore(t)
	seedSolutions(t, s)
	ctx := context.Background()

	if _, err := s.MatchSolutions(ctx, "sqlite writes time out", MatchingContext{}); err != nil {
		t.Fatalf("match: %v", err)
	}
	item, err := s.GetTroubleshoot(ctx, "db-lock")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item.UsageCount != 10 {
		t.Fatalf("matching must not move usage counters, got %d", item.UsageCount)
	}
}

func TestMatchSolutionsMinRelevanceFilters(t *testing.T) {
	s := newTestStore(t)
	seedSolutions(t, s)

	matches, err := s.MatchSolutions(context.Background(), "sqlite writes time out under load", MatchingContext{MinRelevanceScore: 0.999})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	for _, m := range matches {
		if m.Relevance < 0.999 {
			t.Fatalf("match below threshold leaked through: %+v", m)
		}
	}
}

func TestMatchSolutionsSuccessBoost(t *testing.T) {
	s := newTestStore(t)
	seedSolutions(t, s)
	ctx := context.Background()

	plain, err := s.MatchSolutions(ctx, "sqlite writes time out under load", MatchingContext{})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	boosted, err := s.MatchSolutions(ctx, "sqlite writes time out under load", MatchingContext{BoostBySuccessRate: true})
	if err != nil {
		t.Fatalf("match boosted: %v", err)
	}

	rel := func(ms []SolutionMatch, slug string) float64 {
		for _, m := range ms {
			if m.Item.UniqueSlug == slug {
				return m.Relevance
			}
		}
		return -1
	}
	p, b := rel(plain, "db-lock"), rel(boosted, "db-lock")
	if p < 0 || b < 0 {
		t.Fatalf("db-lock missing from results: plain=%v boosted=%v", p, b)
	}
	if b < p {
		t.Fatalf("90%% success rate must not lower relevance: %v -> %v", p, b)
	}
	if b > 1 {
		t.Fatalf("relevance must stay capped at 1, got %v", b)
	}
}

func TestMatchSolutionsMaxResults(t *testing.T) {
	s := newTestStore(t)
	seedSolutions(t, s)

	matches, err := s.MatchSolutions(context.Background(), "errors", MatchingContext{MaxResults: 1})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(matches) > 1 {
		t.Fatalf("expected at most 1 match, got %d", len(matches))
	}
}

func TestGetDetailedSolutionMarkAsUsed(t *testing.T) {
	s := newTestStore(t)
	seedSolutions(t, s)
	ctx := context.Background()

	// Without the flag nothing moves.
	item, err := s.GetDetailedSolution(ctx, "cert-expiry", false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item.UsageCount != 0 {
		t.Fatalf("unexpected usage count %d", item.UsageCount)
	}

	// With it, usage moves by exactly one and success stays put.
	item, err = s.GetDetailedSolution(ctx, "cert-expiry", true)
	if err != nil {
		t.Fatalf("get marked: %v", err)
	}
	if item.UsageCount != 1 || item.SuccessCount != 0 {
		t.Fatalf("expected usage=1 success=0, got %+v", item)
	}
}

func TestMatchedUseCasesFallback(t *testing.T) {
	problem := tokenSet("completely unrelated words")
	useCases := []string{"first case", "second case", "third case"}
	got := matchedUseCases(useCases, problem)
	if len(got) != 2 || got[0] != "first case" || got[1] != "second case" {
		t.Fatalf("expected first two as fallback, got %v", got)
	}
}

func TestSolutionPreviewBounded(t *testing.T) {
	long := strings.Repeat("word ", 100)
	got := solutionPreview(long)
	if len(got) > previewMaxChars+len(truncationMarker) {
		t.Fatalf("preview too long: %d chars", len(got))
	}
}
