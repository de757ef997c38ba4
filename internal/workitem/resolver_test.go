package workitem

import (
	"context"
	"testing"
)

func TestResolveUUID(t *testing.T) {
	s := newTestService(t)
	w := mustCreateItem(t, s, &WorkItem{Type: TypeTask, Title: "by id"})

	res, err := s.Resolve(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ID != w.ID || res.MatchedBy != "uuid" {
		t.Fatalf("expected uuid match, got %+v", res)
	}
}

func TestResolveExactTitle(t *testing.T) {
	s := newTestService(t)
	w := mustCreateItem(t, s, &WorkItem{Type: TypeTask, Title: "Implement Auth Flow"})
	mustCreateItem(t, s, &WorkItem{Type: TypeTask, Title: "Something Else"})

	res, err := s.Resolve(context.Background(), "implement auth flow")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ID != w.ID || res.MatchedBy != "title" {
		t.Fatalf("expected case-insensitive title match, got %+v", res)
	}
}

func TestResolveAmbiguousTitleFallsThrough(t *testing.T) {
	s := newTestService(t)
	a := mustCreateItem(t, s, &WorkItem{Type: TypeTask, Title: "Duplicate"})
	b := mustCreateItem(t, s, &WorkItem{Type: TypeTask, Title: "duplicate"})

	// Two exact hits: not a unique title match, but the keyword pass still
	// finds an item containing the token.
	res, err := s.Resolve(context.Background(), "duplicate")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.MatchedBy != "keyword" || (res.ID != a.ID && res.ID != b.ID) {
		t.Fatalf("expected keyword fallback, got %+v", res)
	}
}

func TestResolveKeyword(t *testing.T) {
	s := newTestService(t)
	w := mustCreateItem(t, s, &WorkItem{
		Type:        TypeStory,
		Title:       "Search API",
		Description: "hybrid retrieval over work items",
	})

	res, err := s.Resolve(context.Background(), "hybrid retrieval")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ID != w.ID || res.MatchedBy != "keyword" {
		t.Fatalf("expected keyword match via description, got %+v", res)
	}
}

func TestResolveNoMatchReturnsCandidates(t *testing.T) {
	s := newTestService(t)
	mustCreateItem(t, s, &WorkItem{Type: TypeTask, Title: "Deploy service"})
	mustCreateItem(t, s, &WorkItem{Type: TypeTask, Title: "Deploy docs"})
	mustCreateItem(t, s, &WorkItem{Type: TypeTask, Title: "Unrelated"})

	res, err := s.Resolve(context.Background(), "deploy everything now")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ID != "" {
		t.Fatalf("expected no match, got %+v", res)
	}
	if len(res.Candidates) == 0 || len(res.Candidates) > 3 {
		t.Fatalf("expected 1-3 candidates, got %v", res.Candidates)
	}
	for _, c := range res.Candidates {
		if c != "Deploy service" && c != "Deploy docs" {
			t.Fatalf("unexpected candidate %q", c)
		}
	}
}

func TestResolveEmptyInput(t *testing.T) {
	s := newTestService(t)
	res, err := s.Resolve(context.Background(), "   ")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ID != "" || len(res.Candidates) != 0 {
		t.Fatalf("empty input should resolve to nothing, got %+v", res)
	}
}
