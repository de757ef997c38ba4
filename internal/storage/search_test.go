package storage

import (
	"context"
	"errors"
	"testing"
)

func seedSearchData(t *testing.T, e *Engine) {
	t.Helper()
	mustCreate(t, e, Record{"id": "n1", "title": "database connection pooling", "body": "tuning sqlite connections", "kind": "spec"})
	mustCreate(t, e, Record{"id": "n2", "title": "http server timeouts", "body": "read and write deadlines", "kind": "spec"})
	mustCreate(t, e, Record{"id": "n3", "title": "grocery list", "body": "apples and oranges", "kind": "memo"})
}

func TestKeywordSearch(t *testing.T) {
	e := newTestEngine(t)
	seedSearchData(t, e)

	hits, err := e.Search(context.Background(), "notes", "database connection", nil, SearchKeyword, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 || hits[0].Record["id"] != "n1" {
		t.Fatalf("expected n1 first, got %v", hitIDs(hits))
	}
	for _, h := range hits {
		if h.Score <= 0 || h.Score > 1 {
			t.Fatalf("score out of range: %v", h.Score)
		}
	}
}

func TestVectorSearchRanksRelatedTextFirst(t *testing.T) {
	e := newTestEngine(t)
	seedSearchData(t, e)

	hits, err := e.Search(context.Background(), "notes", "sqlite database connection pooling", nil, SearchVector, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected results")
	}
	if hits[0].Record["id"] != "n1" {
		t.Fatalf("expected n1 first, got %v", hitIDs(hits))
	}
	// Results come back in descending score order.
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Fatalf("results not sorted: %v", hits)
		}
	}
}

func TestHybridSearchUnionsModes(t *testing.T) {
	e := newTestEngine(t)
	seedSearchData(t, e)

	hits, err := e.Search(context.Background(), "notes", "database connection pooling", nil, SearchHybrid, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 || hits[0].Record["id"] != "n1" {
		t.Fatalf("expected n1 first, got %v", hitIDs(hits))
	}
}

func TestSearchHonorsFilters(t *testing.T) {
	e := newTestEngine(t)
	seedSearchData(t, e)

	hits, err := e.Search(context.Background(), "notes", "apples", map[string]any{"kind": "spec"}, SearchKeyword, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("memo should be filtered out, got %v", hitIDs(hits))
	}

	if _, err := e.Search(context.Background(), "notes", "x", map[string]any{"bogus": 1}, SearchKeyword, 10); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
}

func TestSearchUnknownMode(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Search(context.Background(), "notes", "x", nil, SearchMode("fuzzy"), 10); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
}

func TestSearchEmptyModeDefaultsToHybrid(t *testing.T) {
	e := newTestEngine(t)
	seedSearchData(t, e)

	hits, err := e.Search(context.Background(), "notes", "timeouts", nil, "", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 || hits[0].Record["id"] != "n2" {
		t.Fatalf("expected n2 first, got %v", hitIDs(hits))
	}
}

func hitIDs(hits []Scored) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		id, _ := h.Record["id"].(string)
		out = append(out, id)
	}
	return out
}
