package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/embedding"
)

func testSchema() Schema {
	return Schema{
		Name:       "notes",
		SlugField:  "slug",
		TextFields: []string{"title", "body"},
		Fields:     []string{"id", "slug", "title", "body", "kind", "rank", "created_at", "updated_at"},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(filepath.Join(dir, "test.db"), []Schema{testSchema()}, embedding.NewLocal(64), zap.NewNop())
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestCreateAssignsIDAndTimestamps(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	rec, err := e.Create(ctx, "notes", Record{"title": "hello", "body": "world"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id, _ := rec["id"].(string)
	if id == "" {
		t.Fatal("expected generated id")
	}
	if rec["created_at"] == nil || rec["updated_at"] == nil {
		t.Fatalf("missing timestamps: %v", rec)
	}

	got, err := e.Get(ctx, "notes", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got["title"] != "hello" {
		t.Fatalf("unexpected title %v", got["title"])
	}
}

func TestCreateConflicts(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Create(ctx, "notes", Record{"id": "n1", "title": "a", "slug": "first"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.Create(ctx, "notes", Record{"id": "n1", "title": "b"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate id: expected ErrConflict, got %v", err)
	}
	if _, err := e.Create(ctx, "notes", Record{"title": "c", "slug": "first"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate slug: expected ErrConflict, got %v", err)
	}
}

func TestGetBySlug(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Create(ctx, "notes", Record{"id": "n1", "title": "a", "slug": "alpha"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec, err := e.GetBySlug(ctx, "notes", "alpha")
	if err != nil {
		t.Fatalf("get by slug: %v", err)
	}
	if rec["id"] != "n1" {
		t.Fatalf("expected n1, got %v", rec["id"])
	}
	if _, err := e.GetBySlug(ctx, "notes", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateMergesAndClearsFields(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	created, err := e.Create(ctx, "notes", Record{"id": "n1", "title": "a", "body": "text", "kind": "spec"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	createdAt := created["created_at"]

	updated, err := e.Update(ctx, "notes", "n1", Record{"title": "b", "kind": nil})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated["title"] != "b" {
		t.Fatalf("title not updated: %v", updated["title"])
	}
	if updated["body"] != "text" {
		t.Fatalf("untouched field lost: %v", updated["body"])
	}
	if _, ok := updated["kind"]; ok {
		t.Fatalf("nil value should delete the field, got %v", updated["kind"])
	}
	if updated["created_at"] != createdAt {
		t.Fatalf("created_at changed: %v vs %v", updated["created_at"], createdAt)
	}
}

func TestUpdateSlugCollision(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	mustCreate(t, e, Record{"id": "n1", "title": "a", "slug": "one"})
	mustCreate(t, e, Record{"id": "n2", "title": "b", "slug": "two"})

	if _, err := e.Update(ctx, "notes", "n2", Record{"slug": "one"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	// Moving the slug frees the old one.
	if _, err := e.Update(ctx, "notes", "n2", Record{"slug": "three"}); err != nil {
		t.Fatalf("rename slug: %v", err)
	}
	if _, err := e.Create(ctx, "notes", Record{"title": "c", "slug": "two"}); err != nil {
		t.Fatalf("freed slug should be reusable: %v", err)
	}
}

func TestDelete(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	mustCreate(t, e, Record{"id": "n1", "title": "a", "slug": "gone"})
	if err := e.Delete(ctx, "notes", "n1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := e.Get(ctx, "notes", "n1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := e.GetBySlug(ctx, "notes", "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("slug should be released, got %v", err)
	}
	if err := e.Delete(ctx, "notes", "n1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: expected ErrNotFound, got %v", err)
	}
}

func TestListFiltersSortAndPaginate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	mustCreate(t, e, Record{"id": "n1", "title": "a", "kind": "spec", "rank": 3})
	mustCreate(t, e, Record{"id": "n2", "title": "b", "kind": "spec", "rank": 1})
	mustCreate(t, e, Record{"id": "n3", "title": "c", "kind": "memo", "rank": 2})

	specs, err := e.List(ctx, "notes", map[string]any{"kind": "spec"}, 0, 0, "rank", "asc")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(specs) != 2 || specs[0]["id"] != "n2" || specs[1]["id"] != "n1" {
		t.Fatalf("unexpected filtered order: %v", ids(specs))
	}

	anyOf, err := e.List(ctx, "notes", map[string]any{"kind": []any{"spec", "memo"}}, 0, 0, "rank", "desc")
	if err != nil {
		t.Fatalf("list any-of: %v", err)
	}
	if len(anyOf) != 3 || anyOf[0]["id"] != "n1" {
		t.Fatalf("unexpected any-of order: %v", ids(anyOf))
	}

	page, err := e.List(ctx, "notes", nil, 1, 1, "rank", "asc")
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 1 || page[0]["id"] != "n3" {
		t.Fatalf("unexpected page: %v", ids(page))
	}

	empty, err := e.List(ctx, "notes", nil, 10, 99, "rank", "asc")
	if err != nil {
		t.Fatalf("list past end: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty page, got %v", ids(empty))
	}
}

func TestListRejectsUnknownField(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.List(ctx, "notes", map[string]any{"bogus": "x"}, 0, 0, "", ""); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("filter: expected ErrInvalidFilter, got %v", err)
	}
	if _, err := e.List(ctx, "notes", nil, 0, 0, "bogus", "asc"); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("sort: expected ErrInvalidFilter, got %v", err)
	}
}

func TestUnknownTable(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Get(context.Background(), "nope", "n1"); !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("expected ErrUnknownTable, got %v", err)
	}
}

func TestCountAndPing(t *testing.T) {
	e := newTestEngine(t)
	mustCreate(t, e, Record{"id": "n1", "title": "a"})
	mustCreate(t, e, Record{"id": "n2", "title": "b"})

	n, err := e.Count("notes")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
	if err := e.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	var nilEngine *Engine
	if err := nilEngine.Ping(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("nil engine ping: expected ErrUnavailable, got %v", err)
	}
}

func TestReopenRestoresState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persist.db")
	ctx := context.Background()

	e, err := Open(path, []Schema{testSchema()}, embedding.NewLocal(64), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := e.Create(ctx, "notes", Record{"id": "n1", "title": "persisted note", "slug": "keep"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	e2, err := Open(path, []Schema{testSchema()}, embedding.NewLocal(64), zap.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	rec, err := e2.GetBySlug(ctx, "notes", "keep")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if rec["title"] != "persisted note" {
		t.Fatalf("unexpected record: %v", rec)
	}

	// The vector index is rebuilt from disk too.
	hits, err := e2.Search(ctx, "notes", "persisted note", nil, SearchVector, 5)
	if err != nil {
		t.Fatalf("search after reopen: %v", err)
	}
	if len(hits) == 0 || hits[0].Record["id"] != "n1" {
		t.Fatalf("expected n1 from rebuilt index, got %v", hits)
	}
}

func mustCreate(t *testing.T, e *Engine, rec Record) Record {
	t.Helper()
	out, err := e.Create(context.Background(), "notes", rec)
	if err != nil {
		t.Fatalf("create %v: %v", rec["id"], err)
	}
	return out
}

func ids(recs []Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		id, _ := r["id"].(string)
		out = append(out, id)
	}
	return out
}
