// Package storage implements the hybrid document store backing the server:
// SQLite tables for durability with an in-memory record map and per-table
// vector index serving reads and semantic search.
package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mcp-jive/jive/internal/embedding"
)

// Record is one stored document. List-valued fields decode as []any and
// numbers as float64, matching encoding/json conventions.
type Record map[string]any

// Schema describes one table.
type Schema struct {
	// Name is the SQL table name.
	Name string
	// SlugField, when set, names a field enforced unique within the table
	// (e.g. "unique_slug" for memory items).
	SlugField string
	// TextFields contribute to the embedding text and to keyword search.
	TextFields []string
	// Fields enumerates the filterable/sortable fields. Filters naming a
	// field outside this set fail with ErrInvalidFilter.
	Fields []string
	// CreatedField / UpdatedField name the timestamp fields the engine
	// maintains. Defaults: created_at / updated_at.
	CreatedField string
	UpdatedField string
}

func (s Schema) createdField() string {
	if s.CreatedField != "" {
		return s.CreatedField
	}
	return "created_at"
}

func (s Schema) updatedField() string {
	if s.UpdatedField != "" {
		return s.UpdatedField
	}
	return "updated_at"
}

// table pairs a schema with its in-memory state.
type table struct {
	schema Schema
	// records and bySlug are guarded by the engine mutex.
	records map[string]Record
	bySlug  map[string]string
	index   *vectorIndex
	fields  map[string]struct{}
}

const searchPoolSize = 8

// Engine is the storage engine. Reads are served from memory; mutations are
// written to both memory and SQLite, mirroring the control-plane store it
// replaces a vector database with.
type Engine struct {
	db       *sql.DB
	embedder embedding.Embedder
	logger   *zap.Logger

	mu     sync.RWMutex
	tables map[string]*table

	// searchSem bounds concurrent vector searches to protect the embedder.
	searchSem chan struct{}
}

// Open opens (or creates) the SQLite database at path and registers the given
// table schemas, rebuilding each table's vector index from disk.
func Open(path string, schemas []Schema, embedder embedding.Embedder, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	e := &Engine{
		db:        db,
		embedder:  embedder,
		logger:    logger.Named("storage"),
		tables:    make(map[string]*table),
		searchSem: make(chan struct{}, searchPoolSize),
	}

	for _, schema := range schemas {
		if err := e.registerTable(schema); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) registerTable(schema Schema) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id         TEXT PRIMARY KEY,
		slug       TEXT,
		doc        TEXT NOT NULL,
		vector     BLOB,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`, schema.Name)
	if _, err := e.db.Exec(stmt); err != nil {
		return fmt.Errorf("create table %s: %w", schema.Name, err)
	}
	if schema.SlugField != "" {
		_, _ = e.db.Exec(fmt.Sprintf(
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_slug ON %s(slug) WHERE slug != ''`,
			schema.Name, schema.Name))
	}
	_, _ = e.db.Exec(fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_updated ON %s(updated_at)`, schema.Name, schema.Name))

	t := &table{
		schema:  schema,
		records: make(map[string]Record),
		bySlug:  make(map[string]string),
		index:   newVectorIndex(e.dims()),
		fields:  make(map[string]struct{}, len(schema.Fields)),
	}
	for _, f := range schema.Fields {
		t.fields[f] = struct{}{}
	}
	if err := e.loadTable(t); err != nil {
		return err
	}
	e.tables[schema.Name] = t
	return nil
}

func (e *Engine) dims() int {
	if e.embedder != nil {
		return e.embedder.Dims()
	}
	return embedding.DefaultDims
}

func (e *Engine) loadTable(t *table) error {
	rows, err := e.db.Query(fmt.Sprintf(`SELECT id, slug, doc, vector FROM %s`, t.schema.Name))
	if err != nil {
		return fmt.Errorf("load %s: %w", t.schema.Name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, slug, doc string
		var vec []byte
		if err := rows.Scan(&id, &slug, &doc, &vec); err != nil {
			return fmt.Errorf("scan %s: %w", t.schema.Name, err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			e.logger.Warn("skipping corrupt record", zap.String("table", t.schema.Name), zap.String("id", id))
			continue
		}
		t.records[id] = rec
		if slug != "" {
			t.bySlug[slug] = id
		}
		if len(vec) > 0 {
			t.index.put(id, decodeVector(vec))
		}
	}
	return rows.Err()
}

// Close closes the underlying database.
func (e *Engine) Close() error {
	if e == nil || e.db == nil {
		return nil
	}
	return e.db.Close()
}

// Ping verifies the database connection is alive.
func (e *Engine) Ping() error {
	if e == nil || e.db == nil {
		return ErrUnavailable
	}
	return e.db.Ping()
}

func (e *Engine) table(name string) (*table, error) {
	t, ok := e.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return t, nil
}

// embedText concatenates the schema's text fields for embedding and keyword
// matching.
func embedText(schema Schema, rec Record) string {
	parts := make([]string, 0, len(schema.TextFields))
	for _, f := range schema.TextFields {
		parts = append(parts, stringifyField(rec[f])...)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func stringifyField(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, stringifyField(item)...)
		}
		return out
	case []string:
		return val
	default:
		return []string{fmt.Sprint(val)}
	}
}

// Create inserts a record. A missing id is assigned; timestamps are set; the
// record's embedding is computed from the schema's text fields.
func (e *Engine) Create(ctx context.Context, tableName string, rec Record) (Record, error) {
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}

	rec = cloneRecord(rec)
	id, _ := rec["id"].(string)
	if id == "" {
		id = uuid.NewString()
		rec["id"] = id
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, ok := rec[t.schema.createdField()].(string); !ok {
		rec[t.schema.createdField()] = now
	}
	rec[t.schema.updatedField()] = now

	slug := e.slugOf(t, rec)

	e.mu.Lock()
	if _, exists := t.records[id]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: id %s", ErrConflict, id)
	}
	if slug != "" {
		if _, exists := t.bySlug[slug]; exists {
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: slug %s", ErrConflict, slug)
		}
	}
	e.mu.Unlock()

	vec, err := e.embed(ctx, embedText(t.schema, rec))
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Re-check under the lock: a concurrent Create may have won the race.
	if _, exists := t.records[id]; exists {
		return nil, fmt.Errorf("%w: id %s", ErrConflict, id)
	}
	if slug != "" {
		if _, exists := t.bySlug[slug]; exists {
			return nil, fmt.Errorf("%w: slug %s", ErrConflict, slug)
		}
	}
	if err := e.persist(t, rec, slug, vec); err != nil {
		return nil, err
	}
	t.records[id] = rec
	if slug != "" {
		t.bySlug[slug] = id
	}
	if vec != nil {
		t.index.put(id, vec)
	}
	return cloneRecord(rec), nil
}

// Get returns the record with the given id, or ErrNotFound.
func (e *Engine) Get(ctx context.Context, tableName, id string) (Record, error) {
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := t.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneRecord(rec), nil
}

// GetBySlug returns the record with the given slug, or ErrNotFound.
func (e *Engine) GetBySlug(ctx context.Context, tableName, slug string) (Record, error) {
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := t.bySlug[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	return cloneRecord(t.records[id]), nil
}

// Update merge-updates the record. If a text field contributing to the vector
// changes, the record is re-embedded before the write is exposed.
func (e *Engine) Update(ctx context.Context, tableName, id string, partial Record) (Record, error) {
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	current, ok := t.records[id]
	if !ok {
		e.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	merged := cloneRecord(current)
	oldText := embedText(t.schema, current)
	oldSlug := e.slugOf(t, current)
	e.mu.RUnlock()

	for k, v := range partial {
		if k == "id" || k == t.schema.createdField() {
			continue
		}
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	merged["id"] = id
	merged[t.schema.updatedField()] = time.Now().UTC().Format(time.RFC3339Nano)

	newText := embedText(t.schema, merged)
	var vec []float32
	if newText != oldText {
		if vec, err = e.embed(ctx, newText); err != nil {
			return nil, err
		}
	}

	newSlug := e.slugOf(t, merged)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := t.records[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if newSlug != oldSlug && newSlug != "" {
		if other, exists := t.bySlug[newSlug]; exists && other != id {
			return nil, fmt.Errorf("%w: slug %s", ErrConflict, newSlug)
		}
	}
	if vec == nil {
		vec = t.index.get(id)
	}
	if err := e.persist(t, merged, newSlug, vec); err != nil {
		return nil, err
	}
	t.records[id] = merged
	if oldSlug != "" && oldSlug != newSlug {
		delete(t.bySlug, oldSlug)
	}
	if newSlug != "" {
		t.bySlug[newSlug] = id
	}
	if vec != nil {
		t.index.put(id, vec)
	}
	return cloneRecord(merged), nil
}

// Delete removes a record by id.
func (e *Engine) Delete(ctx context.Context, tableName, id string) error {
	t, err := e.table(tableName)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := e.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t.schema.Name), id); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, t.schema.Name, err)
	}
	if slug := e.slugOf(t, rec); slug != "" {
		delete(t.bySlug, slug)
	}
	delete(t.records, id)
	t.index.remove(id)
	return nil
}

// Count returns the number of records in a table.
func (e *Engine) Count(tableName string) (int, error) {
	t, err := e.table(tableName)
	if err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(t.records), nil
}

// List returns records matching the filters, sorted and paginated.
// Filters map field → value or []values ("any-of"); unknown fields fail with
// ErrInvalidFilter. limit <= 0 means no limit.
func (e *Engine) List(ctx context.Context, tableName string, filters map[string]any, limit, offset int, sortBy, sortOrder string) ([]Record, error) {
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}
	if err := validateFilters(t, filters); err != nil {
		return nil, err
	}
	if sortBy != "" {
		if _, ok := t.fields[sortBy]; !ok {
			return nil, fmt.Errorf("%w: unknown sort field %q", ErrInvalidFilter, sortBy)
		}
	}

	e.mu.RLock()
	matched := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		if matchesFilters(rec, filters) {
			matched = append(matched, cloneRecord(rec))
		}
	}
	e.mu.RUnlock()

	if sortBy == "" {
		sortBy = t.schema.createdField()
	}
	desc := strings.EqualFold(sortOrder, "desc")
	sort.SliceStable(matched, func(i, j int) bool {
		less := compareFieldValues(matched[i][sortBy], matched[j][sortBy]) < 0
		if desc {
			return !less
		}
		return less
	})

	if offset > 0 {
		if offset >= len(matched) {
			return []Record{}, nil
		}
		matched = matched[offset:]
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (e *Engine) slugOf(t *table, rec Record) string {
	if t.schema.SlugField == "" {
		return ""
	}
	slug, _ := rec[t.schema.SlugField].(string)
	return slug
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	if e.embedder == nil || text == "" {
		return nil, nil
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", ErrUnavailable, err)
	}
	return vec, nil
}

func (e *Engine) persist(t *table, rec Record, slug string, vec []float32) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	created, _ := rec[t.schema.createdField()].(string)
	updated, _ := rec[t.schema.updatedField()].(string)
	_, err = e.db.Exec(fmt.Sprintf(`INSERT INTO %s (id, slug, doc, vector, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			slug       = excluded.slug,
			doc        = excluded.doc,
			vector     = excluded.vector,
			updated_at = excluded.updated_at`, t.schema.Name),
		rec["id"], slug, string(doc), encodeVector(vec), created, updated)
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, t.schema.Name, err)
	}
	return nil
}

func cloneRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func validateFilters(t *table, filters map[string]any) error {
	for field := range filters {
		if _, ok := t.fields[field]; !ok {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, field)
		}
	}
	return nil
}

func matchesFilters(rec Record, filters map[string]any) bool {
	for field, want := range filters {
		got := rec[field]
		switch wants := want.(type) {
		case []any:
			if !anyEqual(got, wants) {
				return false
			}
		case []string:
			vals := make([]any, len(wants))
			for i, w := range wants {
				vals[i] = w
			}
			if !anyEqual(got, vals) {
				return false
			}
		default:
			if !valueEqual(got, want) {
				return false
			}
		}
	}
	return true
}

func anyEqual(got any, wants []any) bool {
	for _, w := range wants {
		if valueEqual(got, w) {
			return true
		}
	}
	return false
}

func valueEqual(got, want any) bool {
	if got == nil {
		return want == nil
	}
	// Numbers arrive as mixed int/float across JSON boundaries.
	gf, gok := toFloat(got)
	wf, wok := toFloat(want)
	if gok && wok {
		return gf == wf
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func compareFieldValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
