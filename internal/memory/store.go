package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/events"
	"github.com/mcp-jive/jive/internal/storage"
)

// Store provides namespaced CRUD and semantic search over memory items.
type Store struct {
	store  *storage.Engine
	bus    *events.Bus
	logger *zap.Logger
}

// NewStore creates a memory store.
func NewStore(store *storage.Engine, bus *events.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{store: store, bus: bus, logger: logger.Named("memory")}
}

// ── Architecture namespace ──────────────────────────────────

// CreateArchitecture validates and inserts an architecture item.
func (s *Store) CreateArchitecture(ctx context.Context, item *ArchitectureItem) (*ArchitectureItem, error) {
	if err := item.validate(); err != nil {
		return nil, err
	}
	stampCreated(&item.CreatedOn, &item.LastUpdatedOn)
	rec, err := toRecord(item)
	if err != nil {
		return nil, err
	}
	var created storage.Record
	err = storage.WithRetry(ctx, func() error {
		var cerr error
		created, cerr = s.store.Create(ctx, NamespaceArchitecture.Table(), rec)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	out := &ArchitectureItem{}
	if err := recordInto(created, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetArchitecture fetches by slug, falling back to id.
func (s *Store) GetArchitecture(ctx context.Context, slugOrID string) (*ArchitectureItem, error) {
	rec, err := s.getRecord(ctx, NamespaceArchitecture, slugOrID)
	if err != nil {
		return nil, err
	}
	out := &ArchitectureItem{}
	if err := recordInto(rec, out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateArchitecture replaces the stored item identified by its slug.
func (s *Store) UpdateArchitecture(ctx context.Context, item *ArchitectureItem) (*ArchitectureItem, error) {
	if err := item.validate(); err != nil {
		return nil, err
	}
	existing, err := s.GetArchitecture(ctx, item.UniqueSlug)
	if err != nil {
		return nil, err
	}
	item.ID = existing.ID
	item.CreatedOn = existing.CreatedOn
	rec, err := toRecord(item)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.Update(ctx, NamespaceArchitecture.Table(), existing.ID, rec)
	if err != nil {
		return nil, err
	}
	out := &ArchitectureItem{}
	if err := recordInto(updated, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteArchitecture removes an item by slug or id.
func (s *Store) DeleteArchitecture(ctx context.Context, slugOrID string) error {
	rec, err := s.getRecord(ctx, NamespaceArchitecture, slugOrID)
	if err != nil {
		return err
	}
	id, _ := rec["id"].(string)
	return s.store.Delete(ctx, NamespaceArchitecture.Table(), id)
}

// ListArchitecture lists architecture items.
func (s *Store) ListArchitecture(ctx context.Context, limit, offset int) ([]*ArchitectureItem, error) {
	recs, err := s.store.List(ctx, NamespaceArchitecture.Table(), nil, limit, offset, "unique_slug", "asc")
	if err != nil {
		return nil, err
	}
	out := make([]*ArchitectureItem, 0, len(recs))
	for _, rec := range recs {
		item := &ArchitectureItem{}
		if err := recordInto(rec, item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// ScoredArchitecture is one semantic-search hit.
type ScoredArchitecture struct {
	Item  *ArchitectureItem `json:"item"`
	Score float64           `json:"score"`
}

// SearchArchitecture runs vector search over architecture items. Memory
// search is vector-only; text search goes through the generic engine.
func (s *Store) SearchArchitecture(ctx context.Context, query string, limit int) ([]ScoredArchitecture, error) {
	results, err := s.store.Search(ctx, NamespaceArchitecture.Table(), query, nil, storage.SearchVector, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredArchitecture, 0, len(results))
	for _, r := range results {
		item := &ArchitectureItem{}
		if err := recordInto(r.Record, item); err != nil {
			return nil, err
		}
		out = append(out, ScoredArchitecture{Item: item, Score: r.Score})
	}
	return out, nil
}

// ── Troubleshoot namespace ──────────────────────────────────

// CreateTroubleshoot validates and inserts a troubleshoot item.
func (s *Store) CreateTroubleshoot(ctx context.Context, item *TroubleshootItem) (*TroubleshootItem, error) {
	if err := item.validate(); err != nil {
		return nil, err
	}
	stampCreated(&item.CreatedOn, &item.LastUpdatedOn)
	rec, err := toRecord(item)
	if err != nil {
		return nil, err
	}
	var created storage.Record
	err = storage.WithRetry(ctx, func() error {
		var cerr error
		created, cerr = s.store.Create(ctx, NamespaceTroubleshoot.Table(), rec)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	out := &TroubleshootItem{}
	if err := recordInto(created, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTroubleshoot fetches by slug, falling back to id.
func (s *Store) GetTroubleshoot(ctx context.Context, slugOrID string) (*TroubleshootItem, error) {
	rec, err := s.getRecord(ctx, NamespaceTroubleshoot, slugOrID)
	if err != nil {
		return nil, err
	}
	out := &TroubleshootItem{}
	if err := recordInto(rec, out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateTroubleshoot replaces the stored item identified by its slug,
// preserving usage counters unless the caller supplies larger ones.
func (s *Store) UpdateTroubleshoot(ctx context.Context, item *TroubleshootItem) (*TroubleshootItem, error) {
	if err := item.validate(); err != nil {
		return nil, err
	}
	existing, err := s.GetTroubleshoot(ctx, item.UniqueSlug)
	if err != nil {
		return nil, err
	}
	item.ID = existing.ID
	item.CreatedOn = existing.CreatedOn
	// Counters only move forward; imports must not reset them.
	if item.UsageCount < existing.UsageCount {
		item.UsageCount = existing.UsageCount
	}
	if item.SuccessCount < existing.SuccessCount {
		item.SuccessCount = existing.SuccessCount
	}
	rec, err := toRecord(item)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.Update(ctx, NamespaceTroubleshoot.Table(), existing.ID, rec)
	if err != nil {
		return nil, err
	}
	out := &TroubleshootItem{}
	if err := recordInto(updated, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteTroubleshoot removes an item by slug or id.
func (s *Store) DeleteTroubleshoot(ctx context.Context, slugOrID string) error {
	rec, err := s.getRecord(ctx, NamespaceTroubleshoot, slugOrID)
	if err != nil {
		return err
	}
	id, _ := rec["id"].(string)
	return s.store.Delete(ctx, NamespaceTroubleshoot.Table(), id)
}

// ListTroubleshoot lists troubleshoot items.
func (s *Store) ListTroubleshoot(ctx context.Context, limit, offset int) ([]*TroubleshootItem, error) {
	recs, err := s.store.List(ctx, NamespaceTroubleshoot.Table(), nil, limit, offset, "unique_slug", "asc")
	if err != nil {
		return nil, err
	}
	out := make([]*TroubleshootItem, 0, len(recs))
	for _, rec := range recs {
		item := &TroubleshootItem{}
		if err := recordInto(rec, item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// IncrementUsage raises usage_count and, when success is set, success_count.
// Counters are monotonic.
func (s *Store) IncrementUsage(ctx context.Context, slug string, success bool) (*TroubleshootItem, error) {
	item, err := s.GetTroubleshoot(ctx, slug)
	if err != nil {
		return nil, err
	}
	item.UsageCount++
	if success {
		item.SuccessCount++
	}
	rec, err := toRecord(item)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.Update(ctx, NamespaceTroubleshoot.Table(), item.ID, rec)
	if err != nil {
		return nil, err
	}
	out := &TroubleshootItem{}
	if err := recordInto(updated, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ── Shared helpers ──────────────────────────────────────────

// stampCreated fills missing timestamps. Imports carry their own created_on,
// which is preserved.
func stampCreated(created, updated *time.Time) {
	now := time.Now().UTC()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

func (s *Store) getRecord(ctx context.Context, ns Namespace, slugOrID string) (storage.Record, error) {
	rec, err := s.store.GetBySlug(ctx, ns.Table(), slugOrID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	rec, err = s.store.Get(ctx, ns.Table(), slugOrID)
	if err != nil {
		return nil, fmt.Errorf("%s item %q: %w", ns, slugOrID, err)
	}
	return rec, nil
}
