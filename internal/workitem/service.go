package workitem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/events"
	"github.com/mcp-jive/jive/internal/storage"
)

// ErrInvalidHierarchy is returned when a parent/child type rule is violated.
var ErrInvalidHierarchy = errors.New("invalid hierarchy")

// ValidationError reports a field-level invariant violation.
type ValidationError struct {
	Field    string
	Provided string
	Expected string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: got %q, expected %s", e.Field, e.Provided, e.Expected)
}

// Service owns work-item CRUD and orchestrates hierarchy, progress, and
// resolution over the storage engine.
type Service struct {
	store  *storage.Engine
	bus    *events.Bus
	logger *zap.Logger
}

// NewService creates a work-item service.
func NewService(store *storage.Engine, bus *events.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, bus: bus, logger: logger.Named("workitem")}
}

// Create validates and inserts a work item. Status defaults to not_started,
// priority to medium; progress is derived from status when not supplied.
func (s *Service) Create(ctx context.Context, w *WorkItem) (*WorkItem, error) {
	if w.Title == "" {
		return nil, &ValidationError{Field: "title", Provided: "", Expected: "non-empty string"}
	}
	if !w.Type.Valid() {
		return nil, &ValidationError{Field: "type", Provided: string(w.Type), Expected: "initiative|epic|feature|story|task"}
	}
	if w.Status == "" {
		w.Status = StatusNotStarted
	}
	w.Status = NormalizeStatus(string(w.Status))
	if !w.Status.Valid() {
		return nil, &ValidationError{Field: "status", Provided: string(w.Status), Expected: "not_started|in_progress|blocked|completed|cancelled"}
	}
	if w.Priority == "" {
		w.Priority = PriorityMedium
	}
	if !w.Priority.Valid() {
		return nil, &ValidationError{Field: "priority", Provided: string(w.Priority), Expected: "low|medium|high|critical"}
	}
	if !w.Complexity.Valid() {
		return nil, &ValidationError{Field: "complexity", Provided: string(w.Complexity), Expected: "simple|moderate|complex"}
	}
	for _, dep := range w.Dependencies {
		if dep == w.ID && w.ID != "" {
			return nil, &ValidationError{Field: "dependencies", Provided: dep, Expected: "no self-reference"}
		}
	}

	if err := s.ValidateHierarchy(ctx, w.Type, w.ParentID); err != nil {
		return nil, err
	}

	s.reconcileStatusProgress(w, w.ProgressPercentage > 0, w.Status != StatusNotStarted)

	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	rec, err := toRecord(w)
	if err != nil {
		return nil, err
	}
	var created storage.Record
	err = storage.WithRetry(ctx, func() error {
		var cerr error
		created, cerr = s.store.Create(ctx, Table, rec)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	out, err := fromRecord(created)
	if err != nil {
		return nil, err
	}

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:       events.WorkItemCreated,
			WorkItemID: out.ID,
			Summary:    fmt.Sprintf("%s %q created", out.Type, out.Title),
		})
	}
	return out, nil
}

// UpdateFields carries a partial mutation; nil pointers leave fields
// untouched. ClearParent detaches the item from its parent.
type UpdateFields struct {
	Title              *string
	Description        *string
	Status             *Status
	Priority           *Priority
	ParentID           *string
	ClearParent        bool
	Dependencies       *[]string
	Progress           *float64
	AcceptanceCriteria *[]string
	Tags               *[]string
	ContextTags        *[]string
	Complexity         *Complexity
	EffortEstimate     *float64
	ActualHours        *float64
	Assignee           *string
	Reporter           *string
	Metadata           map[string]any
}

// Update applies a partial mutation, revalidating hierarchy and the
// status/progress invariant.
func (s *Service) Update(ctx context.Context, id string, f UpdateFields) (*WorkItem, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if f.Title != nil {
		if *f.Title == "" {
			return nil, &ValidationError{Field: "title", Provided: "", Expected: "non-empty string"}
		}
		w.Title = *f.Title
	}
	if f.Description != nil {
		w.Description = *f.Description
	}
	if f.Priority != nil {
		if !f.Priority.Valid() {
			return nil, &ValidationError{Field: "priority", Provided: string(*f.Priority), Expected: "low|medium|high|critical"}
		}
		w.Priority = *f.Priority
	}
	if f.Complexity != nil {
		if !f.Complexity.Valid() {
			return nil, &ValidationError{Field: "complexity", Provided: string(*f.Complexity), Expected: "simple|moderate|complex"}
		}
		w.Complexity = *f.Complexity
	}
	if f.ClearParent {
		w.ParentID = ""
	} else if f.ParentID != nil {
		w.ParentID = *f.ParentID
	}
	if f.Dependencies != nil {
		for _, dep := range *f.Dependencies {
			if dep == id {
				return nil, &ValidationError{Field: "dependencies", Provided: dep, Expected: "no self-reference"}
			}
		}
		w.Dependencies = *f.Dependencies
	}
	if f.AcceptanceCriteria != nil {
		w.AcceptanceCriteria = *f.AcceptanceCriteria
	}
	if f.Tags != nil {
		w.Tags = *f.Tags
	}
	if f.ContextTags != nil {
		w.ContextTags = *f.ContextTags
	}
	if f.EffortEstimate != nil {
		w.EffortEstimate = f.EffortEstimate
	}
	if f.ActualHours != nil {
		w.ActualHours = f.ActualHours
	}
	if f.Assignee != nil {
		w.Assignee = *f.Assignee
	}
	if f.Reporter != nil {
		w.Reporter = *f.Reporter
	}
	if f.Metadata != nil {
		w.Metadata = f.Metadata
	}

	statusGiven := f.Status != nil
	progressGiven := f.Progress != nil
	if statusGiven {
		st := NormalizeStatus(string(*f.Status))
		if !st.Valid() {
			return nil, &ValidationError{Field: "status", Provided: string(*f.Status), Expected: "not_started|in_progress|blocked|completed|cancelled"}
		}
		w.Status = st
	}
	if progressGiven {
		w.ProgressPercentage = clampProgress(*f.Progress)
	}
	if statusGiven || progressGiven {
		s.reconcileStatusProgress(w, progressGiven, statusGiven)
	}

	if f.ClearParent || f.ParentID != nil {
		if err := s.ValidateHierarchy(ctx, w.Type, w.ParentID); err != nil {
			return nil, err
		}
		if w.ParentID != "" {
			if err := s.checkNoHierarchyCycle(ctx, id, w.ParentID); err != nil {
				return nil, err
			}
		}
	}

	rec, err := toRecord(w)
	if err != nil {
		return nil, err
	}
	// Explicitly null out optional fields omitted by the struct marshal so a
	// merge-update clears them.
	if w.ParentID == "" {
		rec["parent_id"] = nil
	}
	if w.Description == "" {
		rec["description"] = nil
	}
	if w.CompletedAt == nil {
		rec["completed_at"] = nil
	}

	var updated storage.Record
	err = storage.WithRetry(ctx, func() error {
		var uerr error
		updated, uerr = s.store.Update(ctx, Table, id, rec)
		return uerr
	})
	if err != nil {
		return nil, err
	}
	out, err := fromRecord(updated)
	if err != nil {
		return nil, err
	}

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:       events.WorkItemUpdated,
			WorkItemID: out.ID,
			Summary:    fmt.Sprintf("%s %q updated", out.Type, out.Title),
		})
	}
	return out, nil
}

// Get fetches a work item by id.
func (s *Service) Get(ctx context.Context, id string) (*WorkItem, error) {
	rec, err := s.store.Get(ctx, Table, id)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec)
}

// List returns work items matching the storage filter language.
func (s *Service) List(ctx context.Context, filters map[string]any, limit, offset int, sortBy, sortOrder string) ([]*WorkItem, error) {
	recs, err := s.store.List(ctx, Table, filters, limit, offset, sortBy, sortOrder)
	if err != nil {
		return nil, err
	}
	out := make([]*WorkItem, 0, len(recs))
	for _, rec := range recs {
		w, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// Delete removes a work item. Without cascade, deletion fails while children
// exist; with cascade the whole subtree is removed (children first). Returns
// the number of items deleted.
func (s *Service) Delete(ctx context.Context, id string, cascade bool) (int, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return 0, err
	}
	children, err := s.Children(ctx, id, false)
	if err != nil {
		return 0, err
	}
	if len(children) > 0 && !cascade {
		return 0, fmt.Errorf("%w: %d children exist; delete with cascade or reparent first", ErrInvalidHierarchy, len(children))
	}

	deleted := 0
	if cascade {
		subtree, err := s.Children(ctx, id, true)
		if err != nil {
			return 0, err
		}
		// Children first so no orphan window is observable.
		for i := len(subtree) - 1; i >= 0; i-- {
			if err := s.store.Delete(ctx, Table, subtree[i].ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return deleted, err
			}
			deleted++
		}
	}
	if err := s.store.Delete(ctx, Table, id); err != nil {
		return deleted, err
	}
	deleted++

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:       events.WorkItemDeleted,
			WorkItemID: id,
			Summary:    fmt.Sprintf("work item deleted (%d total)", deleted),
		})
	}
	return deleted, nil
}

// reconcileStatusProgress enforces the status/progress duality: when only one
// side was supplied the other is derived; when both were supplied explicit
// values win and a warning is logged if they disagree with the derivation
// table.
func (s *Service) reconcileStatusProgress(w *WorkItem, progressGiven, statusGiven bool) {
	switch {
	case statusGiven && !progressGiven:
		w.ProgressPercentage = ProgressForStatus(w.Status)
	case progressGiven && !statusGiven:
		w.Status = StatusForProgress(w.ProgressPercentage)
	case statusGiven && progressGiven:
		if ProgressForStatus(w.Status) != w.ProgressPercentage {
			s.logger.Warn("status and progress disagree; keeping explicit values",
				zap.String("id", w.ID),
				zap.String("status", string(w.Status)),
				zap.Float64("progress", w.ProgressPercentage))
		}
	}
	touchCompletion(w)
}
