package workitem

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/events"
	"github.com/mcp-jive/jive/internal/storage"
)

// ProgressForStatus is the leaf derivation table.
func ProgressForStatus(st Status) float64 {
	switch st {
	case StatusCompleted:
		return 100
	case StatusInProgress:
		return 50
	case StatusBlocked:
		return 25
	default: // not_started, cancelled
		return 0
	}
}

// StatusForProgress derives a status from an explicit progress value.
func StatusForProgress(p float64) Status {
	switch {
	case p >= 100:
		return StatusCompleted
	case p > 0:
		return StatusInProgress
	default:
		return StatusNotStarted
	}
}

func clampProgress(p float64) float64 {
	return math.Min(100, math.Max(0, p))
}

// progressEpsilon is the write-suppression threshold for recalculation:
// stored values within this distance of the computed value are left alone.
const progressEpsilon = 0.01

// ProgressUpdate mutates one work item's progress and/or status.
type ProgressUpdate struct {
	Progress *float64
	Status   *Status
	// Propagate defaults to true: ancestors are recomputed bottom-up.
	Propagate *bool
	Note      string
}

// UpdateProgress applies the update per the status/progress duality and, when
// propagation is on, recomputes every ancestor from its children.
func (s *Service) UpdateProgress(ctx context.Context, id string, upd ProgressUpdate) (*WorkItem, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Status == nil && upd.Progress == nil {
		return nil, &ValidationError{Field: "progress", Provided: "", Expected: "progress and/or status"}
	}
	if upd.Status != nil {
		st := NormalizeStatus(string(*upd.Status))
		if !st.Valid() {
			return nil, &ValidationError{Field: "status", Provided: string(*upd.Status), Expected: "not_started|in_progress|blocked|completed|cancelled"}
		}
		w.Status = st
	}
	if upd.Progress != nil {
		w.ProgressPercentage = clampProgress(*upd.Progress)
	}
	s.reconcileStatusProgress(w, upd.Progress != nil, upd.Status != nil)

	if err := s.writeProgress(ctx, w, upd.Note); err != nil {
		return nil, err
	}

	if upd.Propagate == nil || *upd.Propagate {
		if err := s.propagate(ctx, w.ParentID); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, id)
}

// propagate walks parent links to the root, recomputing each ancestor's
// progress as the mean of its children and adjusting its status.
func (s *Service) propagate(ctx context.Context, parentID string) error {
	for depth := 0; parentID != "" && depth < maxHierarchyDepth; depth++ {
		parent, err := s.Get(ctx, parentID)
		if err != nil {
			return err
		}
		children, err := s.Children(ctx, parent.ID, false)
		if err != nil {
			return err
		}
		if len(children) == 0 {
			return nil
		}

		computed := meanProgress(children)
		status := rollupStatus(parent, children, computed)

		if math.Abs(parent.ProgressPercentage-computed) > progressEpsilon || parent.Status != status {
			parent.ProgressPercentage = computed
			parent.Status = status
			if err := s.writeProgress(ctx, parent, "recomputed from children"); err != nil {
				return err
			}
		}
		parentID = parent.ParentID
	}
	return nil
}

// RecalculateSubtree recomputes progress bottom-up across the subtree rooted
// at rootID, writing only items whose stored progress drifted beyond the
// epsilon. Returns the number of items written.
func (s *Service) RecalculateSubtree(ctx context.Context, rootID string) (int, error) {
	root, err := s.Get(ctx, rootID)
	if err != nil {
		return 0, err
	}
	written := 0
	if _, err := s.recalculate(ctx, root, &written, 0); err != nil {
		return written, err
	}
	return written, nil
}

// RecalculateAll runs RecalculateSubtree across every root. Used by the
// periodic reconciliation sweep.
func (s *Service) RecalculateAll(ctx context.Context) (int, error) {
	roots, err := s.Roots(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, root := range roots {
		n, err := s.RecalculateSubtree(ctx, root.ID)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Service) recalculate(ctx context.Context, w *WorkItem, written *int, depth int) (float64, error) {
	if depth >= maxHierarchyDepth {
		return w.ProgressPercentage, fmt.Errorf("%w: depth cap reached at %s", ErrInvalidHierarchy, w.ID)
	}
	children, err := s.Children(ctx, w.ID, false)
	if err != nil {
		return 0, err
	}
	if len(children) == 0 {
		// Leaves are authoritative from status.
		computed := ProgressForStatus(w.Status)
		if math.Abs(w.ProgressPercentage-computed) > progressEpsilon {
			w.ProgressPercentage = computed
			if err := s.writeProgress(ctx, w, "leaf recalculated"); err != nil {
				return 0, err
			}
			*written++
		}
		return w.ProgressPercentage, nil
	}

	var sum float64
	for _, child := range children {
		p, err := s.recalculate(ctx, child, written, depth+1)
		if err != nil {
			return 0, err
		}
		sum += p
	}
	computed := sum / float64(len(children))
	status := rollupStatus(w, children, computed)
	if math.Abs(w.ProgressPercentage-computed) > progressEpsilon || w.Status != status {
		w.ProgressPercentage = computed
		w.Status = status
		if err := s.writeProgress(ctx, w, "recalculated from subtree"); err != nil {
			return 0, err
		}
		*written++
	}
	return computed, nil
}

func meanProgress(children []*WorkItem) float64 {
	var sum float64
	for _, c := range children {
		sum += c.ProgressPercentage
	}
	return sum / float64(len(children))
}

// rollupStatus derives a parent status from its children. A completed parent
// is not downgraded unless a child left a terminal state.
func rollupStatus(parent *WorkItem, children []*WorkItem, computed float64) Status {
	allTerminal := true
	anyActive := false
	for _, c := range children {
		if !c.Status.IsTerminal() {
			allTerminal = false
		}
		if c.Status == StatusInProgress || c.Status == StatusBlocked {
			anyActive = true
		}
	}
	switch {
	case computed >= 100 && allTerminal:
		return StatusCompleted
	case parent.Status == StatusCompleted && allTerminal:
		return StatusCompleted
	case anyActive || computed > 0:
		return StatusInProgress
	default:
		return parent.Status
	}
}

// touchCompletion maintains completed_at against the current status.
func touchCompletion(w *WorkItem) {
	if w.Status == StatusCompleted {
		if w.CompletedAt == nil {
			now := time.Now().UTC()
			w.CompletedAt = &now
		}
	} else {
		w.CompletedAt = nil
	}
}

func (s *Service) writeProgress(ctx context.Context, w *WorkItem, note string) error {
	touchCompletion(w)
	rec, err := toRecord(w)
	if err != nil {
		return err
	}
	if w.CompletedAt == nil {
		rec["completed_at"] = nil
	}
	err = storage.WithRetry(ctx, func() error {
		_, uerr := s.store.Update(ctx, Table, w.ID, rec)
		return uerr
	})
	if err != nil {
		return err
	}
	s.logger.Debug("progress written",
		zap.String("id", w.ID),
		zap.Float64("progress", w.ProgressPercentage),
		zap.String("status", string(w.Status)))
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:       events.ProgressUpdated,
			WorkItemID: w.ID,
			Summary:    note,
			Detail: map[string]any{
				"progress_percentage": w.ProgressPercentage,
				"status":              w.Status,
			},
		})
	}
	return nil
}
