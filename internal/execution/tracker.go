// Package execution tracks execution attempts against work items: a
// monotonic state machine per record with cooperative cancellation and
// progress callbacks over the event bus.
package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/dependency"
	"github.com/mcp-jive/jive/internal/events"
	"github.com/mcp-jive/jive/internal/storage"
)

// Status is the execution lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is final. Terminal records never
// re-enter a non-terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Mode selects how dependencies are honored during execution.
type Mode string

const (
	ModeSequential      Mode = "sequential"
	ModeParallel        Mode = "parallel"
	ModeDependencyBased Mode = "dependency_based"
)

// Valid reports whether the mode is known. Empty selects sequential; the
// tracker owns that default.
func (m Mode) Valid() bool {
	switch m {
	case "", ModeSequential, ModeParallel, ModeDependencyBased:
		return true
	}
	return false
}

// Record is one execution attempt.
type Record struct {
	ExecutionID        string         `json:"execution_id"`
	WorkItemID         string         `json:"work_item_id"`
	Status             Status         `json:"status"`
	ProgressPercentage float64        `json:"progress_percentage"`
	StartTime          time.Time      `json:"start_time"`
	EndTime            *time.Time     `json:"end_time,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	ExecutionMode      Mode           `json:"execution_mode"`
	AgentContext       map[string]any `json:"agent_context,omitempty"`
}

// Table is the storage table for execution records.
const Table = "execution_log"

// Schema returns the storage schema for the execution log. Execution records
// carry no embedding.
func Schema() storage.Schema {
	return storage.Schema{
		Name: Table,
		Fields: []string{
			"id", "execution_id", "work_item_id", "status", "execution_mode",
			"progress_percentage", "start_time", "end_time", "created_at", "updated_at",
		},
	}
}

// allowedTransitions encodes the monotonic state machine.
var allowedTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

func canTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StartOptions tunes Start.
type StartOptions struct {
	// SkipValidation disables the dependency preflight.
	SkipValidation bool
}

// Tracker owns execution records: an in-memory map for reads, persisted to
// the execution log table, rehydrated on startup.
type Tracker struct {
	store  *storage.Engine
	deps   *dependency.Engine
	bus    *events.Bus
	logger *zap.Logger

	mu      sync.Mutex
	records map[string]*Record
}

// NewTracker creates a tracker and rehydrates prior records from storage.
func NewTracker(ctx context.Context, store *storage.Engine, deps *dependency.Engine, bus *events.Bus, logger *zap.Logger) (*Tracker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		store:   store,
		deps:    deps,
		bus:     bus,
		logger:  logger.Named("execution"),
		records: make(map[string]*Record),
	}
	recs, err := store.List(ctx, Table, nil, 0, 0, "created_at", "asc")
	if err != nil {
		return nil, fmt.Errorf("rehydrate executions: %w", err)
	}
	for _, rec := range recs {
		r, err := fromRecord(rec)
		if err != nil {
			t.logger.Warn("skipping corrupt execution record", zap.Error(err))
			continue
		}
		t.records[r.ExecutionID] = r
	}
	return t, nil
}

// Start creates an execution record for a work item. Unless opted out, the
// work item's dependency subgraph is validated first and cycles or missing
// references refuse the start.
func (t *Tracker) Start(ctx context.Context, workItemID string, mode Mode, agentContext map[string]any, opts StartOptions) (*Record, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid execution mode %q", mode)
	}
	if mode == "" {
		mode = ModeSequential
	}

	if !opts.SkipValidation && t.deps != nil {
		result, err := t.deps.Validate(ctx, dependency.ValidateOptions{
			IDs:           []string{workItemID},
			CheckCircular: true,
			CheckMissing:  true,
		})
		if err != nil {
			return nil, err
		}
		if !result.IsValid {
			return nil, fmt.Errorf("dependency validation failed: %d issue(s); resolve them or start with validation disabled", len(result.Errors))
		}
	}

	rec := &Record{
		ExecutionID:        uuid.NewString(),
		WorkItemID:         workItemID,
		Status:             StatusPending,
		StartTime:          time.Now().UTC(),
		ExecutionMode:      mode,
		AgentContext:       agentContext,
		ProgressPercentage: 0,
	}

	if err := t.persist(ctx, rec, true); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.records[rec.ExecutionID] = rec
	t.mu.Unlock()

	// Admission is immediate: the record moves pending -> running before
	// Start returns.
	run, err := t.admit(ctx, rec.ExecutionID)
	if err != nil {
		return nil, err
	}

	if t.bus != nil {
		t.bus.Publish(events.Event{
			Type:       events.ExecutionStarted,
			WorkItemID: workItemID,
			Summary:    fmt.Sprintf("execution %s started (%s)", rec.ExecutionID, mode),
		})
	}
	return run, nil
}

// admit moves a pending execution into running through the state machine.
func (t *Tracker) admit(ctx context.Context, executionID string) (*Record, error) {
	t.mu.Lock()
	rec, ok := t.records[executionID]
	if !ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: execution %s", storage.ErrNotFound, executionID)
	}
	if !canTransition(rec.Status, StatusRunning) {
		t.mu.Unlock()
		return nil, fmt.Errorf("execution %s: cannot move %s → %s", executionID, rec.Status, StatusRunning)
	}
	rec.Status = StatusRunning
	snapshot := rec.clone()
	t.mu.Unlock()

	return snapshot, t.persist(ctx, snapshot, false)
}

// Status returns the record for an execution id.
func (t *Tracker) Status(executionID string) (*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[executionID]
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", storage.ErrNotFound, executionID)
	}
	return rec.clone(), nil
}

// List returns records, optionally restricted to one work item, newest first.
func (t *Tracker) List(workItemID string) []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Record, 0, len(t.records))
	for _, rec := range t.records {
		if workItemID != "" && rec.WorkItemID != workItemID {
			continue
		}
		out = append(out, rec.clone())
	}
	sortRecords(out)
	return out
}

// UpdateProgress records an intermediate progress report for a running
// execution and notifies subscribers.
func (t *Tracker) UpdateProgress(ctx context.Context, executionID string, pct float64, note string) (*Record, error) {
	t.mu.Lock()
	rec, ok := t.records[executionID]
	if !ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: execution %s", storage.ErrNotFound, executionID)
	}
	if rec.Status != StatusRunning && rec.Status != StatusPending {
		t.mu.Unlock()
		return nil, fmt.Errorf("execution %s is %s; progress updates require a running execution", executionID, rec.Status)
	}
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	rec.ProgressPercentage = pct
	snapshot := rec.clone()
	t.mu.Unlock()

	if err := t.persist(ctx, snapshot, false); err != nil {
		return nil, err
	}
	if t.bus != nil {
		t.bus.Publish(events.Event{
			Type:       events.ExecutionProgress,
			WorkItemID: snapshot.WorkItemID,
			Summary:    note,
			Detail:     map[string]any{"execution_id": executionID, "progress_percentage": pct},
		})
	}
	return snapshot, nil
}

// Complete marks a running execution completed.
func (t *Tracker) Complete(ctx context.Context, executionID string) (*Record, error) {
	return t.finish(ctx, executionID, StatusCompleted, "", false)
}

// Fail marks a running or pending execution failed with a reason.
func (t *Tracker) Fail(ctx context.Context, executionID, reason string) (*Record, error) {
	return t.finish(ctx, executionID, StatusFailed, reason, false)
}

// Cancel cancels a pending or running execution, storing the reason. Already
// terminal records refuse unless force is set, in which case only the
// post-mortem fields change.
func (t *Tracker) Cancel(ctx context.Context, executionID, reason string, force bool) (*Record, error) {
	return t.finish(ctx, executionID, StatusCancelled, reason, force)
}

func (t *Tracker) finish(ctx context.Context, executionID string, to Status, reason string, force bool) (*Record, error) {
	t.mu.Lock()
	rec, ok := t.records[executionID]
	if !ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: execution %s", storage.ErrNotFound, executionID)
	}
	if rec.Status.IsTerminal() {
		if !force {
			t.mu.Unlock()
			return nil, fmt.Errorf("execution %s already %s", executionID, rec.Status)
		}
		// Forced writes on terminal records only touch post-mortem metadata.
		if reason != "" {
			rec.ErrorMessage = reason
		}
		snapshot := rec.clone()
		t.mu.Unlock()
		return snapshot, t.persist(ctx, snapshot, false)
	}
	if !canTransition(rec.Status, to) {
		t.mu.Unlock()
		return nil, fmt.Errorf("execution %s: cannot move %s → %s", executionID, rec.Status, to)
	}
	now := time.Now().UTC()
	rec.Status = to
	rec.EndTime = &now
	if reason != "" {
		rec.ErrorMessage = reason
	}
	if to == StatusCompleted {
		rec.ProgressPercentage = 100
	}
	snapshot := rec.clone()
	t.mu.Unlock()

	if err := t.persist(ctx, snapshot, false); err != nil {
		return nil, err
	}
	if t.bus != nil {
		evtType := events.ExecutionDone
		switch to {
		case StatusFailed:
			evtType = events.ExecutionFailed
		case StatusCancelled:
			evtType = events.ExecutionCanceled
		}
		t.bus.Publish(events.Event{
			Type:       evtType,
			WorkItemID: snapshot.WorkItemID,
			Summary:    fmt.Sprintf("execution %s %s", executionID, to),
			Detail:     map[string]any{"reason": reason},
		})
	}
	return snapshot, nil
}

// SweepStale fails running executions that have not reported progress within
// the horizon. Returns the number swept. Used by the reconciliation cron.
func (t *Tracker) SweepStale(ctx context.Context, horizon time.Duration) int {
	t.mu.Lock()
	var stale []string
	cutoff := time.Now().UTC().Add(-horizon)
	for id, rec := range t.records {
		if rec.Status == StatusRunning && rec.StartTime.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	t.mu.Unlock()

	swept := 0
	for _, id := range stale {
		if _, err := t.Fail(ctx, id, fmt.Sprintf("stale: no progress within %s", horizon)); err == nil {
			swept++
		}
	}
	return swept
}

func (t *Tracker) persist(ctx context.Context, rec *Record, create bool) error {
	doc, err := toStorageRecord(rec)
	if err != nil {
		return err
	}
	return storage.WithRetry(ctx, func() error {
		if create {
			_, cerr := t.store.Create(ctx, Table, doc)
			return cerr
		}
		_, uerr := t.store.Update(ctx, Table, rec.ExecutionID, doc)
		return uerr
	})
}

func (r *Record) clone() *Record {
	out := *r
	if r.EndTime != nil {
		end := *r.EndTime
		out.EndTime = &end
	}
	if r.AgentContext != nil {
		out.AgentContext = make(map[string]any, len(r.AgentContext))
		for k, v := range r.AgentContext {
			out.AgentContext[k] = v
		}
	}
	return &out
}

func sortRecords(recs []*Record) {
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && recs[j].StartTime.After(recs[j-1].StartTime); j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
}

func toStorageRecord(r *Record) (storage.Record, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal execution record: %w", err)
	}
	var rec storage.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("convert execution record: %w", err)
	}
	// The storage engine keys records by "id".
	rec["id"] = r.ExecutionID
	return rec, nil
}

func fromRecord(rec storage.Record) (*Record, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode execution record: %w", err)
	}
	if r.ExecutionID == "" {
		return nil, fmt.Errorf("execution record missing execution_id")
	}
	return &r, nil
}
