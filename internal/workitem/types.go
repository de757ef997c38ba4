// Package workitem implements the work-item model: the typed
// Initiative→Epic→Feature→Story→Task hierarchy, identifier resolution, and
// unified progress calculation with upward propagation.
package workitem

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcp-jive/jive/internal/storage"
)

// Type is the work-item hierarchy level.
type Type string

const (
	TypeInitiative Type = "initiative"
	TypeEpic       Type = "epic"
	TypeFeature    Type = "feature"
	TypeStory      Type = "story"
	TypeTask       Type = "task"
)

// Status is the work-item lifecycle state.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Priority orders work items for execution tie-breaks.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Complexity is an optional sizing hint.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// WorkItem is one node in the hierarchy.
type WorkItem struct {
	ID                 string         `json:"id"`
	Type               Type           `json:"type"`
	Title              string         `json:"title"`
	Description        string         `json:"description,omitempty"`
	Status             Status         `json:"status"`
	Priority           Priority       `json:"priority"`
	ParentID           string         `json:"parent_id,omitempty"`
	Dependencies       []string       `json:"dependencies,omitempty"`
	ProgressPercentage float64        `json:"progress_percentage"`
	AcceptanceCriteria []string       `json:"acceptance_criteria,omitempty"`
	Tags               []string       `json:"tags,omitempty"`
	ContextTags        []string       `json:"context_tags,omitempty"`
	Complexity         Complexity     `json:"complexity,omitempty"`
	EffortEstimate     *float64       `json:"effort_estimate,omitempty"`
	ActualHours        *float64       `json:"actual_hours,omitempty"`
	Assignee           string         `json:"assignee,omitempty"`
	Reporter           string         `json:"reporter,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// Table is the storage table name for work items.
const Table = "work_items"

// Schema returns the storage schema for the work-item table.
func Schema() storage.Schema {
	return storage.Schema{
		Name:       Table,
		TextFields: []string{"title", "description"},
		Fields: []string{
			"id", "type", "title", "description", "status", "priority",
			"parent_id", "progress_percentage", "complexity", "assignee",
			"reporter", "tags", "context_tags", "created_at", "updated_at",
		},
	}
}

// NormalizeStatus maps the documented aliases onto canonical statuses.
func NormalizeStatus(s string) Status {
	switch s {
	case "backlog":
		return StatusNotStarted
	case "done":
		return StatusCompleted
	default:
		return Status(s)
	}
}

// IsTerminal reports whether the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether the status is one of the canonical states.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusBlocked, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether the type is a known hierarchy level.
func (t Type) Valid() bool {
	switch t {
	case TypeInitiative, TypeEpic, TypeFeature, TypeStory, TypeTask:
		return true
	}
	return false
}

// Valid reports whether the priority is known.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Rank orders priorities for deterministic tie-breaks; higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Valid reports whether the complexity is known. Empty is allowed (optional).
func (c Complexity) Valid() bool {
	switch c {
	case "", ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return true
	}
	return false
}

// toRecord converts a work item into its storage representation.
func toRecord(w *WorkItem) (storage.Record, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal work item: %w", err)
	}
	var rec storage.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("convert work item: %w", err)
	}
	return rec, nil
}

// fromRecord converts a storage record back into a work item.
func fromRecord(rec storage.Record) (*WorkItem, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	var w WorkItem
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode work item: %w", err)
	}
	return &w, nil
}
