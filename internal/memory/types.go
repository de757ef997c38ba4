// Package memory implements the institutional-knowledge stores: architecture
// specifications and troubleshooting solutions with semantic retrieval,
// token-budgeted context assembly, and markdown export/import.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mcp-jive/jive/internal/storage"
)

// Namespace selects one of the two memory stores.
type Namespace string

const (
	NamespaceArchitecture Namespace = "architecture"
	NamespaceTroubleshoot Namespace = "troubleshoot"
)

// Valid reports whether the namespace is known.
func (n Namespace) Valid() bool {
	return n == NamespaceArchitecture || n == NamespaceTroubleshoot
}

// Table returns the storage table for a namespace.
func (n Namespace) Table() string {
	switch n {
	case NamespaceArchitecture:
		return "architecture_memory"
	default:
		return "troubleshoot_memory"
	}
}

// Content limits enforced on write.
const (
	maxRequirementsChars = 10000
	maxWhenToUseEntries  = 10
	maxKeywords          = 20
)

var slugPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ErrInvalidSlug is returned when a slug fails validation.
var ErrInvalidSlug = errors.New("invalid slug")

// NormalizeSlug lowercases a slug and validates it against [a-z0-9_-]+.
func NormalizeSlug(slug string) (string, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if !slugPattern.MatchString(slug) {
		return "", fmt.Errorf("%w: %q (want [a-z0-9_-]+)", ErrInvalidSlug, slug)
	}
	return slug, nil
}

// ArchitectureItem is one architecture specification.
type ArchitectureItem struct {
	ID             string         `json:"id"`
	UniqueSlug     string         `json:"unique_slug"`
	Title          string         `json:"title"`
	AIRequirements string         `json:"ai_requirements"`
	AIWhenToUse    []string       `json:"ai_when_to_use,omitempty"`
	Keywords       []string       `json:"keywords,omitempty"`
	ChildrenSlugs  []string       `json:"children_slugs,omitempty"`
	RelatedSlugs   []string       `json:"related_slugs,omitempty"`
	LinkedEpicIDs  []string       `json:"linked_epic_ids,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedOn      time.Time      `json:"created_on"`
	LastUpdatedOn  time.Time      `json:"last_updated_on"`
}

// TroubleshootItem is one diagnostic solution.
type TroubleshootItem struct {
	ID            string         `json:"id"`
	UniqueSlug    string         `json:"unique_slug"`
	Title         string         `json:"title"`
	AIUseCase     []string       `json:"ai_use_case,omitempty"`
	AISolutions   string         `json:"ai_solutions"`
	Keywords      []string       `json:"keywords,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	UsageCount    int            `json:"usage_count"`
	SuccessCount  int            `json:"success_count"`
	CreatedOn     time.Time      `json:"created_on"`
	LastUpdatedOn time.Time      `json:"last_updated_on"`
}

// SuccessRate is success_count / max(1, usage_count).
func (t *TroubleshootItem) SuccessRate() float64 {
	if t.UsageCount <= 0 {
		return 0
	}
	return float64(t.SuccessCount) / float64(t.UsageCount)
}

// Schemas returns the storage schemas for both memory tables.
func Schemas() []storage.Schema {
	return []storage.Schema{
		{
			Name:       NamespaceArchitecture.Table(),
			SlugField:  "unique_slug",
			TextFields: []string{"ai_requirements"},
			Fields: []string{
				"id", "unique_slug", "title", "keywords", "tags",
				"created_on", "last_updated_on",
			},
			CreatedField: "created_on",
			UpdatedField: "last_updated_on",
		},
		{
			Name:       NamespaceTroubleshoot.Table(),
			SlugField:  "unique_slug",
			TextFields: []string{"ai_use_case", "ai_solutions"},
			Fields: []string{
				"id", "unique_slug", "title", "keywords", "tags",
				"usage_count", "success_count", "created_on", "last_updated_on",
			},
			CreatedField: "created_on",
			UpdatedField: "last_updated_on",
		},
	}
}

func (a *ArchitectureItem) validate() error {
	slug, err := NormalizeSlug(a.UniqueSlug)
	if err != nil {
		return err
	}
	a.UniqueSlug = slug
	if a.Title == "" {
		return errors.New("title is required")
	}
	if len(a.AIRequirements) > maxRequirementsChars {
		return fmt.Errorf("ai_requirements exceeds %d chars", maxRequirementsChars)
	}
	if len(a.AIWhenToUse) > maxWhenToUseEntries {
		return fmt.Errorf("ai_when_to_use exceeds %d entries", maxWhenToUseEntries)
	}
	if len(a.Keywords) > maxKeywords {
		return fmt.Errorf("keywords exceeds %d entries", maxKeywords)
	}
	return nil
}

func (t *TroubleshootItem) validate() error {
	slug, err := NormalizeSlug(t.UniqueSlug)
	if err != nil {
		return err
	}
	t.UniqueSlug = slug
	if t.Title == "" {
		return errors.New("title is required")
	}
	if len(t.Keywords) > maxKeywords {
		return fmt.Errorf("keywords exceeds %d entries", maxKeywords)
	}
	if t.UsageCount < 0 || t.SuccessCount < 0 || t.SuccessCount > t.UsageCount {
		return fmt.Errorf("invalid usage counters: success=%d usage=%d", t.SuccessCount, t.UsageCount)
	}
	return nil
}

func toRecord(v any) (storage.Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal memory item: %w", err)
	}
	var rec storage.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("convert memory item: %w", err)
	}
	return rec, nil
}

func recordInto(rec storage.Record, out any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode memory item: %w", err)
	}
	return nil
}
