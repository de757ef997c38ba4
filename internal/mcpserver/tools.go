package mcpserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mcp-jive/jive/internal/dependency"
	"github.com/mcp-jive/jive/internal/execution"
	"github.com/mcp-jive/jive/internal/memory"
	"github.com/mcp-jive/jive/internal/metrics"
	"github.com/mcp-jive/jive/internal/storage"
	"github.com/mcp-jive/jive/internal/telemetry"
	"github.com/mcp-jive/jive/internal/workitem"
)

type manageWorkItemInput struct {
	Action             string         `json:"action,omitempty" jsonschema:"create, update, or delete"`
	WorkItemID         string         `json:"work_item_id,omitempty" jsonschema:"id, exact title, or keywords identifying the item (update/delete)"`
	Type               string         `json:"type,omitempty" jsonschema:"initiative, epic, feature, story, or task"`
	Title              *string        `json:"title,omitempty"`
	Description        *string        `json:"description,omitempty"`
	Status             *string        `json:"status,omitempty" jsonschema:"not_started, in_progress, blocked, completed, or cancelled"`
	Priority           *string        `json:"priority,omitempty" jsonschema:"low, medium, high, or critical"`
	ParentID           *string        `json:"parent_id,omitempty"`
	ClearParent        bool           `json:"clear_parent,omitempty" jsonschema:"detach the item from its parent"`
	Dependencies       *[]string      `json:"dependencies,omitempty"`
	Progress           *float64       `json:"progress,omitempty" jsonschema:"progress percentage 0-100"`
	AcceptanceCriteria *[]string      `json:"acceptance_criteria,omitempty"`
	Tags               *[]string      `json:"tags,omitempty"`
	ContextTags        *[]string      `json:"context_tags,omitempty"`
	Complexity         *string        `json:"complexity,omitempty" jsonschema:"simple, moderate, or complex"`
	EffortEstimate     *float64       `json:"effort_estimate,omitempty" jsonschema:"estimated hours"`
	ActualHours        *float64       `json:"actual_hours,omitempty"`
	Assignee           *string        `json:"assignee,omitempty"`
	Reporter           *string        `json:"reporter,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	Cascade            bool           `json:"cascade,omitempty" jsonschema:"delete descendants too (delete)"`
}

type getWorkItemInput struct {
	WorkItemID string   `json:"work_item_id,omitempty" jsonschema:"id, exact title, or keywords; omit to list"`
	Type       []string `json:"type,omitempty" jsonschema:"type filter (any-of)"`
	Status     []string `json:"status,omitempty" jsonschema:"status filter (any-of)"`
	Priority   []string `json:"priority,omitempty" jsonschema:"priority filter (any-of)"`
	ParentID   string   `json:"parent_id,omitempty"`
	Assignee   string   `json:"assignee,omitempty"`
	Limit      int      `json:"limit,omitempty" jsonschema:"max results (default 50)"`
	Offset     int      `json:"offset,omitempty"`
	SortBy     string   `json:"sort_by,omitempty" jsonschema:"field to sort by (default created_at)"`
	SortOrder  string   `json:"sort_order,omitempty" jsonschema:"asc or desc"`
}

type searchContentInput struct {
	Query      string         `json:"query" jsonschema:"search query"`
	SearchType string         `json:"search_type,omitempty" jsonschema:"semantic, keyword, or hybrid (default hybrid)"`
	Scope      string         `json:"scope,omitempty" jsonschema:"work_items, architecture, or troubleshoot (default work_items)"`
	Filters    map[string]any `json:"filters,omitempty" jsonschema:"field filters; scalar or any-of list per field"`
	Limit      int            `json:"limit,omitempty" jsonschema:"max results (default 10)"`
}

type getHierarchyInput struct {
	WorkItemID   string `json:"work_item_id,omitempty" jsonschema:"id, exact title, or keywords"`
	Relationship string `json:"relationship" jsonschema:"children, ancestors, full_hierarchy, dependencies, or validate"`
	Recursive    bool   `json:"recursive,omitempty" jsonschema:"descend transitively (children)"`
	Transitive   bool   `json:"transitive,omitempty" jsonschema:"follow dependencies transitively"`
	OnlyBlocking bool   `json:"only_blocking,omitempty" jsonschema:"return only incomplete dependencies"`
	SuggestFixes bool   `json:"suggest_fixes,omitempty" jsonschema:"include cycle fix suggestions (validate)"`
}

type executeWorkItemInput struct {
	Action         string         `json:"action" jsonschema:"start, status, or cancel"`
	WorkItemID     string         `json:"work_item_id,omitempty" jsonschema:"item to execute (start)"`
	ExecutionID    string         `json:"execution_id,omitempty" jsonschema:"execution to inspect or cancel"`
	Mode           string         `json:"mode,omitempty" jsonschema:"sequential, parallel, or dependency_based (default sequential)"`
	AgentContext   map[string]any `json:"agent_context,omitempty"`
	SkipValidation bool           `json:"skip_validation,omitempty" jsonschema:"skip the dependency preflight (start)"`
	Force          bool           `json:"force,omitempty" jsonschema:"force-cancel a terminal execution"`
	Reason         string         `json:"reason,omitempty" jsonschema:"cancellation reason"`
}

type trackProgressInput struct {
	Action     string   `json:"action" jsonschema:"track, recalculate, or get_report"`
	WorkItemID string   `json:"work_item_id,omitempty" jsonschema:"id, exact title, or keywords; omit for recalculate-all"`
	Progress   *float64 `json:"progress,omitempty" jsonschema:"progress percentage 0-100"`
	Status     *string  `json:"status,omitempty"`
	Propagate  *bool    `json:"propagate,omitempty" jsonschema:"recompute ancestors (default true)"`
	Note       string   `json:"note,omitempty"`
}

type syncDataInput struct {
	Action string `json:"action" jsonschema:"export, import, or status"`
	Dir    string `json:"dir,omitempty" jsonschema:"directory override for export/import"`
	Mode   string `json:"mode,omitempty" jsonschema:"create_only, update_only, create_or_update, or replace (import)"`
}

type memoryInput struct {
	Namespace string `json:"namespace" jsonschema:"architecture or troubleshoot"`
	Action    string `json:"action" jsonschema:"create, update, delete, get, list, search, match, get_solution, or context"`

	Slug           string         `json:"slug,omitempty" jsonschema:"unique item slug"`
	Title          string         `json:"title,omitempty"`
	Requirements   string         `json:"requirements,omitempty" jsonschema:"architecture requirements body"`
	WhenToUse      []string       `json:"when_to_use,omitempty" jsonschema:"architecture usage scenarios"`
	UseCases       []string       `json:"use_cases,omitempty" jsonschema:"troubleshoot use cases"`
	Solutions      string         `json:"solutions,omitempty" jsonschema:"troubleshoot solutions body"`
	Keywords       []string       `json:"keywords,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	ChildrenSlugs  []string       `json:"children_slugs,omitempty"`
	RelatedSlugs   []string       `json:"related_slugs,omitempty"`
	LinkedEpicIDs  []string       `json:"linked_epic_ids,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`

	Query             string  `json:"query,omitempty" jsonschema:"search query (search)"`
	Problem           string  `json:"problem,omitempty" jsonschema:"problem description (match)"`
	MaxResults        int     `json:"max_results,omitempty"`
	MinRelevanceScore float64 `json:"min_relevance_score,omitempty"`
	BoostBySuccess    bool    `json:"boost_by_success_rate,omitempty"`
	MarkAsUsed        bool    `json:"mark_as_used,omitempty" jsonschema:"increment the usage counter (get_solution)"`
	TokenBudget       int     `json:"token_budget,omitempty" jsonschema:"context token budget (default 4000)"`
	Limit             int     `json:"limit,omitempty"`
	Offset            int     `json:"offset,omitempty"`
}

func (s *Server) registerTools() {
	registerTool(s, "jive_manage_work_item",
		"Create, update, or delete a work item in the agile hierarchy", "",
		s.handleManageWorkItem)
	registerTool(s, "jive_get_work_item",
		"Fetch a single work item or a filtered list", "",
		s.handleGetWorkItem)
	registerTool(s, "jive_search_content",
		"Search work items or memory with semantic, keyword, or hybrid mode", "",
		s.handleSearchContent)
	registerTool(s, "jive_get_hierarchy",
		"Traverse hierarchy and dependency relationships, or validate the dependency graph", "",
		s.handleGetHierarchy)
	registerTool(s, "jive_execute_work_item",
		"Start, inspect, or cancel an execution of a work item", "",
		s.handleExecuteWorkItem)
	registerTool(s, "jive_track_progress",
		"Record progress, recalculate rollups, or fetch a progress report", "",
		s.handleTrackProgress)
	registerTool(s, "jive_sync_data",
		"Export or import memory as markdown files", "",
		s.handleSyncData)
	registerTool(s, "jive_memory",
		"Manage and retrieve architecture and troubleshoot memory", "",
		s.handleMemory)
}

// resolveID turns a free-form identifier into a canonical id, surfacing
// nearby candidates in the error when nothing matches.
func (s *Server) resolveID(ctx context.Context, input string) (string, error) {
	res, err := s.items.Resolve(ctx, input)
	if err != nil {
		return "", err
	}
	if res.ID == "" {
		if len(res.Candidates) > 0 {
			return "", fmt.Errorf("work item %q: %w (did you mean: %s)",
				input, storage.ErrNotFound, strings.Join(res.Candidates, ", "))
		}
		return "", fmt.Errorf("work item %q: %w", input, storage.ErrNotFound)
	}
	return res.ID, nil
}

func (s *Server) handleManageWorkItem(ctx context.Context, in manageWorkItemInput) (any, error) {
	switch in.Action {
	case "create":
		w := &workitem.WorkItem{
			Type:     workitem.Type(in.Type),
			Metadata: in.Metadata,
		}
		if in.Title != nil {
			w.Title = *in.Title
		}
		if in.Description != nil {
			w.Description = *in.Description
		}
		if in.Status != nil {
			w.Status = workitem.NormalizeStatus(*in.Status)
		}
		if in.Priority != nil {
			w.Priority = workitem.Priority(*in.Priority)
		}
		if in.ParentID != nil {
			w.ParentID = *in.ParentID
		}
		if in.Dependencies != nil {
			w.Dependencies = *in.Dependencies
		}
		if in.Progress != nil {
			w.ProgressPercentage = *in.Progress
		}
		if in.AcceptanceCriteria != nil {
			w.AcceptanceCriteria = *in.AcceptanceCriteria
		}
		if in.Tags != nil {
			w.Tags = *in.Tags
		}
		if in.ContextTags != nil {
			w.ContextTags = *in.ContextTags
		}
		if in.Complexity != nil {
			w.Complexity = workitem.Complexity(*in.Complexity)
		}
		w.EffortEstimate = in.EffortEstimate
		w.ActualHours = in.ActualHours
		if in.Assignee != nil {
			w.Assignee = *in.Assignee
		}
		if in.Reporter != nil {
			w.Reporter = *in.Reporter
		}
		return s.items.Create(ctx, w)

	case "update":
		id, err := s.resolveID(ctx, in.WorkItemID)
		if err != nil {
			return nil, err
		}
		f := workitem.UpdateFields{
			Title:              in.Title,
			Description:        in.Description,
			ParentID:           in.ParentID,
			ClearParent:        in.ClearParent,
			Dependencies:       in.Dependencies,
			Progress:           in.Progress,
			AcceptanceCriteria: in.AcceptanceCriteria,
			Tags:               in.Tags,
			ContextTags:        in.ContextTags,
			EffortEstimate:     in.EffortEstimate,
			ActualHours:        in.ActualHours,
			Assignee:           in.Assignee,
			Reporter:           in.Reporter,
			Metadata:           in.Metadata,
		}
		if in.Status != nil {
			st := workitem.NormalizeStatus(*in.Status)
			f.Status = &st
		}
		if in.Priority != nil {
			p := workitem.Priority(*in.Priority)
			f.Priority = &p
		}
		if in.Complexity != nil {
			c := workitem.Complexity(*in.Complexity)
			f.Complexity = &c
		}
		return s.items.Update(ctx, id, f)

	case "delete":
		id, err := s.resolveID(ctx, in.WorkItemID)
		if err != nil {
			return nil, err
		}
		deleted, err := s.items.Delete(ctx, id, in.Cascade)
		if err != nil {
			return nil, err
		}
		return map[string]any{"deleted_count": deleted}, nil

	default:
		return nil, &workitem.ValidationError{Field: "action", Provided: in.Action, Expected: "create|update|delete"}
	}
}

func (s *Server) handleGetWorkItem(ctx context.Context, in getWorkItemInput) (any, error) {
	if in.WorkItemID != "" {
		id, err := s.resolveID(ctx, in.WorkItemID)
		if err != nil {
			return nil, err
		}
		return s.items.Get(ctx, id)
	}

	filters := map[string]any{}
	if len(in.Type) > 0 {
		filters["type"] = anySlice(in.Type)
	}
	if len(in.Status) > 0 {
		filters["status"] = anySlice(in.Status)
	}
	if len(in.Priority) > 0 {
		filters["priority"] = anySlice(in.Priority)
	}
	if in.ParentID != "" {
		filters["parent_id"] = in.ParentID
	}
	if in.Assignee != "" {
		filters["assignee"] = in.Assignee
	}

	limit := in.Limit
	if limit <= 0 {
		limit = 50
	}
	items, err := s.items.List(ctx, filters, limit, in.Offset, in.SortBy, in.SortOrder)
	if err != nil {
		return nil, err
	}
	return map[string]any{"items": items, "count": len(items)}, nil
}

func (s *Server) handleSearchContent(ctx context.Context, in searchContentInput) (any, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, &workitem.ValidationError{Field: "query", Provided: "", Expected: "non-empty query"}
	}

	var mode storage.SearchMode
	switch in.SearchType {
	case "semantic":
		mode = storage.SearchVector
	case "keyword":
		mode = storage.SearchKeyword
	case "", "hybrid":
		mode = storage.SearchHybrid
	default:
		return nil, &workitem.ValidationError{Field: "search_type", Provided: in.SearchType, Expected: "semantic|keyword|hybrid"}
	}

	table := workitem.Table
	switch in.Scope {
	case "", "work_items":
	case "architecture":
		table = memory.NamespaceArchitecture.Table()
	case "troubleshoot":
		table = memory.NamespaceTroubleshoot.Table()
	default:
		return nil, &workitem.ValidationError{Field: "scope", Provided: in.Scope, Expected: "work_items|architecture|troubleshoot"}
	}

	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}

	metrics.RecordSearch(string(mode))
	ctx, span := telemetry.StartSearchSpan(ctx, table, string(mode))
	defer span.End()

	results, err := s.store.Search(ctx, table, in.Query, in.Filters, mode, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": results, "count": len(results)}, nil
}

func (s *Server) handleGetHierarchy(ctx context.Context, in getHierarchyInput) (any, error) {
	if in.Relationship == "validate" {
		opts := dependency.ValidateOptions{
			CheckCircular: true,
			CheckMissing:  true,
			SuggestFixes:  in.SuggestFixes,
		}
		if strings.TrimSpace(in.WorkItemID) != "" {
			id, err := s.resolveID(ctx, in.WorkItemID)
			if err != nil {
				return nil, err
			}
			opts.IDs = []string{id}
		}
		return s.deps.Validate(ctx, opts)
	}

	id, err := s.resolveID(ctx, in.WorkItemID)
	if err != nil {
		return nil, err
	}

	switch in.Relationship {
	case "children":
		children, err := s.items.Children(ctx, id, in.Recursive)
		if err != nil {
			return nil, err
		}
		return map[string]any{"work_item_id": id, "children": children, "count": len(children)}, nil

	case "ancestors":
		ancestors, err := s.items.Ancestors(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"work_item_id": id, "ancestors": ancestors, "count": len(ancestors)}, nil

	case "full_hierarchy":
		item, err := s.items.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		ancestors, err := s.items.Ancestors(ctx, id)
		if err != nil {
			return nil, err
		}
		children, err := s.items.Children(ctx, id, true)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"work_item": item,
			"ancestors": ancestors,
			"children":  children,
		}, nil

	case "dependencies":
		deps, err := s.deps.GetDependencies(ctx, id, in.Transitive, in.OnlyBlocking)
		if err != nil {
			return nil, err
		}
		return map[string]any{"work_item_id": id, "dependencies": deps, "count": len(deps)}, nil

	default:
		return nil, &workitem.ValidationError{
			Field: "relationship", Provided: in.Relationship,
			Expected: "children|ancestors|full_hierarchy|dependencies|validate",
		}
	}
}

func (s *Server) handleExecuteWorkItem(ctx context.Context, in executeWorkItemInput) (any, error) {
	switch in.Action {
	case "start":
		id, err := s.resolveID(ctx, in.WorkItemID)
		if err != nil {
			return nil, err
		}
		rec, err := s.tracker.Start(ctx, id, execution.Mode(in.Mode), in.AgentContext, execution.StartOptions{
			SkipValidation: in.SkipValidation,
		})
		if err != nil {
			return nil, err
		}
		return rec, nil

	case "status":
		if in.ExecutionID != "" {
			return s.tracker.Status(in.ExecutionID)
		}
		id, err := s.resolveID(ctx, in.WorkItemID)
		if err != nil {
			return nil, err
		}
		records := s.tracker.List(id)
		return map[string]any{"work_item_id": id, "executions": records, "count": len(records)}, nil

	case "cancel":
		if in.ExecutionID == "" {
			return nil, &workitem.ValidationError{Field: "execution_id", Provided: "", Expected: "execution id"}
		}
		rec, err := s.tracker.Cancel(ctx, in.ExecutionID, in.Reason, in.Force)
		if err != nil {
			return nil, err
		}
		metrics.RecordExecution(string(rec.Status))
		return rec, nil

	default:
		return nil, &workitem.ValidationError{Field: "action", Provided: in.Action, Expected: "start|status|cancel"}
	}
}

func (s *Server) handleTrackProgress(ctx context.Context, in trackProgressInput) (any, error) {
	switch in.Action {
	case "track":
		id, err := s.resolveID(ctx, in.WorkItemID)
		if err != nil {
			return nil, err
		}
		upd := workitem.ProgressUpdate{
			Progress:  in.Progress,
			Propagate: in.Propagate,
			Note:      in.Note,
		}
		if in.Status != nil {
			st := workitem.NormalizeStatus(*in.Status)
			upd.Status = &st
		}
		return s.items.UpdateProgress(ctx, id, upd)

	case "recalculate":
		if strings.TrimSpace(in.WorkItemID) == "" {
			written, err := s.items.RecalculateAll(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"updated_count": written}, nil
		}
		id, err := s.resolveID(ctx, in.WorkItemID)
		if err != nil {
			return nil, err
		}
		written, err := s.items.RecalculateSubtree(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"work_item_id": id, "updated_count": written}, nil

	case "get_report":
		id, err := s.resolveID(ctx, in.WorkItemID)
		if err != nil {
			return nil, err
		}
		item, err := s.items.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		children, err := s.items.Children(ctx, id, false)
		if err != nil {
			return nil, err
		}
		byStatus := map[string]int{}
		for _, c := range children {
			byStatus[string(c.Status)]++
		}
		return map[string]any{
			"work_item":          item,
			"progress":           item.ProgressPercentage,
			"status":             item.Status,
			"children_count":     len(children),
			"children_by_status": byStatus,
			"executions":         s.tracker.List(id),
		}, nil

	default:
		return nil, &workitem.ValidationError{Field: "action", Provided: in.Action, Expected: "track|recalculate|get_report"}
	}
}

func (s *Server) syncDir(override string) string {
	if override != "" {
		return override
	}
	if s.cfg.ExportDir != "" {
		return s.cfg.ExportDir
	}
	return filepath.Join(s.cfg.DataDir, "exports")
}

func (s *Server) handleSyncData(ctx context.Context, in syncDataInput) (any, error) {
	dir := s.syncDir(in.Dir)
	switch in.Action {
	case "export":
		return s.memory.ExportDir(ctx, dir)

	case "import":
		return s.memory.ImportDir(ctx, dir, memory.ImportMode(in.Mode))

	case "status":
		arch, err := s.memory.ListArchitecture(ctx, 0, 0)
		if err != nil {
			return nil, err
		}
		trouble, err := s.memory.ListTroubleshoot(ctx, 0, 0)
		if err != nil {
			return nil, err
		}
		_, statErr := os.Stat(dir)
		return map[string]any{
			"dir":                 dir,
			"dir_exists":          statErr == nil,
			"architecture_items":  len(arch),
			"troubleshoot_items":  len(trouble),
		}, nil

	default:
		return nil, &workitem.ValidationError{Field: "action", Provided: in.Action, Expected: "export|import|status"}
	}
}

func anySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
