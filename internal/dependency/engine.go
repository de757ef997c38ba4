// Package dependency maintains the directed blocking graph between work
// items: cycle detection (Tarjan), deterministic execution order (Kahn), and
// transitive blocking queries.
package dependency

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/workitem"
)

// Issue types reported in validation results. Per the error policy these are
// reported, not thrown.
const (
	IssueCircular = "circular_dependency"
	IssueMissing  = "missing_dependency"
)

// Issue is one validation finding.
type Issue struct {
	Type         string   `json:"type"`
	Message      string   `json:"message"`
	WorkItemID   string   `json:"work_item_id,omitempty"`
	DependencyID string   `json:"dependency_id,omitempty"`
	Cycle        []string `json:"cycle,omitempty"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}

// GraphStats summarizes the dependency graph.
type GraphStats struct {
	Nodes    int `json:"nodes"`
	Edges    int `json:"edges"`
	Roots    int `json:"roots"`
	Leaves   int `json:"leaves"`
	MaxDepth int `json:"max_depth"`
}

// ValidationResult is the outcome of a dependency validation pass.
// ExecutionOrder is only present when the graph is acyclic.
type ValidationResult struct {
	IsValid        bool        `json:"is_valid"`
	Errors         []Issue     `json:"errors,omitempty"`
	ExecutionOrder []string    `json:"execution_order,omitempty"`
	Stats          *GraphStats `json:"stats,omitempty"`
}

// ValidateOptions controls a validation pass. Zero value checks nothing; the
// tool layer defaults both checks on.
type ValidateOptions struct {
	// IDs restricts validation to the transitive closure of these items;
	// empty means the full graph.
	IDs           []string
	CheckCircular bool
	CheckMissing  bool
	SuggestFixes  bool
}

// Engine runs graph queries over the work-item store. The graph is
// materialized per call and never persisted.
type Engine struct {
	items  *workitem.Service
	logger *zap.Logger
}

// NewEngine creates a dependency engine.
func NewEngine(items *workitem.Service, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{items: items, logger: logger.Named("dependency")}
}

// graph is an adjacency view keyed by work-item id. An edge a → b means "a is
// blocked by b".
type graph struct {
	nodes map[string]*workitem.WorkItem
	edges map[string][]string
}

func (e *Engine) buildGraph(ctx context.Context, ids []string) (*graph, error) {
	all, err := e.items.List(ctx, nil, 0, 0, "created_at", "asc")
	if err != nil {
		return nil, err
	}
	g := &graph{
		nodes: make(map[string]*workitem.WorkItem, len(all)),
		edges: make(map[string][]string, len(all)),
	}
	for _, w := range all {
		g.nodes[w.ID] = w
		g.edges[w.ID] = append([]string(nil), w.Dependencies...)
	}
	if len(ids) == 0 {
		return g, nil
	}

	// Restrict to the transitive closure of the requested ids.
	keep := make(map[string]struct{})
	stack := append([]string(nil), ids...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := keep[id]; seen {
			continue
		}
		keep[id] = struct{}{}
		stack = append(stack, g.edges[id]...)
	}
	sub := &graph{
		nodes: make(map[string]*workitem.WorkItem, len(keep)),
		edges: make(map[string][]string, len(keep)),
	}
	for id := range keep {
		if w, ok := g.nodes[id]; ok {
			sub.nodes[id] = w
		}
		sub.edges[id] = g.edges[id]
	}
	return sub, nil
}

// Validate checks the graph per opts. Circular and missing findings populate
// Errors; the execution order is included only for acyclic graphs.
func (e *Engine) Validate(ctx context.Context, opts ValidateOptions) (*ValidationResult, error) {
	g, err := e.buildGraph(ctx, opts.IDs)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{IsValid: true, Stats: g.stats()}

	if opts.CheckMissing {
		for _, id := range sortedNodeIDs(g) {
			for _, dep := range g.edges[id] {
				if _, ok := g.nodes[dep]; !ok {
					issue := Issue{
						Type:         IssueMissing,
						Message:      fmt.Sprintf("work item %s depends on missing item %s", id, dep),
						WorkItemID:   id,
						DependencyID: dep,
					}
					if opts.SuggestFixes {
						issue.SuggestedFix = fmt.Sprintf("remove the dependency on %s", dep)
					}
					result.Errors = append(result.Errors, issue)
					result.IsValid = false
				}
			}
		}
	}

	hasCycle := false
	if opts.CheckCircular {
		for _, cycle := range g.cycles() {
			hasCycle = true
			issue := Issue{
				Type:    IssueCircular,
				Message: fmt.Sprintf("circular dependency: %v", cycle),
				Cycle:   cycle,
			}
			if opts.SuggestFixes {
				issue.SuggestedFix = e.suggestCycleFix(g, cycle)
			}
			result.Errors = append(result.Errors, issue)
			result.IsValid = false
		}
	}

	if !hasCycle {
		order, ok := g.topologicalOrder()
		if ok {
			result.ExecutionOrder = order
		}
	}
	return result, nil
}

// GetDependencies returns the items id is blocked by. transitive expands via
// DFS with a visited set; onlyBlocking keeps dependencies whose status is not
// completed.
func (e *Engine) GetDependencies(ctx context.Context, id string, transitive, onlyBlocking bool) ([]*workitem.WorkItem, error) {
	g, err := e.buildGraph(ctx, nil)
	if err != nil {
		return nil, err
	}
	if _, ok := g.nodes[id]; !ok {
		return nil, fmt.Errorf("work item %s: not found in dependency graph", id)
	}

	var depIDs []string
	if transitive {
		visited := map[string]struct{}{id: {}}
		stack := append([]string(nil), g.edges[id]...)
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, seen := visited[cur]; seen {
				continue
			}
			visited[cur] = struct{}{}
			depIDs = append(depIDs, cur)
			stack = append(stack, g.edges[cur]...)
		}
	} else {
		depIDs = append(depIDs, g.edges[id]...)
	}

	out := make([]*workitem.WorkItem, 0, len(depIDs))
	for _, dep := range depIDs {
		w, ok := g.nodes[dep]
		if !ok {
			continue
		}
		if onlyBlocking && w.Status == workitem.StatusCompleted {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Stats returns graph-level statistics for the full graph.
func (e *Engine) Stats(ctx context.Context) (*GraphStats, error) {
	g, err := e.buildGraph(ctx, nil)
	if err != nil {
		return nil, err
	}
	return g.stats(), nil
}

// suggestCycleFix proposes removing the edge leaving the lowest-priority item
// in the cycle.
func (e *Engine) suggestCycleFix(g *graph, cycle []string) string {
	lowest := ""
	lowestRank := int(^uint(0) >> 1)
	for _, id := range cycle {
		w, ok := g.nodes[id]
		if !ok {
			continue
		}
		if rank := w.Priority.Rank(); rank < lowestRank {
			lowestRank = rank
			lowest = id
		}
	}
	if lowest == "" {
		return "remove one edge in the cycle"
	}
	return fmt.Sprintf("remove a dependency of %s to break the cycle", lowest)
}

func sortedNodeIDs(g *graph) []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
