package dependency

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/mcp-jive/jive/internal/workitem"
)

func newGraph(nodes map[string]*workitem.WorkItem, edges map[string][]string) *graph {
	if edges == nil {
		edges = make(map[string][]string)
	}
	return &graph{nodes: nodes, edges: edges}
}

func graphNode(id string, prio workitem.Priority, createdOffset int) *workitem.WorkItem {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &workitem.WorkItem{
		ID:        id,
		Type:      workitem.TypeTask,
		Title:     id,
		Priority:  prio,
		CreatedAt: base.Add(time.Duration(createdOffset) * time.Second),
	}
}

func TestCyclesDetectsSelfEdge(t *testing.T) {
	g := newGraph(map[string]*workitem.WorkItem{
		"a": graphNode("a", workitem.PriorityMedium, 0),
	}, map[string][]string{
		"a": {"a"},
	})

	cycles := g.cycles()
	if len(cycles) != 1 {
		t.Fatalf("expected one cycle, got %v", cycles)
	}
	if len(cycles[0]) != 2 || cycles[0][0] != "a" || cycles[0][1] != "a" {
		t.Fatalf("expected closed self-cycle, got %v", cycles[0])
	}
}

func TestCyclesIgnoresMissingReferences(t *testing.T) {
	g := newGraph(map[string]*workitem.WorkItem{
		"a": graphNode("a", workitem.PriorityMedium, 0),
	}, map[string][]string{
		"a": {"ghost"},
	})
	if cycles := g.cycles(); len(cycles) != 0 {
		t.Fatalf("dangling edges are not cycles: %v", cycles)
	}
}

func TestTopologicalOrderFailsOnCycle(t *testing.T) {
	g := newGraph(map[string]*workitem.WorkItem{
		"a": graphNode("a", workitem.PriorityMedium, 0),
		"b": graphNode("b", workitem.PriorityMedium, 1),
	}, map[string][]string{
		"a": {"b"},
		"b": {"a"},
	})
	if order, ok := g.topologicalOrder(); ok {
		t.Fatalf("cycle must fail ordering, got %v", order)
	}
}

// genDAG builds graphs that are acyclic by construction: node i may only
// depend on nodes with a smaller index.
func genDAG() gopter.Gen {
	return gen.IntRange(1, 14).FlatMap(func(v any) gopter.Gen {
		n := v.(int)
		return gen.SliceOfN(n*n, gen.IntRange(0, 3)).Map(func(picks []int) *graph {
			nodes := make(map[string]*workitem.WorkItem, n)
			edges := make(map[string][]string, n)
			prios := []workitem.Priority{
				workitem.PriorityLow, workitem.PriorityMedium,
				workitem.PriorityHigh, workitem.PriorityCritical,
			}
			for i := 0; i < n; i++ {
				id := fmt.Sprintf("n%02d", i)
				nodes[id] = graphNode(id, prios[picks[i]%len(prios)], i)
			}
			for i := 1; i < n; i++ {
				for j := 0; j < i; j++ {
					// picks drives which lower-index edges exist.
					if picks[i*n+j]%3 == 0 {
						edges[fmt.Sprintf("n%02d", i)] = append(edges[fmt.Sprintf("n%02d", i)], fmt.Sprintf("n%02d", j))
					}
				}
			}
			return newGraph(nodes, edges)
		})
	}, reflect.TypeOf((*graph)(nil)))
}

func TestTopologicalOrderProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every acyclic graph orders completely", prop.ForAll(
		func(g *graph) bool {
			order, ok := g.topologicalOrder()
			return ok && len(order) == len(g.nodes)
		},
		genDAG(),
	))

	properties.Property("dependencies precede their dependents", prop.ForAll(
		func(g *graph) bool {
			order, ok := g.topologicalOrder()
			if !ok {
				return false
			}
			pos := make(map[string]int, len(order))
			for i, id := range order {
				pos[id] = i
			}
			for id, deps := range g.edges {
				for _, dep := range deps {
					if pos[dep] >= pos[id] {
						return false
					}
				}
			}
			return true
		},
		genDAG(),
	))

	properties.Property("ordering is deterministic", prop.ForAll(
		func(g *graph) bool {
			a, okA := g.topologicalOrder()
			b, okB := g.topologicalOrder()
			if !okA || !okB || len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			return true
		},
		genDAG(),
	))

	properties.TestingRun(t)
}
