package dependency

import "sort"

// cycles returns every dependency cycle: each Tarjan SCC of size > 1 plus
// each self-edge. Cycle witnesses are closed (first id repeated at the end)
// and rotated to start at the smallest id for determinism.
func (g *graph) cycles() [][]string {
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var out [][]string

	var strongconnect func(v string)
	strongconnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.edges[v] {
			if _, ok := g.nodes[w]; !ok {
				continue
			}
			if _, visited := indices[w]; !visited {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if len(scc) > 1 {
				out = append(out, closeCycle(scc))
			}
		}
	}

	for _, v := range sortedNodeIDs(g) {
		if _, visited := indices[v]; !visited {
			strongconnect(v)
		}
	}

	// Self-edges are cycles of their own.
	for _, v := range sortedNodeIDs(g) {
		for _, w := range g.edges[v] {
			if w == v {
				out = append(out, []string{v, v})
			}
		}
	}
	return out
}

func closeCycle(scc []string) []string {
	start := 0
	for i, id := range scc {
		if id < scc[start] {
			start = i
		}
	}
	cycle := make([]string, 0, len(scc)+1)
	cycle = append(cycle, scc[start:]...)
	cycle = append(cycle, scc[:start]...)
	return append(cycle, cycle[0])
}

// topologicalOrder returns a linear extension of the DAG via Kahn's
// algorithm: for every edge a → b ("a blocked by b"), b precedes a. Ready
// candidates are chosen by (priority desc, created_at asc, id asc) so the
// order is deterministic. Returns ok=false when the graph has a cycle.
func (g *graph) topologicalOrder() ([]string, bool) {
	remaining := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string)
	for id := range g.nodes {
		remaining[id] = 0
	}
	for id, deps := range g.edges {
		if _, ok := g.nodes[id]; !ok {
			continue
		}
		for _, dep := range deps {
			if _, ok := g.nodes[dep]; !ok {
				continue
			}
			remaining[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for id, n := range remaining {
		if n == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			a, b := g.nodes[ready[i]], g.nodes[ready[j]]
			if a.Priority.Rank() != b.Priority.Rank() {
				return a.Priority.Rank() > b.Priority.Rank()
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		})
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, dependent := range dependents[next] {
			remaining[dependent]--
			if remaining[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	return order, len(order) == len(g.nodes)
}

func (g *graph) stats() *GraphStats {
	stats := &GraphStats{Nodes: len(g.nodes)}
	dependedOn := make(map[string]bool)
	for id, deps := range g.edges {
		if _, ok := g.nodes[id]; !ok {
			continue
		}
		for _, dep := range deps {
			if _, ok := g.nodes[dep]; ok {
				stats.Edges++
				dependedOn[dep] = true
			}
		}
	}
	for id := range g.nodes {
		if countKnownDeps(g, id) == 0 {
			stats.Roots++
		}
		if !dependedOn[id] {
			stats.Leaves++
		}
	}
	stats.MaxDepth = g.maxDepth()
	return stats
}

func countKnownDeps(g *graph, id string) int {
	n := 0
	for _, dep := range g.edges[id] {
		if _, ok := g.nodes[dep]; ok {
			n++
		}
	}
	return n
}

// maxDepth is the longest dependency chain. Cycles are cut by the visiting
// set so the walk terminates on invalid graphs too.
func (g *graph) maxDepth() int {
	memo := make(map[string]int)
	visiting := make(map[string]bool)

	var depth func(id string) int
	depth = func(id string) int {
		if d, ok := memo[id]; ok {
			return d
		}
		if visiting[id] {
			return 0
		}
		visiting[id] = true
		best := 0
		for _, dep := range g.edges[id] {
			if _, ok := g.nodes[dep]; !ok {
				continue
			}
			if d := depth(dep) + 1; d > best {
				best = d
			}
		}
		visiting[id] = false
		memo[id] = best
		return best
	}

	best := 0
	for id := range g.nodes {
		if d := depth(id); d > best {
			best = d
		}
	}
	return best
}
