package graph

import (
	"sort"
)

// DependencyAnalysis summarizes a symbol's direct neighbourhood.
type DependencyAnalysis struct {
	SymbolID     SymbolID   `json:"symbol_id"`
	Dependencies []SymbolID `json:"dependencies"` // outgoing targets
	Dependents   []SymbolID `json:"dependents"`   // incoming sources
	ImpactScore  int        `json:"impact_score"` // number of dependents
	Circular     bool       `json:"circular"`
	Cycle        []SymbolID `json:"cycle,omitempty"`
}

// AnalyzeDependencies returns the direct dependencies and dependents of id.
// A symbol inside a strongly connected component is circular; Cycle is then
// the shortest cycle through it. Returns nil if the symbol does not exist.
func (g *Graph) AnalyzeDependencies(id SymbolID) *DependencyAnalysis {
	g.mu.RLock()
	if _, ok := g.symbols[id]; !ok {
		g.mu.RUnlock()
		return nil
	}
	deps := uniqueEnds(g.forward[id], func(r *Reference) SymbolID { return r.TargetID })
	dependents := uniqueEnds(g.backward[id], func(r *Reference) SymbolID { return r.SourceID })
	adj, selfLoops := g.structuralAdjacencyLocked()
	g.mu.RUnlock()

	a := &DependencyAnalysis{
		SymbolID:     id,
		Dependencies: deps,
		Dependents:   dependents,
		ImpactScore:  len(dependents),
	}
	for _, scc := range cyclicComponents(adj, selfLoops) {
		members := memberSet(scc)
		if members[id] {
			a.Circular = true
			a.Cycle = shortestCycle(adj, members, id)
			return a
		}
	}
	return a
}

// Dependents returns the distinct sources of references into id.
func (g *Graph) Dependents(id SymbolID) []SymbolID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return uniqueEnds(g.backward[id], func(r *Reference) SymbolID { return r.SourceID })
}

func uniqueEnds(refs []*Reference, end func(*Reference) SymbolID) []SymbolID {
	out := []SymbolID{}
	seen := make(map[SymbolID]bool, len(refs))
	for _, r := range refs {
		id := end(r)
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// DetectCircularDependencies finds cycles over structural edges. Tarjan's
// algorithm yields every strongly connected component with more than one
// symbol, or a single symbol referencing itself; each component is reported
// once as the shortest cycle through its smallest ID, in edge order and
// starting at that ID. Members of a component that lie off that cycle are
// still reported as circular by AnalyzeDependencies.
// Returns an empty list (not nil) when the graph is acyclic.
func (g *Graph) DetectCircularDependencies() [][]SymbolID {
	g.mu.RLock()
	adj, selfLoops := g.structuralAdjacencyLocked()
	g.mu.RUnlock()

	result := [][]SymbolID{}
	for _, scc := range cyclicComponents(adj, selfLoops) {
		start := scc[0]
		for _, id := range scc[1:] {
			if id < start {
				start = id
			}
		}
		result = append(result, shortestCycle(adj, memberSet(scc), start))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i][0] < result[j][0]
	})
	return result
}

// structuralAdjacencyLocked builds the deduplicated structural edge lists,
// sorted by target ID so traversal order is deterministic.
func (g *Graph) structuralAdjacencyLocked() (map[SymbolID][]SymbolID, map[SymbolID]bool) {
	adj := make(map[SymbolID][]SymbolID)
	selfLoops := make(map[SymbolID]bool)
	for src, refs := range g.forward {
		seen := make(map[SymbolID]bool, len(refs))
		for _, r := range refs {
			if !r.Type.IsStructural() || seen[r.TargetID] {
				continue
			}
			if _, ok := g.symbols[r.TargetID]; !ok {
				continue
			}
			seen[r.TargetID] = true
			if r.TargetID == src {
				selfLoops[src] = true
			}
			adj[src] = append(adj[src], r.TargetID)
		}
	}
	for _, targets := range adj {
		sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	}
	return adj, selfLoops
}

// cyclicComponents runs Tarjan's strongly connected components algorithm
// and keeps the components that contain a cycle, in discovery order.
func cyclicComponents(adj map[SymbolID][]SymbolID, selfLoops map[SymbolID]bool) [][]SymbolID {
	roots := make([]SymbolID, 0, len(adj))
	for id := range adj {
		roots = append(roots, id)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	type nodeInfo struct {
		index   int
		lowlink int
		onStack bool
	}
	info := map[SymbolID]*nodeInfo{}
	index := 0
	var stack []SymbolID
	var result [][]SymbolID

	var strongconnect func(v SymbolID)
	strongconnect = func(v SymbolID) {
		ni := &nodeInfo{index: index, lowlink: index, onStack: true}
		info[v] = ni
		index++
		stack = append(stack, v)

		for _, w := range adj[v] {
			wInfo, visited := info[w]
			if !visited {
				strongconnect(w)
				wInfo = info[w]
				if wInfo.lowlink < ni.lowlink {
					ni.lowlink = wInfo.lowlink
				}
			} else if wInfo.onStack {
				if wInfo.index < ni.lowlink {
					ni.lowlink = wInfo.index
				}
			}
		}

		if ni.lowlink == ni.index {
			var scc []SymbolID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				info[w].onStack = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if len(scc) > 1 || selfLoops[scc[0]] {
				// Tarjan pops in reverse discovery order.
				for i, j := 0, len(scc)-1; i < j; i, j = i+1, j-1 {
					scc[i], scc[j] = scc[j], scc[i]
				}
				result = append(result, scc)
			}
		}
	}

	for _, id := range roots {
		if _, visited := info[id]; !visited {
			strongconnect(id)
		}
	}
	return result
}

func memberSet(ids []SymbolID) map[SymbolID]bool {
	set := make(map[SymbolID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// shortestCycle returns the shortest path from start back to itself using
// only edges between members, without repeating start at the end. start
// must belong to a cyclic component made of members.
func shortestCycle(adj map[SymbolID][]SymbolID, members map[SymbolID]bool, start SymbolID) []SymbolID {
	prev := map[SymbolID]SymbolID{}
	queue := []SymbolID{start}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, w := range adj[v] {
			if !members[w] {
				continue
			}
			if w == start {
				var path []SymbolID
				for cur := v; cur != start; cur = prev[cur] {
					path = append(path, cur)
				}
				path = append(path, start)
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			if _, seen := prev[w]; seen {
				continue
			}
			prev[w] = v
			queue = append(queue, w)
		}
	}
	return []SymbolID{start}
}
