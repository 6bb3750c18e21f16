package callgraph

import "slices"

// Topo is a callers-first ordering of the call graph.
type Topo struct {
	Order  []FuncID
	Cyclic bool
	// Cycles holds the nodes left with callers after Kahn's walk.
	Cycles []FuncID
}

// ToposortKahn orders g so every caller precedes its callees.
func ToposortKahn(g *Graph) *Topo {
	n := len(g.Edges)
	indeg := slices.Clone(g.Indeg)
	topo := &Topo{Order: make([]FuncID, 0, n)}

	current := make([]FuncID, 0, n)
	for i := range n {
		if indeg[i] == 0 {
			current = append(current, toID(i))
		}
	}
	for len(current) > 0 {
		next := make([]FuncID, 0)
		for _, id := range current {
			topo.Order = append(topo.Order, id)
			for _, to := range g.Edges[id] {
				indeg[to]--
				if indeg[to] == 0 {
					next = append(next, to)
				}
			}
		}
		slices.Sort(next)
		current = next
	}

	if len(topo.Order) != n {
		topo.Cyclic = true
		for i := range n {
			if indeg[i] > 0 {
				topo.Cycles = append(topo.Cycles, toID(i))
			}
		}
	}
	return topo
}
