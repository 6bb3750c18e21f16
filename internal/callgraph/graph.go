// Package callgraph builds the whole-module call graph, rejects recursion
// and bounds the cumulative stack use of the deepest call chain.
package callgraph

import (
	"fmt"
	"slices"
	"sort"

	"fortio.org/safecast"

	"cardc/internal/ir"
)

type FuncID uint32

// Index assigns ids to function names in sorted order.
type Index struct {
	NameToID map[string]FuncID
	IDToName []string
}

// BuildIndex collects the names of every function defined in m.
func BuildIndex(m *ir.Module) Index {
	names := make([]string, 0, len(m.Funcs))
	seen := make(map[string]struct{}, len(m.Funcs))
	for _, f := range m.Funcs {
		if f == nil || f.Name == "" {
			continue
		}
		if _, dup := seen[f.Name]; dup {
			continue
		}
		seen[f.Name] = struct{}{}
		names = append(names, f.Name)
	}
	sort.Strings(names)

	nameToID := make(map[string]FuncID, len(names))
	for i, name := range names {
		nameToID[name] = toID(i)
	}
	return Index{NameToID: nameToID, IDToName: names}
}

func toID(i int) FuncID {
	id, err := safecast.Conv[FuncID](i)
	if err != nil {
		panic(fmt.Errorf("function id overflow: %w", err))
	}
	return id
}

// Graph is the call graph of a module. Edges[from] lists distinct callees
// in ascending id order; intrinsics and calls to functions the module does
// not define are not edges.
type Graph struct {
	Index
	Edges [][]FuncID
	Indeg []int
	// Order lists the functions in declaration order.
	Order []FuncID
}

// Build scans every call instruction of m.
func Build(m *ir.Module) *Graph {
	idx := BuildIndex(m)
	n := len(idx.IDToName)
	g := &Graph{
		Index: idx,
		Edges: make([][]FuncID, n),
		Indeg: make([]int, n),
	}
	done := make([]bool, n)
	for _, f := range m.Funcs {
		if f == nil {
			continue
		}
		from, ok := idx.NameToID[f.Name]
		if !ok || done[from] {
			continue
		}
		done[from] = true
		g.Order = append(g.Order, from)

		seen := make(map[FuncID]struct{})
		for bi := range f.Blocks {
			for ii := range f.Blocks[bi].Instrs {
				ins := &f.Blocks[bi].Instrs[ii]
				if ins.Kind != ir.InstrCall || ins.Call.Intrinsic {
					continue
				}
				to, ok := idx.NameToID[ins.Call.Callee]
				if !ok {
					continue
				}
				if _, dup := seen[to]; dup {
					continue
				}
				seen[to] = struct{}{}
				g.Edges[from] = append(g.Edges[from], to)
				g.Indeg[to]++
			}
		}
		slices.Sort(g.Edges[from])
	}
	return g
}

// Callees returns the callee names of fn in sorted order.
func (g *Graph) Callees(fn string) []string {
	id, ok := g.NameToID[fn]
	if !ok {
		return nil
	}
	out := make([]string, len(g.Edges[id]))
	for i, to := range g.Edges[id] {
		out[i] = g.IDToName[to]
	}
	return out
}

// Roots returns the functions nobody calls, in declaration order.
func (g *Graph) Roots() []string {
	var out []string
	for _, id := range g.Order {
		if g.Indeg[id] == 0 {
			out = append(out, g.IDToName[id])
		}
	}
	return out
}
