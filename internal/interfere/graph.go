// Package interfere builds the interference graph of a function's escaping
// values: two nodes are adjacent when both are live at one point and so can
// never share storage.
package interfere

import (
	"errors"
	"fmt"
	"slices"

	"cardc/internal/ir"
)

// Edge is an undirected edge with A < B.
type Edge struct {
	A ir.ValueID
	B ir.ValueID
}

func makeEdge(a, b ir.ValueID) Edge {
	if a > b {
		a, b = b, a
	}
	return Edge{A: a, B: b}
}

// Graph is the interference graph of one function. It is not modified after
// Build returns.
type Graph struct {
	Func  string
	Nodes []ir.ValueID // ascending; equal to the escape set
	Types map[ir.ValueID]ir.Type
	Edges map[Edge]struct{}

	adj map[ir.ValueID][]ir.ValueID
}

func newGraph(name string, nodes []ir.ValueID) *Graph {
	return &Graph{
		Func:  name,
		Nodes: nodes,
		Types: make(map[ir.ValueID]ir.Type, len(nodes)),
		Edges: make(map[Edge]struct{}),
	}
}

func (g *Graph) addEdge(a, b ir.ValueID) {
	if a == b {
		return
	}
	g.Edges[makeEdge(a, b)] = struct{}{}
}

// finish freezes the adjacency lists.
func (g *Graph) finish() {
	g.adj = make(map[ir.ValueID][]ir.ValueID, len(g.Nodes))
	for e := range g.Edges {
		g.adj[e.A] = append(g.adj[e.A], e.B)
		g.adj[e.B] = append(g.adj[e.B], e.A)
	}
	for v := range g.adj {
		slices.Sort(g.adj[v])
	}
}

// Interferes reports whether a and b are adjacent.
func (g *Graph) Interferes(a, b ir.ValueID) bool {
	if g == nil || a == b {
		return false
	}
	_, ok := g.Edges[makeEdge(a, b)]
	return ok
}

// Neighbors returns the adjacency list of v in ascending order. The slice
// is shared and must not be modified.
func (g *Graph) Neighbors(v ir.ValueID) []ir.ValueID {
	if g == nil {
		return nil
	}
	return g.adj[v]
}

func (g *Graph) Degree(v ir.ValueID) int {
	return len(g.Neighbors(v))
}

// HasNode reports whether v is a node.
func (g *Graph) HasNode(v ir.ValueID) bool {
	if g == nil {
		return false
	}
	_, ok := slices.BinarySearch(g.Nodes, v)
	return ok
}

// Width is the number of slots v occupies.
func (g *Graph) Width(v ir.ValueID) int {
	return g.Types[v].Width()
}

// EdgeList returns all edges sorted by (A, B).
func (g *Graph) EdgeList() []Edge {
	out := make([]Edge, 0, len(g.Edges))
	for e := range g.Edges {
		out = append(out, e)
	}
	slices.SortFunc(out, func(x, y Edge) int {
		if x.A != y.A {
			return int(x.A) - int(y.A)
		}
		return int(x.B) - int(y.B)
	})
	return out
}

// Validate checks that every edge endpoint is a node and every node has a
// storage type.
func (g *Graph) Validate() error {
	var errs []error
	for _, e := range g.EdgeList() {
		if e.A == e.B {
			errs = append(errs, fmt.Errorf("%s: self edge on %%%d", g.Func, e.A))
		}
		if !g.HasNode(e.A) || !g.HasNode(e.B) {
			errs = append(errs, fmt.Errorf("%s: dangling edge %%%d -- %%%d", g.Func, e.A, e.B))
		}
	}
	for _, v := range g.Nodes {
		t, ok := g.Types[v]
		if !ok || t == ir.TypeVoid {
			errs = append(errs, fmt.Errorf("%s: node %%%d has no storage type", g.Func, v))
		}
	}
	return errors.Join(errs...)
}
