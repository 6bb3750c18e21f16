package callgraph

import (
	"fmt"
	"strings"
)

// RecursionError reports a call cycle. Cycle starts and ends with the same
// function.
type RecursionError struct {
	Cycle []string
}

func (e *RecursionError) Error() string {
	return fmt.Sprintf("recursion is not supported: %s", strings.Join(e.Cycle, " -> "))
}

// Func returns the function the cycle starts at.
func (e *RecursionError) Func() string {
	if len(e.Cycle) == 0 {
		return ""
	}
	return e.Cycle[0]
}

const (
	white = iota
	gray
	black
)

type frame struct {
	id   FuncID
	next int
}

// DetectRecursion walks g depth first from every function in declaration
// order with an explicit stack and returns the first cycle found.
func DetectRecursion(g *Graph) error {
	color := make([]uint8, len(g.Edges))
	for _, start := range g.Order {
		if color[start] != white {
			continue
		}
		stack := []frame{{id: start}}
		color[start] = gray
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			edges := g.Edges[top.id]
			if top.next == len(edges) {
				color[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}
			to := edges[top.next]
			top.next++
			switch color[to] {
			case white:
				color[to] = gray
				stack = append(stack, frame{id: to})
			case gray:
				return &RecursionError{Cycle: g.cycle(stack, to)}
			}
		}
	}
	return nil
}

// cycle extracts the path from the gray node back to itself.
func (g *Graph) cycle(stack []frame, to FuncID) []string {
	at := 0
	for i := range stack {
		if stack[i].id == to {
			at = i
			break
		}
	}
	out := make([]string, 0, len(stack)-at+1)
	for _, fr := range stack[at:] {
		out = append(out, g.IDToName[fr.id])
	}
	return append(out, g.IDToName[to])
}
