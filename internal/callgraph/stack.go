package callgraph

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"cardc/internal/limits"
)

// Phase tells whether frames are estimates or final code-generated sizes.
type Phase uint8

const (
	PhaseEstimated Phase = iota
	PhaseFinal
)

func (p Phase) String() string {
	if p == PhaseFinal {
		return "post-codegen"
	}
	return "pre-codegen"
}

// OffloadCategory names one auxiliary offload stack.
type OffloadCategory string

const (
	OffloadShort OffloadCategory = "short"
	OffloadInt   OffloadCategory = "int"
	OffloadRef   OffloadCategory = "ref"
)

// Frame is one function's activation footprint in slots.
type Frame struct {
	Locals  int
	Stack   int
	Offload map[OffloadCategory]int
}

// Contribution is one function's share of a call chain.
type Contribution struct {
	Func   string
	Locals int
	// Stack is non-zero only for the function whose operand stack tops the
	// chain.
	Stack int
}

func (c Contribution) Total() int { return c.Locals + c.Stack }

// StackAnalysis is the whole-module stack result.
type StackAnalysis struct {
	Phase       Phase
	Entries     []string
	MaxDepth    int
	DeepestPath []string
	Breakdown   []Contribution
	Frames      map[string]Frame
	// Depths is the cumulative depth of the chain starting at each function.
	Depths map[string]int
	// Offload is the deepest cumulative use of each offload stack over all
	// entry points.
	Offload map[OffloadCategory]int
	// Missing lists functions without a frame; they count as empty.
	Missing []string
}

// StackDepthError reports a call chain deeper than the configured ceiling.
type StackDepthError struct {
	Phase     Phase
	Entry     string
	Depth     int
	Limit     int
	Chain     []string
	Breakdown []Contribution
}

func (e *StackDepthError) Error() string {
	parts := make([]string, len(e.Breakdown))
	for i, c := range e.Breakdown {
		if c.Stack > 0 {
			parts[i] = fmt.Sprintf("%s=%d+%d", c.Func, c.Locals, c.Stack)
		} else {
			parts[i] = fmt.Sprintf("%s=%d", c.Func, c.Locals)
		}
	}
	return fmt.Sprintf("%s: %s stack depth %d exceeds the limit of %d: %s (%s)",
		e.Entry, e.Phase, e.Depth, e.Limit, strings.Join(e.Chain, " -> "), strings.Join(parts, ", "))
}

// ErrUnknownEntry is returned when a configured entry point is not defined.
var ErrUnknownEntry = errors.New("unknown entry point")

// Analyze computes the deepest cumulative stack use from every entry point:
// depth(f) = locals(f) + max(stack(f), max depth(callee)). Recursion is
// rejected first. A chain deeper than lim.MaxStackDepth is a
// StackDepthError carrying the full analysis alongside.
func Analyze(g *Graph, frames map[string]Frame, lim limits.Limits, phase Phase) (*StackAnalysis, error) {
	if err := DetectRecursion(g); err != nil {
		return nil, err
	}
	topo := ToposortKahn(g)

	sa := &StackAnalysis{
		Phase:   phase,
		Frames:  make(map[string]Frame, len(g.IDToName)),
		Depths:  make(map[string]int, len(g.IDToName)),
		Offload: make(map[OffloadCategory]int),
	}
	for _, name := range g.IDToName {
		fr, ok := frames[name]
		if !ok {
			sa.Missing = append(sa.Missing, name)
		}
		sa.Frames[name] = fr
	}

	entries := lim.EntryPoints
	if len(entries) == 0 {
		entries = g.Roots()
	}
	for _, e := range entries {
		if _, ok := g.NameToID[e]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEntry, e)
		}
	}
	sa.Entries = slices.Clone(entries)

	n := len(g.IDToName)
	depth := make([]int, n)
	// via[f] is the callee continuing f's deepest chain, -1 when f's own
	// operand stack tops it.
	via := make([]int, n)
	offload := make(map[OffloadCategory][]int)
	for k := len(topo.Order) - 1; k >= 0; k-- {
		id := topo.Order[k]
		fr := sa.Frames[g.IDToName[id]]
		best, bestVia := fr.Stack, -1
		for _, to := range g.Edges[id] {
			if depth[to] > best {
				best, bestVia = depth[to], int(to)
			}
		}
		depth[id] = fr.Locals + best
		via[id] = bestVia
		sa.Depths[g.IDToName[id]] = depth[id]

		for cat := range fr.Offload {
			if offload[cat] == nil {
				offload[cat] = make([]int, n)
			}
		}
		for cat, col := range offload {
			deepest := 0
			for _, to := range g.Edges[id] {
				deepest = max(deepest, col[to])
			}
			col[id] = fr.Offload[cat] + deepest
		}
	}

	bestEntry := -1
	for _, e := range entries {
		id := int(g.NameToID[e])
		if bestEntry < 0 || depth[id] > depth[bestEntry] {
			bestEntry = id
		}
		for cat, col := range offload {
			sa.Offload[cat] = max(sa.Offload[cat], col[id])
		}
	}
	if bestEntry < 0 {
		return sa, nil
	}

	sa.MaxDepth = depth[bestEntry]
	for cur := bestEntry; cur >= 0; cur = via[cur] {
		name := g.IDToName[cur]
		fr := sa.Frames[name]
		c := Contribution{Func: name, Locals: fr.Locals}
		if via[cur] < 0 {
			c.Stack = fr.Stack
		}
		sa.DeepestPath = append(sa.DeepestPath, name)
		sa.Breakdown = append(sa.Breakdown, c)
	}

	if sa.MaxDepth > lim.MaxStackDepth {
		return sa, &StackDepthError{
			Phase:     phase,
			Entry:     g.IDToName[bestEntry],
			Depth:     sa.MaxDepth,
			Limit:     lim.MaxStackDepth,
			Chain:     slices.Clone(sa.DeepestPath),
			Breakdown: slices.Clone(sa.Breakdown),
		}
	}
	return sa, nil
}
