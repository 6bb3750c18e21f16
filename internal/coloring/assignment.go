// Package coloring assigns local slots to the nodes of an interference
// graph. Parameters keep their declared slots; every other node is coloured
// in DSatur order with phi coalescing.
package coloring

import (
	"errors"
	"fmt"
	"slices"

	"cardc/internal/interfere"
	"cardc/internal/ir"
)

// Assignment is the slot map of one function. It is not modified after
// Color returns.
type Assignment struct {
	Func string
	// Slots maps every node to its base slot.
	Slots map[ir.ValueID]int
	// SlotTypes holds the type of every occupied slot; both halves of a
	// 32-bit value carry TypeI32.
	SlotTypes  map[int]ir.Type
	NumSlots   int
	ParamSlots int
	// Coalesced counts phi edges whose source and result share a slot.
	Coalesced int
}

// Slot returns the base slot of v.
func (a *Assignment) Slot(v ir.ValueID) (int, bool) {
	if a == nil {
		return 0, false
	}
	s, ok := a.Slots[v]
	return s, ok
}

// Values returns the assigned values in ascending order.
func (a *Assignment) Values() []ir.ValueID {
	out := make([]ir.ValueID, 0, len(a.Slots))
	for v := range a.Slots {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// small reports whether t lives in one untyped 16-bit cell.
func small(t ir.Type) bool {
	switch t {
	case ir.TypeBool, ir.TypeI8, ir.TypeI16:
		return true
	}
	return false
}

// Compatible reports whether values of types a and b placed at bases sa
// and sb may share storage: references only with references, 32-bit only
// with 32-bit at the same base, and the 16-bit cell types freely.
func Compatible(a ir.Type, sa int, b ir.Type, sb int) bool {
	switch {
	case a == ir.TypeRef || b == ir.TypeRef:
		return a == b && sa == sb
	case a == ir.TypeI32 || b == ir.TypeI32:
		return a == b && sa == sb
	default:
		return small(a) && small(b)
	}
}

// mergeSlotType picks the slot type when two compatible types share a cell.
func mergeSlotType(cur, t ir.Type) ir.Type {
	rank := func(t ir.Type) int {
		switch t {
		case ir.TypeBool:
			return 1
		case ir.TypeI8:
			return 2
		case ir.TypeI16:
			return 3
		}
		return 4
	}
	if cur == ir.TypeVoid || rank(t) > rank(cur) {
		return t
	}
	return cur
}

func overlap(a, wa, b, wb int) bool {
	return a < b+wb && b < a+wa
}

// Validate re-checks the assignment against the graph: every node has a
// slot, interfering nodes never overlap, overlapping nodes are type
// compatible and every occupied slot is typed.
func (a *Assignment) Validate(g *interfere.Graph) error {
	var errs []error
	for _, v := range g.Nodes {
		s, ok := a.Slots[v]
		if !ok {
			errs = append(errs, fmt.Errorf("%s: node %%%d has no slot", a.Func, v))
			continue
		}
		for i := range g.Width(v) {
			if _, ok := a.SlotTypes[s+i]; !ok {
				errs = append(errs, fmt.Errorf("%s: slot %d of %%%d is untyped", a.Func, s+i, v))
			}
		}
		if s+g.Width(v) > a.NumSlots {
			errs = append(errs, fmt.Errorf("%s: %%%d at slot %d exceeds slot count %d", a.Func, v, s, a.NumSlots))
		}
	}
	for _, e := range g.EdgeList() {
		sa, oka := a.Slots[e.A]
		sb, okb := a.Slots[e.B]
		if oka && okb && overlap(sa, g.Width(e.A), sb, g.Width(e.B)) {
			errs = append(errs, fmt.Errorf("%s: interfering %%%d and %%%d overlap at slots %d/%d", a.Func, e.A, e.B, sa, sb))
		}
	}
	nodes := a.Values()
	for i, u := range nodes {
		for _, v := range nodes[i+1:] {
			su, sv := a.Slots[u], a.Slots[v]
			tu, tv := g.Types[u], g.Types[v]
			if overlap(su, tu.Width(), sv, tv.Width()) && !Compatible(tu, su, tv, sv) {
				errs = append(errs, fmt.Errorf("%s: %%%d (%s) and %%%d (%s) share storage", a.Func, u, tu, v, tv))
			}
		}
	}
	return errors.Join(errs...)
}
