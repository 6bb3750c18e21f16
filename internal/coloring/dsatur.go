package coloring

import (
	"fmt"

	"fortio.org/safecast"

	"cardc/internal/interfere"
	"cardc/internal/ir"
)

// Options tunes Color.
type Options struct {
	// NoCoalesce disables phi coalescing; used to measure how many slots
	// coalescing saves.
	NoCoalesce bool
}

type colorer struct {
	g    *interfere.Graph
	f    *ir.Func
	x    *ir.Index
	opts Options

	slots    map[ir.ValueID]int
	owners   map[int][]ir.ValueID // slot -> values occupying it
	reserved []bool               // parameter cells
	sat      map[ir.ValueID]map[int]struct{}
}

// Color assigns a base slot to every node of g. It never spills; an error
// means the slot numbers left the 16-bit index range.
func Color(g *interfere.Graph, f *ir.Func, x *ir.Index, opts Options) (*Assignment, error) {
	c := &colorer{
		g:      g,
		f:      f,
		x:      x,
		opts:   opts,
		slots:  make(map[ir.ValueID]int, len(g.Nodes)),
		owners: make(map[int][]ir.ValueID),
		sat:    make(map[ir.ValueID]map[int]struct{}, len(g.Nodes)),
	}
	a := &Assignment{
		Func:      f.Name,
		SlotTypes: make(map[int]ir.Type),
	}

	// Parameters sit at their declared, cumulative slots.
	next := 0
	for _, p := range f.Params {
		w := f.ValueType(p).Width()
		for i := range w {
			c.reserved = append(c.reserved, true)
			a.SlotTypes[next+i] = f.ValueType(p)
		}
		if g.HasNode(p) {
			c.place(p, next)
		}
		next += w
	}
	a.ParamSlots = next

	uncolored := make([]ir.ValueID, 0, len(g.Nodes))
	for _, v := range g.Nodes {
		if _, done := c.slots[v]; !done {
			uncolored = append(uncolored, v)
		}
	}

	for len(uncolored) > 0 {
		pick := c.pick(uncolored)
		v := uncolored[pick]
		uncolored = append(uncolored[:pick], uncolored[pick+1:]...)

		slot, err := c.choose(v)
		if err != nil {
			return nil, err
		}
		c.place(v, slot)
		t := g.Types[v]
		for i := range t.Width() {
			a.SlotTypes[slot+i] = mergeSlotType(a.SlotTypes[slot+i], t)
		}
	}

	a.Slots = c.slots
	a.NumSlots = len(c.reserved)
	for s := range c.owners {
		if s+1 > a.NumSlots {
			a.NumSlots = s + 1
		}
	}
	a.Coalesced = c.coalesced()
	return a, nil
}

// pick returns the index of the next node: most distinct neighbour slots,
// then highest degree, then lowest value id.
func (c *colorer) pick(nodes []ir.ValueID) int {
	best := 0
	for i := 1; i < len(nodes); i++ {
		v, b := nodes[i], nodes[best]
		sv, sb := len(c.sat[v]), len(c.sat[b])
		switch {
		case sv != sb:
			if sv > sb {
				best = i
			}
		case c.g.Degree(v) != c.g.Degree(b):
			if c.g.Degree(v) > c.g.Degree(b) {
				best = i
			}
		case v < b:
			best = i
		}
	}
	return best
}

func (c *colorer) place(v ir.ValueID, slot int) {
	c.slots[v] = slot
	for i := range c.g.Width(v) {
		c.owners[slot+i] = append(c.owners[slot+i], v)
	}
	for _, n := range c.g.Neighbors(v) {
		if c.sat[n] == nil {
			c.sat[n] = make(map[int]struct{})
		}
		c.sat[n][slot] = struct{}{}
	}
}

// choose picks v's slot: a coalescing candidate when one fits, the lowest
// free slot otherwise.
func (c *colorer) choose(v ir.ValueID) (int, error) {
	if !c.opts.NoCoalesce {
		if slot, ok := c.coalesceSlot(v); ok {
			return slot, nil
		}
	}
	w := c.g.Width(v)
	for slot := 0; ; slot++ {
		if _, err := safecast.Conv[int16](slot + w); err != nil {
			return 0, fmt.Errorf("%s: slot index overflow colouring %s: %w", c.f.Name, c.f.ValueName(v), err)
		}
		if c.free(v, slot) {
			return slot, nil
		}
	}
}

func (c *colorer) coalesceSlot(v ir.ValueID) (int, bool) {
	var partners []ir.ValueID
	if c.x.IsPhi(v) {
		partners = append(partners, c.x.PhiSources(v)...)
	}
	partners = append(partners, c.x.PhiUsers(v)...)
	for _, p := range partners {
		slot, ok := c.slots[p]
		if !ok || p == v || c.g.Interferes(v, p) {
			continue
		}
		if c.free(v, slot) {
			return slot, true
		}
	}
	return 0, false
}

// free reports whether v fits at slot: no parameter cell, no interfering
// neighbour overlapping, and every current occupant compatible.
func (c *colorer) free(v ir.ValueID, slot int) bool {
	w := c.g.Width(v)
	t := c.g.Types[v]
	for i := range w {
		if slot+i < len(c.reserved) {
			return false
		}
		for _, u := range c.owners[slot+i] {
			if c.g.Interferes(u, v) {
				return false
			}
			if !Compatible(c.g.Types[u], c.slots[u], t, slot) {
				return false
			}
		}
	}
	return true
}

func (c *colorer) coalesced() int {
	n := 0
	for _, v := range c.g.Nodes {
		if !c.x.IsPhi(v) {
			continue
		}
		for _, s := range c.x.PhiSources(v) {
			if ss, ok := c.slots[s]; ok && ss == c.slots[v] {
				n++
			}
		}
	}
	return n
}
