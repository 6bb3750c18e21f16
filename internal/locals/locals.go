// Package locals folds the per-function analyses into one authoritative
// locals table and enforces the local slot ceilings.
package locals

import (
	"slices"

	"cardc/internal/ir"
)

// NoSlot marks a value that is inlined instead of stored.
const NoSlot = -1

// Local is the final storage decision for one SSA value.
type Local struct {
	Value    ir.ValueID
	Name     string
	Original ir.Type // declared type
	Register ir.Type // type on the operand stack
	Slot     int     // NoSlot when inlined
	SlotType ir.Type
}

// Stored reports whether the value owns a slot.
func (l Local) Stored() bool { return l.Slot != NoSlot }

// FunctionLocals is the terminal allocation result of one function.
type FunctionLocals struct {
	Func       string
	Values     map[ir.ValueID]Local
	SlotTypes  []ir.Type // indexed by slot
	NumSlots   int
	ParamSlots int
	// FirstTemp is the first slot free for code-generation temporaries.
	FirstTemp int
	// ByteTainted holds byte values that may exceed byte range after
	// short-width arithmetic and need truncating where observed.
	ByteTainted map[ir.ValueID]bool
	// OffsetPhis lists reference phis stored as offsets.
	OffsetPhis []ir.ValueID
}

// Local returns the entry of v.
func (fl *FunctionLocals) Local(v ir.ValueID) (Local, bool) {
	if fl == nil {
		return Local{}, false
	}
	l, ok := fl.Values[v]
	return l, ok
}

// Slot returns the slot of v, NoSlot when it has none.
func (fl *FunctionLocals) Slot(v ir.ValueID) int {
	l, ok := fl.Local(v)
	if !ok {
		return NoSlot
	}
	return l.Slot
}

// Stored returns every value owning a slot, ordered by slot then id.
func (fl *FunctionLocals) Stored() []Local {
	var out []Local
	for _, l := range fl.Values {
		if l.Stored() {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b Local) int {
		if a.Slot != b.Slot {
			return a.Slot - b.Slot
		}
		return int(a.Value) - int(b.Value)
	})
	return out
}

// Tainted returns the byte-tainted values in ascending order.
func (fl *FunctionLocals) Tainted() []ir.ValueID {
	out := make([]ir.ValueID, 0, len(fl.ByteTainted))
	for v := range fl.ByteTainted {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// promote maps a storage type to the type the VM computes it in.
func promote(t ir.Type) ir.Type {
	switch t {
	case ir.TypeI8, ir.TypeBool:
		return ir.TypeI16
	}
	return t
}
