package layout

import "cardc/internal/ir"

// Target describes how the card runtime stores global memory.
type Target struct {
	Name string
	// RefSize is the size in bytes of a stored reference.
	RefSize int
	// MaxArray is the largest byte array the runtime can allocate.
	MaxArray int
}

// SmartCard16 is the reference 16-bit card runtime.
func SmartCard16() Target {
	return Target{
		Name:     "card16",
		RefSize:  2,
		MaxArray: 32767,
	}
}

// ElemSize returns the stored size in bytes of one element of type t.
func (t Target) ElemSize(elem ir.Type) int {
	switch elem {
	case ir.TypeBool, ir.TypeI8:
		return 1
	case ir.TypeI16:
		return 2
	case ir.TypeI32:
		return 4
	case ir.TypeRef:
		return t.RefSize
	}
	return 0
}
