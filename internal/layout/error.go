package layout

import (
	"fmt"

	"cardc/internal/ir"
)

// LayoutErrorKind enumerates types of layout calculation errors.
type LayoutErrorKind uint8

const (
	// LayoutErrNegativeCount indicates a global with a negative element count.
	LayoutErrNegativeCount LayoutErrorKind = iota + 1
	// LayoutErrVoidElem indicates a global without a storable element type.
	LayoutErrVoidElem
	// LayoutErrOverflow indicates a category array larger than the runtime allows.
	LayoutErrOverflow
)

// LayoutError represents an error during memory layout calculation.
type LayoutError struct {
	Kind     LayoutErrorKind
	Global   string
	Category ir.StorageCategory
	Value    int64 // count or size, depending on Kind
	Err      error // conversion failure for LayoutErrOverflow
}

func (e *LayoutError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case LayoutErrNegativeCount:
		return fmt.Sprintf("global %s: negative element count %d", e.Global, e.Value)
	case LayoutErrVoidElem:
		return fmt.Sprintf("global %s: element type is not storable", e.Global)
	case LayoutErrOverflow:
		if e.Err != nil {
			return fmt.Sprintf("%s memory: %d bytes exceed the array limit (at %s): %v", e.Category, e.Value, e.Global, e.Err)
		}
		return fmt.Sprintf("%s memory: %d bytes exceed the array limit (at %s)", e.Category, e.Value, e.Global)
	default:
		return fmt.Sprintf("layout error kind=%d global %s", e.Kind, e.Global)
	}
}

func (e *LayoutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
