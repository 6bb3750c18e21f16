// Package narrow decides which 32-bit values can live in 16-bit storage.
//
// The analysis is sink seeded: operations that observe the high half of a
// value (compares, right shifts, division, address indices, calls, 32-bit
// memory, constants outside the short range) mark their operands wide.
// Binary operations, phis and selects then share width between their
// operands and result, so a single wide member widens the whole group.
// Casts are barriers.
package narrow

import (
	"errors"
	"fmt"
	"slices"

	"cardc/internal/ir"
)

// Range is a proven inclusive value range for one SSA value.
type Range struct {
	Lo int64
	Hi int64
}

// FitsShort reports whether every value of the range is a valid short.
func (r Range) FitsShort() bool {
	return r.Lo <= r.Hi && ir.FitsShort(r.Lo) && ir.FitsShort(r.Hi)
}

// ParamTable answers whether parameter i of function fn is narrowable.
type ParamTable interface {
	ParamNarrowable(fn string, i int) bool
}

// Options carries the optional inputs of Analyze.
type Options struct {
	// Ranges exempts values from the observation seeds when the proven
	// range fits a short.
	Ranges map[ir.ValueID]Range
	// Params is the inter-procedural parameter table; nil means every
	// callee parameter is treated as wide.
	Params ParamTable
}

// Result partitions the 32-bit values of a function. It is not modified
// after Analyze returns.
type Result struct {
	Func            string
	Wide            map[ir.ValueID]bool
	Narrowed        map[ir.ValueID]bool
	Reasons         map[ir.ValueID]string
	ParamNarrowable []bool

	types []ir.Type
}

// IsWide reports whether v must keep 32-bit storage.
func (r *Result) IsWide(v ir.ValueID) bool {
	return r != nil && r.Wide[v]
}

// IsNarrowed reports whether the 32-bit value v fits 16-bit storage.
func (r *Result) IsNarrowed(v ir.ValueID) bool {
	return r != nil && r.Narrowed[v]
}

// StorageType returns the type v is stored as: TypeI16 for narrowed 32-bit
// values, the declared type otherwise.
func (r *Result) StorageType(v ir.ValueID) ir.Type {
	if r == nil || v < 0 || int(v) >= len(r.types) {
		return ir.TypeVoid
	}
	if r.Narrowed[v] {
		return ir.TypeI16
	}
	return r.types[v]
}

// WideValues returns the wide set in ascending order.
func (r *Result) WideValues() []ir.ValueID {
	return sortedKeys(r.Wide)
}

// NarrowedValues returns the narrowed set in ascending order.
func (r *Result) NarrowedValues() []ir.ValueID {
	return sortedKeys(r.Narrowed)
}

func sortedKeys(m map[ir.ValueID]bool) []ir.ValueID {
	out := make([]ir.ValueID, 0, len(m))
	for v := range m {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Validate checks the partition invariant: wide and narrowed are disjoint
// and together cover exactly the 32-bit values.
func (r *Result) Validate(x *ir.Index) error {
	if r == nil {
		return errors.New("narrow: nil result")
	}
	var errs []error
	for v := range r.Wide {
		if r.Narrowed[v] {
			errs = append(errs, fmt.Errorf("%s: %%%d is both wide and narrowed", r.Func, v))
		}
		if _, ok := r.Reasons[v]; !ok {
			errs = append(errs, fmt.Errorf("%s: wide %%%d has no reason", r.Func, v))
		}
	}
	for _, v := range x.DefinedValues() {
		is32 := x.Func.ValueType(v) == ir.TypeI32
		covered := r.Wide[v] || r.Narrowed[v]
		if is32 && !covered {
			errs = append(errs, fmt.Errorf("%s: 32-bit %%%d is unclassified", r.Func, v))
		}
		if !is32 && covered {
			errs = append(errs, fmt.Errorf("%s: non 32-bit %%%d is classified", r.Func, v))
		}
	}
	return errors.Join(errs...)
}

// Table is a ParamTable built from finished results.
type Table map[string][]bool

// ParamNarrowable implements ParamTable. Unknown functions and indices are
// conservatively wide.
func (t Table) ParamNarrowable(fn string, i int) bool {
	params, ok := t[fn]
	if !ok || i < 0 || i >= len(params) {
		return false
	}
	return params[i]
}

// BuildTable collects the parameter narrowability of every result.
func BuildTable(results []*Result) Table {
	t := make(Table, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		t[r.Func] = slices.Clone(r.ParamNarrowable)
	}
	return t
}
