package interfere

import (
	"github.com/bits-and-blooms/bitset"

	"cardc/internal/ir"
)

// valueSet is a set of value ids over a function's dense value numbering.
// Every set of one function shares the same length so Equal compares bits
// only.
type valueSet struct {
	bits *bitset.BitSet
}

func newSet(n int) valueSet {
	return valueSet{bits: bitset.New(uint(max(n, 0)))}
}

// Value ids are non-negative, so the uint conversions below are exact.

func (s valueSet) add(v ir.ValueID) {
	s.bits.Set(uint(v)) //nolint:gosec
}

func (s valueSet) remove(v ir.ValueID) {
	s.bits.Clear(uint(v)) //nolint:gosec
}

func (s valueSet) clone() valueSet { return valueSet{bits: s.bits.Clone()} }

func (s valueSet) union(o valueSet) valueSet { return valueSet{bits: s.bits.Union(o.bits)} }

func (s valueSet) minus(o valueSet) valueSet { return valueSet{bits: s.bits.Difference(o.bits)} }

func (s valueSet) equal(o valueSet) bool { return s.bits.Equal(o.bits) }

// sorted lists the members in ascending id order.
func (s valueSet) sorted() []ir.ValueID {
	out := make([]ir.ValueID, 0, s.bits.Count())
	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		out = append(out, ir.ValueID(i)) //nolint:gosec // bounded by the function's value count
	}
	return out
}
