// Package escape decides which SSA values need a dedicated local slot.
// Everything else stays an inlined sub-expression evaluated at its single
// use.
package escape

import (
	"errors"
	"fmt"
	"slices"

	"cardc/internal/ir"
)

// Reasons recorded for escaping values.
const (
	ReasonParam      = "parameter"
	ReasonForced     = "offset-phi index"
	ReasonPhiResult  = "phi result"
	ReasonPhiSource  = "phi source"
	ReasonCrossBlock = "used outside its defining block"
	ReasonMultiUse   = "used more than once"
	ReasonCallResult = "call result"
	ReasonMemOrder   = "load observed after a memory write"
)

type Options struct {
	// Forced values escape unconditionally (offset-phi dynamic indices).
	Forced map[ir.ValueID]bool
}

// Info is the escape decision for every defined value of a function. It is
// not modified after Analyze returns.
type Info struct {
	Func     string
	Escapes  map[ir.ValueID]bool
	UseCount map[ir.ValueID]int
	Reasons  map[ir.ValueID]string
}

// Escaping returns the escape set in ascending order.
func (i *Info) Escaping() []ir.ValueID {
	if i == nil {
		return nil
	}
	out := make([]ir.ValueID, 0, len(i.Escapes))
	for v := range i.Escapes {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Has reports whether v escapes.
func (i *Info) Has(v ir.ValueID) bool {
	return i != nil && i.Escapes[v]
}

// Validate checks that the escape set only holds defined, non-GEP values.
func (i *Info) Validate(x *ir.Index) error {
	var errs []error
	for _, v := range i.Escaping() {
		if !x.Defined(v) {
			errs = append(errs, fmt.Errorf("%s: escaping %%%d is not defined", i.Func, v))
			continue
		}
		if x.IsGEP(v) {
			errs = append(errs, fmt.Errorf("%s: address computation %s escapes", i.Func, x.Func.ValueName(v)))
		}
		if _, ok := i.Reasons[v]; !ok {
			errs = append(errs, fmt.Errorf("%s: escaping %s has no reason", i.Func, x.Func.ValueName(v)))
		}
	}
	return errors.Join(errs...)
}

// Analyze computes the escape set of f.
func Analyze(f *ir.Func, x *ir.Index, opts Options) *Info {
	info := &Info{
		Func:     f.Name,
		Escapes:  make(map[ir.ValueID]bool),
		UseCount: make(map[ir.ValueID]int),
		Reasons:  make(map[ir.ValueID]string),
	}
	mark := func(v ir.ValueID, reason string) {
		if info.Escapes[v] {
			return
		}
		info.Escapes[v] = true
		info.Reasons[v] = reason
	}

	writes := memoryWrites(f)

	for _, v := range x.DefinedValues() {
		uses := EffectiveUses(x, v)
		info.UseCount[v] = len(uses)

		if x.IsGEP(v) {
			// Always inlined; its operands inherit the use sites.
			continue
		}
		def := x.Defs[v]
		switch {
		case x.IsParam(v):
			mark(v, ReasonParam)
		case opts.Forced[v]:
			mark(v, ReasonForced)
		case x.IsPhi(v):
			mark(v, ReasonPhiResult)
		}
		for _, u := range uses {
			if u.Phi {
				mark(v, ReasonPhiSource)
			}
			if u.Block != def.Block {
				mark(v, ReasonCrossBlock)
			}
		}
		if len(uses) > 1 {
			mark(v, ReasonMultiUse)
		}
		if x.IsCall(v) && len(uses) >= 1 {
			mark(v, ReasonCallResult)
		}
	}

	// An inlined load is evaluated where its expression is finally
	// consumed, so no write may sit between the load and any of those
	// sites.
	for _, v := range x.DefinedValues() {
		ins := x.Instr(v)
		if ins == nil || ins.Kind != ir.InstrLoad || info.Escapes[v] {
			continue
		}
		def := x.Defs[v]
		for _, u := range consumers(x, info, v) {
			if u.Block != def.Block || writes.between(def.Block, def.Index, u.Index) {
				mark(v, ReasonMemOrder)
				break
			}
		}
	}
	return info
}

// consumers follows the non-escaping users of v to the sites where the
// inlined expression is evaluated: a phi edge, a store or terminator, an
// escaping user, or a dead user where it stands.
func consumers(x *ir.Index, info *Info, v ir.ValueID) []ir.Use {
	var out []ir.Use
	work := slices.Clone(x.Uses[v])
	seen := make(map[ir.ValueID]bool)
	for len(work) > 0 {
		u := work[len(work)-1]
		work = work[:len(work)-1]
		if u.Phi || u.User == ir.NoValueID || info.Escapes[u.User] {
			out = append(out, u)
			continue
		}
		if seen[u.User] {
			continue
		}
		seen[u.User] = true
		if len(x.Uses[u.User]) == 0 {
			out = append(out, u)
			continue
		}
		work = append(work, x.Uses[u.User]...)
	}
	return out
}

// EffectiveUses returns the use sites of v after looking through inlined
// address computations: a use by a GEP is replaced by the GEP's own use
// sites. The walk is an explicit worklist over the index's use map.
func EffectiveUses(x *ir.Index, v ir.ValueID) []ir.Use {
	if !x.Defined(v) {
		return nil
	}
	var out []ir.Use
	work := slices.Clone(x.Uses[v])
	seen := make(map[ir.ValueID]bool)
	for len(work) > 0 {
		u := work[len(work)-1]
		work = work[:len(work)-1]
		if !u.Phi && u.User != ir.NoValueID && x.IsGEP(u.User) {
			if seen[u.User] {
				continue
			}
			seen[u.User] = true
			work = append(work, x.Uses[u.User]...)
			continue
		}
		out = append(out, u)
	}
	slices.SortFunc(out, compareUse)
	return out
}

func compareUse(a, b ir.Use) int {
	if a.Block != b.Block {
		return int(a.Block) - int(b.Block)
	}
	if a.Index != b.Index {
		return a.Index - b.Index
	}
	return int(a.User) - int(b.User)
}

// writeSet records the positions of stores and calls per block.
type writeSet [][]int

func memoryWrites(f *ir.Func) writeSet {
	ws := make(writeSet, len(f.Blocks))
	for bi := range f.Blocks {
		for ii := range f.Blocks[bi].Instrs {
			switch f.Blocks[bi].Instrs[ii].Kind {
			case ir.InstrStore, ir.InstrCall:
				ws[bi] = append(ws[bi], ii)
			}
		}
	}
	return ws
}

// between reports whether block b writes memory strictly between two
// instruction positions.
func (ws writeSet) between(b ir.BlockID, from, to int) bool {
	if b < 0 || int(b) >= len(ws) {
		return false
	}
	for _, pos := range ws[b] {
		if pos > from && pos < to {
			return true
		}
	}
	return false
}
