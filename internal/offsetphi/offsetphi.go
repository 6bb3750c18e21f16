// Package offsetphi recognises reference phis whose every incoming address
// points into the same global. Such a phi only needs to carry a 16-bit
// offset into that global instead of a full reference.
package offsetphi

import (
	"errors"
	"fmt"
	"slices"

	"cardc/internal/ir"
	"cardc/internal/layout"
)

type OffsetKind uint8

const (
	// OffsetConst is a compile-time byte offset.
	OffsetConst OffsetKind = iota
	// OffsetIndex is a dynamic element index held by an SSA value.
	OffsetIndex
	// OffsetPhi is the offset already carried by another offset phi.
	OffsetPhi
)

func (k OffsetKind) String() string {
	switch k {
	case OffsetConst:
		return "const"
	case OffsetIndex:
		return "index"
	case OffsetPhi:
		return "phi"
	default:
		return fmt.Sprintf("OffsetKind(%d)", k)
	}
}

// Offset is the resolved position of one incoming address inside the base
// global.
type Offset struct {
	Kind  OffsetKind
	Const int64
	Value ir.ValueID
	// Scale is the element size in bytes for OffsetIndex.
	Scale int
}

func (o Offset) String() string {
	switch o.Kind {
	case OffsetConst:
		return fmt.Sprintf("+%d", o.Const)
	case OffsetIndex:
		return fmt.Sprintf("+%%%d*%d", o.Value, o.Scale)
	default:
		return fmt.Sprintf("=%%%d", o.Value)
	}
}

// Phi describes one qualifying phi.
type Phi struct {
	Phi     ir.ValueID
	Base    ir.GlobalID
	Offsets map[ir.BlockID]Offset
}

// Info is the detection result for one function. It is not modified after
// Detect returns.
type Info struct {
	Func          string
	Phis          map[ir.ValueID]Phi
	ForcedIndices map[ir.ValueID]bool
}

// OffsetType is the register and slot type of every qualifying phi.
const OffsetType = ir.TypeI16

// Qualifies reports whether v is an offset phi.
func (i *Info) Qualifies(v ir.ValueID) bool {
	if i == nil {
		return false
	}
	_, ok := i.Phis[v]
	return ok
}

// Override returns the storage type replacing v's declared reference type.
func (i *Info) Override(v ir.ValueID) (ir.Type, bool) {
	if !i.Qualifies(v) {
		return ir.TypeVoid, false
	}
	return OffsetType, true
}

// PhiValues returns the qualifying phis in ascending order.
func (i *Info) PhiValues() []ir.ValueID {
	if i == nil {
		return nil
	}
	out := make([]ir.ValueID, 0, len(i.Phis))
	for v := range i.Phis {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Validate checks that every recorded phi is a reference phi with an offset
// for each incoming edge and that phi-valued offsets point at qualifying phis of
// the same base.
func (i *Info) Validate(x *ir.Index) error {
	var errs []error
	for _, v := range i.PhiValues() {
		p := i.Phis[v]
		if !x.IsPhi(v) || x.Func.ValueType(v) != ir.TypeRef {
			errs = append(errs, fmt.Errorf("%s: %s is not a reference phi", i.Func, x.Func.ValueName(v)))
			continue
		}
		for _, inc := range x.Instr(v).Phi.Incoming {
			if _, ok := p.Offsets[inc.Pred]; !ok {
				errs = append(errs, fmt.Errorf("%s: %s has no offset for bb%d", i.Func, x.Func.ValueName(v), inc.Pred))
			}
		}
		for _, off := range p.Offsets {
			if off.Kind != OffsetPhi {
				continue
			}
			src, ok := i.Phis[off.Value]
			if !ok || src.Base != p.Base {
				errs = append(errs, fmt.Errorf("%s: %s takes its offset from %s which is not an offset phi of the same base",
					i.Func, x.Func.ValueName(v), x.Func.ValueName(off.Value)))
			}
		}
	}
	for v := range i.ForcedIndices {
		if !x.Defined(v) {
			errs = append(errs, fmt.Errorf("%s: forced index %%%d is not defined", i.Func, v))
		}
	}
	return errors.Join(errs...)
}

// Detect finds the offset phis of f. Candidates are all reference phis; a
// candidate is dropped when one of its incomings fails to resolve against
// the surviving candidates, and dropping repeats until nothing changes, so
// loop-carried phi-of-phi chains qualify together.
func Detect(f *ir.Func, x *ir.Index, lay *layout.Layout) *Info {
	if lay == nil {
		return &Info{Func: f.Name, Phis: map[ir.ValueID]Phi{}, ForcedIndices: map[ir.ValueID]bool{}}
	}
	d := &detector{f: f, x: x, lay: lay, alive: make(map[ir.ValueID]bool)}
	var candidates []ir.ValueID
	for _, v := range x.DefinedValues() {
		if x.IsPhi(v) && f.ValueType(v) == ir.TypeRef {
			candidates = append(candidates, v)
			d.alive[v] = true
		}
	}

	resolved := make(map[ir.ValueID]Phi)
	for changed := true; changed; {
		changed = false
		for _, v := range candidates {
			if !d.alive[v] {
				continue
			}
			p, ok := d.resolvePhi(v)
			if !ok {
				d.alive[v] = false
				delete(resolved, v)
				changed = true
				continue
			}
			resolved[v] = p
		}
	}

	// Phis fed only by other phis inherit their base from the chain.
	for changed := true; changed; {
		changed = false
		for _, v := range candidates {
			p, ok := resolved[v]
			if !ok || p.Base != ir.NoGlobalID {
				continue
			}
			for _, off := range p.Offsets {
				if src, ok := resolved[off.Value]; ok && off.Kind == OffsetPhi && src.Base != ir.NoGlobalID {
					p.Base = src.Base
					resolved[v] = p
					changed = true
					break
				}
			}
		}
	}

	// Drop unanchored phis and phis whose phi-valued sources disagree on
	// the base, again until nothing changes.
	for v, p := range resolved {
		if p.Base == ir.NoGlobalID {
			delete(resolved, v)
		}
	}
	for changed := true; changed; {
		changed = false
		for _, v := range candidates {
			p, ok := resolved[v]
			if !ok {
				continue
			}
			for _, off := range p.Offsets {
				if off.Kind != OffsetPhi {
					continue
				}
				if src, ok := resolved[off.Value]; !ok || src.Base != p.Base {
					delete(resolved, v)
					changed = true
					break
				}
			}
		}
	}

	info := &Info{
		Func:          f.Name,
		Phis:          resolved,
		ForcedIndices: make(map[ir.ValueID]bool),
	}
	for _, p := range resolved {
		for _, off := range p.Offsets {
			if off.Kind == OffsetIndex {
				info.ForcedIndices[off.Value] = true
			}
		}
	}
	return info
}

type detector struct {
	f     *ir.Func
	x     *ir.Index
	lay   *layout.Layout
	alive map[ir.ValueID]bool
}

type source struct {
	base ir.GlobalID
	off  Offset
}

func (d *detector) resolvePhi(v ir.ValueID) (Phi, bool) {
	ins := d.x.Instr(v)
	p := Phi{Phi: v, Base: ir.NoGlobalID, Offsets: make(map[ir.BlockID]Offset, len(ins.Phi.Incoming))}
	if len(ins.Phi.Incoming) == 0 {
		return p, false
	}
	for _, inc := range ins.Phi.Incoming {
		src, ok := d.resolve(inc.Value)
		if !ok {
			return p, false
		}
		if src.base != ir.NoGlobalID {
			if p.Base != ir.NoGlobalID && p.Base != src.base {
				return p, false
			}
			p.Base = src.base
		}
		if prev, dup := p.Offsets[inc.Pred]; dup && prev != src.off {
			return p, false
		}
		p.Offsets[inc.Pred] = src.off
	}
	return p, true
}

// resolve maps one incoming operand to (base, offset). Phi-valued sources
// report NoGlobalID as base; Detect checks their base once all phis are
// resolved.
func (d *detector) resolve(op ir.Operand) (source, bool) {
	switch op.Kind {
	case ir.OperandGlobal:
		if !d.lay.Contains(op.Global, op.Offset) {
			return source{}, false
		}
		return source{base: op.Global, off: Offset{Kind: OffsetConst, Const: op.Offset}}, true
	case ir.OperandValue:
	default:
		return source{}, false
	}

	v := op.Value
	if d.alive[v] {
		return source{base: ir.NoGlobalID, off: Offset{Kind: OffsetPhi, Value: v}}, true
	}
	ins := d.x.Instr(v)
	if ins == nil || ins.Kind != ir.InstrGEP {
		return source{}, false
	}
	gep := &ins.GEP
	if gep.Base.Kind != ir.OperandGlobal || len(gep.Indices) != 1 {
		return source{}, false
	}
	scale := d.lay.Target.ElemSize(gep.Elem)
	if scale == 0 {
		return source{}, false
	}
	idx := gep.Indices[0]
	switch idx.Kind {
	case ir.OperandConst:
		off := gep.Base.Offset + idx.Const*int64(scale)
		if !d.lay.Contains(gep.Base.Global, off) {
			return source{}, false
		}
		return source{base: gep.Base.Global, off: Offset{Kind: OffsetConst, Const: off}}, true
	case ir.OperandValue:
		if gep.Base.Offset != 0 {
			return source{}, false
		}
		return source{base: gep.Base.Global, off: Offset{Kind: OffsetIndex, Value: idx.Value, Scale: scale}}, true
	}
	return source{}, false
}
