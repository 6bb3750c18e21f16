package callgraph

import (
	"slices"

	"cardc/internal/ir"
	"cardc/internal/limits"
	"cardc/internal/locals"
)

// EstimateFrame derives a pre-codegen frame from the allocation of f.
// Locals is the number of permanent slots. Stack is the deepest operand
// stack needed to evaluate any statement with its inlined expression trees
// expanded in place. Slots at or above the soft locals ceiling are counted
// against the offload stack of their category.
func EstimateFrame(f *ir.Func, x *ir.Index, fl *locals.FunctionLocals, lim limits.Limits) Frame {
	fr := Frame{}
	if f == nil || fl == nil {
		return fr
	}
	fr.Locals = fl.NumSlots

	e := &estimator{f: f, x: x, fl: fl, need: make(map[ir.ValueID]int)}
	for bi := range f.Blocks {
		b := &f.Blocks[bi]
		for ii := range b.Instrs {
			ins := &b.Instrs[ii]
			switch {
			case ins.Kind == ir.InstrPhi:
				// Edge moves are sized by the phi move scheduler.
			case !ins.HasDst():
				fr.Stack = max(fr.Stack, e.instrNeed(ins))
			case fl.Slot(ins.Dst) != locals.NoSlot:
				fr.Stack = max(fr.Stack, e.value(ins.Dst))
			}
		}
		fr.Stack = max(fr.Stack, e.terminator(&b.Term, lim))
	}

	for s := lim.MaxLocalsSoft; s < len(fl.SlotTypes); s++ {
		if fr.Offload == nil {
			fr.Offload = make(map[OffloadCategory]int)
		}
		fr.Offload[categoryOf(fl.SlotTypes[s])]++
	}
	return fr
}

func categoryOf(t ir.Type) OffloadCategory {
	switch t {
	case ir.TypeI32:
		return OffloadInt
	case ir.TypeRef:
		return OffloadRef
	}
	return OffloadShort
}

type estimator struct {
	f    *ir.Func
	x    *ir.Index
	fl   *locals.FunctionLocals
	need map[ir.ValueID]int
	// busy guards against malformed inline cycles; phis always own a slot.
	busy []ir.ValueID
}

// width is the number of stack cells the value of op occupies once pushed.
func (e *estimator) width(op ir.Operand) int {
	if op.IsValue() {
		if l, ok := e.fl.Local(op.Value); ok && l.Register != ir.TypeVoid {
			return l.Register.Width()
		}
		return e.f.ValueType(op.Value).Width()
	}
	return max(op.Type.Width(), 1)
}

// operand returns the peak stack needed to push op.
func (e *estimator) operand(op ir.Operand) int {
	if !op.IsValue() {
		return e.width(op)
	}
	if e.x.IsParam(op.Value) || e.fl.Slot(op.Value) != locals.NoSlot {
		return e.width(op)
	}
	return e.value(op.Value)
}

// value returns the peak stack needed to compute v from its operands.
func (e *estimator) value(v ir.ValueID) int {
	if n, ok := e.need[v]; ok {
		return n
	}
	ins := e.x.Instr(v)
	if ins == nil || slices.Contains(e.busy, v) {
		return e.f.ValueType(v).Width()
	}
	e.busy = append(e.busy, v)
	n := e.instrNeed(ins)
	e.busy = e.busy[:len(e.busy)-1]
	e.need[v] = n
	return n
}

// instrNeed evaluates the operands left to right, each on top of the
// results already pushed.
func (e *estimator) instrNeed(ins *ir.Instr) int {
	peak, cur := 0, 0
	for _, op := range ins.Operands() {
		peak = max(peak, cur+e.operand(op))
		cur += e.width(op)
	}
	if ins.Kind == ir.InstrGEP && len(ins.GEP.Indices) > 0 {
		// index * element size
		peak = max(peak, cur+1)
	}
	if ins.HasDst() {
		peak = max(peak, e.f.ValueType(ins.Dst).Width())
	}
	return peak
}

func (e *estimator) terminator(t *ir.Terminator, lim limits.Limits) int {
	switch t.Kind {
	case ir.TermCondBr:
		return e.operand(t.CondBr.Cond)
	case ir.TermRet:
		if t.Ret.HasValue {
			return e.operand(t.Ret.Value)
		}
	case ir.TermSwitch:
		n := e.operand(t.Switch.Value)
		if len(t.Switch.Cases) == 0 {
			return n
		}
		lo, hi := t.Switch.Cases[0].Value, t.Switch.Cases[0].Value
		for _, c := range t.Switch.Cases[1:] {
			lo, hi = min(lo, c.Value), max(hi, c.Value)
		}
		if lim.DenseSwitch(len(t.Switch.Cases), lo, hi) {
			return n
		}
		// compare chain: scrutinee stays on the stack under each case key
		return max(n, e.width(t.Switch.Value)*2)
	}
	return 0
}
