package narrow

import (
	"fmt"

	"cardc/internal/ir"
)

// Analyze classifies every 32-bit value of f as wide or narrowed.
func Analyze(f *ir.Func, x *ir.Index, opts Options) *Result {
	res := &Result{
		Func:     f.Name,
		Wide:     make(map[ir.ValueID]bool),
		Narrowed: make(map[ir.ValueID]bool),
		Reasons:  make(map[ir.ValueID]string),
		types:    make([]ir.Type, len(f.Values)),
	}
	for i := range f.Values {
		res.types[i] = f.Values[i].Type
	}

	s := &seeder{f: f, x: x, opts: opts, reasons: make(map[ir.ValueID]string)}
	s.scan()

	groups := newUnionFind(len(f.Values))
	joinWidthGroups(f, groups)

	// One representative seed per group: the lowest seeded id.
	groupSeed := make(map[int32]ir.ValueID)
	for _, v := range x.DefinedValues() {
		if _, ok := s.reasons[v]; !ok {
			continue
		}
		root := groups.find(int32(v))
		if _, ok := groupSeed[root]; !ok {
			groupSeed[root] = v
		}
	}

	for _, v := range x.DefinedValues() {
		if f.ValueType(v) != ir.TypeI32 {
			continue
		}
		if reason, ok := s.reasons[v]; ok {
			res.Wide[v] = true
			res.Reasons[v] = reason
			continue
		}
		if seed, ok := groupSeed[groups.find(int32(v))]; ok {
			res.Wide[v] = true
			res.Reasons[v] = fmt.Sprintf("shares width with %s (%s)", f.ValueName(seed), s.reasons[seed])
			continue
		}
		res.Narrowed[v] = true
	}

	res.ParamNarrowable = make([]bool, len(f.Params))
	for i, p := range f.Params {
		res.ParamNarrowable[i] = res.Narrowed[p]
	}
	return res
}

// joinWidthGroups unions the 32-bit members of every binary op, phi and
// select: their operands and result must agree on width.
func joinWidthGroups(f *ir.Func, uf *unionFind) {
	for bi := range f.Blocks {
		for ii := range f.Blocks[bi].Instrs {
			ins := &f.Blocks[bi].Instrs[ii]
			var members []ir.Operand
			switch ins.Kind {
			case ir.InstrBinary:
				members = []ir.Operand{ins.Binary.Left, ins.Binary.Right}
			case ir.InstrPhi:
				members = ins.Operands()
			case ir.InstrSelect:
				members = []ir.Operand{ins.Select.Then, ins.Select.Else}
			default:
				continue
			}
			if !ins.HasDst() || f.ValueType(ins.Dst) != ir.TypeI32 {
				continue
			}
			for _, op := range members {
				if op.IsValue() && f.ValueType(op.Value) == ir.TypeI32 {
					uf.union(int32(ins.Dst), int32(op.Value))
				}
			}
		}
	}
}

type seeder struct {
	f       *ir.Func
	x       *ir.Index
	opts    Options
	reasons map[ir.ValueID]string
}

func (s *seeder) is32(v ir.ValueID) bool {
	return v != ir.NoValueID && s.f.ValueType(v) == ir.TypeI32
}

// exempt reports whether a range hint proves v fits a short.
func (s *seeder) exempt(v ir.ValueID) bool {
	r, ok := s.opts.Ranges[v]
	return ok && r.FitsShort()
}

// observe seeds v unless a range hint exempts it.
func (s *seeder) observe(v ir.ValueID, reason string) {
	if !s.is32(v) || s.exempt(v) {
		return
	}
	s.force(v, reason)
}

// force seeds v regardless of range hints.
func (s *seeder) force(v ir.ValueID, reason string) {
	if !s.is32(v) {
		return
	}
	if _, ok := s.reasons[v]; ok {
		return
	}
	s.reasons[v] = reason
}

func (s *seeder) observeOperand(op ir.Operand, reason string) {
	if op.IsValue() {
		s.observe(op.Value, reason)
	}
}

// constantRule widens every 32-bit participant of an operation that
// involves a constant outside the short range.
func (s *seeder) constantRule(ops []ir.Operand, dst ir.ValueID) {
	var wide *ir.Operand
	for i := range ops {
		if ops[i].Kind == ir.OperandConst && !ir.FitsShort(ops[i].Const) {
			wide = &ops[i]
			break
		}
	}
	if wide == nil {
		return
	}
	reason := fmt.Sprintf("operation with constant %d outside short range", wide.Const)
	for _, op := range ops {
		if op.IsValue() {
			s.force(op.Value, reason)
		}
	}
	s.force(dst, reason)
}

func (s *seeder) scan() {
	for bi := range s.f.Blocks {
		bb := &s.f.Blocks[bi]
		for ii := range bb.Instrs {
			s.instr(&bb.Instrs[ii])
		}
		s.term(&bb.Term)
	}
}

func (s *seeder) instr(ins *ir.Instr) {
	s.constantRule(ins.Operands(), ins.Dst)

	switch ins.Kind {
	case ir.InstrICmp:
		s.observeOperand(ins.ICmp.Left, "compare operand")
		s.observeOperand(ins.ICmp.Right, "compare operand")
	case ir.InstrBinary:
		op := ins.Binary.Op
		if op.IsShiftRight() {
			s.observeOperand(ins.Binary.Left, "right-shift operand")
		}
		if op.IsDivRem() {
			s.observeOperand(ins.Binary.Left, "division operand")
			s.observeOperand(ins.Binary.Right, "division operand")
			s.observe(ins.Dst, "division result")
		}
	case ir.InstrGEP:
		for _, idx := range ins.GEP.Indices {
			s.observeOperand(idx, "address index")
		}
	case ir.InstrLoad:
		if ins.Load.Mem == ir.TypeI32 {
			s.observe(ins.Dst, "loaded from 32-bit memory")
		}
	case ir.InstrStore:
		s.observeOperand(ins.Store.Value, "stored to 32-bit memory")
	case ir.InstrCall:
		s.call(ins)
	case ir.InstrCast:
		if ins.Cast.Op == ir.CastZExt && ins.Cast.To == ir.TypeI32 && ins.Cast.Value.Type == ir.TypeI16 {
			s.force(ins.Dst, "zero-extended from 16-bit source")
		}
	}
}

func (s *seeder) call(ins *ir.Instr) {
	c := &ins.Call
	if c.Intrinsic {
		for _, arg := range c.Args {
			s.observeOperand(arg, "intrinsic argument")
		}
		s.observe(ins.Dst, "intrinsic result")
		return
	}
	for i, arg := range c.Args {
		if !arg.IsValue() {
			continue
		}
		if s.opts.Params != nil && s.opts.Params.ParamNarrowable(c.Callee, i) {
			continue
		}
		s.observe(arg.Value, fmt.Sprintf("argument %d of call to %s", i, c.Callee))
	}
	s.observe(ins.Dst, "result of call to "+c.Callee)
}

func (s *seeder) term(t *ir.Terminator) {
	switch t.Kind {
	case ir.TermSwitch:
		for _, c := range t.Switch.Cases {
			if !ir.FitsShort(c.Value) && t.Switch.Value.IsValue() {
				s.force(t.Switch.Value.Value, fmt.Sprintf("switch case %d outside short range", c.Value))
			}
		}
		s.observeOperand(t.Switch.Value, "switch scrutinee")
	case ir.TermRet:
		if t.Ret.HasValue && s.f.Result == ir.TypeI32 {
			s.observeOperand(t.Ret.Value, "returned at 32-bit width")
		}
	}
}
