// Package phimove turns the phi copies of one CFG edge into a sequence of
// operand stack loads and stores. Copies happen in parallel, so cycles are
// rotated through the operand stack instead of through temporary slots.
package phimove

import (
	"fmt"
	"slices"
	"strings"

	"cardc/internal/ir"
	"cardc/internal/layout"
	"cardc/internal/locals"
	"cardc/internal/offsetphi"
)

// Move copies Src (a slot) or Imm (when Src is locals.NoSlot) into Dst.
// When Addr is set the move instead stores the sum of its terms, the
// address an inlined GEP computes.
type Move struct {
	Dst  int
	Src  int
	Imm  ir.Operand
	Type ir.Type
	// Scale multiplies an element index into a byte offset; 0 means a
	// plain copy.
	Scale int
	Addr  []Term
}

// Term is one summand of an address: a slot times Scale, or Imm when Slot
// is locals.NoSlot.
type Term struct {
	Slot  int
	Imm   ir.Operand
	Scale int
}

// reads reports whether the move reads any cell of [slot, slot+w).
func (m Move) reads(slot, w int) bool {
	if m.Src != locals.NoSlot {
		return overlap(slot, w, m.Src, m.width())
	}
	for _, t := range m.Addr {
		if t.Slot != locals.NoSlot && overlap(slot, w, t.Slot, 1) {
			return true
		}
	}
	return false
}

// need is the peak operand stack use of pushing the move's source.
func (m Move) need() int {
	if len(m.Addr) > 1 {
		return m.width() + 1
	}
	return m.width()
}

func (m Move) width() int {
	if w := m.Type.Width(); w > 0 {
		return w
	}
	return 1
}

func (m Move) String() string {
	if len(m.Addr) > 0 {
		parts := make([]string, len(m.Addr))
		for i, t := range m.Addr {
			switch {
			case t.Slot == locals.NoSlot:
				parts[i] = "imm"
			case t.Scale > 1:
				parts[i] = fmt.Sprintf("s%d*%d", t.Slot, t.Scale)
			default:
				parts[i] = fmt.Sprintf("s%d", t.Slot)
			}
		}
		return fmt.Sprintf("s%d <- %s", m.Dst, strings.Join(parts, "+"))
	}
	if m.Src == locals.NoSlot {
		return fmt.Sprintf("s%d <- imm", m.Dst)
	}
	return fmt.Sprintf("s%d <- s%d", m.Dst, m.Src)
}

// Collect builds the parallel move set for the edge pred -> succ. target
// sizes the elements of inlined GEP sources.
func Collect(f *ir.Func, x *ir.Index, fl *locals.FunctionLocals, off *offsetphi.Info, target layout.Target, pred, succ ir.BlockID) ([]Move, error) {
	var moves []Move
	for _, phi := range x.Phis(succ) {
		dst, ok := fl.Local(phi)
		if !ok || !dst.Stored() {
			return nil, fmt.Errorf("%s: phi %s has no slot", f.Name, f.ValueName(phi))
		}
		m := Move{Dst: dst.Slot, Src: locals.NoSlot, Type: dst.SlotType}

		if p, isOffset := offsetPhi(off, phi); isOffset {
			o, ok := p.Offsets[pred]
			if !ok {
				return nil, fmt.Errorf("%s: offset phi %s has no offset for bb%d", f.Name, f.ValueName(phi), pred)
			}
			switch o.Kind {
			case offsetphi.OffsetConst:
				m.Imm = ir.Const(offsetphi.OffsetType, o.Const)
			case offsetphi.OffsetIndex:
				m.Src = fl.Slot(o.Value)
				m.Scale = o.Scale
			case offsetphi.OffsetPhi:
				m.Src = fl.Slot(o.Value)
			}
			if o.Kind != offsetphi.OffsetConst && m.Src == locals.NoSlot {
				return nil, fmt.Errorf("%s: offset source of %s has no slot", f.Name, f.ValueName(phi))
			}
			moves = append(moves, m)
			continue
		}

		inc, ok := incoming(x.Instr(phi), pred)
		if !ok {
			return nil, fmt.Errorf("%s: phi %s has no incoming from bb%d", f.Name, f.ValueName(phi), pred)
		}
		switch {
		case inc.IsValue() && fl.Slot(inc.Value) == locals.NoSlot && x.IsGEP(inc.Value):
			terms, err := addressTerms(f, x, fl, target, inc.Value)
			if err != nil {
				return nil, err
			}
			m.Addr = terms
		case inc.IsValue():
			m.Src = fl.Slot(inc.Value)
			if m.Src == locals.NoSlot {
				return nil, fmt.Errorf("%s: phi source %s has no slot", f.Name, f.ValueName(inc.Value))
			}
		default:
			m.Imm = inc
		}
		moves = append(moves, m)
	}
	return moves, nil
}

// addressTerms flattens an inlined GEP chain into the summands of its
// address. Value operands must own slots; escape analysis gives them one
// because they are read on the phi edge.
func addressTerms(f *ir.Func, x *ir.Index, fl *locals.FunctionLocals, target layout.Target, v ir.ValueID) ([]Term, error) {
	var terms []Term
	operand := func(op ir.Operand, scale int) error {
		switch {
		case op.Kind == ir.OperandConst:
			terms = append(terms, Term{Slot: locals.NoSlot, Imm: ir.Const(op.Type, op.Const*int64(max(scale, 1)))})
		case op.IsValue():
			slot := fl.Slot(op.Value)
			if slot == locals.NoSlot {
				return fmt.Errorf("%s: address operand %s has no slot", f.Name, f.ValueName(op.Value))
			}
			terms = append(terms, Term{Slot: slot, Scale: scale})
		default:
			terms = append(terms, Term{Slot: locals.NoSlot, Imm: op})
		}
		return nil
	}
	for {
		gep := &x.Instr(v).GEP
		scale := target.ElemSize(gep.Elem)
		for _, idx := range gep.Indices {
			if err := operand(idx, scale); err != nil {
				return nil, err
			}
		}
		if gep.Base.IsValue() && fl.Slot(gep.Base.Value) == locals.NoSlot && x.IsGEP(gep.Base.Value) {
			v = gep.Base.Value
			continue
		}
		if err := operand(gep.Base, 0); err != nil {
			return nil, err
		}
		break
	}
	// The base goes first so the sum starts from a reference.
	slices.Reverse(terms)
	return terms, nil
}

func offsetPhi(off *offsetphi.Info, phi ir.ValueID) (offsetphi.Phi, bool) {
	if off == nil {
		return offsetphi.Phi{}, false
	}
	p, ok := off.Phis[phi]
	return p, ok
}

func incoming(ins *ir.Instr, pred ir.BlockID) (ir.Operand, bool) {
	if ins == nil || ins.Kind != ir.InstrPhi {
		return ir.Operand{}, false
	}
	for _, inc := range ins.Phi.Incoming {
		if inc.Pred == pred {
			return inc.Value, true
		}
	}
	return ir.Operand{}, false
}

type OpKind uint8

const (
	// OpLoad pushes a slot.
	OpLoad OpKind = iota
	// OpPush pushes an immediate.
	OpPush
	// OpStore pops into a slot.
	OpStore
	// OpAdd pops two values and pushes their sum.
	OpAdd
)

// Op is one emitted stack operation.
type Op struct {
	Kind  OpKind
	Slot  int
	Imm   ir.Operand
	Type  ir.Type
	Scale int
}

func (o Op) String() string {
	switch o.Kind {
	case OpLoad:
		if o.Scale > 1 {
			return fmt.Sprintf("load s%d*%d", o.Slot, o.Scale)
		}
		return fmt.Sprintf("load s%d", o.Slot)
	case OpPush:
		if o.Imm.Kind == ir.OperandGlobal {
			return fmt.Sprintf("push &g%d+%d", o.Imm.Global, o.Imm.Offset)
		}
		return fmt.Sprintf("push %d", o.Imm.Const)
	case OpAdd:
		return "add"
	default:
		return fmt.Sprintf("store s%d", o.Slot)
	}
}

// Plan is the scheduled move sequence of one edge.
type Plan struct {
	Ops []Op
	// Temps is the number of temporary slots used from FirstTemp on.
	Temps int
	// MaxStack is the peak operand stack use in slots.
	MaxStack int
}

func (p *Plan) String() string {
	parts := make([]string, len(p.Ops))
	for i, op := range p.Ops {
		parts[i] = op.String()
	}
	return strings.Join(parts, "; ")
}

type scheduler struct {
	plan  Plan
	depth int
}

func (s *scheduler) emit(op Op, delta int) {
	s.plan.Ops = append(s.plan.Ops, op)
	s.depth += delta
	if s.depth > s.plan.MaxStack {
		s.plan.MaxStack = s.depth
	}
}

func (s *scheduler) push(m Move) {
	if len(m.Addr) > 0 {
		for i, t := range m.Addr {
			if t.Slot == locals.NoSlot {
				s.emit(Op{Kind: OpPush, Imm: t.Imm, Type: m.Type}, 1)
			} else {
				s.emit(Op{Kind: OpLoad, Slot: t.Slot, Type: m.Type, Scale: t.Scale}, 1)
			}
			if i > 0 {
				s.emit(Op{Kind: OpAdd, Type: m.Type}, -1)
			}
		}
		return
	}
	if m.Src == locals.NoSlot {
		s.emit(Op{Kind: OpPush, Imm: m.Imm, Type: m.Type}, m.width())
		return
	}
	s.emit(Op{Kind: OpLoad, Slot: m.Src, Type: m.Type, Scale: m.Scale}, m.width())
}

func (s *scheduler) store(slot int, m Move) {
	s.emit(Op{Kind: OpStore, Slot: slot, Type: m.Type}, -m.width())
}

// Schedule orders a parallel move set. Moves whose destination nobody still
// reads go first; each remaining cycle is rotated by pushing all its sources
// and storing them back in reverse. A cycle needing more than maxStack
// operand slots is broken through a temporary at firstTemp instead.
func Schedule(moves []Move, maxStack, firstTemp int) (*Plan, error) {
	pending := make([]Move, 0, len(moves))
	for _, m := range moves {
		if len(m.Addr) == 0 && m.Src != locals.NoSlot && m.Src == m.Dst && m.Scale <= 1 {
			continue
		}
		pending = append(pending, m)
	}
	slices.SortStableFunc(pending, func(a, b Move) int { return a.Dst - b.Dst })
	for i := 1; i < len(pending); i++ {
		if overlap(pending[i-1].Dst, pending[i-1].width(), pending[i].Dst, pending[i].width()) {
			return nil, fmt.Errorf("phi moves write slot %d twice", pending[i].Dst)
		}
	}

	s := &scheduler{}
	for len(pending) > 0 {
		pending = s.drainReady(pending)
		if len(pending) == 0 {
			break
		}
		cycle := findCycle(pending)
		need, held := 0, 0
		for _, i := range cycle {
			need = max(need, held+pending[i].need())
			held += pending[i].width()
		}
		if need <= maxStack {
			for _, i := range cycle {
				s.push(pending[i])
			}
			for k := len(cycle) - 1; k >= 0; k-- {
				s.store(pending[cycle[k]].Dst, pending[cycle[k]])
			}
			pending = remove(pending, cycle)
			continue
		}
		// Park one source in a temporary; the rest of the cycle drains.
		i := cycle[0]
		m := pending[i]
		s.push(m)
		s.store(firstTemp, m)
		if m.width() > s.plan.Temps {
			s.plan.Temps = m.width()
		}
		pending[i].Src = firstTemp
		pending[i].Scale = 0
		pending[i].Imm = ir.Operand{}
		pending[i].Addr = nil
	}
	return &s.plan, nil
}

func overlap(a, wa, b, wb int) bool {
	return a < b+wb && b < a+wa
}

// readBy reports whether some other pending move still reads m's
// destination.
func readBy(pending []Move, self int) bool {
	m := pending[self]
	for j, o := range pending {
		if j != self && o.reads(m.Dst, m.width()) {
			return true
		}
	}
	return false
}

func (s *scheduler) drainReady(pending []Move) []Move {
	for progress := true; progress; {
		progress = false
		for i := 0; i < len(pending); i++ {
			if readBy(pending, i) {
				continue
			}
			s.push(pending[i])
			s.store(pending[i].Dst, pending[i])
			pending = append(pending[:i], pending[i+1:]...)
			progress = true
			i--
		}
	}
	return pending
}

// findCycle follows "destination is read by" edges from the first pending
// move until a move repeats and returns the indices of that loop.
func findCycle(pending []Move) []int {
	pos := make(map[int]int)
	var path []int
	cur := 0
	for {
		if at, seen := pos[cur]; seen {
			return path[at:]
		}
		pos[cur] = len(path)
		path = append(path, cur)
		m := pending[cur]
		for j, o := range pending {
			if j != cur && o.reads(m.Dst, m.width()) {
				cur = j
				break
			}
		}
	}
}

func remove(pending []Move, idx []int) []Move {
	drop := make(map[int]bool, len(idx))
	for _, i := range idx {
		drop[i] = true
	}
	out := pending[:0]
	for i, m := range pending {
		if !drop[i] {
			out = append(out, m)
		}
	}
	return out
}
