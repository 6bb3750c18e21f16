package phimove_test

import (
	"testing"

	"cardc/internal/coloring"
	"cardc/internal/escape"
	"cardc/internal/interfere"
	"cardc/internal/ir"
	"cardc/internal/layout"
	"cardc/internal/limits"
	"cardc/internal/locals"
	"cardc/internal/narrow"
	"cardc/internal/phimove"
)

// run executes a plan on a slot file and returns the result.
func run(t *testing.T, p *phimove.Plan, slots map[int]int64) map[int]int64 {
	t.Helper()
	out := make(map[int]int64, len(slots))
	for k, v := range slots {
		out[k] = v
	}
	var stack []int64
	for _, op := range p.Ops {
		switch op.Kind {
		case phimove.OpLoad:
			stack = append(stack, out[op.Slot]*int64(max(op.Scale, 1)))
		case phimove.OpPush:
			stack = append(stack, immValue(op.Imm))
		case phimove.OpAdd:
			if len(stack) < 2 {
				t.Fatalf("add with short stack in %s", p)
			}
			n := len(stack)
			stack = append(stack[:n-2], stack[n-2]+stack[n-1])
		case phimove.OpStore:
			if len(stack) == 0 {
				t.Fatalf("store with empty stack in %s", p)
			}
			out[op.Slot] = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) != 0 {
		t.Fatalf("stack not empty after %s", p)
	}
	return out
}

// immValue gives global addresses a recognisable value: 1000 per global
// plus the offset.
func immValue(op ir.Operand) int64 {
	if op.Kind == ir.OperandGlobal {
		return 1000*int64(op.Global+1) + op.Offset
	}
	return op.Const
}

// parallel applies the moves with read-all-then-write semantics.
func parallel(moves []phimove.Move, slots map[int]int64) map[int]int64 {
	out := make(map[int]int64, len(slots))
	for k, v := range slots {
		out[k] = v
	}
	for _, m := range moves {
		if m.Src == locals.NoSlot {
			out[m.Dst] = m.Imm.Const
			continue
		}
		out[m.Dst] = slots[m.Src]
	}
	return out
}

func mv(dst, src int) phimove.Move {
	return phimove.Move{Dst: dst, Src: src, Type: ir.TypeI16}
}

func initial(n int) map[int]int64 {
	s := make(map[int]int64, n)
	for i := range n {
		s[i] = int64(100 + i)
	}
	return s
}

func TestSwapUsesNoTemporaries(t *testing.T) {
	moves := []phimove.Move{mv(0, 1), mv(1, 0)}
	p, err := phimove.Schedule(moves, limits.Default().MaxStackSoft, 10)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if p.Temps != 0 {
		t.Fatalf("temps = %d, want 0 (%s)", p.Temps, p)
	}
	if p.MaxStack != 2 {
		t.Fatalf("max stack = %d", p.MaxStack)
	}
	got := run(t, p, initial(2))
	if got[0] != 101 || got[1] != 100 {
		t.Fatalf("after %s: %v", p, got)
	}
}

func TestScheduleMatchesParallelSemantics(t *testing.T) {
	imm := phimove.Move{Dst: 5, Src: locals.NoSlot, Imm: ir.Const(ir.TypeI16, 42), Type: ir.TypeI16}
	tests := []struct {
		name      string
		moves     []phimove.Move
		maxStack  int
		wantTemps int
	}{
		{"chain", []phimove.Move{mv(0, 1), mv(1, 2), mv(2, 3)}, 16, 0},
		{"three cycle", []phimove.Move{mv(0, 1), mv(1, 2), mv(2, 0)}, 16, 0},
		{"three cycle on tiny stack", []phimove.Move{mv(0, 1), mv(1, 2), mv(2, 0)}, 2, 1},
		{"fan out", []phimove.Move{mv(3, 0), mv(4, 0), mv(0, 1), mv(1, 0)}, 16, 0},
		{"two cycles and an immediate", []phimove.Move{mv(0, 1), mv(1, 0), mv(2, 3), mv(3, 2), imm}, 16, 0},
		{"self copy", []phimove.Move{mv(0, 0), mv(1, 2)}, 16, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := phimove.Schedule(tt.moves, tt.maxStack, 20)
			if err != nil {
				t.Fatalf("Schedule: %v", err)
			}
			if p.Temps != tt.wantTemps {
				t.Fatalf("temps = %d, want %d (%s)", p.Temps, tt.wantTemps, p)
			}
			if p.MaxStack > tt.maxStack {
				t.Fatalf("stack %d exceeds %d", p.MaxStack, tt.maxStack)
			}
			want := parallel(tt.moves, initial(6))
			got := run(t, p, initial(6))
			for slot := range 6 {
				if got[slot] != want[slot] {
					t.Fatalf("slot %d = %d, want %d after %s", slot, got[slot], want[slot], p)
				}
			}
		})
	}
}

func TestDuplicateDestinationRejected(t *testing.T) {
	if _, err := phimove.Schedule([]phimove.Move{mv(0, 1), mv(0, 2)}, 16, 3); err == nil {
		t.Fatal("expected an error")
	}
}

func TestCollectOnLoop(t *testing.T) {
	b := ir.NewBuilder("loop", ir.TypeVoid)
	n := b.Param("n", ir.TypeI16)
	entry := b.Block("entry")
	head := b.NewBlock("head")
	body := b.NewBlock("body")
	exit := b.NewBlock("exit")
	b.Br(head)
	b.SetBlock(head)
	i := b.Phi(ir.TypeI16, ir.In(ir.Const(ir.TypeI16, 0), entry))
	b.CondBr(b.ICmp(ir.CmpSLT, i, n), body, exit)
	b.SetBlock(body)
	next := b.Binary(ir.BinAdd, ir.TypeI16, i, ir.Const(ir.TypeI16, 1))
	b.Br(head)
	b.AddIncoming(i, next, body)
	b.SetBlock(exit)
	b.RetVoid()
	f := b.Func()

	x := ir.NewIndex(f)
	nr := narrow.Analyze(f, x, narrow.Options{})
	esc := escape.Analyze(f, x, escape.Options{})
	g := interfere.Build(f, x, esc, interfere.Types{Func: f, Narrow: nr})
	a, err := coloring.Color(g, f, x, coloring.Options{})
	if err != nil {
		t.Fatalf("Color: %v", err)
	}
	fl, err := locals.Assemble(locals.Input{Func: f, Index: x, Narrow: nr, Escape: esc, Graph: g, Assign: a}, limits.Default(), nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	enter, err := phimove.Collect(f, x, fl, nil, layout.SmartCard16(), entry, head)
	if err != nil {
		t.Fatalf("Collect entry: %v", err)
	}
	if len(enter) != 1 || enter[0].Src != locals.NoSlot || enter[0].Imm.Const != 0 {
		t.Fatalf("entry moves = %v", enter)
	}

	back, err := phimove.Collect(f, x, fl, nil, layout.SmartCard16(), body, head)
	if err != nil {
		t.Fatalf("Collect back edge: %v", err)
	}
	p, err := phimove.Schedule(back, 16, fl.FirstTemp)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(p.Ops) != 0 {
		t.Fatalf("coalesced back edge still moves: %s", p)
	}
}

// allocate runs the stages up to locals assembly without offset phis.
func allocate(t *testing.T, f *ir.Func) (*ir.Index, *locals.FunctionLocals) {
	t.Helper()
	x := ir.NewIndex(f)
	nr := narrow.Analyze(f, x, narrow.Options{})
	esc := escape.Analyze(f, x, escape.Options{})
	g := interfere.Build(f, x, esc, interfere.Types{Func: f, Narrow: nr})
	a, err := coloring.Color(g, f, x, coloring.Options{})
	if err != nil {
		t.Fatalf("Color: %v", err)
	}
	fl, err := locals.Assemble(locals.Input{Func: f, Index: x, Narrow: nr, Escape: esc, Graph: g, Assign: a}, limits.Default(), nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return x, fl
}

func TestCollectComputesInlinedAddress(t *testing.T) {
	b := ir.NewBuilder("choose", ir.TypeI16)
	c := b.Param("c", ir.TypeBool)
	i := b.Param("i", ir.TypeI16)
	b.Block("entry")
	left := b.NewBlock("left")
	right := b.NewBlock("right")
	join := b.NewBlock("join")
	b.CondBr(c, left, right)
	b.SetBlock(left)
	inA := b.GEP(ir.TypeI16, ir.GlobalAddr(0, 0), i)
	b.Br(join)
	b.SetBlock(right)
	inB := b.GEP(ir.TypeI16, ir.GlobalAddr(1, 0), i)
	b.Br(join)
	b.SetBlock(join)
	p := b.Phi(ir.TypeRef, ir.In(inA, left), ir.In(inB, right))
	b.Ret(b.Load(ir.TypeI16, p))
	f := b.Func()

	x, fl := allocate(t, f)
	iSlot, pSlot := fl.Slot(i.Value), fl.Slot(p.Value)
	if iSlot == locals.NoSlot || pSlot == locals.NoSlot {
		t.Fatalf("index slot %d, phi slot %d", iSlot, pSlot)
	}

	tests := []struct {
		pred ir.BlockID
		base int64
	}{
		{left, 1000},
		{right, 2000},
	}
	for _, tt := range tests {
		moves, err := phimove.Collect(f, x, fl, nil, layout.SmartCard16(), tt.pred, join)
		if err != nil {
			t.Fatalf("Collect bb%d: %v", tt.pred, err)
		}
		if len(moves) != 1 || len(moves[0].Addr) != 2 {
			t.Fatalf("bb%d moves = %v", tt.pred, moves)
		}
		plan, err := phimove.Schedule(moves, 16, fl.FirstTemp)
		if err != nil {
			t.Fatalf("Schedule: %v", err)
		}
		if plan.MaxStack != 2 {
			t.Fatalf("max stack = %d, want 2 (%s)", plan.MaxStack, plan)
		}
		got := run(t, plan, map[int]int64{iSlot: 3})
		if want := tt.base + 3*2; got[pSlot] != want {
			t.Fatalf("bb%d: phi slot holds %d, want %d (%s)", tt.pred, got[pSlot], want, plan)
		}
	}
}

func TestAddressMoveWaitsForItsIndex(t *testing.T) {
	// s1 <- &g0 + s0*2 reads s0, which the other move overwrites.
	addr := phimove.Move{Dst: 1, Src: locals.NoSlot, Type: ir.TypeRef, Addr: []phimove.Term{
		{Slot: locals.NoSlot, Imm: ir.GlobalAddr(0, 0)},
		{Slot: 0, Scale: 2},
	}}
	moves := []phimove.Move{mv(0, 2), addr}
	p, err := phimove.Schedule(moves, 16, 5)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	got := run(t, p, initial(3))
	if got[1] != 1000+100*2 || got[0] != 102 {
		t.Fatalf("slots = %v after %s", got, p)
	}
}
