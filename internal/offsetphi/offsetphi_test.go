package offsetphi_test

import (
	"testing"

	"cardc/internal/ir"
	"cardc/internal/layout"
	"cardc/internal/offsetphi"
)

func testLayout(t *testing.T) *layout.Layout {
	t.Helper()
	m := &ir.Module{Globals: []ir.Global{
		{Name: "GLOBAL", Category: ir.StorageTransient, Elem: ir.TypeI16, Count: 8},
		{Name: "OTHER", Category: ir.StorageTransient, Elem: ir.TypeI16, Count: 4},
	}}
	lay, err := layout.Compute(layout.SmartCard16(), m)
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	return lay
}

func detect(t *testing.T, f *ir.Func) (*offsetphi.Info, *ir.Index) {
	t.Helper()
	if err := ir.ValidateFunc(f, nil); err != nil {
		t.Fatalf("invalid fixture: %v\n%s", err, f)
	}
	x := ir.NewIndex(f)
	info := offsetphi.Detect(f, x, testLayout(t))
	if err := info.Validate(x); err != nil {
		t.Fatalf("offset-phi invariant violated: %v", err)
	}
	return info, x
}

// diamond builds entry -> (left | right) -> join with a reference phi
// merging the two given addresses.
func diamond(name string, left, right func(b *ir.Builder) ir.Operand) (*ir.Func, ir.Operand, ir.BlockID, ir.BlockID) {
	b := ir.NewBuilder(name, ir.TypeVoid)
	c := b.Param("c", ir.TypeBool)
	b.Block("entry")
	l := b.NewBlock("left")
	r := b.NewBlock("right")
	join := b.NewBlock("join")
	b.CondBr(c, l, r)
	b.SetBlock(l)
	lv := left(b)
	b.Br(join)
	b.SetBlock(r)
	rv := right(b)
	b.Br(join)
	b.SetBlock(join)
	phi := b.Phi(ir.TypeRef, ir.In(lv, l), ir.In(rv, r))
	b.Store(phi, ir.Const(ir.TypeI16, 0))
	b.RetVoid()
	return b.Func(), phi, l, r
}

func constAddr(g ir.GlobalID, off int64) func(*ir.Builder) ir.Operand {
	return func(*ir.Builder) ir.Operand { return ir.GlobalAddr(g, off) }
}

func TestConstantOffsetsIntoSameGlobal(t *testing.T) {
	f, phi, l, r := diamond("c", constAddr(0, 0), constAddr(0, 6))
	info, _ := detect(t, f)

	p, ok := info.Phis[phi.Value]
	if !ok {
		t.Fatal("phi not detected")
	}
	if p.Base != 0 {
		t.Fatalf("base = @%d, want GLOBAL", p.Base)
	}
	want := map[ir.BlockID]int64{l: 0, r: 6}
	for pred, off := range want {
		got := p.Offsets[pred]
		if got.Kind != offsetphi.OffsetConst || got.Const != off {
			t.Errorf("offset from bb%d = %v, want +%d", pred, got, off)
		}
	}
	if typ, ok := info.Override(phi.Value); !ok || typ != ir.TypeI16 {
		t.Fatalf("override = %s, %v", typ, ok)
	}
	if len(info.ForcedIndices) != 0 {
		t.Fatalf("forced = %v", info.ForcedIndices)
	}
}

func TestDynamicIndexIsForced(t *testing.T) {
	var idx ir.Operand
	dyn := func(b *ir.Builder) ir.Operand {
		idx = b.Load(ir.TypeI16, ir.GlobalAddr(1, 0))
		return b.GEP(ir.TypeI16, ir.GlobalAddr(0, 0), idx)
	}
	f, phi, l, _ := diamond("d", dyn, constAddr(0, 2))
	info, _ := detect(t, f)

	p, ok := info.Phis[phi.Value]
	if !ok {
		t.Fatal("phi not detected")
	}
	if off := p.Offsets[l]; off.Kind != offsetphi.OffsetIndex || off.Value != idx.Value || off.Scale != 2 {
		t.Fatalf("dynamic offset = %+v", off)
	}
	if !info.ForcedIndices[idx.Value] {
		t.Fatal("index not forced")
	}
}

func TestRejections(t *testing.T) {
	tests := []struct {
		name        string
		left, right func(*ir.Builder) ir.Operand
	}{
		{"different globals", constAddr(0, 0), constAddr(1, 0)},
		{"out of bounds", constAddr(0, 0), constAddr(0, 40)},
		{"null", constAddr(0, 0), func(*ir.Builder) ir.Operand { return ir.Null() }},
		{"loaded pointer", constAddr(0, 0), func(b *ir.Builder) ir.Operand {
			return b.Load(ir.TypeRef, ir.GlobalAddr(1, 0))
		}},
		{"two dynamic indices", constAddr(0, 0), func(b *ir.Builder) ir.Operand {
			i := b.Load(ir.TypeI16, ir.GlobalAddr(1, 0))
			return b.GEP(ir.TypeI16, ir.GlobalAddr(0, 0), i, i)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, phi, _, _ := diamond("x", tt.left, tt.right)
			info, _ := detect(t, f)
			if info.Qualifies(phi.Value) {
				t.Fatalf("phi qualified: %+v", info.Phis[phi.Value])
			}
		})
	}
}

func TestLoopCarriedPhiOfPhi(t *testing.T) {
	// head: p = phi [GLOBAL, entry] [q, body]
	// body: q = phi [p, head] ... stays in the same global.
	b := ir.NewBuilder("loop", ir.TypeVoid)
	n := b.Param("n", ir.TypeBool)
	entry := b.Block("entry")
	head := b.NewBlock("head")
	body := b.NewBlock("body")
	exit := b.NewBlock("exit")
	b.Br(head)

	b.SetBlock(head)
	p := b.Phi(ir.TypeRef, ir.In(ir.GlobalAddr(0, 0), entry))
	b.CondBr(n, body, exit)

	b.SetBlock(body)
	q := b.Phi(ir.TypeRef, ir.In(p, head))
	b.Store(q, ir.Const(ir.TypeI16, 1))
	b.Br(head)
	b.AddIncoming(p, q, body)

	b.SetBlock(exit)
	b.RetVoid()

	info, _ := detect(t, b.Func())
	for _, v := range []ir.Operand{p, q} {
		if !info.Qualifies(v.Value) {
			t.Fatalf("%%%d should qualify", v.Value)
		}
	}
	if off := info.Phis[q.Value].Offsets[head]; off.Kind != offsetphi.OffsetPhi || off.Value != p.Value {
		t.Fatalf("q offset = %+v", off)
	}
}

func TestPhiOfRejectedPhiIsRejected(t *testing.T) {
	b := ir.NewBuilder("chain", ir.TypeVoid)
	c := b.Param("c", ir.TypeBool)
	b.Block("entry")
	l := b.NewBlock("l")
	r := b.NewBlock("r")
	mid := b.NewBlock("mid")
	end := b.NewBlock("end")
	b.CondBr(c, l, r)
	b.SetBlock(l)
	b.Br(mid)
	b.SetBlock(r)
	b.Br(mid)
	b.SetBlock(mid)
	bad := b.Phi(ir.TypeRef, ir.In(ir.GlobalAddr(0, 0), l), ir.In(ir.GlobalAddr(1, 0), r))
	b.Br(end)
	b.SetBlock(end)
	outer := b.Phi(ir.TypeRef, ir.In(bad, mid))
	b.Store(outer, ir.Const(ir.TypeI16, 0))
	b.RetVoid()

	info, _ := detect(t, b.Func())
	if info.Qualifies(bad.Value) || info.Qualifies(outer.Value) {
		t.Fatalf("phis = %v", info.PhiValues())
	}
}
