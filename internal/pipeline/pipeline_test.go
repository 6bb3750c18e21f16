package pipeline_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"cardc/internal/cache"
	"cardc/internal/callgraph"
	"cardc/internal/diag"
	"cardc/internal/ir"
	"cardc/internal/limits"
	"cardc/internal/locals"
	"cardc/internal/phimove"
	"cardc/internal/pipeline"
	"cardc/internal/trace"
)

// caller calls callee with its own parameter and returns the result.
func caller(name, callee string) *ir.Func {
	b := ir.NewBuilder(name, ir.TypeI16)
	p := b.Param("p", ir.TypeI16)
	b.Block("entry")
	v := b.Call(callee, ir.TypeI16, p)
	b.Ret(b.Binary(ir.BinAdd, ir.TypeI16, v, ir.Const(ir.TypeI16, 1)))
	return b.Func()
}

func leaf(name string) *ir.Func {
	b := ir.NewBuilder(name, ir.TypeI16)
	p := b.Param("p", ir.TypeI16)
	q := b.Param("q", ir.TypeI16)
	b.Block("entry")
	b.Ret(b.Binary(ir.BinMul, ir.TypeI16, p, q))
	return b.Func()
}

// pick is a diamond merging a reference phi over GLOBAL+0 and
// GLOBAL+6.
func pick() (*ir.Func, ir.Operand) {
	b := ir.NewBuilder("pick", ir.TypeI16)
	c := b.Param("c", ir.TypeBool)
	b.Block("entry")
	l := b.NewBlock("left")
	r := b.NewBlock("right")
	join := b.NewBlock("join")
	b.CondBr(c, l, r)
	b.SetBlock(l)
	b.Br(join)
	b.SetBlock(r)
	b.Br(join)
	b.SetBlock(join)
	phi := b.Phi(ir.TypeRef, ir.In(ir.GlobalAddr(0, 0), l), ir.In(ir.GlobalAddr(0, 6), r))
	b.Ret(b.Load(ir.TypeI16, phi))
	return b.Func(), phi
}

func withGlobals(funcs ...*ir.Func) *ir.Module {
	return &ir.Module{
		Globals: []ir.Global{{Name: "GLOBAL", Category: ir.StorageTransient, Elem: ir.TypeI16, Count: 8}},
		Funcs:   funcs,
	}
}

func hasCode(bag *diag.Bag, code diag.Code) bool {
	for _, d := range bag.Items() {
		if d.Code == code {
			return true
		}
	}
	return false
}

func TestRunModule(t *testing.T) {
	f, phi := pick()
	m := withGlobals(caller("main", "work"), leaf("work"), f)

	ring := trace.NewRingTracer(256, trace.LevelDebug)
	ctx := trace.WithTracer(context.Background(), ring)
	res, err := pipeline.RunModule(ctx, m, pipeline.Options{Jobs: 2})
	if err != nil {
		t.Fatalf("RunModule: %v", err)
	}

	names := make([]string, len(res.Funcs))
	for i, fr := range res.Funcs {
		names[i] = fr.Func
	}
	if !slices.Equal(names, []string{"main", "work", "pick"}) {
		t.Fatalf("funcs = %v", names)
	}

	work := res.Func("work")
	if work.Locals.NumSlots != 2 || work.Frame.Locals != 2 {
		t.Fatalf("work = %+v", work.Frame)
	}
	main := res.Func("main").Frame
	if want := main.Locals + max(main.Stack, res.Stack.Depths["work"]); res.Stack.MaxDepth != want {
		t.Fatalf("max depth = %d, want %d", res.Stack.MaxDepth, want)
	}
	if res.Stack.DeepestPath[0] != "main" {
		t.Fatalf("deepest path = %v", res.Stack.DeepestPath)
	}
	if len(res.Stack.Entries) != 2 {
		t.Fatalf("entries = %v", res.Stack.Entries)
	}

	p := res.Func("pick")
	if !p.Offsets.Qualifies(phi.Value) {
		t.Fatal("phi over GLOBAL+0 and GLOBAL+6 does not qualify")
	}
	if l, _ := p.Locals.Local(phi.Value); l.Register != ir.TypeI16 {
		t.Fatalf("phi register = %s", l.Register)
	}
	if !hasCode(res.Bag, diag.LocOffsetPhi) || !hasCode(res.Bag, diag.StkDepthEstimated) {
		t.Fatalf("diagnostics = %+v", res.Bag.Items())
	}
	for _, d := range res.Bag.Items() {
		if d.Code == diag.LocOffsetPhi && !strings.Contains(d.Message, "into GLOBAL") {
			t.Fatalf("offset phi message %q does not name the global", d.Message)
		}
	}
	var funcs int
	for _, ev := range ring.Snapshot() {
		if ev.Kind == trace.KindEnd && ev.Scope == trace.ScopeFunc && slices.Contains(names, ev.Name) {
			funcs++
		}
	}
	if funcs != 3 {
		t.Fatalf("got %d function spans, want 3", funcs)
	}
	if len(res.Timing.Phases) == 0 {
		t.Fatal("no timings")
	}
}

func TestRecursionFailsModule(t *testing.T) {
	m := &ir.Module{Funcs: []*ir.Func{caller("process", "helper"), caller("helper", "process")}}
	res, err := pipeline.RunModule(context.Background(), m, pipeline.Options{})
	var rec *callgraph.RecursionError
	if !errors.As(err, &rec) {
		t.Fatalf("err = %v, want RecursionError", err)
	}
	if !slices.Equal(rec.Cycle, []string{"process", "helper", "process"}) {
		t.Fatalf("cycle = %v", rec.Cycle)
	}
	if !hasCode(res.Bag, diag.StkRecursion) {
		t.Fatalf("diagnostics = %+v", res.Bag.Items())
	}
}

func TestHardLimitFailsOnlyThatFunction(t *testing.T) {
	b := ir.NewBuilder("huge", ir.TypeVoid)
	for range 130 {
		b.Param("", ir.TypeI32)
	}
	b.Block("entry")
	b.RetVoid()
	m := &ir.Module{Funcs: []*ir.Func{b.Func(), leaf("small")}}

	res, err := pipeline.RunModule(context.Background(), m, pipeline.Options{})
	var limErr *locals.LimitError
	if !errors.As(err, &limErr) {
		t.Fatalf("err = %v, want LimitError", err)
	}
	if limErr.Func != "huge" || limErr.Slots != 260 {
		t.Fatalf("limit error = %+v", limErr)
	}
	if res.Func("small").Err != nil || res.Func("small").Locals == nil {
		t.Fatal("small was not allocated")
	}
	if !hasCode(res.Bag, diag.LocHardLimit) || !hasCode(res.Bag, diag.StkFrameMissing) {
		t.Fatalf("diagnostics = %+v", res.Bag.Items())
	}
}

func TestCheckFinalIsAuthoritative(t *testing.T) {
	b := ir.NewBuilder("process", ir.TypeVoid)
	b.Block("entry")
	b.Call("deep", ir.TypeVoid)
	b.RetVoid()
	deep := ir.NewBuilder("deep", ir.TypeVoid)
	deep.Block("entry")
	deep.RetVoid()
	m := &ir.Module{Funcs: []*ir.Func{b.Func(), deep.Func()}}

	res, err := pipeline.RunModule(context.Background(), m, pipeline.Options{})
	if err != nil {
		t.Fatalf("RunModule: %v", err)
	}
	_, err = res.CheckFinal(context.Background(), map[string]callgraph.Frame{
		"process": {Locals: 0, Stack: 1},
		"deep":    {Locals: 80},
	})
	var sde *callgraph.StackDepthError
	if !errors.As(err, &sde) {
		t.Fatalf("err = %v, want StackDepthError", err)
	}
	if sde.Phase != callgraph.PhaseFinal || sde.Depth != 80 || !slices.Equal(sde.Chain, []string{"process", "deep"}) {
		t.Fatalf("error = %+v", sde)
	}
	if res.Final == nil || res.Final.MaxDepth != 80 {
		t.Fatalf("final = %+v", res.Final)
	}
	if !hasCode(res.Bag, diag.StkDepthExceeded) {
		t.Fatalf("diagnostics = %+v", res.Bag.Items())
	}
}

func TestCacheHitsOnSecondRun(t *testing.T) {
	disk, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	opts := pipeline.Options{Cache: cache.Tiered{Mem: cache.NewMemCache(4), Disk: disk}}
	m := &ir.Module{Funcs: []*ir.Func{caller("main", "work"), leaf("work")}}

	first, err := pipeline.RunModule(context.Background(), m, opts)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Hits != 0 {
		t.Fatalf("first run hits = %d", first.Hits)
	}

	// A fresh memory tier forces the disk path.
	opts.Cache = cache.Tiered{Mem: cache.NewMemCache(4), Disk: disk}
	second, err := pipeline.RunModule(context.Background(), m, opts)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Hits != 2 {
		t.Fatalf("second run hits = %d", second.Hits)
	}
	if second.Func("work").Frame.Locals != first.Func("work").Frame.Locals {
		t.Fatal("cached frame differs")
	}
	if second.Stack.MaxDepth != first.Stack.MaxDepth {
		t.Fatalf("depth %d != %d", second.Stack.MaxDepth, first.Stack.MaxDepth)
	}

	lim := limits.Default()
	lim.MaxLocalsSoft = 32
	opts.Limits = lim
	third, err := pipeline.RunModule(context.Background(), m, opts)
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if third.Hits != 0 {
		t.Fatalf("changed limits still hit %d times", third.Hits)
	}
}

// choose merges &A[i] and &B[i]; the phi has no common base.
func TestRunModuleMergesIndexedAddresses(t *testing.T) {
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
	phi := b.Phi(ir.TypeRef, ir.In(inA, left), ir.In(inB, right))
	b.Ret(b.Load(ir.TypeI16, phi))

	m := &ir.Module{
		Globals: []ir.Global{
			{Name: "A", Category: ir.StorageTransient, Elem: ir.TypeI16, Count: 8},
			{Name: "B", Category: ir.StorageTransient, Elem: ir.TypeI16, Count: 8},
		},
		Funcs: []*ir.Func{b.Func()},
	}
	res, err := pipeline.RunModule(context.Background(), m, pipeline.Options{})
	if err != nil {
		t.Fatalf("RunModule: %v", err)
	}
	fr := res.Func("choose")
	if fr.Err != nil {
		t.Fatalf("choose: %v", fr.Err)
	}
	if fr.Offsets.Qualifies(phi.Value) {
		t.Fatal("phi over two globals qualified as an offset phi")
	}
	if fr.Locals.Slot(phi.Value) == locals.NoSlot {
		t.Fatal("phi has no slot")
	}
	if len(fr.Moves) != 2 {
		t.Fatalf("got %d edges, want 2", len(fr.Moves))
	}
	for _, em := range fr.Moves {
		adds := 0
		for _, op := range em.Plan.Ops {
			if op.Kind == phimove.OpAdd {
				adds++
			}
		}
		if adds != 1 {
			t.Errorf("edge bb%d->bb%d: %d adds in %s", em.Pred, em.Succ, adds, em.Plan.String())
		}
	}
}

func TestInvalidModule(t *testing.T) {
	b := ir.NewBuilder("open", ir.TypeVoid)
	b.Block("entry")
	m := &ir.Module{Funcs: []*ir.Func{b.Func()}}
	res, err := pipeline.RunModule(context.Background(), m, pipeline.Options{})
	if err == nil {
		t.Fatal("unterminated block accepted")
	}
	if !hasCode(res.Bag, diag.IRInvalid) {
		t.Fatalf("diagnostics = %+v", res.Bag.Items())
	}
}
