package callgraph_test

import (
	"errors"
	"slices"
	"testing"

	"cardc/internal/callgraph"
	"cardc/internal/coloring"
	"cardc/internal/escape"
	"cardc/internal/interfere"
	"cardc/internal/ir"
	"cardc/internal/limits"
	"cardc/internal/locals"
	"cardc/internal/narrow"
)

// fn builds a void function calling each callee in turn.
func fn(name string, callees ...string) *ir.Func {
	b := ir.NewBuilder(name, ir.TypeVoid)
	b.Block("entry")
	for _, c := range callees {
		b.Call(c, ir.TypeVoid)
	}
	b.RetVoid()
	return b.Func()
}

func module(funcs ...*ir.Func) *ir.Module {
	return &ir.Module{Funcs: funcs}
}

func TestMutualRecursionReportsCycle(t *testing.T) {
	g := callgraph.Build(module(fn("process", "helper"), fn("helper", "process")))
	err := callgraph.DetectRecursion(g)
	var rec *callgraph.RecursionError
	if !errors.As(err, &rec) {
		t.Fatalf("err = %v, want RecursionError", err)
	}
	want := []string{"process", "helper", "process"}
	if !slices.Equal(rec.Cycle, want) {
		t.Fatalf("cycle = %v, want %v", rec.Cycle, want)
	}
	if rec.Func() != "process" {
		t.Fatalf("func = %q", rec.Func())
	}
}

func TestRecursionThroughThreeFunctions(t *testing.T) {
	g := callgraph.Build(module(fn("main", "a"), fn("a", "b"), fn("b", "c"), fn("c", "a")))
	err := callgraph.DetectRecursion(g)
	var rec *callgraph.RecursionError
	if !errors.As(err, &rec) {
		t.Fatalf("err = %v, want RecursionError", err)
	}
	want := []string{"a", "b", "c", "a"}
	if !slices.Equal(rec.Cycle, want) {
		t.Fatalf("cycle = %v, want %v", rec.Cycle, want)
	}

	_, err = callgraph.Analyze(g, nil, limits.Default(), callgraph.PhaseEstimated)
	if !errors.As(err, &rec) {
		t.Fatalf("Analyze err = %v, want RecursionError", err)
	}
}

func TestSelfRecursion(t *testing.T) {
	g := callgraph.Build(module(fn("loop", "loop")))
	var rec *callgraph.RecursionError
	if err := callgraph.DetectRecursion(g); !errors.As(err, &rec) {
		t.Fatalf("err = %v", err)
	}
	if !slices.Equal(rec.Cycle, []string{"loop", "loop"}) {
		t.Fatalf("cycle = %v", rec.Cycle)
	}
}

func TestBuildSkipsIntrinsicsAndUnknownCallees(t *testing.T) {
	b := ir.NewBuilder("main", ir.TypeVoid)
	b.Block("entry")
	b.Intrinsic("util_array_copy", ir.TypeVoid)
	b.Call("extern_fn", ir.TypeVoid)
	b.Call("work", ir.TypeVoid)
	b.Call("work", ir.TypeVoid)
	b.RetVoid()

	g := callgraph.Build(module(b.Func(), fn("work"), fn("lib")))
	if got := g.Callees("main"); !slices.Equal(got, []string{"work"}) {
		t.Fatalf("callees = %v", got)
	}
	if got := g.Roots(); !slices.Equal(got, []string{"main", "lib"}) {
		t.Fatalf("roots = %v", got)
	}
	if err := callgraph.DetectRecursion(g); err != nil {
		t.Fatalf("DetectRecursion: %v", err)
	}
	topo := callgraph.ToposortKahn(g)
	if topo.Cyclic || len(topo.Order) != 3 {
		t.Fatalf("topo = %+v", topo)
	}
}

func TestDeepChainExceedsDepth(t *testing.T) {
	g := callgraph.Build(module(fn("process", "deep"), fn("deep")))
	frames := map[string]callgraph.Frame{
		"process": {Locals: 0, Stack: 1},
		"deep":    {Locals: 80, Stack: 0},
	}
	sa, err := callgraph.Analyze(g, frames, limits.Default(), callgraph.PhaseEstimated)
	var sde *callgraph.StackDepthError
	if !errors.As(err, &sde) {
		t.Fatalf("err = %v, want StackDepthError", err)
	}
	if sde.Depth != 80 || sde.Limit != 64 || sde.Entry != "process" {
		t.Fatalf("error = %+v", sde)
	}
	if !slices.Equal(sde.Chain, []string{"process", "deep"}) {
		t.Fatalf("chain = %v", sde.Chain)
	}
	want := []callgraph.Contribution{{Func: "process"}, {Func: "deep", Locals: 80}}
	if !slices.Equal(sde.Breakdown, want) {
		t.Fatalf("breakdown = %+v", sde.Breakdown)
	}
	if sa == nil || sa.MaxDepth != 80 {
		t.Fatalf("analysis = %+v", sa)
	}
}

func TestDepthTakesOwnStackWhenDeeper(t *testing.T) {
	g := callgraph.Build(module(fn("main", "leaf"), fn("leaf")))
	frames := map[string]callgraph.Frame{
		"main": {Locals: 3, Stack: 10},
		"leaf": {Locals: 2, Stack: 4},
	}
	sa, err := callgraph.Analyze(g, frames, limits.Default(), callgraph.PhaseFinal)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if sa.MaxDepth != 13 {
		t.Fatalf("depth = %d, want 13", sa.MaxDepth)
	}
	if !slices.Equal(sa.DeepestPath, []string{"main"}) {
		t.Fatalf("path = %v", sa.DeepestPath)
	}
	if sa.Breakdown[0].Total() != 13 {
		t.Fatalf("breakdown = %+v", sa.Breakdown)
	}
	if sa.Depths["leaf"] != 6 {
		t.Fatalf("leaf depth = %d", sa.Depths["leaf"])
	}
}

func TestOffloadIsDeepestCumulativeUse(t *testing.T) {
	g := callgraph.Build(module(fn("main", "a", "b"), fn("a"), fn("b")))
	frames := map[string]callgraph.Frame{
		"main": {Locals: 1, Offload: map[callgraph.OffloadCategory]int{callgraph.OffloadShort: 1}},
		"a":    {Locals: 1, Offload: map[callgraph.OffloadCategory]int{callgraph.OffloadShort: 2}},
		"b":    {Locals: 1, Offload: map[callgraph.OffloadCategory]int{callgraph.OffloadInt: 4}},
	}
	sa, err := callgraph.Analyze(g, frames, limits.Default(), callgraph.PhaseEstimated)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if sa.Offload[callgraph.OffloadShort] != 3 || sa.Offload[callgraph.OffloadInt] != 4 {
		t.Fatalf("offload = %v", sa.Offload)
	}
	if sa.Offload[callgraph.OffloadRef] != 0 {
		t.Fatalf("ref offload = %d", sa.Offload[callgraph.OffloadRef])
	}
}

func TestEntryPoints(t *testing.T) {
	g := callgraph.Build(module(fn("install"), fn("process", "deep"), fn("deep")))
	frames := map[string]callgraph.Frame{
		"install": {Locals: 30},
		"process": {Locals: 1},
		"deep":    {Locals: 5},
	}

	lim := limits.Default()
	lim.EntryPoints = []string{"process"}
	sa, err := callgraph.Analyze(g, frames, lim, callgraph.PhaseEstimated)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if sa.MaxDepth != 6 || !slices.Equal(sa.Entries, []string{"process"}) {
		t.Fatalf("analysis = %+v", sa)
	}

	lim.EntryPoints = []string{"select"}
	if _, err := callgraph.Analyze(g, frames, lim, callgraph.PhaseEstimated); !errors.Is(err, callgraph.ErrUnknownEntry) {
		t.Fatalf("err = %v, want ErrUnknownEntry", err)
	}

	lim.EntryPoints = nil
	sa, err = callgraph.Analyze(g, frames, lim, callgraph.PhaseEstimated)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if sa.MaxDepth != 30 || sa.DeepestPath[0] != "install" {
		t.Fatalf("analysis = %+v", sa)
	}
}

func TestMissingFramesCountAsEmpty(t *testing.T) {
	g := callgraph.Build(module(fn("main", "leaf"), fn("leaf")))
	sa, err := callgraph.Analyze(g, map[string]callgraph.Frame{"main": {Locals: 2}}, limits.Default(), callgraph.PhaseFinal)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !slices.Equal(sa.Missing, []string{"leaf"}) || sa.MaxDepth != 2 {
		t.Fatalf("analysis = %+v", sa)
	}
}

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

func TestEstimateFrameExpandsInlineTrees(t *testing.T) {
	b := ir.NewBuilder("calc", ir.TypeI16)
	p := b.Param("p", ir.TypeI16)
	b.Block("entry")
	sum := b.Binary(ir.BinAdd, ir.TypeI16, p, ir.Const(ir.TypeI16, 1))
	b.Ret(b.Binary(ir.BinMul, ir.TypeI16, sum, ir.Const(ir.TypeI16, 3)))
	f := b.Func()

	x, fl := allocate(t, f)
	fr := callgraph.EstimateFrame(f, x, fl, limits.Default())
	if fr.Locals != 1 || fr.Stack != 2 {
		t.Fatalf("frame = %+v, want locals 1 stack 2", fr)
	}
	if fr.Offload != nil {
		t.Fatalf("offload = %v", fr.Offload)
	}
}

func TestEstimateFrameSwitchLowering(t *testing.T) {
	build := func(keys ...int64) *ir.Func {
		b := ir.NewBuilder("dispatch", ir.TypeVoid)
		p := b.Param("ins", ir.TypeI16)
		b.Block("entry")
		def := b.NewBlock("default")
		var cases []ir.SwitchCase
		for _, k := range keys {
			cases = append(cases, ir.SwitchCase{Value: k, Target: def})
		}
		b.Switch(p, def, cases...)
		b.SetBlock(def)
		b.RetVoid()
		return b.Func()
	}
	tests := []struct {
		name string
		keys []int64
		want int
	}{
		{"dense table", []int64{0, 1, 2, 3}, 1},
		{"sparse chain", []int64{0, 1000}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := build(tt.keys...)
			x, fl := allocate(t, f)
			if fr := callgraph.EstimateFrame(f, x, fl, limits.Default()); fr.Stack != tt.want {
				t.Fatalf("stack = %d, want %d", fr.Stack, tt.want)
			}
		})
	}
}

func TestEstimateFrameOffload(t *testing.T) {
	b := ir.NewBuilder("wide", ir.TypeVoid)
	b.Param("a", ir.TypeI16)
	b.Param("n", ir.TypeI32)
	b.Param("r", ir.TypeRef)
	b.Block("entry")
	b.RetVoid()
	f := b.Func()

	x, fl := allocate(t, f)
	lim := limits.Default()
	lim.MaxLocalsSoft = 1
	fr := callgraph.EstimateFrame(f, x, fl, lim)
	if fr.Locals != 4 {
		t.Fatalf("locals = %d", fr.Locals)
	}
	want := map[callgraph.OffloadCategory]int{callgraph.OffloadInt: 2, callgraph.OffloadRef: 1}
	if len(fr.Offload) != len(want) {
		t.Fatalf("offload = %v, want %v", fr.Offload, want)
	}
	for cat, n := range want {
		if fr.Offload[cat] != n {
			t.Fatalf("offload = %v, want %v", fr.Offload, want)
		}
	}
}
