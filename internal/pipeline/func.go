package pipeline

import (
	"context"
	"fmt"

	"cardc/internal/callgraph"
	"cardc/internal/coloring"
	"cardc/internal/diag"
	"cardc/internal/escape"
	"cardc/internal/interfere"
	"cardc/internal/ir"
	"cardc/internal/layout"
	"cardc/internal/locals"
	"cardc/internal/narrow"
	"cardc/internal/observ"
	"cardc/internal/offsetphi"
	"cardc/internal/phimove"
	"cardc/internal/trace"
)

// OperandStackError reports a function whose operand stack exceeds the
// hard ceiling.
type OperandStackError struct {
	Func  string
	Stack int
	Limit int
}

func (e *OperandStackError) Error() string {
	return fmt.Sprintf("%s: operand stack of %d exceeds the hard limit of %d", e.Func, e.Stack, e.Limit)
}

// EdgeMoves is the scheduled phi copy sequence on one CFG edge.
type EdgeMoves struct {
	Pred ir.BlockID
	Succ ir.BlockID
	Plan *phimove.Plan
}

// FuncResult holds every intermediate result of one function. On a cache
// hit only Locals, Frame and ParamNarrowable are filled.
type FuncResult struct {
	Func    string
	Narrow  *narrow.Result
	Escape  *escape.Info
	Offsets *offsetphi.Info
	Graph   *interfere.Graph
	Assign  *coloring.Assignment
	Locals  *locals.FunctionLocals
	Moves   []EdgeMoves
	// Frame is the pre-codegen estimate, phi temporaries included.
	Frame           callgraph.Frame
	ParamNarrowable []bool
	Timing          observ.Report
	Cached          bool
	Err             error
}

// RunFunc allocates the locals of f. lay may be nil when the module has no
// globals; params may be nil for the first narrowing round.
func RunFunc(ctx context.Context, f *ir.Func, x *ir.Index, lay *layout.Layout, params narrow.ParamTable, opts Options, r diag.Reporter) (*FuncResult, error) {
	opts = opts.normalized()
	if r == nil {
		r = diag.Nop
	}
	if x == nil {
		x = ir.NewIndex(f)
	}
	ctx, span := trace.Start(ctx, trace.ScopeFunc, f.Name)
	timer := observ.NewTimer()
	res := &FuncResult{Func: f.Name}

	phase := func(name string, fn func() error) error {
		_, ps := trace.Start(ctx, trace.ScopeFunc, name)
		err := timer.Measure(name, fn)
		ps.Fail(err)
		return err
	}

	err := runPhases(f, x, lay, params, opts, r, res, phase)
	res.Timing = timer.Report()
	if err != nil {
		span.Fail(err)
		return nil, err
	}
	span.Set("slots", res.Locals.NumSlots).Set("stack", res.Frame.Stack).End()
	return res, nil
}

func runPhases(f *ir.Func, x *ir.Index, lay *layout.Layout, params narrow.ParamTable, opts Options, r diag.Reporter, res *FuncResult, phase func(string, func() error) error) error {
	lim := opts.Limits

	if err := phase("offsetphi", func() error {
		res.Offsets = offsetphi.Detect(f, x, lay)
		return nil
	}); err != nil {
		return err
	}
	if err := phase("narrow", func() error {
		res.Narrow = narrow.Analyze(f, x, narrow.Options{Params: params})
		res.ParamNarrowable = res.Narrow.ParamNarrowable
		return nil
	}); err != nil {
		return err
	}
	if err := phase("escape", func() error {
		res.Escape = escape.Analyze(f, x, escape.Options{Forced: res.Offsets.ForcedIndices})
		return nil
	}); err != nil {
		return err
	}
	if err := phase("interfere", func() error {
		res.Graph = interfere.Build(f, x, res.Escape, interfere.Types{Func: f, Narrow: res.Narrow, Offsets: res.Offsets})
		return nil
	}); err != nil {
		return err
	}
	if err := phase("coloring", func() error {
		a, err := coloring.Color(res.Graph, f, x, coloring.Options{NoCoalesce: opts.NoCoalesce})
		if err != nil {
			return &locals.ConsistencyError{Func: f.Name, Stage: "coloring", Err: err}
		}
		res.Assign = a
		return nil
	}); err != nil {
		return err
	}
	if err := phase("locals", func() error {
		fl, err := locals.Assemble(locals.Input{
			Func:    f,
			Index:   x,
			Narrow:  res.Narrow,
			Escape:  res.Escape,
			Graph:   res.Graph,
			Assign:  res.Assign,
			Offsets: res.Offsets,
		}, lim, r)
		res.Locals = fl
		return err
	}); err != nil {
		return err
	}
	if err := phase("phimoves", func() error {
		return scheduleMoves(f, x, opts, res)
	}); err != nil {
		return err
	}
	if err := phase("frame", func() error {
		return estimate(f, x, opts, r, res)
	}); err != nil {
		return err
	}

	for _, v := range res.Offsets.PhiValues() {
		p := res.Offsets.Phis[v]
		diag.ReportInfo(r, diag.LocOffsetPhi, f.Name,
			fmt.Sprintf("%s is stored as an offset into %s", f.ValueName(v), lay.Name(p.Base))).Emit()
	}
	for i, p := range f.Params {
		if res.Narrow.ParamNarrowable[i] {
			diag.ReportInfo(r, diag.LocNarrowedParam, f.Name,
				fmt.Sprintf("parameter %s is narrowed to short", f.ValueName(p))).Emit()
		}
	}
	return nil
}

// scheduleMoves orders the phi copies on every edge into a block with phis.
func scheduleMoves(f *ir.Func, x *ir.Index, opts Options, res *FuncResult) error {
	for bi := range f.Blocks {
		pred := f.Blocks[bi].ID
		for _, succ := range f.Blocks[bi].Term.Successors() {
			if len(x.Phis(succ)) == 0 {
				continue
			}
			moves, err := phimove.Collect(f, x, res.Locals, res.Offsets, opts.Target, pred, succ)
			if err != nil {
				return &locals.ConsistencyError{Func: f.Name, Stage: "phi moves", Err: err}
			}
			plan, err := phimove.Schedule(moves, opts.Limits.MaxStackSoft, res.Locals.FirstTemp)
			if err != nil {
				return &locals.ConsistencyError{Func: f.Name, Stage: "phi moves", Err: err}
			}
			res.Moves = append(res.Moves, EdgeMoves{Pred: pred, Succ: succ, Plan: plan})
		}
	}
	return nil
}

// estimate sizes the frame and checks the operand stack ceilings.
func estimate(f *ir.Func, x *ir.Index, opts Options, r diag.Reporter, res *FuncResult) error {
	lim := opts.Limits
	fr := callgraph.EstimateFrame(f, x, res.Locals, lim)
	temps := 0
	for _, m := range res.Moves {
		temps = max(temps, m.Plan.Temps)
		fr.Stack = max(fr.Stack, m.Plan.MaxStack)
	}
	fr.Locals += temps
	res.Frame = fr

	if fr.Stack > lim.MaxStackHard {
		return &OperandStackError{Func: f.Name, Stack: fr.Stack, Limit: lim.MaxStackHard}
	}
	if fr.Stack > lim.MaxStackSoft {
		diag.ReportWarning(r, diag.StkOperandStack, f.Name,
			fmt.Sprintf("operand stack of %d exceeds the soft limit of %d", fr.Stack, lim.MaxStackSoft)).Emit()
	}
	return nil
}
