package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"cardc/internal/cache"
	"cardc/internal/callgraph"
	"cardc/internal/diag"
	"cardc/internal/ir"
	"cardc/internal/layout"
	"cardc/internal/locals"
	"cardc/internal/narrow"
	"cardc/internal/observ"
	"cardc/internal/trace"
)

// Result is the outcome of a module run. Funcs follows declaration order.
type Result struct {
	Module  *ir.Module
	Layout  *layout.Layout
	Funcs   []*FuncResult
	Graph   *callgraph.Graph
	Params  narrow.Table
	Stack   *callgraph.StackAnalysis
	Final   *callgraph.StackAnalysis
	Bag     *diag.Bag
	Timing  observ.Report
	Hits    int
	Options Options
	byName  map[string]*FuncResult
	indices []*ir.Index
}

// Func returns the result of the named function or nil.
func (res *Result) Func(name string) *FuncResult {
	if res == nil {
		return nil
	}
	return res.byName[name]
}

// Frames returns the estimated frame of every function that allocated.
func (res *Result) Frames() map[string]callgraph.Frame {
	out := make(map[string]callgraph.Frame, len(res.Funcs))
	for _, fr := range res.Funcs {
		if fr != nil && fr.Err == nil {
			out[fr.Func] = fr.Frame
		}
	}
	return out
}

// RunModule validates m, allocates every function and checks the estimated
// call-chain depth. Function failures do not stop the other workers; all
// errors are joined into the returned error and the partial Result is
// returned alongside.
func RunModule(ctx context.Context, m *ir.Module, opts Options) (*Result, error) {
	if m == nil {
		return nil, errors.New("no module")
	}
	opts = opts.normalized()
	if err := opts.Limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limits: %w", err)
	}
	ctx, span := trace.Start(ctx, trace.ScopeDriver, "alloc")
	defer span.Set("funcs", len(m.Funcs)).End()

	res := &Result{
		Module:  m,
		Bag:     diag.NewBag(opts.MaxDiagnostics * max(len(m.Funcs), 1)),
		Options: opts,
		byName:  make(map[string]*FuncResult, len(m.Funcs)),
	}

	if err := ir.Validate(m); err != nil {
		diag.ReportError(diag.BagReporter{Bag: res.Bag}, diag.IRInvalid, "", err.Error()).Emit()
		return res, fmt.Errorf("malformed module: %w", err)
	}
	lay, err := layout.Compute(opts.Target, m)
	if err != nil {
		return res, err
	}
	res.Layout = lay
	res.Graph = callgraph.Build(m)

	res.indices = make([]*ir.Index, len(m.Funcs))
	for i, f := range m.Funcs {
		res.indices[i] = ir.NewIndex(f)
	}

	// Round one: parameter narrowability without a table.
	pctx, pass := trace.Start(ctx, trace.ScopePass, "narrow-params")
	first := make([]*narrow.Result, len(m.Funcs))
	if err := forEach(pctx, opts.Jobs, len(m.Funcs), func(_ context.Context, i int) error {
		first[i] = narrow.Analyze(m.Funcs[i], res.indices[i], narrow.Options{})
		return nil
	}); err != nil {
		pass.Fail(err)
		return res, err
	}
	res.Params = narrow.BuildTable(first)
	pass.End()

	// Round two: the full pipeline with the table.
	pctx, pass = trace.Start(ctx, trace.ScopePass, "functions")
	bags := make([]*diag.Bag, len(m.Funcs))
	res.Funcs = make([]*FuncResult, len(m.Funcs))
	if err := forEach(pctx, opts.Jobs, len(m.Funcs), func(ctx context.Context, i int) error {
		bags[i] = diag.NewBag(opts.MaxDiagnostics)
		res.Funcs[i] = res.runOne(ctx, i, opts, bags[i])
		return nil
	}); err != nil {
		pass.Fail(err)
		return res, err
	}

	var errs []error
	reports := make([]observ.Report, 0, len(res.Funcs))
	for i, fr := range res.Funcs {
		res.byName[fr.Func] = fr
		res.Bag.Merge(bags[i])
		reports = append(reports, fr.Timing)
		if fr.Cached {
			res.Hits++
		}
		if fr.Err != nil {
			errs = append(errs, fr.Err)
		}
	}
	res.Timing = observ.Merge(reports...)
	pass.Set("cache_hits", res.Hits).End()

	// Barrier: every function has an estimate.
	_, pass = trace.Start(ctx, trace.ScopePass, "callgraph")
	sa, err := callgraph.Analyze(res.Graph, res.Frames(), opts.Limits, callgraph.PhaseEstimated)
	res.Stack = sa
	reportStack(diag.BagReporter{Bag: res.Bag}, sa, err)
	if err != nil {
		pass.Fail(err)
		errs = append(errs, err)
	} else {
		pass.Set("depth", sa.MaxDepth).End()
	}

	res.Bag.Sort()
	return res, errors.Join(errs...)
}

// runOne runs one function through the cache and the pipeline. Errors are
// recorded on the result and in bag.
func (res *Result) runOne(ctx context.Context, i int, opts Options, bag *diag.Bag) *FuncResult {
	f := res.Module.Funcs[i]
	r := diag.BagReporter{Bag: bag}

	var key cache.Digest
	if opts.Cache != nil {
		k, err := cache.Key(f, opts.Limits, opts.Target, res.Module.Globals, res.calleeParams(f.Name), opts.NoCoalesce)
		if err == nil {
			key = k
			if e, ok, err := opts.Cache.Get(f.Name, key); err == nil && ok {
				for _, d := range e.Diags {
					bag.Add(d)
				}
				return &FuncResult{
					Func:            f.Name,
					Locals:          e.Locals,
					Frame:           e.Frame,
					ParamNarrowable: e.ParamNarrowable,
					Cached:          true,
				}
			}
		}
	}

	fr, err := RunFunc(ctx, f, res.indices[i], res.Layout, res.Params, opts, r)
	if err != nil {
		reportFuncError(r, f.Name, err)
		return &FuncResult{Func: f.Name, Err: err}
	}
	if opts.Cache != nil && !key.IsZero() {
		e := cache.NewEntry(f.Name, fr.Locals, fr.Frame)
		e.ParamNarrowable = fr.ParamNarrowable
		e.Diags = bag.Items()
		if err := opts.Cache.Put(key, e); err != nil {
			diag.ReportWarning(r, diag.LocInfo, f.Name, "cache write failed: "+err.Error()).Emit()
		}
	}
	return fr
}

// calleeParams restricts the parameter table to the callees of fn, which is
// all a function's allocation can observe of it.
func (res *Result) calleeParams(fn string) map[string][]bool {
	out := make(map[string][]bool)
	for _, c := range res.Graph.Callees(fn) {
		out[c] = res.Params[c]
	}
	return out
}

// CheckFinal repeats the call-chain check with the exact frames produced by
// code generation. Its verdict supersedes the estimate.
func (res *Result) CheckFinal(ctx context.Context, frames map[string]callgraph.Frame) (*callgraph.StackAnalysis, error) {
	if res == nil || res.Graph == nil {
		return nil, errors.New("module was not allocated")
	}
	_, span := trace.Start(ctx, trace.ScopePass, "callgraph-final")
	sa, err := callgraph.Analyze(res.Graph, frames, res.Options.Limits, callgraph.PhaseFinal)
	res.Final = sa
	reportStack(diag.BagReporter{Bag: res.Bag}, sa, err)
	res.Bag.Sort()
	span.Fail(err)
	return sa, err
}

func forEach(ctx context.Context, jobs, n int, fn func(context.Context, int) error) error {
	if n == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, n))
	for i := range n {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return fn(gctx, i)
		})
	}
	return g.Wait()
}

func reportFuncError(r diag.Reporter, fn string, err error) {
	var limErr *locals.LimitError
	var stkErr *OperandStackError
	switch {
	case errors.As(err, &limErr):
		diag.ReportError(r, diag.LocHardLimit, fn, err.Error()).Emit()
	case errors.As(err, &stkErr):
		diag.ReportError(r, diag.StkOperandStack, fn, err.Error()).Emit()
	default:
		diag.ReportError(r, diag.LocConsistency, fn, err.Error()).Emit()
	}
}

func reportStack(r diag.Reporter, sa *callgraph.StackAnalysis, err error) {
	var rec *callgraph.RecursionError
	var deep *callgraph.StackDepthError
	switch {
	case errors.As(err, &rec):
		diag.ReportError(r, diag.StkRecursion, rec.Func(), err.Error()).Emit()
		return
	case errors.As(err, &deep):
		b := diag.ReportError(r, diag.StkDepthExceeded, deep.Entry, err.Error())
		for _, c := range deep.Breakdown {
			b.WithNote(c.Func, fmt.Sprintf("%d locals, %d operand stack", c.Locals, c.Stack))
		}
		b.Emit()
	case err != nil:
		diag.ReportError(r, diag.StkInfo, "", err.Error()).Emit()
		return
	}
	if sa == nil {
		return
	}
	for _, fn := range sa.Missing {
		diag.ReportWarning(r, diag.StkFrameMissing, fn, "no "+sa.Phase.String()+" frame; counted as empty").Emit()
	}
	if err == nil && len(sa.DeepestPath) > 0 {
		diag.ReportInfo(r, diag.StkDepthEstimated, sa.DeepestPath[0],
			fmt.Sprintf("%s stack depth %d: %s", sa.Phase, sa.MaxDepth, strings.Join(sa.DeepestPath, " -> "))).Emit()
	}
	for _, cat := range []callgraph.OffloadCategory{callgraph.OffloadShort, callgraph.OffloadInt, callgraph.OffloadRef} {
		if n := sa.Offload[cat]; n > 0 {
			diag.ReportInfo(r, diag.StkOffloadSize, "", fmt.Sprintf("%s offload stack needs %d slots", cat, n)).Emit()
		}
	}
}
