// Package report renders allocation results for people.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"cardc/internal/callgraph"
	"cardc/internal/diag"
	"cardc/internal/locals"
	"cardc/internal/pipeline"
)

// Options selects what Write prints.
type Options struct {
	Color   bool
	Timings bool
	// Moves prints the scheduled phi copies of every edge.
	Moves bool
	// MaxName truncates value names in tables; 0 keeps them whole.
	MaxName int
}

type palette struct {
	title, err, warn, info, dim *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		title: color.New(color.Bold),
		err:   color.New(color.FgRed, color.Bold),
		warn:  color.New(color.FgYellow, color.Bold),
		info:  color.New(color.FgCyan),
		dim:   color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.title, p.err, p.warn, p.info, p.dim} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) severity(s diag.Severity) *color.Color {
	switch s {
	case diag.SevError:
		return p.err
	case diag.SevWarning:
		return p.warn
	}
	return p.info
}

type writer struct {
	w   io.Writer
	err error
}

func (w *writer) printf(format string, args ...any) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.w, format, args...)
}

// Write prints the locals of every function, the stack analysis and the
// diagnostics of res.
func Write(out io.Writer, res *pipeline.Result, opts Options) error {
	p := newPalette(opts.Color)
	w := &writer{w: out}

	for _, fr := range res.Funcs {
		if fr == nil {
			continue
		}
		writeFunc(w, p, fr, opts)
		if w.err != nil {
			return w.err
		}
	}
	if res.Stack != nil {
		writeStack(w, p, res.Stack)
	}
	if res.Final != nil {
		writeStack(w, p, res.Final)
	}
	if res.Bag != nil {
		WriteDiagnostics(w.w, res.Bag, opts.Color)
	}
	if opts.Timings && len(res.Timing.Phases) > 0 {
		w.printf("%s", res.Timing.Summary())
	}
	return w.err
}

func writeFunc(w *writer, p palette, fr *pipeline.FuncResult, opts Options) {
	if fr.Err != nil {
		w.printf("%s %s\n", p.title.Sprint("func "+fr.Func), p.err.Sprint("failed"))
		return
	}
	fl := fr.Locals
	suffix := ""
	if fr.Cached {
		suffix = p.dim.Sprint(" (cached)")
	}
	w.printf("%s: %d slots, %d params, operand stack %d%s\n",
		p.title.Sprint("func "+fr.Func), fl.NumSlots, fl.ParamSlots, fr.Frame.Stack, suffix)

	t := &table{header: []string{"slot", "value", "type", "register", "notes"}, maxCell: opts.MaxName}
	offset := make(map[int]bool, len(fl.OffsetPhis))
	for _, v := range fl.OffsetPhis {
		offset[int(v)] = true
	}
	for _, l := range fl.Stored() {
		t.add(strconv.Itoa(l.Slot), l.Name, l.SlotType.String(), l.Register.String(), notes(fl, l, offset))
	}
	if len(t.rows) > 0 {
		if err := t.write(w.w, "  "); err != nil && w.err == nil {
			w.err = err
		}
	}
	if tainted := fl.Tainted(); len(tainted) > 0 {
		names := make([]string, len(tainted))
		for i, v := range tainted {
			names[i] = fl.Values[v].Name
		}
		w.printf("  %s %s\n", p.warn.Sprint("byte-tainted:"), strings.Join(names, ", "))
	}
	if opts.Moves {
		for _, m := range fr.Moves {
			if len(m.Plan.Ops) == 0 {
				continue
			}
			w.printf("  moves bb%d -> bb%d: %s\n", m.Pred, m.Succ, m.Plan)
		}
	}
}

func notes(fl *locals.FunctionLocals, l locals.Local, offset map[int]bool) string {
	var out []string
	if l.Slot < fl.ParamSlots {
		out = append(out, "param")
	}
	if offset[int(l.Value)] {
		out = append(out, "offset")
	}
	if l.Original != l.Register && l.Original.Width() > l.Register.Width() {
		out = append(out, "narrowed")
	}
	if fl.ByteTainted[l.Value] {
		out = append(out, "tainted")
	}
	return strings.Join(out, ",")
}

func writeStack(w *writer, p palette, sa *callgraph.StackAnalysis) {
	w.printf("%s: depth %d", p.title.Sprint(sa.Phase.String()+" stack"), sa.MaxDepth)
	if len(sa.DeepestPath) > 0 {
		w.printf(" via %s", strings.Join(sa.DeepestPath, " -> "))
	}
	w.printf("\n")

	t := &table{header: []string{"function", "locals", "stack", "total"}}
	for _, c := range sa.Breakdown {
		t.add(c.Func, strconv.Itoa(c.Locals), strconv.Itoa(c.Stack), strconv.Itoa(c.Total()))
	}
	if len(t.rows) > 0 {
		if err := t.write(w.w, "  "); err != nil && w.err == nil {
			w.err = err
		}
	}
	for _, cat := range []callgraph.OffloadCategory{callgraph.OffloadShort, callgraph.OffloadInt, callgraph.OffloadRef} {
		if n := sa.Offload[cat]; n > 0 {
			w.printf("  offload %s: %d\n", cat, n)
		}
	}
}

// WriteDiagnostics prints one line per diagnostic followed by its notes.
// The bag is expected to be sorted.
func WriteDiagnostics(out io.Writer, bag *diag.Bag, useColor bool) {
	p := newPalette(useColor)
	for _, d := range bag.Items() {
		where := d.Func
		if where == "" {
			where = "module"
		}
		fmt.Fprintf(out, "%s %s %s: %s\n",
			p.severity(d.Severity).Sprint(d.Severity.String()), d.Code.ID(), where, d.Message)
		for _, n := range d.Notes {
			fmt.Fprintf(out, "  %s %s: %s\n", p.dim.Sprint("note:"), n.Func, n.Msg)
		}
	}
}
