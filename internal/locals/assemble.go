package locals

import (
	"errors"
	"fmt"

	"cardc/internal/coloring"
	"cardc/internal/diag"
	"cardc/internal/escape"
	"cardc/internal/interfere"
	"cardc/internal/ir"
	"cardc/internal/limits"
	"cardc/internal/narrow"
	"cardc/internal/offsetphi"
)

// Input bundles the per-function analysis results. Offsets may be nil.
type Input struct {
	Func    *ir.Func
	Index   *ir.Index
	Narrow  *narrow.Result
	Escape  *escape.Info
	Graph   *interfere.Graph
	Assign  *coloring.Assignment
	Offsets *offsetphi.Info
}

// Assemble builds the locals table of one function. Every earlier result is
// re-validated first; a failure there is a ConsistencyError. A slot count
// above the hard ceiling is a LimitError, above the soft ceiling a warning
// sent to r.
func Assemble(in Input, lim limits.Limits, r diag.Reporter) (*FunctionLocals, error) {
	if r == nil {
		r = diag.Nop
	}
	f, x := in.Func, in.Index
	if err := checkInputs(in); err != nil {
		return nil, err
	}

	fl := &FunctionLocals{
		Func:        f.Name,
		Values:      make(map[ir.ValueID]Local, len(f.Values)),
		NumSlots:    in.Assign.NumSlots,
		ParamSlots:  in.Assign.ParamSlots,
		FirstTemp:   in.Assign.NumSlots,
		ByteTainted: byteTaint(f, x),
		OffsetPhis:  in.Offsets.PhiValues(),
	}
	fl.SlotTypes = make([]ir.Type, fl.NumSlots)
	for s := range fl.SlotTypes {
		fl.SlotTypes[s] = promote(in.Assign.SlotTypes[s])
	}

	var errs []error
	for _, v := range x.DefinedValues() {
		l := Local{
			Value:    v,
			Name:     f.ValueName(v),
			Original: f.ValueType(v),
			Register: promote(storageType(in, v)),
			Slot:     NoSlot,
		}
		slot, hasSlot := in.Assign.Slot(v)
		escapes := in.Escape.Has(v)
		switch {
		case escapes && !hasSlot:
			errs = append(errs, fmt.Errorf("escaping %s has no slot", l.Name))
		case !escapes && hasSlot:
			errs = append(errs, fmt.Errorf("inlined %s was given slot %d", l.Name, slot))
		case hasSlot:
			l.Slot = slot
			if slot < 0 || slot >= len(fl.SlotTypes) || fl.SlotTypes[slot] == ir.TypeVoid {
				errs = append(errs, fmt.Errorf("slot %d of %s is untyped", slot, l.Name))
			} else {
				l.SlotType = fl.SlotTypes[slot]
			}
		}
		fl.Values[v] = l
	}
	if err := errors.Join(errs...); err != nil {
		return nil, &ConsistencyError{Func: f.Name, Stage: "locals assembly", Err: err}
	}

	if fl.NumSlots > lim.MaxLocalsHard {
		return nil, &LimitError{Func: f.Name, Slots: fl.NumSlots, Limit: lim.MaxLocalsHard}
	}
	if fl.NumSlots > lim.MaxLocalsSoft {
		diag.ReportWarning(r, diag.LocSoftLimit, f.Name,
			fmt.Sprintf("%d permanent local slots exceed the soft limit of %d", fl.NumSlots, lim.MaxLocalsSoft)).
			WithNote(f.Name, fmt.Sprintf("%d of them hold parameters", fl.ParamSlots)).
			Emit()
	}
	if tainted := fl.Tainted(); len(tainted) > 0 {
		b := diag.ReportInfo(r, diag.LocByteTaint, f.Name,
			fmt.Sprintf("%d byte values are truncated where observed", len(tainted)))
		for _, v := range tainted {
			b.WithNote(f.Name, f.ValueName(v))
		}
		b.Emit()
	}
	return fl, nil
}

func storageType(in Input, v ir.ValueID) ir.Type {
	if t, ok := in.Offsets.Override(v); ok {
		return t
	}
	if in.Narrow == nil {
		return in.Func.ValueType(v)
	}
	return in.Narrow.StorageType(v)
}

func checkInputs(in Input) error {
	f, x := in.Func, in.Index
	if f == nil || x == nil || in.Escape == nil || in.Graph == nil || in.Assign == nil {
		name := ""
		if f != nil {
			name = f.Name
		}
		return &ConsistencyError{Func: name, Stage: "locals assembly", Err: errors.New("missing analysis result")}
	}
	wrap := func(stage string, err error) error {
		if err == nil {
			return nil
		}
		return &ConsistencyError{Func: f.Name, Stage: stage, Err: err}
	}
	if in.Narrow != nil {
		if err := in.Narrow.Validate(x); err != nil {
			return wrap("narrowing", err)
		}
	}
	if err := in.Escape.Validate(x); err != nil {
		return wrap("escape analysis", err)
	}
	if err := in.Graph.Validate(); err != nil {
		return wrap("interference", err)
	}
	esc := in.Escape.Escaping()
	if len(esc) != len(in.Graph.Nodes) {
		return wrap("interference", fmt.Errorf("graph has %d nodes for %d escaping values", len(in.Graph.Nodes), len(esc)))
	}
	for i := range esc {
		if esc[i] != in.Graph.Nodes[i] {
			return wrap("interference", fmt.Errorf("node %%%d is not in the escape set", in.Graph.Nodes[i]))
		}
	}
	if in.Offsets != nil {
		if err := in.Offsets.Validate(x); err != nil {
			return wrap("offset-phi detection", err)
		}
	}
	return wrap("coloring", in.Assign.Validate(in.Graph))
}

// byteTaint seeds byte results of binary operations and spreads the taint
// forward through phis and selects with a worklist.
func byteTaint(f *ir.Func, x *ir.Index) map[ir.ValueID]bool {
	tainted := make(map[ir.ValueID]bool)
	var work []ir.ValueID
	for _, v := range x.DefinedValues() {
		if ins := x.Instr(v); ins != nil && ins.Kind == ir.InstrBinary && f.ValueType(v) == ir.TypeI8 {
			tainted[v] = true
			work = append(work, v)
		}
	}
	for len(work) > 0 {
		v := work[len(work)-1]
		work = work[:len(work)-1]
		for _, u := range x.Uses[v] {
			if u.User == ir.NoValueID || tainted[u.User] || f.ValueType(u.User) != ir.TypeI8 {
				continue
			}
			ins := x.Instr(u.User)
			if ins == nil || (ins.Kind != ir.InstrPhi && ins.Kind != ir.InstrSelect) {
				continue
			}
			tainted[u.User] = true
			work = append(work, u.User)
		}
	}
	return tainted
}
