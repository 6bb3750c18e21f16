package ir

import (
	"errors"
	"fmt"
	"slices"
)

// Validate checks module invariants.
// Returns error if any invariant is violated.
func Validate(m *Module) error {
	if m == nil {
		return nil
	}
	var errs []error
	seen := make(map[string]bool, len(m.Funcs))
	for _, f := range m.Funcs {
		if f == nil {
			continue
		}
		if seen[f.Name] {
			errs = append(errs, fmt.Errorf("function %s: duplicate definition", f.Name))
			continue
		}
		seen[f.Name] = true
		if err := ValidateFunc(f, m); err != nil {
			errs = append(errs, fmt.Errorf("function %s: %w", f.Name, err))
		}
	}
	return errors.Join(errs...)
}

// ValidateFunc checks the invariants of a single function. m may be nil,
// in which case global references are not checked.
func ValidateFunc(f *Func, m *Module) error {
	if f == nil {
		return nil
	}
	if len(f.Blocks) == 0 {
		return errors.New("function has no blocks")
	}

	var errs []error

	// 1. Blocks are terminated and targets exist
	if err := validateTerminators(f); err != nil {
		errs = append(errs, err)
	}

	// 2. Single definition, typed values
	if err := validateDefs(f); err != nil {
		errs = append(errs, err)
	}

	// 3. Operands reference defined values and known globals
	if err := validateOperands(f, m); err != nil {
		errs = append(errs, err)
	}

	// 4. Phis lead their block and name real predecessors
	if err := validatePhis(f); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateTerminators(f *Func) error {
	var errs []error
	blockExists := func(id BlockID) bool {
		return id >= 0 && int(id) < len(f.Blocks)
	}
	for i := range f.Blocks {
		bb := &f.Blocks[i]
		if bb.Term.Kind == TermNone {
			errs = append(errs, fmt.Errorf("bb%d: unterminated block", i))
			continue
		}
		for _, succ := range bb.Term.Successors() {
			if !blockExists(succ) {
				errs = append(errs, fmt.Errorf("bb%d: branch target bb%d does not exist", i, succ))
			}
		}
		if bb.Term.Kind == TermSwitch {
			seen := make(map[int64]bool, len(bb.Term.Switch.Cases))
			for _, c := range bb.Term.Switch.Cases {
				if seen[c.Value] {
					errs = append(errs, fmt.Errorf("bb%d: switch has duplicate case %d", i, c.Value))
				}
				seen[c.Value] = true
			}
		}
		if bb.Term.Kind == TermRet && bb.Term.Ret.HasValue != (f.Result != TypeVoid) {
			errs = append(errs, fmt.Errorf("bb%d: return does not match result type %s", i, f.Result))
		}
	}
	return errors.Join(errs...)
}

func validateDefs(f *Func) error {
	var errs []error
	defined := make([]bool, len(f.Values))
	define := func(v ValueID, where string) {
		if v < 0 || int(v) >= len(f.Values) {
			errs = append(errs, fmt.Errorf("%s: value %%%d does not exist", where, v))
			return
		}
		if defined[v] {
			errs = append(errs, fmt.Errorf("%s: value %s defined twice", where, f.ValueName(v)))
			return
		}
		if f.Values[v].Type == TypeVoid {
			errs = append(errs, fmt.Errorf("%s: value %s has no type", where, f.ValueName(v)))
		}
		defined[v] = true
	}
	for i, p := range f.Params {
		define(p, fmt.Sprintf("param %d", i))
	}
	for bi := range f.Blocks {
		for ii := range f.Blocks[bi].Instrs {
			ins := &f.Blocks[bi].Instrs[ii]
			if ins.HasDst() {
				define(ins.Dst, fmt.Sprintf("bb%d:%d", bi, ii))
			}
		}
	}
	return errors.Join(errs...)
}

func validateOperands(f *Func, m *Module) error {
	var errs []error
	defined := make([]bool, len(f.Values))
	for _, p := range f.Params {
		if p >= 0 && int(p) < len(defined) {
			defined[p] = true
		}
	}
	for bi := range f.Blocks {
		for _, ins := range f.Blocks[bi].Instrs {
			if ins.HasDst() && ins.Dst >= 0 && int(ins.Dst) < len(defined) {
				defined[ins.Dst] = true
			}
		}
	}
	check := func(op Operand, where string) {
		switch op.Kind {
		case OperandValue:
			if op.Value < 0 || int(op.Value) >= len(defined) || !defined[op.Value] {
				errs = append(errs, fmt.Errorf("%s: operand %%%d is not defined", where, op.Value))
			}
		case OperandGlobal:
			if m != nil && m.Global(op.Global) == nil {
				errs = append(errs, fmt.Errorf("%s: global @%d does not exist", where, op.Global))
			}
		}
	}
	for bi := range f.Blocks {
		bb := &f.Blocks[bi]
		for ii := range bb.Instrs {
			for _, op := range bb.Instrs[ii].Operands() {
				check(op, fmt.Sprintf("bb%d:%d", bi, ii))
			}
		}
		for _, op := range bb.Term.Operands() {
			check(op, fmt.Sprintf("bb%d:term", bi))
		}
	}
	return errors.Join(errs...)
}

func validatePhis(f *Func) error {
	var errs []error
	x := NewIndex(f)
	for bi := range f.Blocks {
		bb := &f.Blocks[bi]
		leading := true
		for ii := range bb.Instrs {
			ins := &bb.Instrs[ii]
			if ins.Kind != InstrPhi {
				leading = false
				continue
			}
			if !leading {
				errs = append(errs, fmt.Errorf("bb%d:%d: phi after non-phi instruction", bi, ii))
			}
			for _, inc := range ins.Phi.Incoming {
				if !slices.Contains(x.Preds[bi], inc.Pred) {
					errs = append(errs, fmt.Errorf("bb%d:%d: phi names bb%d which is not a predecessor", bi, ii, inc.Pred))
				}
			}
		}
	}
	return errors.Join(errs...)
}
