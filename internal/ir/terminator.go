package ir

type TermKind uint8

const (
	TermNone TermKind = iota
	TermBr
	TermCondBr
	TermSwitch
	TermRet
	TermUnreachable
)

func (k TermKind) String() string {
	switch k {
	case TermNone:
		return "none"
	case TermBr:
		return "br"
	case TermCondBr:
		return "condbr"
	case TermSwitch:
		return "switch"
	case TermRet:
		return "ret"
	case TermUnreachable:
		return "unreachable"
	}
	return "unknown"
}

type Terminator struct {
	Kind TermKind

	Br     BrTerm
	CondBr CondBrTerm
	Switch SwitchTerm
	Ret    RetTerm
}

type BrTerm struct {
	Target BlockID
}

type CondBrTerm struct {
	Cond Operand
	Then BlockID
	Else BlockID
}

type SwitchCase struct {
	Value  int64
	Target BlockID
}

type SwitchTerm struct {
	Value   Operand
	Cases   []SwitchCase
	Default BlockID
}

type RetTerm struct {
	HasValue bool
	Value    Operand
}

// Successors returns the distinct successor blocks in first-seen order.
func (t *Terminator) Successors() []BlockID {
	if t == nil {
		return nil
	}
	var out []BlockID
	add := func(id BlockID) {
		for _, seen := range out {
			if seen == id {
				return
			}
		}
		out = append(out, id)
	}
	switch t.Kind {
	case TermBr:
		add(t.Br.Target)
	case TermCondBr:
		add(t.CondBr.Then)
		add(t.CondBr.Else)
	case TermSwitch:
		for _, c := range t.Switch.Cases {
			add(c.Target)
		}
		add(t.Switch.Default)
	}
	return out
}

// Operands returns the operands read by the terminator.
func (t *Terminator) Operands() []Operand {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case TermCondBr:
		return []Operand{t.CondBr.Cond}
	case TermSwitch:
		return []Operand{t.Switch.Value}
	case TermRet:
		if t.Ret.HasValue {
			return []Operand{t.Ret.Value}
		}
	}
	return nil
}
