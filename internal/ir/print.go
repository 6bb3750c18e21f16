package ir

import (
	"fmt"
	"io"
	"strings"
)

// String renders the function in a stable textual form.
func (f *Func) String() string {
	var sb strings.Builder
	_ = Print(&sb, f)
	return sb.String()
}

// Print writes a human-readable dump of f.
func Print(w io.Writer, f *Func) error {
	if f == nil {
		return nil
	}
	p := printer{f: f}
	params := make([]string, len(f.Params))
	for i, v := range f.Params {
		params[i] = fmt.Sprintf("%s %s", f.ValueType(v), f.ValueName(v))
	}
	p.line("fn %s(%s) -> %s {", f.Name, strings.Join(params, ", "), f.Result)
	for bi := range f.Blocks {
		bb := &f.Blocks[bi]
		label := fmt.Sprintf("bb%d", bi)
		if bb.Name != "" {
			label += " (" + bb.Name + ")"
		}
		p.line("  %s:", label)
		for ii := range bb.Instrs {
			p.line("    %s", p.instr(&bb.Instrs[ii]))
		}
		p.line("    %s", p.term(&bb.Term))
	}
	p.line("}")
	_, err := io.WriteString(w, p.sb.String())
	return err
}

type printer struct {
	f  *Func
	sb strings.Builder
}

func (p *printer) line(format string, args ...any) {
	fmt.Fprintf(&p.sb, format, args...)
	p.sb.WriteByte('\n')
}

func (p *printer) operand(op Operand) string {
	switch op.Kind {
	case OperandValue:
		return p.f.ValueName(op.Value)
	case OperandConst:
		return fmt.Sprintf("%s %d", op.Type, op.Const)
	case OperandGlobal:
		if op.Offset == 0 {
			return fmt.Sprintf("@%d", op.Global)
		}
		return fmt.Sprintf("@%d+%d", op.Global, op.Offset)
	case OperandNull:
		return "null"
	}
	return "?"
}

func (p *printer) operands(ops []Operand) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = p.operand(op)
	}
	return strings.Join(parts, ", ")
}

func (p *printer) instr(ins *Instr) string {
	var rhs string
	switch ins.Kind {
	case InstrBinary:
		rhs = fmt.Sprintf("%s %s, %s", ins.Binary.Op, p.operand(ins.Binary.Left), p.operand(ins.Binary.Right))
	case InstrICmp:
		rhs = fmt.Sprintf("icmp %s %s, %s", ins.ICmp.Pred, p.operand(ins.ICmp.Left), p.operand(ins.ICmp.Right))
	case InstrLoad:
		rhs = fmt.Sprintf("load %s, %s", ins.Load.Mem, p.operand(ins.Load.Addr))
	case InstrStore:
		rhs = fmt.Sprintf("store %s, %s", p.operand(ins.Store.Value), p.operand(ins.Store.Addr))
	case InstrGEP:
		rhs = fmt.Sprintf("gep %s, %s", ins.GEP.Elem, p.operands(ins.Operands()))
	case InstrCall:
		kw := "call"
		if ins.Call.Intrinsic {
			kw = "intrinsic"
		}
		rhs = fmt.Sprintf("%s %s(%s)", kw, ins.Call.Callee, p.operands(ins.Call.Args))
	case InstrCast:
		rhs = fmt.Sprintf("%s %s to %s", ins.Cast.Op, p.operand(ins.Cast.Value), ins.Cast.To)
	case InstrSelect:
		rhs = fmt.Sprintf("select %s", p.operands(ins.Operands()))
	case InstrPhi:
		parts := make([]string, len(ins.Phi.Incoming))
		for i, inc := range ins.Phi.Incoming {
			parts[i] = fmt.Sprintf("[%s, bb%d]", p.operand(inc.Value), inc.Pred)
		}
		rhs = "phi " + strings.Join(parts, " ")
	default:
		rhs = ins.Kind.String()
	}
	if !ins.HasDst() {
		return rhs
	}
	return fmt.Sprintf("%s: %s = %s", p.f.ValueName(ins.Dst), p.f.ValueType(ins.Dst), rhs)
}

func (p *printer) term(t *Terminator) string {
	switch t.Kind {
	case TermBr:
		return fmt.Sprintf("br bb%d", t.Br.Target)
	case TermCondBr:
		return fmt.Sprintf("condbr %s, bb%d, bb%d", p.operand(t.CondBr.Cond), t.CondBr.Then, t.CondBr.Else)
	case TermSwitch:
		cases := make([]string, len(t.Switch.Cases))
		for i, c := range t.Switch.Cases {
			cases[i] = fmt.Sprintf("%d: bb%d", c.Value, c.Target)
		}
		return fmt.Sprintf("switch %s [%s] default bb%d", p.operand(t.Switch.Value), strings.Join(cases, ", "), t.Switch.Default)
	case TermRet:
		if t.Ret.HasValue {
			return "ret " + p.operand(t.Ret.Value)
		}
		return "ret"
	}
	return t.Kind.String()
}
