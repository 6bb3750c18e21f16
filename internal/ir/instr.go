package ir

// OperandKind distinguishes operand types.
type OperandKind uint8

const (
	// OperandValue refers to an SSA value.
	OperandValue OperandKind = iota
	// OperandConst is an integer constant.
	OperandConst
	// OperandGlobal is a constant address expression: global + byte offset.
	OperandGlobal
	// OperandNull is the null reference.
	OperandNull
)

// Operand represents an instruction operand.
type Operand struct {
	Kind OperandKind
	Type Type

	Value  ValueID
	Const  int64
	Global GlobalID
	Offset int64
}

// ValueOperand references value id of type t.
func ValueOperand(id ValueID, t Type) Operand {
	return Operand{Kind: OperandValue, Type: t, Value: id}
}

// Const builds an integer constant operand.
func Const(t Type, v int64) Operand {
	return Operand{Kind: OperandConst, Type: t, Value: NoValueID, Const: v}
}

// GlobalAddr builds a constant address expression.
func GlobalAddr(g GlobalID, offset int64) Operand {
	return Operand{Kind: OperandGlobal, Type: TypeRef, Value: NoValueID, Global: g, Offset: offset}
}

// Null builds the null reference operand.
func Null() Operand {
	return Operand{Kind: OperandNull, Type: TypeRef, Value: NoValueID}
}

// IsValue reports whether the operand references an SSA value.
func (op Operand) IsValue() bool {
	return op.Kind == OperandValue && op.Value != NoValueID
}

// InstrKind enumerates instruction kinds.
type InstrKind uint8

const (
	// InstrBinary represents a two-operand arithmetic or bitwise operation.
	InstrBinary InstrKind = iota
	// InstrICmp represents an integer compare.
	InstrICmp
	// InstrLoad represents a memory load.
	InstrLoad
	// InstrStore represents a memory store.
	InstrStore
	// InstrGEP represents an address computation: base + index list.
	InstrGEP
	// InstrCall represents a call to a user function or an intrinsic.
	InstrCall
	// InstrCast represents truncation or extension.
	InstrCast
	// InstrSelect represents a conditional select.
	InstrSelect
	// InstrPhi represents a CFG merge.
	InstrPhi
)

func (k InstrKind) String() string {
	switch k {
	case InstrBinary:
		return "binary"
	case InstrICmp:
		return "icmp"
	case InstrLoad:
		return "load"
	case InstrStore:
		return "store"
	case InstrGEP:
		return "gep"
	case InstrCall:
		return "call"
	case InstrCast:
		return "cast"
	case InstrSelect:
		return "select"
	case InstrPhi:
		return "phi"
	}
	return "unknown"
}

// Instr represents an IR instruction. Dst is NoValueID when the instruction
// produces no value.
type Instr struct {
	Kind InstrKind
	Dst  ValueID

	Binary BinaryInstr
	ICmp   ICmpInstr
	Load   LoadInstr
	Store  StoreInstr
	GEP    GEPInstr
	Call   CallInstr
	Cast   CastInstr
	Select SelectInstr
	Phi    PhiInstr
}

type BinaryOp uint8

const (
	BinAdd BinaryOp = iota
	BinSub
	BinMul
	BinSDiv
	BinUDiv
	BinSRem
	BinURem
	BinAnd
	BinOr
	BinXor
	BinShl
	BinLShr
	BinAShr
)

var binaryOpNames = [...]string{
	BinAdd:  "add",
	BinSub:  "sub",
	BinMul:  "mul",
	BinSDiv: "sdiv",
	BinUDiv: "udiv",
	BinSRem: "srem",
	BinURem: "urem",
	BinAnd:  "and",
	BinOr:   "or",
	BinXor:  "xor",
	BinShl:  "shl",
	BinLShr: "lshr",
	BinAShr: "ashr",
}

func (op BinaryOp) String() string {
	if int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return "?"
}

// IsShiftRight reports whether the high bits of the left operand become
// observable in the result.
func (op BinaryOp) IsShiftRight() bool {
	return op == BinLShr || op == BinAShr
}

// IsDivRem reports whether op is a division or remainder.
func (op BinaryOp) IsDivRem() bool {
	switch op {
	case BinSDiv, BinUDiv, BinSRem, BinURem:
		return true
	}
	return false
}

type BinaryInstr struct {
	Op    BinaryOp
	Left  Operand
	Right Operand
}

type CmpPred uint8

const (
	CmpEQ CmpPred = iota
	CmpNE
	CmpSLT
	CmpSLE
	CmpSGT
	CmpSGE
	CmpULT
	CmpULE
	CmpUGT
	CmpUGE
)

var cmpPredNames = [...]string{
	CmpEQ:  "eq",
	CmpNE:  "ne",
	CmpSLT: "slt",
	CmpSLE: "sle",
	CmpSGT: "sgt",
	CmpSGE: "sge",
	CmpULT: "ult",
	CmpULE: "ule",
	CmpUGT: "ugt",
	CmpUGE: "uge",
}

func (p CmpPred) String() string {
	if int(p) < len(cmpPredNames) {
		return cmpPredNames[p]
	}
	return "?"
}

type ICmpInstr struct {
	Pred  CmpPred
	Left  Operand
	Right Operand
}

// LoadInstr reads a value of type Mem from Addr.
type LoadInstr struct {
	Addr Operand
	Mem  Type
}

type StoreInstr struct {
	Addr  Operand
	Value Operand
}

// GEPInstr computes Base + Indices scaled by Elem.
type GEPInstr struct {
	Base    Operand
	Indices []Operand
	Elem    Type
}

type CallInstr struct {
	Callee    string
	Args      []Operand
	Intrinsic bool
}

type CastOp uint8

const (
	CastTrunc CastOp = iota
	CastSExt
	CastZExt
)

func (op CastOp) String() string {
	switch op {
	case CastTrunc:
		return "trunc"
	case CastSExt:
		return "sext"
	case CastZExt:
		return "zext"
	}
	return "?"
}

type CastInstr struct {
	Op    CastOp
	Value Operand
	To    Type
}

type SelectInstr struct {
	Cond Operand
	Then Operand
	Else Operand
}

type PhiIncoming struct {
	Value Operand
	Pred  BlockID
}

type PhiInstr struct {
	Incoming []PhiIncoming
}

// HasDst reports whether the instruction defines a value.
func (in *Instr) HasDst() bool {
	return in != nil && in.Dst != NoValueID
}

// Operands returns the instruction operands in evaluation order. For phis
// it returns the incoming values in predecessor order.
func (in *Instr) Operands() []Operand {
	if in == nil {
		return nil
	}
	switch in.Kind {
	case InstrBinary:
		return []Operand{in.Binary.Left, in.Binary.Right}
	case InstrICmp:
		return []Operand{in.ICmp.Left, in.ICmp.Right}
	case InstrLoad:
		return []Operand{in.Load.Addr}
	case InstrStore:
		return []Operand{in.Store.Addr, in.Store.Value}
	case InstrGEP:
		out := make([]Operand, 0, 1+len(in.GEP.Indices))
		out = append(out, in.GEP.Base)
		return append(out, in.GEP.Indices...)
	case InstrCall:
		return append([]Operand(nil), in.Call.Args...)
	case InstrCast:
		return []Operand{in.Cast.Value}
	case InstrSelect:
		return []Operand{in.Select.Cond, in.Select.Then, in.Select.Else}
	case InstrPhi:
		out := make([]Operand, len(in.Phi.Incoming))
		for i, inc := range in.Phi.Incoming {
			out[i] = inc.Value
		}
		return out
	}
	return nil
}

// ValueOperands returns the ids of operands that reference SSA values.
func (in *Instr) ValueOperands() []ValueID {
	ops := in.Operands()
	out := make([]ValueID, 0, len(ops))
	for _, op := range ops {
		if op.IsValue() {
			out = append(out, op.Value)
		}
	}
	return out
}
