package ir

import "fmt"

// Builder assembles a Func instruction by instruction. It is used by the
// front end hand-off and by tests to construct fixtures.
type Builder struct {
	f   *Func
	cur BlockID
}

// NewBuilder starts a function with the given name and result type.
func NewBuilder(name string, result Type) *Builder {
	return &Builder{
		f:   &Func{Name: name, Result: result},
		cur: NoBlockID,
	}
}

func (b *Builder) newValue(name string, t Type) ValueID {
	id := ValueID(len(b.f.Values)) //nolint:gosec // bounded by value count
	b.f.Values = append(b.f.Values, Value{Name: name, Type: t})
	return id
}

// Param declares the next parameter.
func (b *Builder) Param(name string, t Type) Operand {
	id := b.newValue(name, t)
	b.f.Params = append(b.f.Params, id)
	return ValueOperand(id, t)
}

// Block appends a new block and makes it current.
func (b *Builder) Block(name string) BlockID {
	id := b.NewBlock(name)
	b.cur = id
	return id
}

// NewBlock appends a new block without switching to it.
func (b *Builder) NewBlock(name string) BlockID {
	id := BlockID(len(b.f.Blocks)) //nolint:gosec // bounded by block count
	b.f.Blocks = append(b.f.Blocks, Block{ID: id, Name: name})
	return id
}

// SetBlock makes id the insertion block.
func (b *Builder) SetBlock(id BlockID) {
	b.cur = id
}

// Current returns the insertion block.
func (b *Builder) Current() BlockID {
	return b.cur
}

func (b *Builder) block() *Block {
	if b.cur < 0 || int(b.cur) >= len(b.f.Blocks) {
		panic(fmt.Sprintf("ir.Builder: no current block in %s", b.f.Name))
	}
	return &b.f.Blocks[b.cur]
}

func (b *Builder) emit(ins Instr, name string, t Type) Operand {
	ins.Dst = NoValueID
	if t != TypeVoid {
		ins.Dst = b.newValue(name, t)
	}
	bb := b.block()
	bb.Instrs = append(bb.Instrs, ins)
	if ins.Dst == NoValueID {
		return Operand{Kind: OperandValue, Value: NoValueID}
	}
	return ValueOperand(ins.Dst, t)
}

// Name renames the value behind op.
func (b *Builder) Name(op Operand, name string) Operand {
	if op.IsValue() && int(op.Value) < len(b.f.Values) {
		b.f.Values[op.Value].Name = name
	}
	return op
}

func (b *Builder) Binary(op BinaryOp, t Type, l, r Operand) Operand {
	return b.emit(Instr{Kind: InstrBinary, Binary: BinaryInstr{Op: op, Left: l, Right: r}}, "", t)
}

func (b *Builder) ICmp(pred CmpPred, l, r Operand) Operand {
	return b.emit(Instr{Kind: InstrICmp, ICmp: ICmpInstr{Pred: pred, Left: l, Right: r}}, "", TypeBool)
}

func (b *Builder) Load(t Type, addr Operand) Operand {
	return b.emit(Instr{Kind: InstrLoad, Load: LoadInstr{Addr: addr, Mem: t}}, "", t)
}

func (b *Builder) Store(addr, v Operand) {
	b.emit(Instr{Kind: InstrStore, Store: StoreInstr{Addr: addr, Value: v}}, "", TypeVoid)
}

func (b *Builder) GEP(elem Type, base Operand, indices ...Operand) Operand {
	return b.emit(Instr{Kind: InstrGEP, GEP: GEPInstr{Base: base, Indices: indices, Elem: elem}}, "", TypeRef)
}

// Call emits a call to a user function. result may be TypeVoid.
func (b *Builder) Call(callee string, result Type, args ...Operand) Operand {
	return b.emit(Instr{Kind: InstrCall, Call: CallInstr{Callee: callee, Args: args}}, "", result)
}

// Intrinsic emits a call to a runtime intrinsic.
func (b *Builder) Intrinsic(callee string, result Type, args ...Operand) Operand {
	return b.emit(Instr{Kind: InstrCall, Call: CallInstr{Callee: callee, Args: args, Intrinsic: true}}, "", result)
}

func (b *Builder) Cast(op CastOp, to Type, v Operand) Operand {
	return b.emit(Instr{Kind: InstrCast, Cast: CastInstr{Op: op, Value: v, To: to}}, "", to)
}

func (b *Builder) Select(t Type, cond, then, els Operand) Operand {
	return b.emit(Instr{Kind: InstrSelect, Select: SelectInstr{Cond: cond, Then: then, Else: els}}, "", t)
}

// Phi emits a phi; incomings may be added later with AddIncoming.
func (b *Builder) Phi(t Type, incoming ...PhiIncoming) Operand {
	return b.emit(Instr{Kind: InstrPhi, Phi: PhiInstr{Incoming: incoming}}, "", t)
}

// In pairs an incoming value with its predecessor.
func In(v Operand, pred BlockID) PhiIncoming {
	return PhiIncoming{Value: v, Pred: pred}
}

// AddIncoming appends an incoming edge to an existing phi.
func (b *Builder) AddIncoming(phi Operand, v Operand, pred BlockID) {
	for bi := range b.f.Blocks {
		for ii := range b.f.Blocks[bi].Instrs {
			ins := &b.f.Blocks[bi].Instrs[ii]
			if ins.Kind == InstrPhi && ins.Dst == phi.Value {
				ins.Phi.Incoming = append(ins.Phi.Incoming, In(v, pred))
				return
			}
		}
	}
	panic(fmt.Sprintf("ir.Builder: %s is not a phi", b.f.ValueName(phi.Value)))
}

func (b *Builder) Br(target BlockID) {
	b.block().Term = Terminator{Kind: TermBr, Br: BrTerm{Target: target}}
}

func (b *Builder) CondBr(cond Operand, then, els BlockID) {
	b.block().Term = Terminator{Kind: TermCondBr, CondBr: CondBrTerm{Cond: cond, Then: then, Else: els}}
}

func (b *Builder) Switch(v Operand, def BlockID, cases ...SwitchCase) {
	b.block().Term = Terminator{Kind: TermSwitch, Switch: SwitchTerm{Value: v, Cases: cases, Default: def}}
}

func (b *Builder) Ret(v Operand) {
	b.block().Term = Terminator{Kind: TermRet, Ret: RetTerm{HasValue: true, Value: v}}
}

func (b *Builder) RetVoid() {
	b.block().Term = Terminator{Kind: TermRet}
}

func (b *Builder) Unreachable() {
	b.block().Term = Terminator{Kind: TermUnreachable}
}

// Func returns the built function.
func (b *Builder) Func() *Func {
	return b.f
}
