package ir

import "slices"

// Def locates the definition of a value. Index is -1 for parameters.
type Def struct {
	Block BlockID
	Index int
}

// Use locates one read of a value. Phi incomings are attributed to the end
// of the predecessor block (Index == len(pred.Instrs)); terminator reads
// use the same index in their own block.
type Use struct {
	Block    BlockID
	Index    int
	User     ValueID
	Phi      bool
	PhiBlock BlockID
}

// Index is the def-map/use-map pair of a function plus its CFG edges. It is
// built once per function and shared read-only by every analysis.
type Index struct {
	Func  *Func
	Defs  []Def
	Uses  [][]Use
	Preds [][]BlockID
	Succs [][]BlockID
}

// NewIndex scans f once and records definitions, uses and CFG edges.
func NewIndex(f *Func) *Index {
	if f == nil {
		return &Index{}
	}
	x := &Index{
		Func:  f,
		Defs:  make([]Def, len(f.Values)),
		Uses:  make([][]Use, len(f.Values)),
		Preds: make([][]BlockID, len(f.Blocks)),
		Succs: make([][]BlockID, len(f.Blocks)),
	}
	for i := range x.Defs {
		x.Defs[i] = Def{Block: NoBlockID, Index: -1}
	}
	for _, p := range f.Params {
		if x.valid(p) {
			x.Defs[p] = Def{Block: 0, Index: -1}
		}
	}

	for bi := range f.Blocks {
		bb := &f.Blocks[bi]
		bid := BlockID(bi) //nolint:gosec // bounded by block count
		for _, succ := range bb.Term.Successors() {
			if succ < 0 || int(succ) >= len(f.Blocks) {
				continue
			}
			x.Succs[bi] = append(x.Succs[bi], succ)
			x.Preds[succ] = append(x.Preds[succ], bid)
		}
	}

	for bi := range f.Blocks {
		bb := &f.Blocks[bi]
		bid := BlockID(bi) //nolint:gosec // bounded by block count
		for ii := range bb.Instrs {
			ins := &bb.Instrs[ii]
			if ins.HasDst() && x.valid(ins.Dst) {
				x.Defs[ins.Dst] = Def{Block: bid, Index: ii}
			}
			if ins.Kind == InstrPhi {
				for _, inc := range ins.Phi.Incoming {
					if !inc.Value.IsValue() || !x.valid(inc.Value.Value) {
						continue
					}
					end := 0
					if inc.Pred >= 0 && int(inc.Pred) < len(f.Blocks) {
						end = len(f.Blocks[inc.Pred].Instrs)
					}
					x.Uses[inc.Value.Value] = append(x.Uses[inc.Value.Value], Use{
						Block:    inc.Pred,
						Index:    end,
						User:     ins.Dst,
						Phi:      true,
						PhiBlock: bid,
					})
				}
				continue
			}
			for _, op := range ins.Operands() {
				if !op.IsValue() || !x.valid(op.Value) {
					continue
				}
				x.Uses[op.Value] = append(x.Uses[op.Value], Use{
					Block:    bid,
					Index:    ii,
					User:     ins.Dst,
					PhiBlock: NoBlockID,
				})
			}
		}
		for _, op := range bb.Term.Operands() {
			if !op.IsValue() || !x.valid(op.Value) {
				continue
			}
			x.Uses[op.Value] = append(x.Uses[op.Value], Use{
				Block:    bid,
				Index:    len(bb.Instrs),
				User:     NoValueID,
				PhiBlock: NoBlockID,
			})
		}
	}
	return x
}

func (x *Index) valid(v ValueID) bool {
	return x != nil && v >= 0 && int(v) < len(x.Defs)
}

// Defined reports whether v has a definition (parameter or instruction).
func (x *Index) Defined(v ValueID) bool {
	return x.valid(v) && x.Defs[v].Block != NoBlockID
}

// IsParam reports whether v is a function parameter.
func (x *Index) IsParam(v ValueID) bool {
	return x.Defined(v) && x.Defs[v].Index < 0
}

// Instr returns the defining instruction of v, nil for parameters and
// undefined values.
func (x *Index) Instr(v ValueID) *Instr {
	if !x.Defined(v) || x.Defs[v].Index < 0 {
		return nil
	}
	d := x.Defs[v]
	return &x.Func.Blocks[d.Block].Instrs[d.Index]
}

func (x *Index) isKind(v ValueID, k InstrKind) bool {
	ins := x.Instr(v)
	return ins != nil && ins.Kind == k
}

func (x *Index) IsPhi(v ValueID) bool  { return x.isKind(v, InstrPhi) }
func (x *Index) IsGEP(v ValueID) bool  { return x.isKind(v, InstrGEP) }
func (x *Index) IsCall(v ValueID) bool { return x.isKind(v, InstrCall) }

// PhiUsers returns the phis that take v as an incoming value, sorted.
func (x *Index) PhiUsers(v ValueID) []ValueID {
	if !x.valid(v) {
		return nil
	}
	var out []ValueID
	for _, u := range x.Uses[v] {
		if u.Phi && u.User != NoValueID && !slices.Contains(out, u.User) {
			out = append(out, u.User)
		}
	}
	slices.Sort(out)
	return out
}

// PhiSources returns the distinct value sources of phi v in incoming order.
func (x *Index) PhiSources(v ValueID) []ValueID {
	ins := x.Instr(v)
	if ins == nil || ins.Kind != InstrPhi {
		return nil
	}
	var out []ValueID
	for _, inc := range ins.Phi.Incoming {
		if inc.Value.IsValue() && !slices.Contains(out, inc.Value.Value) {
			out = append(out, inc.Value.Value)
		}
	}
	return out
}

// DefinedValues returns every defined value in ascending id order.
func (x *Index) DefinedValues() []ValueID {
	if x == nil {
		return nil
	}
	out := make([]ValueID, 0, len(x.Defs))
	for i := range x.Defs {
		if x.Defs[i].Block != NoBlockID {
			out = append(out, ValueID(i)) //nolint:gosec // bounded by value count
		}
	}
	return out
}

// Phis returns the phi results of block b in instruction order.
func (x *Index) Phis(b BlockID) []ValueID {
	if x == nil || x.Func == nil || b < 0 || int(b) >= len(x.Func.Blocks) {
		return nil
	}
	var out []ValueID
	for i := range x.Func.Blocks[b].Instrs {
		ins := &x.Func.Blocks[b].Instrs[i]
		if ins.Kind == InstrPhi && ins.HasDst() {
			out = append(out, ins.Dst)
		}
	}
	return out
}
