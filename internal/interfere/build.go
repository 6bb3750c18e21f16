package interfere

import (
	"cardc/internal/escape"
	"cardc/internal/ir"
	"cardc/internal/narrow"
	"cardc/internal/offsetphi"
)

// Typer supplies the storage type of a value.
type Typer interface {
	StorageType(v ir.ValueID) ir.Type
}

// Types is the node typing used by the pipeline: offset phis take the
// offset type, narrowed 32-bit values take i16, everything else keeps its
// declared type.
type Types struct {
	Func    *ir.Func
	Narrow  *narrow.Result
	Offsets *offsetphi.Info
}

func (t Types) StorageType(v ir.ValueID) ir.Type {
	if typ, ok := t.Offsets.Override(v); ok {
		return typ
	}
	if t.Narrow == nil {
		return t.Func.ValueType(v)
	}
	return t.Narrow.StorageType(v)
}

// Build computes the interference graph over the escaping values of f.
func Build(f *ir.Func, x *ir.Index, esc *escape.Info, types Typer) *Graph {
	g := newGraph(f.Name, esc.Escaping())
	for _, v := range g.Nodes {
		g.Types[v] = types.StorageType(v)
	}
	if len(f.Blocks) == 0 {
		g.finish()
		return g
	}

	lv := computeLiveness(f, x, esc)
	var entryLive valueSet
	for bi := range f.Blocks {
		live := sweepBlock(g, f, bi, lv, esc)
		if bi == 0 {
			entryLive = live
		}
		phis := x.Phis(ir.BlockID(bi)) //nolint:gosec // bounded by block count
		for i := range phis {
			for j := i + 1; j < len(phis); j++ {
				g.addEdge(phis[i], phis[j])
			}
		}
	}

	// Parameters are all written on entry, before any instruction runs.
	for i, p := range f.Params {
		if !esc.Has(p) {
			continue
		}
		for _, q := range f.Params[i+1:] {
			if esc.Has(q) {
				g.addEdge(p, q)
			}
		}
		for _, v := range entryLive.sorted() {
			g.addEdge(p, v)
		}
		for _, v := range lv.blocks[0].in.sorted() {
			g.addEdge(p, v)
		}
	}

	g.finish()
	return g
}

// sweepBlock walks block bi backwards from its live-out set, adding an edge
// from each escaping definition to everything live across it. It returns
// the set live at the block's start.
func sweepBlock(g *Graph, f *ir.Func, bi int, lv *liveness, esc *escape.Info) valueSet {
	bb := &f.Blocks[bi]
	live := lv.blocks[bi].out.clone()
	reads := lv.reads[bi]
	for _, v := range reads[len(bb.Instrs)] {
		live.add(v)
	}
	for i := len(bb.Instrs) - 1; i >= 0; i-- {
		ins := &bb.Instrs[i]
		if ins.HasDst() && esc.Has(ins.Dst) {
			for _, v := range live.sorted() {
				g.addEdge(ins.Dst, v)
			}
			live.remove(ins.Dst)
		}
		for _, v := range reads[i] {
			live.add(v)
		}
	}
	return live
}
