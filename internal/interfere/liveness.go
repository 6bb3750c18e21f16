package interfere

import (
	"cardc/internal/escape"
	"cardc/internal/ir"
)

// site is one instruction position in a block; Index == len(Instrs) is the
// block end (terminator and outgoing phi copies).
type site struct {
	Block ir.BlockID
	Index int
}

// readSites maps every escaping value to the positions where its slot is
// read. Reads through a non-escaping value happen where that value's inlined
// expression is consumed, so the walk follows non-escaping users to their
// own use sites.
func readSites(x *ir.Index, esc *escape.Info) map[ir.ValueID][]site {
	out := make(map[ir.ValueID][]site)
	for _, v := range esc.Escaping() {
		var sites []site
		work := append([]ir.Use(nil), x.Uses[v]...)
		seen := make(map[ir.ValueID]bool)
		for len(work) > 0 {
			u := work[len(work)-1]
			work = work[:len(work)-1]
			if u.Phi || u.User == ir.NoValueID || esc.Has(u.User) {
				sites = append(sites, site{Block: u.Block, Index: u.Index})
				continue
			}
			if seen[u.User] {
				continue
			}
			seen[u.User] = true
			if len(x.Uses[u.User]) == 0 {
				// Dead inline value: evaluated (if at all) where it stands.
				sites = append(sites, site{Block: u.Block, Index: u.Index})
				continue
			}
			work = append(work, x.Uses[u.User]...)
		}
		out[v] = sites
	}
	return out
}

// blockLiveness holds use/def/in/out sets of escaping values.
type blockLiveness struct {
	use valueSet
	def valueSet
	in  valueSet
	out valueSet
}

// liveness is the block-level result plus the per-position read lists the
// instruction sweep needs.
type liveness struct {
	blocks []blockLiveness
	reads  [][][]ir.ValueID // block -> position -> values read there
}

func computeLiveness(f *ir.Func, x *ir.Index, esc *escape.Info) *liveness {
	n := len(f.Values)
	lv := &liveness{
		blocks: make([]blockLiveness, len(f.Blocks)),
		reads:  make([][][]ir.ValueID, len(f.Blocks)),
	}
	for bi := range f.Blocks {
		lv.blocks[bi] = blockLiveness{use: newSet(n), def: newSet(n), in: newSet(n), out: newSet(n)}
		lv.reads[bi] = make([][]ir.ValueID, len(f.Blocks[bi].Instrs)+1)
	}

	for v, sites := range readSites(x, esc) {
		for _, s := range sites {
			if s.Block < 0 || int(s.Block) >= len(f.Blocks) {
				continue
			}
			lv.reads[s.Block][s.Index] = append(lv.reads[s.Block][s.Index], v)
		}
	}

	for _, v := range esc.Escaping() {
		d := x.Defs[v]
		lv.blocks[d.Block].def.add(v)
	}
	for bi := range f.Blocks {
		b := &lv.blocks[bi]
		for pos, vals := range lv.reads[bi] {
			for _, v := range vals {
				d := x.Defs[v]
				// Read before its own definition in this block (or in another
				// block entirely) means live on entry.
				if int(d.Block) != bi || d.Index >= pos {
					b.use.add(v)
				}
			}
		}
	}

	changed := true
	for changed {
		changed = false
		for i := len(f.Blocks) - 1; i >= 0; i-- {
			out := newSet(n)
			for _, succ := range x.Succs[i] {
				out = out.union(lv.blocks[succ].in)
			}
			in := lv.blocks[i].use.union(out.minus(lv.blocks[i].def))
			if !out.equal(lv.blocks[i].out) || !in.equal(lv.blocks[i].in) {
				lv.blocks[i].out = out
				lv.blocks[i].in = in
				changed = true
			}
		}
	}
	return lv
}
