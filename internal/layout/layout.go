package layout

import (
	"fmt"

	"fortio.org/safecast"

	"cardc/internal/ir"
)

// Placement is where one global lives inside its category array.
type Placement struct {
	Global   ir.GlobalID
	Name     string
	Category ir.StorageCategory
	Base     int
	Size     int
	Align    int
}

// Layout is the whole-module global memory layout. It is computed once,
// before the per-function pipeline, and only read afterwards.
type Layout struct {
	Target     Target
	Placements []Placement // indexed by GlobalID
	Sizes      map[ir.StorageCategory]int
}

// Compute packs every global into the array of its storage category in
// declaration order, aligning each to its element size.
func Compute(target Target, m *ir.Module) (*Layout, error) {
	lay := &Layout{
		Target: target,
		Sizes:  make(map[ir.StorageCategory]int, 2),
	}
	if m == nil {
		return lay, nil
	}
	lay.Placements = make([]Placement, len(m.Globals))
	for i := range m.Globals {
		g := &m.Globals[i]
		if g.Count < 0 {
			return nil, &LayoutError{Kind: LayoutErrNegativeCount, Global: g.Name, Value: int64(g.Count)}
		}
		elem := target.ElemSize(g.Elem)
		if elem == 0 {
			return nil, &LayoutError{Kind: LayoutErrVoidElem, Global: g.Name}
		}
		base := alignUp(lay.Sizes[g.Category], elem)
		size := elem * g.Count
		end := base + size
		if _, err := safecast.Conv[int16](end); err != nil || end > target.MaxArray {
			return nil, &LayoutError{
				Kind:     LayoutErrOverflow,
				Global:   g.Name,
				Category: g.Category,
				Value:    int64(end),
				Err:      err,
			}
		}
		lay.Placements[i] = Placement{
			Global:   ir.GlobalID(i), //nolint:gosec // bounded by global count
			Name:     g.Name,
			Category: g.Category,
			Base:     base,
			Size:     size,
			Align:    elem,
		}
		lay.Sizes[g.Category] = end
	}
	return lay, nil
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// Placement returns the placement of g.
func (l *Layout) Placement(g ir.GlobalID) (Placement, bool) {
	if l == nil || g < 0 || int(g) >= len(l.Placements) {
		return Placement{}, false
	}
	return l.Placements[g], true
}

// Name returns the declared name of g, or "#id" when g is unknown or
// anonymous.
func (l *Layout) Name(g ir.GlobalID) string {
	if p, ok := l.Placement(g); ok && p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("#%d", g)
}

// Base returns the byte offset of g inside its category array.
func (l *Layout) Base(g ir.GlobalID) (int, bool) {
	p, ok := l.Placement(g)
	return p.Base, ok
}

// Contains reports whether byte offset off (relative to g) stays inside g.
// One-past-the-end is accepted, as pointer loops commonly reach it.
func (l *Layout) Contains(g ir.GlobalID, off int64) bool {
	p, ok := l.Placement(g)
	if !ok {
		return false
	}
	return off >= 0 && off <= int64(p.Size)
}
