package narrow

// unionFind is a disjoint-set forest over value indices. find walks with
// path halving instead of recursing.
type unionFind struct {
	parent []int32
	rank   []uint8
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int32, n),
		rank:   make([]uint8, n),
	}
	for i := range uf.parent {
		uf.parent[i] = int32(i) //nolint:gosec // bounded by value count
	}
	return uf
}

func (uf *unionFind) find(i int32) int32 {
	if i < 0 || int(i) >= len(uf.parent) {
		return i
	}
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(a, b int32) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb || ra < 0 || rb < 0 || int(ra) >= len(uf.parent) || int(rb) >= len(uf.parent) {
		return
	}
	switch {
	case uf.rank[ra] < uf.rank[rb]:
		uf.parent[ra] = rb
	case uf.rank[ra] > uf.rank[rb]:
		uf.parent[rb] = ra
	default:
		uf.parent[rb] = ra
		uf.rank[ra]++
	}
}
