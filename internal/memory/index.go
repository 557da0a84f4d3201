package memory

import (
	"github.com/google/btree"
)

// index keeps live regions ordered by base address so overlap queries and
// free-range scans run in logarithmic and linear-in-regions time
// respectively. Callers serialize access; the index itself is not
// concurrency-safe.
type index struct {
	tree *btree.BTreeG[*Region]
}

func newIndex() *index {
	return &index{
		tree: btree.NewG(8, func(a, b *Region) bool {
			return a.Base < b.Base
		}),
	}
}

func (ix *index) insert(r *Region) {
	ix.tree.ReplaceOrInsert(r)
}

func (ix *index) remove(r *Region) {
	ix.tree.Delete(r)
}

func (ix *index) len() int {
	return ix.tree.Len()
}

// overlaps reports whether any live region intersects [base, base+length).
// Only the nearest neighbor on each side can intersect, so two bounded
// descents decide it.
func (ix *index) overlaps(base, length uint64) bool {
	probe := &Region{Base: base}

	var hit bool
	ix.tree.DescendLessOrEqual(probe, func(r *Region) bool {
		hit = r.Overlaps(base, length)
		return false
	})
	if hit {
		return true
	}
	ix.tree.AscendGreaterOrEqual(probe, func(r *Region) bool {
		hit = r.Overlaps(base, length)
		return false
	})
	return hit
}

// findFree returns the lowest base address of a free gap of at least size
// within [poolBase, poolBase+poolSize), first-fit.
func (ix *index) findFree(poolBase, poolSize, size uint64) (uint64, bool) {
	if size == 0 || size > poolSize {
		return 0, false
	}

	cursor := poolBase
	found := uint64(0)
	ok := false
	ix.tree.Ascend(func(r *Region) bool {
		if r.End() <= cursor {
			return true
		}
		if r.Base >= cursor && r.Base-cursor >= size {
			found, ok = cursor, true
			return false
		}
		cursor = r.End()
		return true
	})
	if ok {
		return found, true
	}
	limit := poolBase + poolSize
	if cursor < limit && limit-cursor >= size {
		return cursor, true
	}
	return 0, false
}

// each visits every region in address order; returning false stops early.
func (ix *index) each(fn func(*Region) bool) {
	ix.tree.Ascend(fn)
}
