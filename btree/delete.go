package btree

import (
	"github.com/pkg/errors"
)

// evenSplitCounts divides total items into numGroups groups as evenly as
// possible, with any remainder going to the last groups (spec.md §4.4.8:
// "min, min, …, min+1, min+1").
func evenSplitCounts(total, numGroups int) []int {
	base := total / numGroups
	rem := total % numGroups
	counts := make([]int, numGroups)
	for i := range counts {
		counts[i] = base
	}
	for i := numGroups - rem; i < numGroups; i++ {
		counts[i]++
	}
	return counts
}

// Delete removes key from the tree. Deleting an absent key is a benign
// no-op (spec.md §7, class 5).
func (t *Tree) Delete(key uint32) error {
	leafPageNum, slot, found, err := t.Find(key)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return t.deleteFromLeaf(leafPageNum, slot)
}

func (t *Tree) deleteFromLeaf(leafPageNum uint32, slot uint32) error {
	pg, err := t.getPage(leafPageNum)
	if err != nil {
		return err
	}

	if isRoot(pg) {
		LeafDeleteAt(pg, slot)
		pg.Dirty = true
		return nil
	}

	parent := parentPageNum(pg)
	ppg, err := t.getPage(parent)
	if err != nil {
		return err
	}
	siblings, _ := siblingSet(ppg, leafPageNum)

	remaining := make([][]byte, 0)
	for _, s := range siblings {
		spg, err := t.getPage(s)
		if err != nil {
			return err
		}
		n := LeafNumCells(spg)
		for i := uint32(0); i < n; i++ {
			if s == leafPageNum && i == slot {
				continue
			}
			remaining = append(remaining, LeafCellAt(spg, i))
		}
	}

	minPages := len(packLeafGroups(remaining))
	if minPages > 0 && minPages < len(siblings) {
		return t.compactLeaves(parent, siblings, remaining)
	}

	oldNumCells := LeafNumCells(pg)
	wasRightmost := oldNumCells > 0 && slot == oldNumCells-1
	LeafDeleteAt(pg, slot)
	pg.Dirty = true
	if wasRightmost && LeafNumCells(pg) > 0 {
		return t.propagateMaxKey(leafPageNum, LeafMaxKey(pg))
	}
	return nil
}

// compactLeaves implements spec.md §4.4.6 step 3: the cells surviving
// across siblings (the deleted one already excluded by the caller) are
// spread evenly across the minimum number of fresh leaves, the old
// siblings are returned, and the parent is fixed up recursively.
func (t *Tree) compactLeaves(parent uint32, siblings []uint32, cells [][]byte) error {
	minPages := len(packLeafGroups(cells))
	for {
		counts := evenSplitCounts(len(cells), minPages)
		ok := true
		offset := 0
		for _, cnt := range counts {
			chunk := cells[offset : offset+cnt]
			if uint32(cnt) > LeafMaxCells || leafChunkBytes(chunk) > LeafNonHeaderSpace() {
				ok = false
				break
			}
			offset += cnt
		}
		if ok {
			break
		}
		minPages++
	}

	counts := evenSplitCounts(len(cells), minPages)
	firstSibling, err := t.getPage(siblings[0])
	if err != nil {
		return err
	}
	leafParent := parentPageNum(firstSibling)

	newPages := make([]uint32, 0, minPages)
	offset := 0
	for _, cnt := range counts {
		chunk := cells[offset : offset+cnt]
		offset += cnt

		pn, err := t.pager.AllocatePage()
		if err != nil {
			return err
		}
		npg, err := t.getPage(pn)
		if err != nil {
			return err
		}
		InitLeaf(npg, false, leafParent)
		for _, c := range chunk {
			appendCell(npg, c)
		}
		npg.Dirty = true
		newPages = append(newPages, pn)
	}

	for _, s := range siblings {
		t.pager.ReturnPage(s)
	}

	return t.internalNodeDelete(parent, siblings, newPages)
}

func leafChunkBytes(cells [][]byte) uint32 {
	var total uint32
	for _, c := range cells {
		total += uint32(len(c)) + leafCellPtrSize
	}
	return total
}

// internalNodeDelete implements spec.md §4.4.7: oldChildren (1-3 sibling
// pages) are replaced in parent by newChildren (1-2 pages), ancestor
// propagation fires if the rightmost child changed, and the parent itself
// is recursively compacted or collapsed if it is now under-occupied.
func (t *Tree) internalNodeDelete(parent uint32, oldChildren []uint32, newChildren []uint32) error {
	pg, err := t.getPage(parent)
	if err != nil {
		return err
	}

	before := InternalChildSlots(pg)
	rightmostBefore := before[len(before)-1]
	oldIncludesRightmost := oldChildren[len(oldChildren)-1] == rightmostBefore

	if err := t.internalReplaceChildren(pg, oldChildren, newChildren); err != nil {
		return err
	}
	pg.Dirty = true

	for _, c := range newChildren {
		cpg, err := t.getPage(c)
		if err != nil {
			return err
		}
		setParentPageNum(cpg, parent)
		cpg.Dirty = true
	}

	if oldIncludesRightmost {
		newMax, err := t.subtreeMaxKey(newChildren[len(newChildren)-1])
		if err != nil {
			return err
		}
		if err := t.propagateMaxKey(parent, newMax); err != nil {
			return err
		}
	}

	if isRoot(pg) {
		if InternalNumKeys(pg) == 0 {
			return t.collapseRoot(parent)
		}
		return nil
	}

	return t.maybeCompactInternal(parent)
}

// maybeCompactInternal tests the collective-underflow condition of
// spec.md §4.4.8 for an internal node against its own siblings, and
// compacts if fewer pages would suffice.
func (t *Tree) maybeCompactInternal(nodePageNum uint32) error {
	pg, err := t.getPage(nodePageNum)
	if err != nil {
		return err
	}
	grandparent := parentPageNum(pg)
	gpg, err := t.getPage(grandparent)
	if err != nil {
		return err
	}
	siblings, _ := siblingSet(gpg, nodePageNum)
	if len(siblings) < 2 {
		return nil
	}

	var allChildren []uint32
	for _, s := range siblings {
		spg, err := t.getPage(s)
		if err != nil {
			return err
		}
		allChildren = append(allChildren, InternalChildSlots(spg)...)
	}

	minPages := (len(allChildren) + int(InternalMaxChildren) - 1) / int(InternalMaxChildren)
	if minPages < 1 {
		minPages = 1
	}
	if minPages >= len(siblings) {
		return nil
	}

	return t.compactInternalSiblings(grandparent, siblings, allChildren, minPages)
}

// compactInternalSiblings redistributes allChildren (gathered across
// siblings, left to right) into minPages fresh internal nodes as evenly
// as possible, re-parents every moved child, returns the old sibling
// pages, and recurses into internalNodeDelete one level up.
func (t *Tree) compactInternalSiblings(grandparent uint32, siblings []uint32, allChildren []uint32, minPages int) error {
	for {
		counts := evenSplitCounts(len(allChildren), minPages)
		ok := true
		for _, cnt := range counts {
			if uint32(cnt) > InternalMaxChildren {
				ok = false
				break
			}
		}
		if ok {
			break
		}
		minPages++
	}
	counts := evenSplitCounts(len(allChildren), minPages)

	newPages := make([]uint32, 0, minPages)
	offset := 0
	for _, cnt := range counts {
		chunk := allChildren[offset : offset+cnt]
		offset += cnt
		if len(chunk) == 0 {
			return fatalf(errors.New("btree: internal compaction produced an empty node"))
		}

		pn, err := t.pager.AllocatePage()
		if err != nil {
			return err
		}
		npg, err := t.getPage(pn)
		if err != nil {
			return err
		}
		InitInternal(npg, false, grandparent)
		for i, c := range chunk[:len(chunk)-1] {
			key, err := t.subtreeMaxKey(c)
			if err != nil {
				return err
			}
			InternalInsertCell(npg, uint32(i), c, key)
		}
		internalSetRightChild(npg, chunk[len(chunk)-1])
		internalSetHasRightChild(npg, true)
		npg.Dirty = true

		for _, c := range chunk {
			cpg, err := t.getPage(c)
			if err != nil {
				return err
			}
			setParentPageNum(cpg, pn)
			cpg.Dirty = true
		}
		newPages = append(newPages, pn)
	}

	for _, s := range siblings {
		t.pager.ReturnPage(s)
	}

	return t.internalNodeDelete(grandparent, siblings, newPages)
}

// collapseRoot implements spec.md §4.4.7's root-collapse case: a root
// with zero inner keys either takes on its right child's contents
// (shrinking the tree by one level while keeping the root's page number)
// or, if it has no right child either, is reinitialized as an empty leaf.
func (t *Tree) collapseRoot(rootPageNum uint32) error {
	pg, err := t.getPage(rootPageNum)
	if err != nil {
		return err
	}

	if !InternalHasRightChild(pg) {
		InitLeaf(pg, true, rootPageNum)
		pg.Dirty = true
		return nil
	}

	donor := InternalRightChild(pg)
	donorPg, err := t.getPage(donor)
	if err != nil {
		return err
	}

	pg.Data = donorPg.Data
	setIsRoot(pg, true)
	setParentPageNum(pg, rootPageNum)
	pg.Dirty = true

	if nodeType(pg) == NodeTypeInternal {
		for _, c := range InternalChildSlots(pg) {
			cpg, err := t.getPage(c)
			if err != nil {
				return err
			}
			setParentPageNum(cpg, rootPageNum)
			cpg.Dirty = true
		}
	}

	t.pager.ReturnPage(donor)
	return nil
}
