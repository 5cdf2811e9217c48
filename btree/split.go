package btree

import (
	"github.com/pkg/errors"
)

// packLeafGroups greedily fills destination groups in the given cell
// order: a cell is added to the current group unless doing so would
// exceed LeafMaxCells or the page's non-header byte budget, in which case
// the current group is finalized and a new one started (spec.md §4.4.2
// step 3). Used both to build split destinations and, via group count
// alone, to test whether a sibling set could be compacted into fewer
// pages.
func packLeafGroups(cells [][]byte) [][][]byte {
	capacity := LeafNonHeaderSpace()
	var groups [][][]byte
	var cur [][]byte
	var curBytes uint32

	for _, c := range cells {
		size := uint32(len(c)) + leafCellPtrSize
		if len(cur) > 0 && (uint32(len(cur))+1 > LeafMaxCells || curBytes+size > capacity) {
			groups = append(groups, cur)
			cur = nil
			curBytes = 0
		}
		cur = append(cur, c)
		curBytes += size
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

// leafSplitInsert performs the out-of-place leaf split described in
// spec.md §4.4.2 step 3: the existing leaf's cells, merged with the new
// cell at slot, are repacked across 2 or 3 fresh pages. The old page is
// returned to the pager. New pages are never root and inherit the old
// leaf's parent (the caller fixes this up via createNewRoot when the old
// leaf was itself the root).
func (t *Tree) leafSplitInsert(oldPageNum uint32, slot uint32, newCell []byte) ([]uint32, error) {
	pg, err := t.getPage(oldPageNum)
	if err != nil {
		return nil, err
	}

	n := LeafNumCells(pg)
	merged := make([][]byte, 0, n+1)
	for i := uint32(0); i < slot; i++ {
		merged = append(merged, LeafCellAt(pg, i))
	}
	merged = append(merged, newCell)
	for i := slot; i < n; i++ {
		merged = append(merged, LeafCellAt(pg, i))
	}

	groups := packLeafGroups(merged)
	if len(groups) > 3 {
		return nil, fatalf(errors.Errorf("btree: leaf split produced %d pages, expected at most 3", len(groups)))
	}

	parent := parentPageNum(pg)

	newPages := make([]uint32, 0, len(groups))
	for _, group := range groups {
		pn, err := t.pager.AllocatePage()
		if err != nil {
			return nil, err
		}
		npg, err := t.getPage(pn)
		if err != nil {
			return nil, err
		}
		InitLeaf(npg, false, parent)
		for _, c := range group {
			appendCell(npg, c)
		}
		npg.Dirty = true
		newPages = append(newPages, pn)
	}

	t.pager.ReturnPage(oldPageNum)
	return newPages, nil
}

// createNewRoot implements spec.md §4.4.4: the root page's contents are
// overwritten with a fresh internal node over newChildren, preserving the
// root's page number (I7).
func (t *Tree) createNewRoot(oldRootPageNum uint32, newChildren []uint32) error {
	rootPg, err := t.getPage(oldRootPageNum)
	if err != nil {
		return err
	}
	InitInternal(rootPg, true, oldRootPageNum)

	for i, c := range newChildren[:len(newChildren)-1] {
		key, err := t.subtreeMaxKey(c)
		if err != nil {
			return err
		}
		InternalInsertCell(rootPg, uint32(i), c, key)
	}
	last := newChildren[len(newChildren)-1]
	internalSetRightChild(rootPg, last)
	internalSetHasRightChild(rootPg, true)
	rootPg.Dirty = true

	for _, c := range newChildren {
		cpg, err := t.getPage(c)
		if err != nil {
			return err
		}
		setParentPageNum(cpg, oldRootPageNum)
		cpg.Dirty = true
	}
	return nil
}

// internalNodeInsert implements spec.md §4.4.3: splice newChildren into
// parent in place of oldChild, splitting parent itself if it has no room.
func (t *Tree) internalNodeInsert(parent uint32, oldChild uint32, newChildren []uint32) error {
	pg, err := t.getPage(parent)
	if err != nil {
		return err
	}

	extra := uint32(len(newChildren) - 1)
	if InternalNumKeys(pg)+extra <= InternalMaxCells {
		wasRight := InternalHasRightChild(pg) && InternalRightChild(pg) == oldChild
		if err := t.internalReplaceChildren(pg, []uint32{oldChild}, newChildren); err != nil {
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
		if wasRight {
			newMax, err := t.subtreeMaxKey(newChildren[len(newChildren)-1])
			if err != nil {
				return err
			}
			return t.propagateMaxKey(parent, newMax)
		}
		return nil
	}

	t.log.WithField("node", parent).Debug("internal node full, splitting")

	wasRoot := isRoot(pg)
	grandparent := parentPageNum(pg)

	newParents, err := t.internalSplitInsert(parent, oldChild, newChildren)
	if err != nil {
		return err
	}

	if wasRoot {
		return t.createNewRoot(parent, newParents)
	}
	return t.internalNodeInsert(grandparent, parent, newParents)
}

// internalSplitInsert performs the out-of-place internal-node split of
// spec.md §4.4.3: parent's existing children, with oldChild's slot
// replaced by newChildren, are redistributed across two fresh internal
// pages, the left getting the extra child when the total is odd (§4.4.8).
func (t *Tree) internalSplitInsert(oldParent uint32, oldChild uint32, newChildren []uint32) ([]uint32, error) {
	pg, err := t.getPage(oldParent)
	if err != nil {
		return nil, err
	}

	all := InternalChildSlots(pg)
	idx := -1
	for i, c := range all {
		if c == oldChild {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fatalf(errors.Errorf("btree: child %d not found in parent %d", oldChild, oldParent))
	}

	merged := make([]uint32, 0, len(all)-1+len(newChildren))
	merged = append(merged, all[:idx]...)
	merged = append(merged, newChildren...)
	merged = append(merged, all[idx+1:]...)

	total := len(merged)
	leftCount := (total + 1) / 2
	leftChildren := merged[:leftCount]
	rightChildren := merged[leftCount:]

	grandparent := parentPageNum(pg)

	buildSide := func(children []uint32) (uint32, error) {
		pn, err := t.pager.AllocatePage()
		if err != nil {
			return 0, err
		}
		npg, err := t.getPage(pn)
		if err != nil {
			return 0, err
		}
		InitInternal(npg, false, grandparent)
		for i, c := range children[:len(children)-1] {
			key, err := t.subtreeMaxKey(c)
			if err != nil {
				return 0, err
			}
			InternalInsertCell(npg, uint32(i), c, key)
		}
		internalSetRightChild(npg, children[len(children)-1])
		internalSetHasRightChild(npg, true)
		npg.Dirty = true

		for _, c := range children {
			cpg, err := t.getPage(c)
			if err != nil {
				return 0, err
			}
			setParentPageNum(cpg, pn)
			cpg.Dirty = true
		}
		return pn, nil
	}

	leftPN, err := buildSide(leftChildren)
	if err != nil {
		return nil, err
	}
	rightPN, err := buildSide(rightChildren)
	if err != nil {
		return nil, err
	}

	t.pager.ReturnPage(oldParent)
	return []uint32{leftPN, rightPN}, nil
}
