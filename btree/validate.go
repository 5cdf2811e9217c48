package btree

import (
	"github.com/pkg/errors"

	"github.com/spandanb/learndb-go/pager"
)

// Validate walks the tree checking the invariants of spec.md §3 (I1-I6;
// I7/I8 are checked at the API boundary, not by traversal) and, via the
// pager's free-list, that live and free pages are disjoint. For I4 it
// checks only that alloc_ptr does not fall below the end of the
// cell-pointer array; overlap between individual cells is not checked.
func (t *Tree) Validate() error {
	seen := make(map[uint32]bool)
	_, err := t.validateNode(t.rootPageNum, t.rootPageNum, seen)
	if err != nil {
		return err
	}
	return t.validateFreePages(seen)
}

// validateNode checks pageNum's own structural invariants and those of
// its subtree, returning pageNum's subtree max key for the caller to
// check against its own separator key (I2).
func (t *Tree) validateNode(pageNum uint32, expectedParent uint32, seen map[uint32]bool) (uint32, error) {
	if seen[pageNum] {
		return 0, fatalf(errors.Wrapf(ErrValidation, "page %d referenced from more than one parent slot (I6)", pageNum))
	}
	seen[pageNum] = true

	pg, err := t.getPage(pageNum)
	if err != nil {
		return 0, err
	}

	if parentPageNum(pg) != expectedParent {
		return 0, fatalf(errors.Wrapf(ErrValidation, "page %d has parent %d, want %d (I3)", pageNum, parentPageNum(pg), expectedParent))
	}

	switch nodeType(pg) {
	case NodeTypeLeaf:
		return t.validateLeaf(pageNum, pg)
	case NodeTypeInternal:
		return t.validateInternal(pageNum, pg, seen)
	default:
		return 0, fatalf(errors.Wrapf(ErrValidation, "page %d has unknown node_type %d", pageNum, nodeType(pg)))
	}
}

func (t *Tree) validateLeaf(pageNum uint32, pg *pager.Page) (uint32, error) {
	n := LeafNumCells(pg)

	var prevKey uint32
	for i := uint32(0); i < n; i++ {
		key := LeafKeyAt(pg, i)
		if i > 0 && key <= prevKey {
			return 0, fatalf(errors.Wrapf(ErrValidation, "leaf %d: key order violated at slot %d (I1)", pageNum, i))
		}
		prevKey = key
	}

	headerEnd := uint32(leafCellPtrArrayStart) + n*leafCellPtrSize
	if LeafAllocPtr(pg) < headerEnd {
		return 0, fatalf(errors.Wrapf(ErrValidation, "leaf %d: alloc_ptr %d below header end %d (I4)", pageNum, LeafAllocPtr(pg), headerEnd))
	}

	var freeBytes uint32
	cur := LeafFreeListHead(pg)
	visitedFree := make(map[uint32]bool)
	for cur != pager.NullPtr {
		if visitedFree[cur] {
			return 0, fatalf(errors.Wrapf(ErrValidation, "leaf %d: free list cycle at offset %d", pageNum, cur))
		}
		visitedFree[cur] = true
		size := getU32(pg.Data[:], int(cur)+freeBlockSizeOffset)
		freeBytes += size
		cur = getU32(pg.Data[:], int(cur)+freeBlockNextOffset)
	}
	if freeBytes != LeafTotalFreeListBytes(pg) {
		return 0, fatalf(errors.Wrapf(ErrValidation, "leaf %d: total_free_list_bytes %d != sum of free blocks %d (I5)", pageNum, LeafTotalFreeListBytes(pg), freeBytes))
	}

	if n == 0 {
		return 0, nil
	}
	return LeafMaxKey(pg), nil
}

func (t *Tree) validateInternal(pageNum uint32, pg *pager.Page, seen map[uint32]bool) (uint32, error) {
	n := InternalNumKeys(pg)

	var prevKey uint32
	var lastMax uint32
	for i := uint32(0); i < n; i++ {
		key := InternalKeyAt(pg, i)
		if i > 0 && key <= prevKey {
			return 0, fatalf(errors.Wrapf(ErrValidation, "internal %d: key order violated at slot %d (I1)", pageNum, i))
		}
		prevKey = key

		child := InternalChildAt(pg, i)
		childMax, err := t.validateNode(child, pageNum, seen)
		if err != nil {
			return 0, err
		}
		if childMax != key {
			return 0, fatalf(errors.Wrapf(ErrValidation, "internal %d: key[%d]=%d does not match child %d's subtree max %d (I2)", pageNum, i, key, child, childMax))
		}
		lastMax = key
	}

	if !InternalHasRightChild(pg) {
		return 0, fatalf(errors.Wrapf(ErrValidation, "internal %d: missing right child", pageNum))
	}
	right := InternalRightChild(pg)
	rightMax, err := t.validateNode(right, pageNum, seen)
	if err != nil {
		return 0, err
	}
	if n > 0 && rightMax <= lastMax {
		return 0, fatalf(errors.Wrapf(ErrValidation, "internal %d: right child max %d not greater than last key %d (I2)", pageNum, rightMax, lastMax))
	}

	return rightMax, nil
}

// validateFreePages checks I6: the on-disk free-page list and the set of
// live (visited) pages are disjoint.
func (t *Tree) validateFreePages(live map[uint32]bool) error {
	cur := t.pager.FreePageListHead()
	visited := make(map[uint32]bool)
	for cur != pager.NullPtr {
		if visited[cur] {
			return fatalf(errors.Wrapf(ErrValidation, "free page list cycle at page %d", cur))
		}
		visited[cur] = true
		if live[cur] {
			return fatalf(errors.Wrapf(ErrValidation, "page %d is both live and on the free-page list (I6)", cur))
		}
		next, err := t.pager.FreePageNext(cur)
		if err != nil {
			return err
		}
		cur = next
	}
	for _, pn := range t.pager.ReturnedPages() {
		if live[pn] {
			return fatalf(errors.Wrapf(ErrValidation, "page %d is both live and returned (I6)", pn))
		}
	}
	return nil
}
