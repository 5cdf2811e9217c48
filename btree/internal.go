package btree

import (
	"github.com/pkg/errors"

	"github.com/spandanb/learndb-go/pager"
)

// ErrInternalFull is returned when an internal node cannot accept another
// (child, key) cell without first splitting.
var ErrInternalFull = errors.New("btree: internal node full")

// InitInternal writes a fresh, empty internal-node header into pg.
func InitInternal(pg *pager.Page, root bool, parent uint32) {
	setNodeType(pg, NodeTypeInternal)
	setIsRoot(pg, root)
	setParentPageNum(pg, parent)
	internalSetNumKeys(pg, 0)
	internalSetRightChild(pg, pager.NullPtr)
	internalSetHasRightChild(pg, false)
}

func internalSetNumKeys(pg *pager.Page, v uint32) { putU32(pg.Data[:], internalNumKeysOffset, v) }
func InternalNumKeys(pg *pager.Page) uint32        { return getU32(pg.Data[:], internalNumKeysOffset) }

func internalSetRightChild(pg *pager.Page, v uint32) {
	putU32(pg.Data[:], internalRightChildOffset, v)
}
func InternalRightChild(pg *pager.Page) uint32 {
	return getU32(pg.Data[:], internalRightChildOffset)
}

func internalSetHasRightChild(pg *pager.Page, v bool) {
	putBool(pg.Data[:], internalHasRightChildOffset, v)
}
func InternalHasRightChild(pg *pager.Page) bool {
	return getBool(pg.Data[:], internalHasRightChildOffset)
}

func internalCellOffset(i uint32) int {
	return internalHeaderSize + int(i)*internalCellSize
}

// InternalChildAt returns the child page number of the i'th (child, key)
// cell (not the right child — use InternalRightChild for that).
func InternalChildAt(pg *pager.Page, i uint32) uint32 {
	return getU32(pg.Data[:], internalCellOffset(i)+internalCellChildOffset)
}

func internalSetChildAt(pg *pager.Page, i uint32, child uint32) {
	putU32(pg.Data[:], internalCellOffset(i)+internalCellChildOffset, child)
}

// InternalKeyAt returns the separator key of the i'th cell: the max key
// reachable through InternalChildAt(i)'s subtree (I2).
func InternalKeyAt(pg *pager.Page, i uint32) uint32 {
	return getU32(pg.Data[:], internalCellOffset(i)+internalCellKeyOffset)
}

func internalSetKeyAt(pg *pager.Page, i uint32, key uint32) {
	putU32(pg.Data[:], internalCellOffset(i)+internalCellKeyOffset, key)
}

// InternalCapacity reports the maximum (child, key) cells this node's
// page size could hold, independent of the InternalMaxCells tuning knob.
func InternalCapacity() uint32 {
	return uint32((pager.PageSize - internalHeaderSize) / internalCellSize)
}

// InternalFindChildSlot returns the index of the first cell whose key is
// >= key; a result equal to NumKeys means "descend the right child". This mirrors the reference implementation's internal_node_find.
func InternalFindChildSlot(pg *pager.Page, key uint32) uint32 {
	n := InternalNumKeys(pg)
	lo, hi := uint32(0), n
	for lo < hi {
		mid := (lo + hi) / 2
		if InternalKeyAt(pg, mid) < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// InternalChildForKey returns the page number of the child subtree that
// may contain key.
func InternalChildForKey(pg *pager.Page, key uint32) uint32 {
	slot := InternalFindChildSlot(pg, key)
	if slot == InternalNumKeys(pg) {
		return InternalRightChild(pg)
	}
	return InternalChildAt(pg, slot)
}

// InternalInsertCell inserts a (child, key) cell at logical slot,
// shifting later cells right. The caller must have already verified
// NumKeys() < InternalMaxCells (or capacity, during split redistribution).
func InternalInsertCell(pg *pager.Page, slot uint32, child uint32, key uint32) {
	n := InternalNumKeys(pg)
	for i := n; i > slot; i-- {
		c := InternalChildAt(pg, i-1)
		k := InternalKeyAt(pg, i-1)
		internalSetChildAt(pg, i, c)
		internalSetKeyAt(pg, i, k)
	}
	internalSetChildAt(pg, slot, child)
	internalSetKeyAt(pg, slot, key)
	internalSetNumKeys(pg, n+1)
}

// InternalDeleteCellAt removes the (child, key) cell at logical slot,
// closing the gap.
func InternalDeleteCellAt(pg *pager.Page, slot uint32) {
	n := InternalNumKeys(pg)
	for i := slot; i+1 < n; i++ {
		c := InternalChildAt(pg, i+1)
		k := InternalKeyAt(pg, i+1)
		internalSetChildAt(pg, i, c)
		internalSetKeyAt(pg, i, k)
	}
	internalSetNumKeys(pg, n-1)
}

// InternalUpdateKeyForChild rewrites the separator key associated with
// child, searching either the (child, key) cells or the right-child slot.
// The right child has no stored key, so for it nothing is written and
// true is returned.
// Used to propagate a new max key upward after a rightmost descendant
// changes (spec.md §4.4.5 "ancestor key propagation").
func InternalUpdateKeyForChild(pg *pager.Page, child uint32, newKey uint32) bool {
	n := InternalNumKeys(pg)
	for i := uint32(0); i < n; i++ {
		if InternalChildAt(pg, i) == child {
			internalSetKeyAt(pg, i, newKey)
			return true
		}
	}
	if InternalHasRightChild(pg) && InternalRightChild(pg) == child {
		return true
	}
	return false
}

// InternalChildSlots returns, in left-to-right order, every child page
// number this node points at (including the right child if present).
func InternalChildSlots(pg *pager.Page) []uint32 {
	n := InternalNumKeys(pg)
	out := make([]uint32, 0, n+1)
	for i := uint32(0); i < n; i++ {
		out = append(out, InternalChildAt(pg, i))
	}
	if InternalHasRightChild(pg) {
		out = append(out, InternalRightChild(pg))
	}
	return out
}
