package btree

import (
	"github.com/pkg/errors"

	"github.com/spandanb/learndb-go/pager"
)

// ErrCellTooLarge is returned when a cell cannot fit in an empty leaf page
// under any circumstance (spec.md §7, class 4).
var ErrCellTooLarge = errors.New("btree: cell exceeds max leaf cell size")

// LeafNonHeaderSpace is the number of bytes available for cells and the
// cell-pointer array combined.
func LeafNonHeaderSpace() uint32 { return pager.PageSize - leafHeaderSize }

// LeafMaxCellSize is the largest single cell (including its own 8-byte
// prefix) that could ever be placed in an otherwise-empty leaf.
func LeafMaxCellSize() uint32 { return LeafNonHeaderSpace() - leafCellPtrSize }

// InitLeaf writes a fresh, empty leaf header into pg.
func InitLeaf(pg *pager.Page, root bool, parent uint32) {
	setNodeType(pg, NodeTypeLeaf)
	setIsRoot(pg, root)
	setParentPageNum(pg, parent)
	leafSetNumCells(pg, 0)
	leafSetAllocPtr(pg, pager.PageSize)
	leafSetFreeListHead(pg, pager.NullPtr)
	leafSetTotalFreeListBytes(pg, 0)
}

func leafSetNumCells(pg *pager.Page, v uint32) { putU32(pg.Data[:], leafNumCellsOffset, v) }
func LeafNumCells(pg *pager.Page) uint32        { return getU32(pg.Data[:], leafNumCellsOffset) }

func leafSetAllocPtr(pg *pager.Page, v uint32) { putU32(pg.Data[:], leafAllocPtrOffset, v) }
func LeafAllocPtr(pg *pager.Page) uint32        { return getU32(pg.Data[:], leafAllocPtrOffset) }

func leafSetFreeListHead(pg *pager.Page, v uint32) {
	putU32(pg.Data[:], leafFreeListHeadOffset, v)
}
func LeafFreeListHead(pg *pager.Page) uint32 { return getU32(pg.Data[:], leafFreeListHeadOffset) }

func leafSetTotalFreeListBytes(pg *pager.Page, v uint32) {
	putU32(pg.Data[:], leafTotalFreeListBytesOffset, v)
}
func LeafTotalFreeListBytes(pg *pager.Page) uint32 {
	return getU32(pg.Data[:], leafTotalFreeListBytesOffset)
}

func leafCellPtrOffset(i uint32) int { return leafCellPtrArrayStart + int(i)*leafCellPtrSize }

func leafCellPtr(pg *pager.Page, i uint32) uint32 {
	return getU32(pg.Data[:], leafCellPtrOffset(i))
}

func leafSetCellPtr(pg *pager.Page, i, offset uint32) {
	putU32(pg.Data[:], leafCellPtrOffset(i), offset)
}

// cellSizeAt reads the key_size/data_size prefix of the cell physically
// located at byte offset `at` and returns its total size on the page.
func cellSizeAt(pg *pager.Page, at uint32) uint32 {
	keySize := getU32(pg.Data[:], int(at)+cellKeySizeOffset)
	dataSize := getU32(pg.Data[:], int(at)+cellDataSizeOffset)
	return cellHeaderSize + keySize + dataSize
}

// LeafCellSize returns the on-page size, in bytes, of the cell at logical
// index i.
func LeafCellSize(pg *pager.Page, i uint32) uint32 {
	return cellSizeAt(pg, leafCellPtr(pg, i))
}

// LeafKeyAt returns the fixed-width key of the cell at logical index i.
func LeafKeyAt(pg *pager.Page, i uint32) uint32 {
	off := leafCellPtr(pg, i)
	return getU32(pg.Data[:], int(off)+cellHeaderSize)
}

// LeafCellAt returns a defensive copy of the full cell bytes (including
// the key_size/data_size prefix) at logical index i.
func LeafCellAt(pg *pager.Page, i uint32) []byte {
	off := leafCellPtr(pg, i)
	size := cellSizeAt(pg, off)
	out := make([]byte, size)
	copy(out, pg.Data[off:uint32(off)+size])
	return out
}

// EncodeCell packs a key and opaque payload bytes into the documented cell
// prefix format. This is the one place a caller above the engine needs to
// know the wire shape of a cell; the B+tree itself only ever parses the
// key back out of cell bytes handed to it.
func EncodeCell(key uint32, data []byte) []byte {
	cell := make([]byte, cellHeaderSize+KeySize+len(data))
	putU32(cell, cellKeySizeOffset, KeySize)
	putU32(cell, cellDataSizeOffset, uint32(len(data)))
	putU32(cell, cellHeaderSize, key)
	copy(cell[cellHeaderSize+KeySize:], data)
	return cell
}

// CellPayload returns the data bytes of a cell, after its key_size,
// data_size and key fields.
func CellPayload(cell []byte) []byte {
	return cell[cellHeaderSize+KeySize:]
}

// DecodeCellKey parses the key out of a cell's prefix, validating that its
// declared key_size matches the fixed-width key this implementation
// understands (spec.md §3 "Cell").
func DecodeCellKey(cell []byte) (uint32, error) {
	if len(cell) < cellHeaderSize+KeySize {
		return 0, errors.New("btree: cell shorter than header+key")
	}
	keySize := getU32(cell, cellKeySizeOffset)
	if keySize != KeySize {
		return 0, errors.Errorf("btree: unsupported key_size %d (want %d)", keySize, KeySize)
	}
	dataSize := getU32(cell, cellDataSizeOffset)
	if uint32(len(cell)) != cellHeaderSize+keySize+dataSize {
		return 0, errors.New("btree: cell length does not match declared key/data sizes")
	}
	return getU32(cell, cellHeaderSize), nil
}

// LeafFindSlot binary-searches the cell-pointer array for key, returning
// the insertion slot (which is also the equality slot when key is
// present) and whether an exact match was found.
func LeafFindSlot(pg *pager.Page, key uint32) (slot uint32, found bool) {
	n := LeafNumCells(pg)
	lo, hi := uint32(0), n
	for lo < hi {
		mid := (lo + hi) / 2
		if LeafKeyAt(pg, mid) < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < n && LeafKeyAt(pg, lo) == key {
		return lo, true
	}
	return lo, false
}

// LeafFreeBytes reports how many bytes are immediately available in the
// contiguous allocation block between the cell-pointer array and
// alloc_ptr.
func LeafFreeBytes(pg *pager.Page) uint32 {
	headerEnd := uint32(leafCellPtrArrayStart) + LeafNumCells(pg)*leafCellPtrSize
	ap := LeafAllocPtr(pg)
	if ap < headerEnd {
		return 0
	}
	return ap - headerEnd
}

// LeafCanPlace reports whether a cell of the given size could be placed
// into pg (possibly after compaction), without regard to LeafMaxCells.
func LeafCanPlace(pg *pager.Page, cellSize uint32) bool {
	return LeafFreeBytes(pg)+LeafTotalFreeListBytes(pg) >= cellSize+leafCellPtrSize
}

// findFreeBlock walks the free list looking for the first block whose
// size is >= needed, unlinking and returning it. A freed block is
// consumed whole; there is no splitting of over-sized blocks (spec.md §9
// open question, resolved in SPEC_FULL.md §9: kept as-is).
func findFreeBlock(pg *pager.Page, needed uint32) (offset uint32, blockSize uint32, ok bool) {
	prev := pager.NullPtr
	cur := LeafFreeListHead(pg)
	for cur != pager.NullPtr {
		size := getU32(pg.Data[:], int(cur)+freeBlockSizeOffset)
		next := getU32(pg.Data[:], int(cur)+freeBlockNextOffset)
		if size >= needed {
			if prev == pager.NullPtr {
				leafSetFreeListHead(pg, next)
			} else {
				putU32(pg.Data[:], int(prev)+freeBlockNextOffset, next)
			}
			leafSetTotalFreeListBytes(pg, LeafTotalFreeListBytes(pg)-size)
			return cur, size, true
		}
		prev = cur
		cur = next
	}
	return 0, 0, false
}

// appendCell writes cellBytes into the allocation block (decrementing
// alloc_ptr) and appends its offset to the tail of the cell-pointer array.
// The caller is responsible for having verified the space is available;
// it is used both for plain in-place allocation and for building fresh
// pages during split/compaction, where capacity has already been checked.
func appendCell(pg *pager.Page, cellBytes []byte) {
	newAlloc := LeafAllocPtr(pg) - uint32(len(cellBytes))
	copy(pg.Data[newAlloc:], cellBytes)
	leafSetAllocPtr(pg, newAlloc)

	idx := LeafNumCells(pg)
	leafSetCellPtr(pg, idx, newAlloc)
	leafSetNumCells(pg, idx+1)
}

// insertCellPtrAt inserts offset into the cell-pointer array at slot,
// shifting later entries right, without touching num_cells (callers bump
// it themselves once bookkeeping elsewhere settles).
func insertCellPtrAt(pg *pager.Page, slot uint32, offset uint32) {
	n := LeafNumCells(pg)
	for i := n; i > slot; i-- {
		leafSetCellPtr(pg, i, leafCellPtr(pg, i-1))
	}
	leafSetCellPtr(pg, slot, offset)
}

// leafCompact rewrites the page from scratch: every live cell, in current
// key order, is packed contiguously from the top of the page down, and
// the free list is reset to empty. This reclaims the fragmentation caused
// by reusing free blocks whole (§9).
func leafCompact(pg *pager.Page) {
	cells := make([][]byte, LeafNumCells(pg))
	for i := range cells {
		cells[i] = LeafCellAt(pg, uint32(i))
	}
	root, parent := isRoot(pg), parentPageNum(pg)
	InitLeaf(pg, root, parent)
	for _, c := range cells {
		appendCell(pg, c)
	}
}

// LeafInsertAt places cellBytes at logical slot, following the
// allocation algorithm of spec.md §4.2: reuse a matching free block, else
// allocate from the alloc block, else compact and retry. It does not
// check LeafMaxCells or decide whether to split — callers do that first
// via LeafCanPlace and the cell-count tuning knob.
func LeafInsertAt(pg *pager.Page, slot uint32, cellBytes []byte) error {
	needed := uint32(len(cellBytes))

	// Every placement grows the cell-pointer array by one slot at
	// headerEnd, regardless of whether the cell itself lands in a
	// reused free block or fresh alloc-block space. That growth always
	// eats into the contiguous region between headerEnd and alloc_ptr,
	// so a free block can only be reused once that region also has room
	// for the new pointer (I4).
	if LeafFreeBytes(pg) >= leafCellPtrSize {
		if offset, _, ok := findFreeBlock(pg, needed); ok {
			copy(pg.Data[offset:], cellBytes)
			insertCellPtrAt(pg, slot, offset)
			leafSetNumCells(pg, LeafNumCells(pg)+1)
			return nil
		}
	}

	if LeafFreeBytes(pg) >= needed+leafCellPtrSize {
		newAlloc := LeafAllocPtr(pg) - needed
		copy(pg.Data[newAlloc:], cellBytes)
		leafSetAllocPtr(pg, newAlloc)
		insertCellPtrAt(pg, slot, newAlloc)
		leafSetNumCells(pg, LeafNumCells(pg)+1)
		return nil
	}

	if LeafFreeBytes(pg)+LeafTotalFreeListBytes(pg) >= needed+leafCellPtrSize {
		leafCompact(pg)
		if LeafFreeBytes(pg) < needed+leafCellPtrSize {
			return errors.New("btree: compaction did not free enough space")
		}
		newAlloc := LeafAllocPtr(pg) - needed
		copy(pg.Data[newAlloc:], cellBytes)
		leafSetAllocPtr(pg, newAlloc)
		insertCellPtrAt(pg, slot, newAlloc)
		leafSetNumCells(pg, LeafNumCells(pg)+1)
		return nil
	}

	return errors.New("btree: not enough space even after compaction")
}

// LeafDeleteAt deallocates the cell at logical slot and closes the gap in
// the cell-pointer array (spec.md §4.2 "Deallocation").
func LeafDeleteAt(pg *pager.Page, slot uint32) {
	offset := leafCellPtr(pg, slot)
	size := cellSizeAt(pg, offset)

	if offset == LeafAllocPtr(pg) {
		leafSetAllocPtr(pg, offset+size)
	} else {
		putU32(pg.Data[:], int(offset)+freeBlockSizeOffset, size)
		putU32(pg.Data[:], int(offset)+freeBlockNextOffset, LeafFreeListHead(pg))
		leafSetFreeListHead(pg, offset)
		leafSetTotalFreeListBytes(pg, LeafTotalFreeListBytes(pg)+size)
	}

	n := LeafNumCells(pg)
	for i := slot; i+1 < n; i++ {
		leafSetCellPtr(pg, i, leafCellPtr(pg, i+1))
	}
	leafSetNumCells(pg, n-1)
}

// LeafMaxKey returns the key of the rightmost (highest) cell, used for
// parent-key propagation and the subtree-max invariant (I2).
func LeafMaxKey(pg *pager.Page) uint32 {
	return LeafKeyAt(pg, LeafNumCells(pg)-1)
}
