// Package btree implements the slotted-leaf / fixed-cell internal-node
// B+tree described by the storage engine's on-disk format: ordered
// key→cell mappings over pages obtained from a pager.Pager.
//
// Per the design note on separating file format from tuning knobs, this
// file holds only the FORMAT constants — byte offsets and sentinel values
// that must match on-disk files exactly and can never change without
// breaking compatibility. Tunables that affect fan-out but not
// interoperability live in tuning.go.
package btree

import (
	"encoding/binary"

	"github.com/spandanb/learndb-go/pager"
)

// NodeType discriminates a page interpreted as a B+tree node.
type NodeType uint32

const (
	NodeTypeInternal NodeType = 1
	NodeTypeLeaf     NodeType = 2
)

// Common node header, present on every node regardless of type.
const (
	commonNodeTypeOffset   = 0
	commonIsRootOffset     = 4
	commonParentPageOffset = 8
	commonHeaderSize       = 12
)

// Leaf node header (after the common header).
const (
	leafNumCellsOffset           = commonHeaderSize
	leafAllocPtrOffset           = leafNumCellsOffset + 4
	leafFreeListHeadOffset       = leafAllocPtrOffset + 4
	leafTotalFreeListBytesOffset = leafFreeListHeadOffset + 4
	leafHeaderSize               = leafTotalFreeListBytesOffset + 4
	leafCellPtrArrayStart        = leafHeaderSize
	leafCellPtrSize              = 4
)

// Leaf cell layout: [key_size:u32][data_size:u32][key_bytes][data_bytes].
const (
	cellKeySizeOffset  = 0
	cellDataSizeOffset = 4
	cellHeaderSize     = 8

	// KeySize is the fixed width, in bytes, of every cell's key. spec.md
	// documents the cell format as allowing a variable key_size field,
	// but fixes the interpreted key itself to a fixed-width unsigned
	// integer for this implementation (§3 "Cell").
	KeySize = 4
)

// Free block layout, written in place of a deallocated leaf cell:
// [block_size:u32][next_free_offset:u32].
const (
	freeBlockSizeOffset = 0
	freeBlockNextOffset = 4
	freeBlockHeaderSize = 8
)

// Internal node header (after the common header).
const (
	internalNumKeysOffset      = commonHeaderSize
	internalRightChildOffset   = internalNumKeysOffset + 4
	internalHasRightChildOffset = internalRightChildOffset + 4
	internalHeaderSize         = internalHasRightChildOffset + 4
)

// Internal cell layout: [child_page_num:u32][key:u32].
const (
	internalCellChildOffset = 0
	internalCellKeyOffset   = 4
	internalCellSize        = 8
)

var byteOrder = binary.LittleEndian

func getU32(d []byte, off int) uint32     { return byteOrder.Uint32(d[off : off+4]) }
func putU32(d []byte, off int, v uint32)  { byteOrder.PutUint32(d[off:off+4], v) }
func getBool(d []byte, off int) bool      { return getU32(d, off) != 0 }
func putBool(d []byte, off int, v bool) {
	if v {
		putU32(d, off, 1)
	} else {
		putU32(d, off, 0)
	}
}

// --- common header accessors ---

func nodeType(pg *pager.Page) NodeType { return NodeType(getU32(pg.Data[:], commonNodeTypeOffset)) }
func setNodeType(pg *pager.Page, t NodeType) {
	putU32(pg.Data[:], commonNodeTypeOffset, uint32(t))
}

func isRoot(pg *pager.Page) bool        { return getBool(pg.Data[:], commonIsRootOffset) }
func setIsRoot(pg *pager.Page, v bool)  { putBool(pg.Data[:], commonIsRootOffset, v) }

func parentPageNum(pg *pager.Page) uint32 { return getU32(pg.Data[:], commonParentPageOffset) }
func setParentPageNum(pg *pager.Page, v uint32) {
	putU32(pg.Data[:], commonParentPageOffset, v)
}
