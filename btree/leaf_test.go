package btree

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spandanb/learndb-go/pager"
)

func newTestPager(t *testing.T) *pager.Pager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leaf_test.db")
	p, err := pager.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func newLeafPage(t *testing.T, p *pager.Pager) (*pager.Page, uint32) {
	t.Helper()
	pn, err := p.AllocatePage()
	require.NoError(t, err)
	pg, err := p.GetPage(pn)
	require.NoError(t, err)
	InitLeaf(pg, true, pn)
	return pg, pn
}

func TestEncodeDecodeCellKey(t *testing.T) {
	cell := EncodeCell(42, []byte("hello"))
	key, err := DecodeCellKey(cell)
	require.NoError(t, err)
	require.Equal(t, uint32(42), key)
	require.Equal(t, []byte("hello"), CellPayload(cell))
}

func TestDecodeCellKeyRejectsTruncated(t *testing.T) {
	_, err := DecodeCellKey([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestLeafInsertAndFind(t *testing.T) {
	p := newTestPager(t)
	pg, _ := newLeafPage(t, p)

	for _, k := range []uint32{5, 1, 3} {
		slot, found := LeafFindSlot(pg, k)
		require.False(t, found)
		require.NoError(t, LeafInsertAt(pg, slot, EncodeCell(k, []byte("v"))))
	}

	require.Equal(t, uint32(3), LeafNumCells(pg))
	require.Equal(t, uint32(1), LeafKeyAt(pg, 0))
	require.Equal(t, uint32(3), LeafKeyAt(pg, 1))
	require.Equal(t, uint32(5), LeafKeyAt(pg, 2))

	slot, found := LeafFindSlot(pg, 3)
	require.True(t, found)
	require.Equal(t, uint32(1), slot)
}

func TestLeafDeleteAtAllocPtrReclaimsDirectly(t *testing.T) {
	p := newTestPager(t)
	pg, _ := newLeafPage(t, p)

	require.NoError(t, LeafInsertAt(pg, 0, EncodeCell(1, []byte("a"))))
	require.NoError(t, LeafInsertAt(pg, 1, EncodeCell(2, []byte("b"))))

	allocBefore := LeafAllocPtr(pg)
	LeafDeleteAt(pg, 1) // delete the most-recently-allocated cell
	require.Greater(t, LeafAllocPtr(pg), allocBefore)
	require.Equal(t, uint32(0), LeafTotalFreeListBytes(pg))
}

func TestLeafDeleteMiddleGoesToFreeList(t *testing.T) {
	p := newTestPager(t)
	pg, _ := newLeafPage(t, p)

	require.NoError(t, LeafInsertAt(pg, 0, EncodeCell(1, []byte("a"))))
	require.NoError(t, LeafInsertAt(pg, 1, EncodeCell(2, []byte("bb"))))
	require.NoError(t, LeafInsertAt(pg, 2, EncodeCell(3, []byte("c"))))

	LeafDeleteAt(pg, 0) // key 1 was allocated first, so it's not at alloc_ptr
	require.Equal(t, uint32(2), LeafNumCells(pg))
	require.NotEqual(t, pager.NullPtr, LeafFreeListHead(pg))
	require.Greater(t, LeafTotalFreeListBytes(pg), uint32(0))
}

func TestLeafInsertReusesFreedBlock(t *testing.T) {
	p := newTestPager(t)
	pg, _ := newLeafPage(t, p)

	require.NoError(t, LeafInsertAt(pg, 0, EncodeCell(1, []byte("aaaa"))))
	require.NoError(t, LeafInsertAt(pg, 1, EncodeCell(2, []byte("b"))))
	require.NoError(t, LeafInsertAt(pg, 2, EncodeCell(3, []byte("c"))))

	LeafDeleteAt(pg, 0)
	freeBytesBefore := LeafTotalFreeListBytes(pg)
	require.Greater(t, freeBytesBefore, uint32(0))

	slot, _ := LeafFindSlot(pg, 1)
	require.NoError(t, LeafInsertAt(pg, slot, EncodeCell(1, []byte("z"))))
	require.Less(t, LeafTotalFreeListBytes(pg), freeBytesBefore)
}

func TestLeafMaxKey(t *testing.T) {
	p := newTestPager(t)
	pg, _ := newLeafPage(t, p)
	for _, k := range []uint32{10, 20, 30} {
		slot, _ := LeafFindSlot(pg, k)
		require.NoError(t, LeafInsertAt(pg, slot, EncodeCell(k, nil)))
	}
	require.Equal(t, uint32(30), LeafMaxKey(pg))
}

func TestLeafCanPlaceRespectsCapacity(t *testing.T) {
	p := newTestPager(t)
	pg, _ := newLeafPage(t, p)
	require.True(t, LeafCanPlace(pg, 10))
	require.False(t, LeafCanPlace(pg, LeafMaxCellSize()+1))
}
