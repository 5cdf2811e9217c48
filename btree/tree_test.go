package btree

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spandanb/learndb-go/pager"
)

func newTestTree(t *testing.T) (*pager.Pager, *Tree) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tree_test.db")
	p, err := pager.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	tree, err := CreateTree(p)
	require.NoError(t, err)
	return p, tree
}

func insertKey(t *testing.T, tree *Tree, key uint32) {
	t.Helper()
	require.NoError(t, tree.Insert(EncodeCell(key, []byte("payload"))))
}

func scanKeys(t *testing.T, tree *Tree) []uint32 {
	t.Helper()
	cursor, err := tree.NewCursor()
	require.NoError(t, err)
	var out []uint32
	for cursor.Valid() {
		key, err := cursor.Key()
		require.NoError(t, err)
		out = append(out, key)
		ok, err := cursor.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
	}
	return out
}

func TestInsertFindSingleKey(t *testing.T) {
	_, tree := newTestTree(t)
	insertKey(t, tree, 7)

	leaf, slot, found, err := tree.Find(7)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, tree.RootPageNum(), leaf)
	require.Equal(t, uint32(0), slot)
}

func TestInsertDuplicateKeyFails(t *testing.T) {
	_, tree := newTestTree(t)
	insertKey(t, tree, 1)
	err := tree.Insert(EncodeCell(1, []byte("x")))
	require.ErrorIs(t, err, ErrDuplicateKey)
}

func TestInsertTriggersLeafSplit(t *testing.T) {
	_, tree := newTestTree(t)
	for _, k := range []uint32{1, 2, 3, 4, 5} {
		insertKey(t, tree, k)
	}
	require.NoError(t, tree.Validate())
	require.Equal(t, []uint32{1, 2, 3, 4, 5}, scanKeys(t, tree))
}

func TestInsertTriggersMultiLevelSplit(t *testing.T) {
	_, tree := newTestTree(t)
	var keys []uint32
	for k := uint32(1); k <= 60; k++ {
		keys = append(keys, k)
	}
	for _, k := range keys {
		insertKey(t, tree, k)
		require.NoError(t, tree.Validate())
	}
	require.Equal(t, keys, scanKeys(t, tree))
}

func TestInsertOutOfOrderKeys(t *testing.T) {
	_, tree := newTestTree(t)
	order := []uint32{50, 10, 80, 20, 70, 5, 60, 90, 30, 40}
	for _, k := range order {
		insertKey(t, tree, k)
		require.NoError(t, tree.Validate())
	}
	require.Equal(t, []uint32{5, 10, 20, 30, 40, 50, 60, 70, 80, 90}, scanKeys(t, tree))
}

func TestDeleteAbsentKeyIsNoop(t *testing.T) {
	_, tree := newTestTree(t)
	insertKey(t, tree, 1)
	require.NoError(t, tree.Delete(999))
	require.Equal(t, []uint32{1}, scanKeys(t, tree))
}

func TestDeleteFromRootLeaf(t *testing.T) {
	_, tree := newTestTree(t)
	insertKey(t, tree, 1)
	insertKey(t, tree, 2)
	require.NoError(t, tree.Delete(1))
	require.Equal(t, []uint32{2}, scanKeys(t, tree))
	require.NoError(t, tree.Validate())
}

func TestInsertDeleteManyPreservesOrder(t *testing.T) {
	_, tree := newTestTree(t)
	insertKeys := []uint32{1, 2, 3, 4, 64, 5, 13, 82, 10, 20, 30, 40, 50, 60, 70}
	for _, k := range insertKeys {
		insertKey(t, tree, k)
	}
	require.NoError(t, tree.Validate())

	delKeys := []uint32{82, 13, 5, 2, 0}
	remaining := make(map[uint32]bool)
	for _, k := range insertKeys {
		remaining[k] = true
	}

	for _, k := range delKeys {
		require.NoError(t, tree.Delete(k))
		delete(remaining, k)
		require.NoError(t, tree.Validate())

		var expected []uint32
		for rk := range remaining {
			expected = append(expected, rk)
		}
		require.ElementsMatch(t, expected, scanKeys(t, tree))
	}
}

func TestDeleteAllKeysCollapsesToEmptyLeafRoot(t *testing.T) {
	_, tree := newTestTree(t)
	var keys []uint32
	for k := uint32(1); k <= 30; k++ {
		keys = append(keys, k)
	}
	for _, k := range keys {
		insertKey(t, tree, k)
	}
	require.NoError(t, tree.Validate())

	for _, k := range keys {
		require.NoError(t, tree.Delete(k))
		require.NoError(t, tree.Validate())
	}
	require.Empty(t, scanKeys(t, tree))
}

func TestCellTooLargeRejected(t *testing.T) {
	_, tree := newTestTree(t)
	huge := make([]byte, LeafMaxCellSize()+1)
	err := tree.Insert(EncodeCell(1, huge))
	require.ErrorIs(t, err, ErrCellTooLarge)
}
