package btree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCursorEmptyTreeIsExhausted(t *testing.T) {
	_, tree := newTestTree(t)
	cursor, err := tree.NewCursor()
	require.NoError(t, err)
	require.False(t, cursor.Valid())
}

func TestCursorScansInOrderAcrossLeaves(t *testing.T) {
	_, tree := newTestTree(t)
	for _, k := range []uint32{5, 1, 9, 3, 7, 2, 8, 4, 6} {
		insertKey(t, tree, k)
	}
	require.Equal(t, []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9}, scanKeys(t, tree))
}

func TestCursorCellMatchesInserted(t *testing.T) {
	_, tree := newTestTree(t)
	require.NoError(t, tree.Insert(EncodeCell(1, []byte("abc"))))

	cursor, err := tree.NewCursor()
	require.NoError(t, err)
	require.True(t, cursor.Valid())

	cell, err := cursor.Cell()
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), CellPayload(cell))
}

func TestSeekFindsExistingKey(t *testing.T) {
	_, tree := newTestTree(t)
	for _, k := range []uint32{10, 20, 30} {
		insertKey(t, tree, k)
	}
	cursor, found, err := tree.Seek(20)
	require.NoError(t, err)
	require.True(t, found)
	key, err := cursor.Key()
	require.NoError(t, err)
	require.Equal(t, uint32(20), key)
}

func TestSeekMissingKeyPositionsAtInsertionSlot(t *testing.T) {
	_, tree := newTestTree(t)
	for _, k := range []uint32{10, 30} {
		insertKey(t, tree, k)
	}
	cursor, found, err := tree.Seek(20)
	require.NoError(t, err)
	require.False(t, found)
	require.True(t, cursor.Valid())
	key, err := cursor.Key()
	require.NoError(t, err)
	require.Equal(t, uint32(30), key)
}
