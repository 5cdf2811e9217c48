package btree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// runAddDelStress mirrors original_source/learndb/stress.py's
// run_add_del_stress_test: insert every key, then delete keys one at a
// time, validating the tree and checking the surviving key set after
// each deletion.
func runAddDelStress(t *testing.T, insertKeys, delKeys []uint32) {
	t.Helper()
	_, tree := newTestTree(t)

	for _, k := range insertKeys {
		insertKey(t, tree, k)
	}
	require.NoError(t, tree.Validate())

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

func TestStressAddDelFixedCases(t *testing.T) {
	cases := []struct {
		insert []uint32
		del    []uint32
	}{
		{[]uint32{1, 2, 3, 4}, []uint32{1, 2, 3, 4}},
		{[]uint32{64, 5, 13, 82}, []uint32{64, 5, 13, 82}},
		{[]uint32{82, 13, 5, 2, 0}, []uint32{82, 13, 5, 2}},
		{[]uint32{10, 20, 30, 40, 50, 60, 70}, []uint32{40, 10, 70, 20, 60, 30, 50}},
		{[]uint32{72, 79, 96, 38, 47}, []uint32{96, 38, 72, 79, 47}},
		{
			[]uint32{432, 507, 311, 35, 246, 950, 956, 929, 769, 744, 994, 438},
			[]uint32{507, 35, 956, 769, 994, 432, 311, 246, 950, 929, 744, 438},
		},
	}
	for _, c := range cases {
		runAddDelStress(t, c.insert, c.del)
	}
}

func TestStressRandomPermutations(t *testing.T) {
	seeds := []int64{1, 2, 3, 42, 12345}
	for _, seed := range seeds {
		rng := rand.New(rand.NewSource(seed))

		n := 1 + rng.Intn(80)
		keys := make([]uint32, n)
		for i := range keys {
			keys[i] = uint32(i)
		}
		rng.Shuffle(n, func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

		delOrder := append([]uint32(nil), keys...)
		rng.Shuffle(n, func(i, j int) { delOrder[i], delOrder[j] = delOrder[j], delOrder[i] })

		runAddDelStress(t, keys, delOrder)
	}
}

func TestStressInsertDescendingThenDeleteAscending(t *testing.T) {
	var insert []uint32
	for k := uint32(50); k >= 1; k-- {
		insert = append(insert, k)
	}
	var del []uint32
	for k := uint32(1); k <= 50; k++ {
		del = append(del, k)
	}
	runAddDelStress(t, insert, del)
}
