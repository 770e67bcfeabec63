package bptree

import (
	"os"
	"testing"

	"loamdb/pkg/buffer"
	"loamdb/pkg/disk"
	"loamdb/pkg/entry"

	"github.com/stretchr/testify/require"
)

// setupSmallTree builds a tree with fan-out 4 pages for structural tests.
func setupSmallTree(t *testing.T) *BPlusTree {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "*.db")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })

	dm, err := disk.NewFileManager(tmpfile.Name(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	pool := buffer.NewPool(10, dm, nil)
	index, err := New("test", pool, entry.CompareInts,
		WithLeafMaxSize(4), WithInternalMaxSize(4))
	require.NoError(t, err)
	return index
}

// rootIsLeaf reports whether the tree's root page is currently a leaf.
func rootIsLeaf(t *testing.T, index *BPlusTree) bool {
	t.Helper()
	frame, err := index.pool.FetchPage(index.rootID)
	require.NoError(t, err)
	leaf := treePage{frame}.isLeaf()
	require.NoError(t, index.pool.UnpinPage(index.rootID, false))
	return leaf
}

func TestRootGrowsAndCollapses(t *testing.T) {
	index := setupSmallTree(t)

	// Four entries fit in the root leaf.
	for k := int64(1); k <= 4; k++ {
		require.NoError(t, index.Insert(k, k))
	}
	require.True(t, rootIsLeaf(t, index))
	require.Equal(t, 0, index.depthOf(index.rootID))

	// Ten entries split the root: one internal level over the leaves.
	for k := int64(5); k <= 10; k++ {
		require.NoError(t, index.Insert(k, k))
	}
	require.False(t, rootIsLeaf(t, index))
	require.Equal(t, 1, index.depthOf(index.rootID))
	require.True(t, index.pool.CheckAllUnpinned())

	// Deleting back down to a few entries collapses the root to a leaf.
	for k := int64(1); k <= 8; k++ {
		require.NoError(t, index.Remove(k))
	}
	require.True(t, rootIsLeaf(t, index))
	require.Equal(t, 0, index.depthOf(index.rootID))
	require.True(t, index.pool.CheckAllUnpinned())
}

func TestPinAuditAfterEveryOperation(t *testing.T) {
	index := setupSmallTree(t)
	for k := int64(1); k <= 20; k++ {
		require.NoError(t, index.Insert(k, k))
		require.True(t, index.pool.CheckAllUnpinned(), "pins leaked after insert %d", k)
	}
	for k := int64(1); k <= 20; k++ {
		_, _, err := index.GetValue(k)
		require.NoError(t, err)
		require.True(t, index.pool.CheckAllUnpinned(), "pins leaked after lookup %d", k)
	}
	for k := int64(1); k <= 20; k++ {
		require.NoError(t, index.Remove(k))
		require.True(t, index.pool.CheckAllUnpinned(), "pins leaked after remove %d", k)
	}
	require.True(t, index.IsEmpty())
}
