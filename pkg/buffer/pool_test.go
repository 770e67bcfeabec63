package buffer_test

import (
	"os"
	"testing"

	"loamdb/pkg/buffer"
	"loamdb/pkg/disk"

	"github.com/ncw/directio"
	"github.com/stretchr/testify/require"
)

// setupPool creates a pool of the given size backed by a temporary database
// file that is cleaned up when the test ends.
func setupPool(t *testing.T, size int) (*buffer.Pool, *disk.FileManager) {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "*.db")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })

	dm, err := disk.NewFileManager(tmpfile.Name(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	return buffer.NewPool(size, dm, nil), dm
}

// fillPage writes a recognizable pattern into a frame's bytes.
func fillPage(frame *buffer.Frame, seed byte) {
	frame.WLatch()
	defer frame.WUnlatch()
	data := frame.Data()
	for i := range data {
		data[i] = seed
	}
}

func TestPoolNewPage(t *testing.T) {
	pool, _ := setupPool(t, 4)

	frame, err := pool.NewPage()
	require.NoError(t, err)
	require.NotEqual(t, disk.InvalidPageID, frame.ID())

	// New pages come back zeroed.
	for _, b := range frame.Data() {
		require.Zero(t, b)
	}
	require.NoError(t, pool.UnpinPage(frame.ID(), false))
}

func TestPoolFetchRoundTrip(t *testing.T) {
	pool, dm := setupPool(t, 4)

	frame, err := pool.NewPage()
	require.NoError(t, err)
	pageID := frame.ID()
	fillPage(frame, 0xAB)
	require.NoError(t, pool.UnpinPage(pageID, true))
	require.NoError(t, pool.FlushPage(pageID))

	// The flushed bytes must be on disk.
	buf := directio.AlignedBlock(int(disk.PageSize))
	require.NoError(t, dm.ReadPage(pageID, buf))
	for _, b := range buf {
		require.Equal(t, byte(0xAB), b)
	}

	// And fetching the page again yields the same bytes.
	frame, err = pool.FetchPage(pageID)
	require.NoError(t, err)
	for _, b := range frame.Data() {
		require.Equal(t, byte(0xAB), b)
	}
	require.NoError(t, pool.UnpinPage(pageID, false))
}

func TestPoolEvictionPreservesData(t *testing.T) {
	pool, _ := setupPool(t, 2)

	a, err := pool.NewPage()
	require.NoError(t, err)
	aID := a.ID()
	fillPage(a, 0x11)
	require.NoError(t, pool.UnpinPage(aID, true))

	b, err := pool.NewPage()
	require.NoError(t, err)
	fillPage(b, 0x22)
	require.NoError(t, pool.UnpinPage(b.ID(), true))

	// A third page forces the eviction of page a, writing it out first.
	c, err := pool.NewPage()
	require.NoError(t, err)
	require.NoError(t, pool.UnpinPage(c.ID(), false))

	a, err = pool.FetchPage(aID)
	require.NoError(t, err)
	for _, bte := range a.Data() {
		require.Equal(t, byte(0x11), bte)
	}
	require.NoError(t, pool.UnpinPage(aID, false))
}

func TestPoolRunsOutOfFrames(t *testing.T) {
	pool, _ := setupPool(t, 2)

	a, err := pool.NewPage()
	require.NoError(t, err)
	b, err := pool.NewPage()
	require.NoError(t, err)

	// Both frames pinned: no new page and no fetch of a non-resident page.
	_, err = pool.NewPage()
	require.ErrorIs(t, err, buffer.ErrRanOutOfFrames)
	_, err = pool.FetchPage(disk.PageID(100))
	require.ErrorIs(t, err, buffer.ErrRanOutOfFrames)

	// Unpinning one frame makes it available again.
	require.NoError(t, pool.UnpinPage(a.ID(), false))
	c, err := pool.NewPage()
	require.NoError(t, err)
	require.NoError(t, pool.UnpinPage(b.ID(), false))
	require.NoError(t, pool.UnpinPage(c.ID(), false))
}

func TestPoolUnpinErrors(t *testing.T) {
	pool, _ := setupPool(t, 4)

	require.ErrorIs(t, pool.UnpinPage(disk.PageID(42), false), buffer.ErrPageNotFound)

	frame, err := pool.NewPage()
	require.NoError(t, err)
	require.NoError(t, pool.UnpinPage(frame.ID(), false))
	require.ErrorIs(t, pool.UnpinPage(frame.ID(), false), buffer.ErrNotPinned)
}

func TestPoolFlushErrors(t *testing.T) {
	pool, _ := setupPool(t, 4)
	require.ErrorIs(t, pool.FlushPage(disk.InvalidPageID), buffer.ErrInvalidPage)
	require.ErrorIs(t, pool.FlushPage(disk.PageID(42)), buffer.ErrPageNotFound)
}

func TestPoolDeletePage(t *testing.T) {
	pool, _ := setupPool(t, 4)

	frame, err := pool.NewPage()
	require.NoError(t, err)
	pageID := frame.ID()

	// A pinned page cannot be deleted.
	require.ErrorIs(t, pool.DeletePage(pageID), buffer.ErrPagePinned)

	require.NoError(t, pool.UnpinPage(pageID, false))
	require.NoError(t, pool.DeletePage(pageID))

	// Deleting a page that is not resident still succeeds (the disk manager
	// is told regardless).
	require.NoError(t, pool.DeletePage(disk.PageID(77)))
}

func TestPoolPinAudit(t *testing.T) {
	pool, _ := setupPool(t, 4)
	require.True(t, pool.CheckAllUnpinned())

	frame, err := pool.NewPage()
	require.NoError(t, err)
	require.False(t, pool.CheckAllUnpinned())
	require.NoError(t, pool.UnpinPage(frame.ID(), false))
	require.True(t, pool.CheckAllUnpinned())
}
