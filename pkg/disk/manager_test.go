package disk_test

import (
	"os"
	"testing"

	"loamdb/pkg/disk"

	"github.com/ncw/directio"
	"github.com/stretchr/testify/require"
)

func setupManager(t *testing.T) *disk.FileManager {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "*.db")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })

	dm, err := disk.NewFileManager(tmpfile.Name(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })
	return dm
}

func TestAllocatePage(t *testing.T) {
	dm := setupManager(t)

	// Page 0 is reserved for the header page.
	first := dm.AllocatePage()
	require.EqualValues(t, 1, first)
	require.EqualValues(t, 2, dm.AllocatePage())
	require.EqualValues(t, 3, dm.AllocatePage())

	// Deallocated pages are reused before the file grows.
	dm.DeallocatePage(2)
	require.EqualValues(t, 2, dm.AllocatePage())
	require.EqualValues(t, 4, dm.AllocatePage())

	// The header page and the invalid id are never recycled.
	dm.DeallocatePage(disk.HeaderPageID)
	dm.DeallocatePage(disk.InvalidPageID)
	require.EqualValues(t, 5, dm.AllocatePage())
}

func TestReadWritePage(t *testing.T) {
	dm := setupManager(t)
	id := dm.AllocatePage()

	out := directio.AlignedBlock(int(disk.PageSize))
	for i := range out {
		out[i] = 0x5C
	}
	require.NoError(t, dm.WritePage(id, out))

	in := directio.AlignedBlock(int(disk.PageSize))
	require.NoError(t, dm.ReadPage(id, in))
	require.Equal(t, out, in)
}

func TestReadFreshPageIsZeroed(t *testing.T) {
	dm := setupManager(t)
	id := dm.AllocatePage()

	buf := directio.AlignedBlock(int(disk.PageSize))
	for i := range buf {
		buf[i] = 0xFF
	}
	require.NoError(t, dm.ReadPage(id, buf))
	for _, b := range buf {
		require.Zero(t, b)
	}
}

func TestReadWriteValidation(t *testing.T) {
	dm := setupManager(t)
	require.Error(t, dm.ReadPage(disk.InvalidPageID, make([]byte, disk.PageSize)))
	require.Error(t, dm.WritePage(disk.InvalidPageID, make([]byte, disk.PageSize)))
	require.Error(t, dm.ReadPage(1, make([]byte, 10)))
	require.Error(t, dm.WritePage(1, make([]byte, 10)))
}

func TestHeaderPageRecords(t *testing.T) {
	data := make([]byte, disk.PageSize)
	header := disk.OpenHeaderPage(data)
	require.EqualValues(t, 0, header.NumRecords())

	_, found := header.FindRecord("orders")
	require.False(t, found)

	require.True(t, header.InsertRecord("orders", 3))
	require.True(t, header.InsertRecord("users", 9))
	require.EqualValues(t, 2, header.NumRecords())

	root, found := header.FindRecord("orders")
	require.True(t, found)
	require.EqualValues(t, 3, root)

	// Duplicate names are rejected; updates rewrite in place.
	require.False(t, header.InsertRecord("orders", 5))
	require.True(t, header.UpdateRecord("orders", 12))
	root, _ = header.FindRecord("orders")
	require.EqualValues(t, 12, root)

	require.False(t, header.UpdateRecord("missing", 1))

	// The view decodes the same bytes it wrote.
	reopened := disk.OpenHeaderPage(data)
	root, found = reopened.FindRecord("users")
	require.True(t, found)
	require.EqualValues(t, 9, root)
}
