// Package disk implements page allocation and page-granular file io for the
// storage engine. The buffer pool reads and writes frames exclusively through
// a Manager.
package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"loamdb/pkg/config"

	"github.com/bits-and-blooms/bitset"
	"github.com/ncw/directio"
	"go.uber.org/zap"
)

// PageSize is the size of an individual page in bytes.
const PageSize int64 = config.PageSize

// PageID identifies a logical page on the backing device.
type PageID int32

// InvalidPageID is the PageID for when there is no page being referenced.
const InvalidPageID PageID = -1

// HeaderPageID is reserved for the header page mapping index names to their
// root pages.
const HeaderPageID PageID = 0

// Error for when the backing file's size is not page aligned.
var ErrCorruptFile = errors.New("backing file has been corrupted")

// Manager hands out page identifiers and moves page-sized blocks between
// memory and the backing device.
type Manager interface {
	// AllocatePage reserves a page id for use.
	AllocatePage() PageID
	// DeallocatePage returns a page id to the allocator for reuse.
	DeallocatePage(id PageID)
	// ReadPage fills buf with the current content of the given page.
	ReadPage(id PageID, buf []byte) error
	// WritePage writes buf as the new content of the given page.
	WritePage(id PageID, buf []byte) error
}

// FileManager is a Manager backed by a single database file opened for
// direct io. Deallocated pages are tracked in a bitset and handed out again
// before the file is grown.
type FileManager struct {
	file     *os.File
	mtx      sync.Mutex     // Guards nextPage and freed.
	nextPage PageID         // The first page id beyond the end of the allocated space.
	freed    *bitset.BitSet // Page ids returned by DeallocatePage.
	log      *zap.Logger
}

// NewFileManager opens (or creates) the database file at the specified path.
// A nil logger disables logging.
func NewFileManager(path string, logger *zap.Logger) (*FileManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Create the necessary prerequisite directories.
	if idx := strings.LastIndex(path, "/"); idx != -1 {
		if err := os.MkdirAll(path[:idx], 0775); err != nil {
			return nil, err
		}
	}
	file, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.Size()%PageSize != 0 {
		file.Close()
		return nil, ErrCorruptFile
	}
	// Page 0 is always reserved for the header page, so allocation starts
	// at page 1 even on a fresh file.
	nextPage := PageID(info.Size() / PageSize)
	if nextPage < 1 {
		nextPage = 1
	}
	logger.Debug("opened database file",
		zap.String("path", path), zap.Int32("pages", int32(nextPage)))
	return &FileManager{
		file:     file,
		nextPage: nextPage,
		freed:    bitset.New(uint(nextPage)),
		log:      logger,
	}, nil
}

// FileName returns the file name/path of the manager's backing file.
func (fm *FileManager) FileName() string {
	return fm.file.Name()
}

// AllocatePage reserves and returns an unused page id, reusing the lowest
// deallocated page before extending the file.
func (fm *FileManager) AllocatePage() PageID {
	fm.mtx.Lock()
	defer fm.mtx.Unlock()
	if reuse, ok := fm.freed.NextSet(0); ok {
		fm.freed.Clear(reuse)
		fm.log.Debug("reused deallocated page", zap.Uint("page", reuse))
		return PageID(reuse)
	}
	id := fm.nextPage
	fm.nextPage++
	return id
}

// DeallocatePage marks the given page id as reusable. The header page and
// invalid ids are never recycled.
func (fm *FileManager) DeallocatePage(id PageID) {
	if id <= HeaderPageID {
		return
	}
	fm.mtx.Lock()
	defer fm.mtx.Unlock()
	fm.freed.Set(uint(id))
}

// ReadPage fills buf with the content of the given page. Reading a page that
// has never been written yields zeroes, so callers can fetch fresh pages
// without a prior write.
func (fm *FileManager) ReadPage(id PageID, buf []byte) error {
	if id == InvalidPageID {
		return fmt.Errorf("read of invalid page id")
	}
	if int64(len(buf)) != PageSize {
		return fmt.Errorf("read buffer holds %d bytes, want %d", len(buf), PageSize)
	}
	n, err := fm.file.ReadAt(buf, int64(id)*PageSize)
	if err != nil && err != io.EOF {
		return err
	}
	// Zero-fill the remainder when the page lies past the end of the file.
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// WritePage writes buf as the new content of the given page.
func (fm *FileManager) WritePage(id PageID, buf []byte) error {
	if id == InvalidPageID {
		return fmt.Errorf("write of invalid page id")
	}
	if int64(len(buf)) != PageSize {
		return fmt.Errorf("write buffer holds %d bytes, want %d", len(buf), PageSize)
	}
	_, err := fm.file.WriteAt(buf, int64(id)*PageSize)
	return err
}

// Close syncs and closes the backing file.
func (fm *FileManager) Close() error {
	if err := fm.file.Sync(); err != nil {
		fm.file.Close()
		return err
	}
	return fm.file.Close()
}
