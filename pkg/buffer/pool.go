// Package buffer implements the fixed-capacity buffer pool mediating access
// to pages on the backing device: a fixed array of frames, a free list, an
// extendible-hash page table and an LRU eviction policy, with pin counting
// and dirty tracking per frame.
package buffer

import (
	"errors"
	"sync"

	"loamdb/pkg/config"
	"loamdb/pkg/disk"
	"loamdb/pkg/hash"
	"loamdb/pkg/list"

	"github.com/ncw/directio"
	"go.uber.org/zap"
)

// Error for when there is no free frame and no evictable candidate.
var ErrRanOutOfFrames = errors.New("no available frames")

// Error for when the requested page is not resident in the pool.
var ErrPageNotFound = errors.New("page not present in pool")

// Error for when unpinning a page whose pin count is already zero.
var ErrNotPinned = errors.New("page is not pinned")

// Error for when deleting a page that still has active references.
var ErrPagePinned = errors.New("page is still pinned")

// Error for operations on the invalid page id.
var ErrInvalidPage = errors.New("invalid page id")

// Pool is a buffer pool manager. It owns a fixed set of frames and mediates
// all page access through pin counting: every FetchPage/NewPage pins a frame
// and every pin must eventually be released with UnpinPage. Frames whose pin
// count is zero are eviction candidates.
//
// A single mutex serializes the public operations; disk io executes while
// holding it.
type Pool struct {
	mtx       sync.Mutex
	frames    []*Frame
	freeList  *list.List[*Frame]
	pageTable *hash.Directory[disk.PageID, int]
	replacer  *LRUReplacer
	disk      disk.Manager
	log       *zap.Logger
}

// NewPool constructs a Pool with the given number of frames on top of the
// given disk manager. A nil logger disables logging.
func NewPool(size int, dm disk.Manager, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool := &Pool{
		frames:   make([]*Frame, size),
		freeList: list.New[*Frame](),
		pageTable: hash.NewDirectory[disk.PageID, int](
			config.DefaultBucketVolume,
			func(id disk.PageID) uint64 { return hash.XxHasher(int64(id)) },
		),
		replacer: NewLRUReplacer(),
		disk:     dm,
		log:      logger,
	}
	// One aligned allocation backs every frame, as direct io requires.
	backing := directio.AlignedBlock(size * int(disk.PageSize))
	for i := 0; i < size; i++ {
		frame := &Frame{
			id:     i,
			pageID: disk.InvalidPageID,
			data:   backing[i*int(disk.PageSize) : (i+1)*int(disk.PageSize)],
		}
		pool.frames[i] = frame
		pool.freeList.PushTail(frame)
	}
	return pool
}

// PoolSize returns the number of frames the pool owns.
func (pool *Pool) PoolSize() int {
	return len(pool.frames)
}

// FetchPage returns a pinned frame holding the given page, reading it from
// disk if it is not already resident. Returns ErrRanOutOfFrames when every
// frame is pinned.
func (pool *Pool) FetchPage(pageID disk.PageID) (*Frame, error) {
	if pageID == disk.InvalidPageID {
		return nil, ErrInvalidPage
	}
	pool.mtx.Lock()
	defer pool.mtx.Unlock()

	if frameID, ok := pool.pageTable.Find(pageID); ok {
		frame := pool.frames[frameID]
		frame.pinCount++
		pool.replacer.Erase(frame.id)
		return frame, nil
	}

	frame, err := pool.findUnusedFrame()
	if err != nil {
		return nil, err
	}
	if err := pool.disk.ReadPage(pageID, frame.data); err != nil {
		pool.freeList.PushTail(frame)
		return nil, err
	}
	frame.pageID = pageID
	frame.pinCount = 1
	frame.dirty = false
	pool.pageTable.Insert(pageID, frame.id)
	return frame, nil
}

// UnpinPage releases one pin on the given page, marking the frame dirty when
// the dirty flag is set. Once the pin count reaches zero the frame becomes an
// eviction candidate. Fails when the page is not resident or not pinned.
func (pool *Pool) UnpinPage(pageID disk.PageID, dirty bool) error {
	pool.mtx.Lock()
	defer pool.mtx.Unlock()

	frameID, ok := pool.pageTable.Find(pageID)
	if !ok {
		return ErrPageNotFound
	}
	frame := pool.frames[frameID]
	if frame.pinCount <= 0 {
		return ErrNotPinned
	}
	frame.pinCount--
	if frame.pinCount == 0 {
		pool.replacer.Insert(frame.id)
	}
	if dirty {
		frame.dirty = true
	}
	return nil
}

// FlushPage writes the given page back to disk if it is resident and dirty.
func (pool *Pool) FlushPage(pageID disk.PageID) error {
	if pageID == disk.InvalidPageID {
		return ErrInvalidPage
	}
	pool.mtx.Lock()
	defer pool.mtx.Unlock()

	frameID, ok := pool.pageTable.Find(pageID)
	if !ok {
		return ErrPageNotFound
	}
	frame := pool.frames[frameID]
	if frame.dirty {
		if err := pool.disk.WritePage(frame.pageID, frame.data); err != nil {
			return err
		}
		frame.dirty = false
	}
	return nil
}

// FlushAllPages writes every dirty resident page back to disk.
func (pool *Pool) FlushAllPages() error {
	pool.mtx.Lock()
	defer pool.mtx.Unlock()
	for _, frame := range pool.frames {
		if frame.pageID == disk.InvalidPageID || !frame.dirty {
			continue
		}
		if err := pool.disk.WritePage(frame.pageID, frame.data); err != nil {
			return err
		}
		frame.dirty = false
	}
	return nil
}

// NewPage allocates a fresh page on disk and returns a pinned, zeroed frame
// holding it. Returns ErrRanOutOfFrames when every frame is pinned; no page
// is allocated on disk in that case.
func (pool *Pool) NewPage() (*Frame, error) {
	pool.mtx.Lock()
	defer pool.mtx.Unlock()

	frame, err := pool.findUnusedFrame()
	if err != nil {
		return nil, err
	}
	pageID := pool.disk.AllocatePage()
	frame.pageID = pageID
	frame.pinCount = 1
	// Marked dirty so the zeroed page reaches disk even if the caller never
	// writes to it.
	frame.dirty = true
	pool.pageTable.Insert(pageID, frame.id)
	pool.log.Debug("allocated page", zap.Int32("page", int32(pageID)))
	return frame, nil
}

// DeletePage evicts the given page from the pool, returns its frame to the
// free list and deallocates the page on disk. Fails with ErrPagePinned when
// the page still has active references; the page is not deallocated on that
// path. A page that is not resident is still deallocated on disk.
func (pool *Pool) DeletePage(pageID disk.PageID) error {
	pool.mtx.Lock()
	defer pool.mtx.Unlock()

	if frameID, ok := pool.pageTable.Find(pageID); ok {
		frame := pool.frames[frameID]
		if frame.pinCount > 0 {
			return ErrPagePinned
		}
		pool.replacer.Erase(frame.id)
		pool.pageTable.Remove(pageID)
		frame.reset()
		pool.freeList.PushTail(frame)
	}
	pool.disk.DeallocatePage(pageID)
	return nil
}

// CheckAllUnpinned reports whether every frame's pin count is zero. Used by
// integrity checks to audit that operations release every pin they take.
func (pool *Pool) CheckAllUnpinned() bool {
	pool.mtx.Lock()
	defer pool.mtx.Unlock()
	for _, frame := range pool.frames {
		if frame.pinCount != 0 {
			pool.log.Warn("frame still pinned",
				zap.Int("frame", frame.id),
				zap.Int32("page", int32(frame.pageID)),
				zap.Int("pins", frame.pinCount))
			return false
		}
	}
	return true
}

// findUnusedFrame claims a frame for reuse: the head of the free list if one
// exists, otherwise the replacer's victim. An evicted victim is written back
// if dirty and unhooked from the page table. The returned frame has cleared
// metadata; the caller fills in the page id and pin count. The pool mutex
// must be held.
func (pool *Pool) findUnusedFrame() (*Frame, error) {
	if link := pool.freeList.PeekHead(); link != nil {
		link.PopSelf()
		return link.GetValue(), nil
	}
	frameID, ok := pool.replacer.Victim()
	if !ok {
		return nil, ErrRanOutOfFrames
	}
	frame := pool.frames[frameID]
	if frame.dirty {
		if err := pool.disk.WritePage(frame.pageID, frame.data); err != nil {
			// Put the victim back rather than lose its bytes.
			pool.replacer.Insert(frame.id)
			return nil, err
		}
	}
	pool.log.Debug("evicted page", zap.Int32("page", int32(frame.pageID)))
	pool.pageTable.Remove(frame.pageID)
	frame.reset()
	return frame, nil
}
