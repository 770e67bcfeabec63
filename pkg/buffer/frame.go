package buffer

import (
	"sync"

	"loamdb/pkg/disk"
)

// Frame is a fixed in-memory slot holding one page's bytes plus bookkeeping.
// Frames live for the lifetime of their pool and are repurposed by eviction.
type Frame struct {
	id       int          // Index into the pool's frame array; never changes.
	pageID   disk.PageID  // The page currently held, or InvalidPageID.
	pinCount int          // Number of active references. Guarded by the pool mutex.
	dirty    bool         // Whether the bytes differ from disk. Guarded by the pool mutex.
	latch    sync.RWMutex // Reader-writer latch on the page bytes.
	data     []byte       // The actual PageSize bytes of the page.
}

// ID returns the id of the page this frame currently holds. The result is
// only stable while the caller holds a pin.
func (f *Frame) ID() disk.PageID {
	return f.pageID
}

// Data returns the page bytes held by the frame. Callers must hold the
// frame's latch while reading or writing them.
func (f *Frame) Data() []byte {
	return f.data
}

// reset clears the frame's metadata and zeroes its bytes, readying it for
// reuse. The pool mutex must be held.
func (f *Frame) reset() {
	f.pageID = disk.InvalidPageID
	f.pinCount = 0
	f.dirty = false
	for i := range f.data {
		f.data[i] = 0
	}
}

// WLatch grabs a writer latch on the frame's bytes.
func (f *Frame) WLatch() {
	f.latch.Lock()
}

// WUnlatch releases a writer latch.
func (f *Frame) WUnlatch() {
	f.latch.Unlock()
}

// RLatch grabs a reader latch on the frame's bytes.
func (f *Frame) RLatch() {
	f.latch.RLock()
}

// RUnlatch releases a reader latch.
func (f *Frame) RUnlatch() {
	f.latch.RUnlock()
}
