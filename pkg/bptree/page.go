package bptree

import (
	"encoding/binary"

	"loamdb/pkg/buffer"
	"loamdb/pkg/disk"
)

// pageType tags a tree page's layout.
type pageType byte

const (
	internalPageType pageType = 0
	leafPageType     pageType = 1
)

// opType identifies the tree operation a descent is performing. The crabbing
// protocol uses it to decide latch modes and node safety.
type opType int

const (
	opRead opType = iota
	opInsert
	opDelete
)

// treePage is a typed view over the bytes of a pinned frame, decoding the
// common page header. The frame's latch must be held (shared for reads,
// exclusive for writes) while a view is used.
type treePage struct {
	frame *buffer.Frame
}

func (p treePage) getSlot(offset int64) int64 {
	v, _ := binary.Varint(p.frame.Data()[offset : offset+slotWidth])
	return v
}

func (p treePage) putSlot(offset int64, v int64) {
	buf := make([]byte, slotWidth)
	binary.PutVarint(buf, v)
	copy(p.frame.Data()[offset:offset+slotWidth], buf)
}

func (p treePage) typ() pageType {
	return pageType(p.frame.Data()[pageTypeOffset])
}

func (p treePage) setTyp(t pageType) {
	p.frame.Data()[pageTypeOffset] = byte(t)
}

func (p treePage) isLeaf() bool {
	return p.typ() == leafPageType
}

func (p treePage) size() int64 {
	return p.getSlot(sizeOffset)
}

func (p treePage) setSize(n int64) {
	p.putSlot(sizeOffset, n)
}

func (p treePage) maxSize() int64 {
	return p.getSlot(maxSizeOffset)
}

func (p treePage) setMaxSize(n int64) {
	p.putSlot(maxSizeOffset, n)
}

func (p treePage) id() disk.PageID {
	return disk.PageID(p.getSlot(pageIDOffset))
}

func (p treePage) setID(id disk.PageID) {
	p.putSlot(pageIDOffset, int64(id))
}

func (p treePage) parent() disk.PageID {
	return disk.PageID(p.getSlot(parentOffset))
}

func (p treePage) setParent(id disk.PageID) {
	p.putSlot(parentOffset, int64(id))
}

func (p treePage) isRoot() bool {
	return p.parent() == disk.InvalidPageID
}

// minSize is the fill floor for non-root pages: half the capacity, with
// internal pages rounding up to account for the sentinel entry.
func (p treePage) minSize() int64 {
	if p.isLeaf() {
		return p.maxSize() / 2
	}
	return (p.maxSize() + 1) / 2
}

// isSafe reports whether the page cannot propagate a structural change for
// the given operation: an insert cannot split it, or a delete cannot
// underflow it. Read descents are always safe.
func (p treePage) isSafe(op opType) bool {
	switch op {
	case opInsert:
		return p.size() < p.maxSize()
	case opDelete:
		return p.size() > p.minSize()
	default:
		return true
	}
}

// reparent rewrites the parent pointer in the given child's page header.
// The child is fetched unlatched: callers only reparent while holding
// exclusive latches above it, so nothing else can reach the child.
func reparent(pool *buffer.Pool, child disk.PageID, parent disk.PageID) error {
	frame, err := pool.FetchPage(child)
	if err != nil {
		return err
	}
	treePage{frame}.setParent(parent)
	return pool.UnpinPage(child, true)
}
