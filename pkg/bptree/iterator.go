package bptree

import (
	"loamdb/pkg/buffer"
	"loamdb/pkg/disk"
	"loamdb/pkg/entry"
)

// Iterator is a forward cursor over the tree's leaf chain. It keeps its
// current leaf pinned and read-latched, so concurrent splits cannot pull the
// page out from under it; callers must Close the iterator to release it.
type Iterator struct {
	pool  *buffer.Pool
	frame *buffer.Frame // The current leaf. nil once the iterator is released.
	index int64         // Position within the current leaf.
}

func (it *Iterator) leaf() *leafNode {
	return asLeaf(treePage{it.frame})
}

// IsEnd reports whether the iterator has run off the last entry of the last
// leaf.
func (it *Iterator) IsEnd() bool {
	if it.frame == nil {
		return true
	}
	leaf := it.leaf()
	return it.index >= leaf.size() && leaf.next() == disk.InvalidPageID
}

// Entry returns the entry the iterator currently points at. Only valid when
// IsEnd is false.
func (it *Iterator) Entry() entry.Entry {
	return it.leaf().entryAt(it.index)
}

// Next advances the iterator by one entry, following the sibling chain onto
// the next leaf when the current one is exhausted.
func (it *Iterator) Next() error {
	if it.frame == nil {
		return nil
	}
	it.index++
	if it.index >= it.leaf().size() {
		return it.step()
	}
	return nil
}

// step hands the cursor over to the next leaf. The next leaf is latched
// before the current one is released, which keeps the chain reachable under
// concurrent splits.
func (it *Iterator) step() error {
	cur := it.leaf()
	nextID := cur.next()
	if nextID == disk.InvalidPageID {
		return nil
	}
	curID := cur.id()
	nextFrame, err := it.pool.FetchPage(nextID)
	if err != nil {
		return err
	}
	nextFrame.RLatch()
	it.frame.RUnlatch()
	err = it.pool.UnpinPage(curID, false)
	it.frame = nextFrame
	it.index = 0
	return err
}

// Close releases the latch and pin on the current leaf. Safe to call more
// than once.
func (it *Iterator) Close() {
	if it.frame == nil {
		return
	}
	pageID := it.frame.ID()
	it.frame.RUnlatch()
	it.pool.UnpinPage(pageID, false)
	it.frame = nil
}
