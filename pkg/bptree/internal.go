package bptree

import (
	"loamdb/pkg/buffer"
	"loamdb/pkg/disk"
	"loamdb/pkg/entry"
)

// internalNode is a typed view over an internal page: an array of (key,
// child page id) entries whose keys at indices 1..size-1 are strictly
// increasing. The key of entry 0 is an unused sentinel; its child holds
// everything below the first real key. Callers must verify the page-type tag
// before constructing the view.
type internalNode struct {
	treePage
}

func asInternal(p treePage) *internalNode {
	return &internalNode{p}
}

// initInternalNode formats the frame's bytes as an empty internal page.
func initInternalNode(frame *buffer.Frame, id, parent disk.PageID, maxSize int64) *internalNode {
	node := &internalNode{treePage{frame}}
	node.setTyp(internalPageType)
	node.setSize(0)
	node.setMaxSize(maxSize)
	node.setID(id)
	node.setParent(parent)
	return node
}

func keyPos(index int64) int64 {
	return pageHeaderSize + index*internalEntrySize
}

func childPos(index int64) int64 {
	return keyPos(index) + slotWidth
}

// keyAt returns the key at the given index.
func (node *internalNode) keyAt(index int64) int64 {
	return node.getSlot(keyPos(index))
}

// setKeyAt updates the key at the given index.
func (node *internalNode) setKeyAt(index int64, key int64) {
	node.putSlot(keyPos(index), key)
}

// childAt returns the child page id at the given index.
func (node *internalNode) childAt(index int64) disk.PageID {
	return disk.PageID(node.getSlot(childPos(index)))
}

// setChildAt updates the child page id at the given index.
func (node *internalNode) setChildAt(index int64, child disk.PageID) {
	node.putSlot(childPos(index), int64(child))
}

// valueIndex returns the index whose child page id equals the given id, or -1.
func (node *internalNode) valueIndex(child disk.PageID) int64 {
	for i := int64(0); i < node.size(); i++ {
		if node.childAt(i) == child {
			return i
		}
	}
	return -1
}

// shiftEntries moves the entries in [from, size) by delta positions.
func (node *internalNode) shiftEntries(from, delta int64) {
	size := node.size()
	src := node.frame.Data()[keyPos(from):keyPos(size)]
	dst := node.frame.Data()[keyPos(from+delta):keyPos(size+delta)]
	copy(dst, src)
}

// lookup returns the child page id to follow for the given key: the child of
// the greatest index in [1, size-1] whose key is <= key, or child 0 when all
// keys are greater.
func (node *internalNode) lookup(key int64, cmp entry.Compare) disk.PageID {
	lo, hi := int64(1), node.size()-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		if cmp(node.keyAt(mid), key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return node.childAt(lo - 1)
}

// populateNewRoot seeds a fresh root after the old root split: the old root
// becomes child 0 and the pushed-up key separates it from the new page.
func (node *internalNode) populateNewRoot(oldChild disk.PageID, key int64, newChild disk.PageID) {
	node.setChildAt(0, oldChild)
	node.setKeyAt(1, key)
	node.setChildAt(1, newChild)
	node.setSize(2)
}

// insertNodeAfter inserts (key, newChild) immediately after the entry whose
// child is oldChild, returning the new size.
func (node *internalNode) insertNodeAfter(oldChild disk.PageID, key int64, newChild disk.PageID) int64 {
	index := node.valueIndex(oldChild) + 1
	node.shiftEntries(index, 1)
	node.setKeyAt(index, key)
	node.setChildAt(index, newChild)
	node.setSize(node.size() + 1)
	return node.size()
}

// remove deletes the entry at the given index, keeping the array packed.
func (node *internalNode) remove(index int64) {
	node.shiftEntries(index+1, -1)
	node.setSize(node.size() - 1)
}

// removeAndReturnOnlyChild empties the node and returns its single child.
// Only called when collapsing a root of size 1.
func (node *internalNode) removeAndReturnOnlyChild() disk.PageID {
	child := node.childAt(0)
	node.setSize(0)
	return child
}

// moveHalfTo moves the upper half of this node's entries to the (empty)
// recipient, reparenting every moved child.
func (node *internalNode) moveHalfTo(recipient *internalNode, pool *buffer.Pool) error {
	size := node.size()
	splitAt := (node.maxSize() + 1) / 2
	for i := splitAt; i < size; i++ {
		recipient.setKeyAt(i-splitAt, node.keyAt(i))
		recipient.setChildAt(i-splitAt, node.childAt(i))
		if err := reparent(pool, node.childAt(i), recipient.id()); err != nil {
			return err
		}
	}
	recipient.setSize(size - splitAt)
	node.setSize(splitAt)
	return nil
}

// moveAllTo appends every entry of this node to the recipient (its left
// sibling), pulling the parent's separator down into the first moved key and
// reparenting every moved child.
func (node *internalNode) moveAllTo(recipient *internalNode, parentIndex int64, pool *buffer.Pool) error {
	parentFrame, err := pool.FetchPage(node.parent())
	if err != nil {
		return err
	}
	parent := asInternal(treePage{parentFrame})
	node.setKeyAt(0, parent.keyAt(parentIndex))
	if err := pool.UnpinPage(parent.id(), false); err != nil {
		return err
	}

	size := node.size()
	start := recipient.size()
	for i := int64(0); i < size; i++ {
		recipient.setKeyAt(start+i, node.keyAt(i))
		recipient.setChildAt(start+i, node.childAt(i))
		if err := reparent(pool, node.childAt(i), recipient.id()); err != nil {
			return err
		}
	}
	recipient.setSize(start + size)
	node.setSize(0)
	return nil
}

// moveFirstToEndOf moves this node's first entry to the recipient's tail,
// reparents the moved child, and rewrites the parent's separator for this
// node to its new first key.
func (node *internalNode) moveFirstToEndOf(recipient *internalNode, pool *buffer.Pool) error {
	key, child := node.keyAt(0), node.childAt(0)
	node.shiftEntries(1, -1)
	node.setSize(node.size() - 1)
	recipient.setKeyAt(recipient.size(), key)
	recipient.setChildAt(recipient.size(), child)
	recipient.setSize(recipient.size() + 1)
	if err := reparent(pool, child, recipient.id()); err != nil {
		return err
	}

	parentFrame, err := pool.FetchPage(node.parent())
	if err != nil {
		return err
	}
	parent := asInternal(treePage{parentFrame})
	parent.setKeyAt(parent.valueIndex(node.id()), node.keyAt(0))
	return pool.UnpinPage(parent.id(), true)
}

// moveLastToFrontOf moves this node's last entry to the recipient's head,
// reparents the moved child, and rewrites the parent's separator for the
// recipient to the moved key.
func (node *internalNode) moveLastToFrontOf(recipient *internalNode, parentIndex int64, pool *buffer.Pool) error {
	key, child := node.keyAt(node.size()-1), node.childAt(node.size()-1)
	node.setSize(node.size() - 1)
	recipient.shiftEntries(0, 1)
	recipient.setKeyAt(0, key)
	recipient.setChildAt(0, child)
	recipient.setSize(recipient.size() + 1)
	if err := reparent(pool, child, recipient.id()); err != nil {
		return err
	}

	parentFrame, err := pool.FetchPage(node.parent())
	if err != nil {
		return err
	}
	parent := asInternal(treePage{parentFrame})
	parent.setKeyAt(parentIndex, key)
	return pool.UnpinPage(parent.id(), true)
}
