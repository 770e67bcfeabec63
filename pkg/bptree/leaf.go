package bptree

import (
	"sort"

	"loamdb/pkg/buffer"
	"loamdb/pkg/disk"
	"loamdb/pkg/entry"
)

// leafNode is a typed view over a leaf page: a sorted array of key-value
// entries plus a link to the next leaf. Callers must verify the page-type tag
// before constructing the view.
type leafNode struct {
	treePage
}

func asLeaf(p treePage) *leafNode {
	return &leafNode{p}
}

// initLeafNode formats the frame's bytes as an empty leaf page.
func initLeafNode(frame *buffer.Frame, id, parent disk.PageID, maxSize int64) *leafNode {
	node := &leafNode{treePage{frame}}
	node.setTyp(leafPageType)
	node.setSize(0)
	node.setMaxSize(maxSize)
	node.setID(id)
	node.setParent(parent)
	node.setNext(disk.InvalidPageID)
	return node
}

// next returns the page id of the right sibling leaf.
func (node *leafNode) next() disk.PageID {
	return disk.PageID(node.getSlot(nextPageIDOffset))
}

func (node *leafNode) setNext(id disk.PageID) {
	node.putSlot(nextPageIDOffset, int64(id))
}

func entryPos(index int64) int64 {
	return leafHeaderSize + index*leafEntrySize
}

// entryAt returns the entry at the given index.
func (node *leafNode) entryAt(index int64) entry.Entry {
	pos := entryPos(index)
	return entry.Unmarshal(node.frame.Data()[pos : pos+leafEntrySize])
}

// setEntryAt writes the given entry at the given index.
func (node *leafNode) setEntryAt(index int64, e entry.Entry) {
	pos := entryPos(index)
	copy(node.frame.Data()[pos:pos+leafEntrySize], e.Marshal())
}

// keyAt returns the key at the given index.
func (node *leafNode) keyAt(index int64) int64 {
	return node.entryAt(index).Key
}

// shiftEntries moves the entries in [from, size) by delta positions, like a
// memmove over the packed entry array.
func (node *leafNode) shiftEntries(from, delta int64) {
	size := node.size()
	src := node.frame.Data()[entryPos(from):entryPos(size)]
	dst := node.frame.Data()[entryPos(from+delta):entryPos(size+delta)]
	copy(dst, src)
}

// keyIndex returns the first index whose key is >= the given key, or the
// node's size when no key satisfies this.
func (node *leafNode) keyIndex(key int64, cmp entry.Compare) int64 {
	return int64(sort.Search(int(node.size()), func(i int) bool {
		return cmp(node.keyAt(int64(i)), key) >= 0
	}))
}

// insert adds the key-value pair in sorted position and returns the new
// size. The tree rejects duplicates before calling, so the key is assumed
// absent.
func (node *leafNode) insert(key, value int64, cmp entry.Compare) int64 {
	size := node.size()
	if size == 0 || cmp(key, node.keyAt(size-1)) > 0 {
		node.setEntryAt(size, entry.New(key, value))
	} else {
		index := node.keyIndex(key, cmp)
		node.shiftEntries(index, 1)
		node.setEntryAt(index, entry.New(key, value))
	}
	node.setSize(size + 1)
	return size + 1
}

// lookup returns the value stored for the given key.
func (node *leafNode) lookup(key int64, cmp entry.Compare) (int64, bool) {
	size := node.size()
	if size == 0 || cmp(key, node.keyAt(0)) < 0 || cmp(key, node.keyAt(size-1)) > 0 {
		return 0, false
	}
	index := node.keyIndex(key, cmp)
	if index < size && cmp(node.keyAt(index), key) == 0 {
		return node.entryAt(index).Value, true
	}
	return 0, false
}

// removeAndDeleteRecord deletes the entry with the given key if present and
// returns the resulting size. A missing key is a no-op.
func (node *leafNode) removeAndDeleteRecord(key int64, cmp entry.Compare) int64 {
	size := node.size()
	if size == 0 || cmp(key, node.keyAt(0)) < 0 || cmp(key, node.keyAt(size-1)) > 0 {
		return size
	}
	index := node.keyIndex(key, cmp)
	if index >= size || cmp(node.keyAt(index), key) != 0 {
		return size
	}
	node.setSize(size - 1)
	src := node.frame.Data()[entryPos(index+1):entryPos(size)]
	dst := node.frame.Data()[entryPos(index):entryPos(size-1)]
	copy(dst, src)
	return size - 1
}

// moveHalfTo moves the upper half of this node's entries to the (empty)
// recipient and splices the recipient into the sibling chain after this node.
func (node *leafNode) moveHalfTo(recipient *leafNode) {
	size := node.size()
	splitAt := (node.maxSize() + 1) / 2
	for i := splitAt; i < size; i++ {
		recipient.setEntryAt(i-splitAt, node.entryAt(i))
	}
	recipient.setNext(node.next())
	node.setNext(recipient.id())
	recipient.setSize(size - splitAt)
	node.setSize(splitAt)
}

// moveAllTo appends every entry of this node to the recipient (its left
// sibling) and routes the sibling chain around this node.
func (node *leafNode) moveAllTo(recipient *leafNode) {
	size := node.size()
	start := recipient.size()
	for i := int64(0); i < size; i++ {
		recipient.setEntryAt(start+i, node.entryAt(i))
	}
	recipient.setSize(start + size)
	recipient.setNext(node.next())
	node.setSize(0)
}

// moveFirstToEndOf moves this node's first entry to the recipient's tail and
// rewrites the parent's separator for this node to its new first key.
func (node *leafNode) moveFirstToEndOf(recipient *leafNode, pool *buffer.Pool) error {
	item := node.entryAt(0)
	node.shiftEntries(1, -1)
	node.setSize(node.size() - 1)
	recipient.setEntryAt(recipient.size(), item)
	recipient.setSize(recipient.size() + 1)

	parentFrame, err := pool.FetchPage(node.parent())
	if err != nil {
		return err
	}
	parent := asInternal(treePage{parentFrame})
	parent.setKeyAt(parent.valueIndex(node.id()), node.keyAt(0))
	return pool.UnpinPage(parent.id(), true)
}

// moveLastToFrontOf moves this node's last entry to the recipient's head and
// rewrites the parent's separator for the recipient to the moved key.
func (node *leafNode) moveLastToFrontOf(recipient *leafNode, parentIndex int64, pool *buffer.Pool) error {
	item := node.entryAt(node.size() - 1)
	node.setSize(node.size() - 1)
	recipient.shiftEntries(0, 1)
	recipient.setEntryAt(0, item)
	recipient.setSize(recipient.size() + 1)

	parentFrame, err := pool.FetchPage(node.parent())
	if err != nil {
		return err
	}
	parent := asInternal(treePage{parentFrame})
	parent.setKeyAt(parentIndex, item.Key)
	return pool.UnpinPage(parent.id(), true)
}
