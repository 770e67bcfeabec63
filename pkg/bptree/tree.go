// Package bptree implements a concurrent B+ tree index on top of the buffer
// pool. Point lookups, range iteration, insertion with recursive splits and
// deletion with redistribution or coalescing all run under the latch-crabbing
// protocol: latches are taken top-down and ancestors are released as soon as
// the current node is proven safe from structural change.
package bptree

import (
	"errors"
	"sync"

	"loamdb/pkg/buffer"
	"loamdb/pkg/disk"
	"loamdb/pkg/entry"

	"go.uber.org/zap"
)

// Error for when inserting a key that is already present.
var ErrDuplicateKey = errors.New("cannot insert duplicate key")

// Error for when the header page has no room for another index record.
var ErrHeaderFull = errors.New("header page is full")

// BPlusTree is a disk-backed B+ tree index over int64 keys. The root page id
// is persisted in the header page under the tree's name.
type BPlusTree struct {
	name            string
	rootID          disk.PageID // Guarded by rootLatch.
	pool            *buffer.Pool
	cmp             entry.Compare
	leafMaxSize     int64
	internalMaxSize int64
	// rootLatch orders above every page latch. It serializes reads of rootID
	// against root mutations; each operation's transaction counts how many
	// times it holds the latch so it is released exactly once.
	rootLatch sync.RWMutex
	log       *zap.Logger
}

// Option configures a BPlusTree.
type Option func(*BPlusTree)

// WithLeafMaxSize overrides the number of entries a leaf page holds. Tests
// use small values to force deep trees.
func WithLeafMaxSize(n int64) Option {
	return func(t *BPlusTree) { t.leafMaxSize = n }
}

// WithInternalMaxSize overrides the number of entries an internal page holds.
func WithInternalMaxSize(n int64) Option {
	return func(t *BPlusTree) { t.internalMaxSize = n }
}

// WithLogger sets the tree's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *BPlusTree) { t.log = logger }
}

// New constructs a BPlusTree named name on top of the given pool, restoring
// its root page id from the header page if the name is already recorded and
// registering it otherwise.
func New(name string, pool *buffer.Pool, cmp entry.Compare, opts ...Option) (*BPlusTree, error) {
	t := &BPlusTree{
		name:            name,
		rootID:          disk.InvalidPageID,
		pool:            pool,
		cmp:             cmp,
		leafMaxSize:     DefaultLeafMaxSize,
		internalMaxSize: DefaultInternalMaxSize,
		log:             zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	frame, err := pool.FetchPage(disk.HeaderPageID)
	if err != nil {
		return nil, err
	}
	frame.WLatch()
	header := disk.OpenHeaderPage(frame.Data())
	dirty := false
	if root, ok := header.FindRecord(name); ok {
		t.rootID = root
	} else {
		if !header.InsertRecord(name, disk.InvalidPageID) {
			frame.WUnlatch()
			pool.UnpinPage(disk.HeaderPageID, false)
			return nil, ErrHeaderFull
		}
		dirty = true
	}
	frame.WUnlatch()
	if err := pool.UnpinPage(disk.HeaderPageID, dirty); err != nil {
		return nil, err
	}
	return t, nil
}

// IsEmpty reports whether the tree has no root page.
func (t *BPlusTree) IsEmpty() bool {
	t.rootLatch.RLock()
	defer t.rootLatch.RUnlock()
	return t.rootID == disk.InvalidPageID
}

// GetValue returns the value stored for the given key.
func (t *BPlusTree) GetValue(key int64) (value int64, found bool, err error) {
	tx := newTransaction()
	leaf, err := t.findLeaf(key, false, opRead, tx)
	if err != nil {
		return 0, false, err
	}
	if leaf == nil {
		return 0, false, nil
	}
	value, found = leaf.lookup(key, t.cmp)
	t.freePages(false, tx)
	return value, found, nil
}

// Insert adds the key-value pair to the tree, returning ErrDuplicateKey when
// the key is already present.
func (t *BPlusTree) Insert(key, value int64) error {
	tx := newTransaction()
	for {
		t.lockRoot(true, tx)
		if t.rootID == disk.InvalidPageID {
			err := t.startNewTree(key, value)
			t.tryUnlockRoot(true, tx)
			return err
		}
		t.tryUnlockRoot(true, tx)
		inserted, err := t.insertIntoLeaf(key, value, tx)
		if err != nil || inserted {
			return err
		}
		// The tree emptied out between the root check and the descent; retry.
	}
}

// Remove deletes the entry with the given key. Removing an absent key is a
// no-op.
func (t *BPlusTree) Remove(key int64) error {
	tx := newTransaction()
	leaf, err := t.findLeaf(key, false, opDelete, tx)
	if err != nil {
		return err
	}
	if leaf == nil {
		return nil
	}
	size := leaf.removeAndDeleteRecord(key, t.cmp)
	if size < leaf.minSize() {
		if _, err := t.coalesceOrRedistribute(leaf.treePage, tx); err != nil {
			t.freePages(true, tx)
			return err
		}
	}
	t.freePages(true, tx)
	return nil
}

// Begin returns an iterator positioned at the tree's first entry.
func (t *BPlusTree) Begin() (*Iterator, error) {
	tx := newTransaction()
	leaf, err := t.findLeaf(0, true, opRead, tx)
	t.tryUnlockRoot(false, tx)
	if err != nil {
		return nil, err
	}
	if leaf == nil {
		return &Iterator{pool: t.pool}, nil
	}
	// The iterator takes over the leaf's latch and pin.
	tx.pages = tx.pages[:0]
	return &Iterator{pool: t.pool, frame: leaf.frame, index: 0}, nil
}

// BeginAt returns an iterator positioned at the first entry whose key is >=
// the given key.
func (t *BPlusTree) BeginAt(key int64) (*Iterator, error) {
	tx := newTransaction()
	leaf, err := t.findLeaf(key, false, opRead, tx)
	t.tryUnlockRoot(false, tx)
	if err != nil {
		return nil, err
	}
	if leaf == nil {
		return &Iterator{pool: t.pool}, nil
	}
	index := leaf.keyIndex(key, t.cmp)
	tx.pages = tx.pages[:0]
	it := &Iterator{pool: t.pool, frame: leaf.frame, index: index}
	if index >= asLeaf(treePage{it.frame}).size() {
		if err := it.step(); err != nil {
			it.Close()
			return nil, err
		}
	}
	return it, nil
}

// lockRoot acquires the root latch for this operation.
func (t *BPlusTree) lockRoot(exclusive bool, tx *transaction) {
	if exclusive {
		t.rootLatch.Lock()
	} else {
		t.rootLatch.RLock()
	}
	tx.rootLocked++
}

// tryUnlockRoot releases the root latch if this operation still holds it.
// The counter keeps an early-aborting operation from releasing twice.
func (t *BPlusTree) tryUnlockRoot(exclusive bool, tx *transaction) {
	if tx.rootLocked == 0 {
		return
	}
	tx.rootLocked--
	if exclusive {
		t.rootLatch.Unlock()
	} else {
		t.rootLatch.RUnlock()
	}
}

// findLeaf descends from the root to the leaf that owns the given key (or
// the leftmost leaf), crabbing latches per the operation type. Returns nil
// when the tree is empty. The leaf and every still-unsafe ancestor remain
// latched and pinned on the transaction's page set.
func (t *BPlusTree) findLeaf(key int64, leftMost bool, op opType, tx *transaction) (*leafNode, error) {
	exclusive := op != opRead
	t.lockRoot(exclusive, tx)
	if t.rootID == disk.InvalidPageID {
		t.tryUnlockRoot(exclusive, tx)
		return nil, nil
	}
	page, err := t.crabbingFetch(t.rootID, op, false, tx)
	if err != nil {
		t.tryUnlockRoot(exclusive, tx)
		return nil, err
	}
	for !page.isLeaf() {
		node := asInternal(page)
		var next disk.PageID
		if leftMost {
			next = node.childAt(0)
		} else {
			next = node.lookup(key, t.cmp)
		}
		page, err = t.crabbingFetch(next, op, true, tx)
		if err != nil {
			t.freePages(exclusive, tx)
			return nil, err
		}
	}
	return asLeaf(page), nil
}

// crabbingFetch fetches and latches the given page. Read descents always
// release the ancestors once the child is latched; structural descents only
// release them when the child cannot propagate a split or underflow upward.
func (t *BPlusTree) crabbingFetch(pageID disk.PageID, op opType, hasPrevious bool, tx *transaction) (treePage, error) {
	exclusive := op != opRead
	frame, err := t.pool.FetchPage(pageID)
	if err != nil {
		return treePage{}, err
	}
	if exclusive {
		frame.WLatch()
	} else {
		frame.RLatch()
	}
	page := treePage{frame}
	if hasPrevious && (!exclusive || page.isSafe(op)) {
		t.freePages(exclusive, tx)
	}
	tx.addPage(frame)
	return page, nil
}

// freePages releases the root latch (if still held) and every page on the
// transaction's page set: unlatch, unpin (dirty for structural operations)
// and delete the pages scheduled for deletion.
func (t *BPlusTree) freePages(exclusive bool, tx *transaction) {
	t.tryUnlockRoot(exclusive, tx)
	for _, frame := range tx.pages {
		pageID := frame.ID()
		if exclusive {
			frame.WUnlatch()
		} else {
			frame.RUnlatch()
		}
		t.pool.UnpinPage(pageID, exclusive)
		if _, ok := tx.deleted[pageID]; ok {
			if err := t.pool.DeletePage(pageID); err != nil {
				t.log.Warn("failed to delete page", zap.Int32("page", int32(pageID)), zap.Error(err))
			}
			delete(tx.deleted, pageID)
		}
	}
	tx.pages = tx.pages[:0]
}

// startNewTree creates a single-leaf root holding the first entry. The
// caller holds the root latch exclusively.
func (t *BPlusTree) startNewTree(key, value int64) error {
	frame, err := t.pool.NewPage()
	if err != nil {
		return err
	}
	root := initLeafNode(frame, frame.ID(), disk.InvalidPageID, t.leafMaxSize)
	root.insert(key, value, t.cmp)
	t.rootID = frame.ID()
	if err := t.updateRootRecord(); err != nil {
		t.pool.UnpinPage(frame.ID(), true)
		return err
	}
	return t.pool.UnpinPage(frame.ID(), true)
}

// insertIntoLeaf descends to the target leaf with insert crabbing and adds
// the entry, splitting on overflow. Returns false (with no error) when the
// tree turned out to be empty and the caller should retry.
func (t *BPlusTree) insertIntoLeaf(key, value int64, tx *transaction) (bool, error) {
	leaf, err := t.findLeaf(key, false, opInsert, tx)
	if err != nil {
		return false, err
	}
	if leaf == nil {
		return false, nil
	}
	if _, found := leaf.lookup(key, t.cmp); found {
		t.freePages(true, tx)
		return true, ErrDuplicateKey
	}
	leaf.insert(key, value, t.cmp)
	if leaf.size() > leaf.maxSize() {
		newLeaf, err := t.splitLeaf(leaf, tx)
		if err == nil {
			err = t.insertIntoParent(leaf.treePage, newLeaf.keyAt(0), newLeaf.treePage, tx)
		}
		if err != nil {
			t.freePages(true, tx)
			return false, err
		}
	}
	t.freePages(true, tx)
	return true, nil
}

// splitLeaf allocates a new leaf and moves the upper half of node's entries
// into it. The new page joins the transaction's page set latched.
func (t *BPlusTree) splitLeaf(node *leafNode, tx *transaction) (*leafNode, error) {
	frame, err := t.pool.NewPage()
	if err != nil {
		return nil, err
	}
	frame.WLatch()
	tx.addPage(frame)
	recipient := initLeafNode(frame, frame.ID(), node.parent(), t.leafMaxSize)
	node.moveHalfTo(recipient)
	t.log.Debug("split leaf",
		zap.Stringer("tx", tx.id),
		zap.Int32("page", int32(node.id())), zap.Int32("new", int32(recipient.id())))
	return recipient, nil
}

// splitInternal allocates a new internal page and moves the upper half of
// node's entries into it, reparenting the moved children.
func (t *BPlusTree) splitInternal(node *internalNode, tx *transaction) (*internalNode, error) {
	frame, err := t.pool.NewPage()
	if err != nil {
		return nil, err
	}
	frame.WLatch()
	tx.addPage(frame)
	recipient := initInternalNode(frame, frame.ID(), node.parent(), t.internalMaxSize)
	if err := node.moveHalfTo(recipient, t.pool); err != nil {
		return nil, err
	}
	t.log.Debug("split internal",
		zap.Stringer("tx", tx.id),
		zap.Int32("page", int32(node.id())), zap.Int32("new", int32(recipient.id())))
	return recipient, nil
}

// insertIntoParent hooks a freshly split-off page into the tree: the
// separator key and new page are inserted after the old page in their
// parent, growing a new root when the old page was the root and splitting
// the parent recursively when it overflows.
func (t *BPlusTree) insertIntoParent(oldNode treePage, key int64, newNode treePage, tx *transaction) error {
	if oldNode.isRoot() {
		frame, err := t.pool.NewPage()
		if err != nil {
			return err
		}
		root := initInternalNode(frame, frame.ID(), disk.InvalidPageID, t.internalMaxSize)
		root.populateNewRoot(oldNode.id(), key, newNode.id())
		oldNode.setParent(root.id())
		newNode.setParent(root.id())
		t.rootID = root.id()
		if err := t.updateRootRecord(); err != nil {
			t.pool.UnpinPage(root.id(), true)
			return err
		}
		return t.pool.UnpinPage(root.id(), true)
	}

	parentID := oldNode.parent()
	parentFrame, err := t.pool.FetchPage(parentID)
	if err != nil {
		return err
	}
	parent := asInternal(treePage{parentFrame})
	newNode.setParent(parentID)
	parent.insertNodeAfter(oldNode.id(), key, newNode.id())
	if parent.size() > parent.maxSize() {
		newParent, err := t.splitInternal(parent, tx)
		if err == nil {
			err = t.insertIntoParent(parent.treePage, newParent.keyAt(0), newParent.treePage, tx)
		}
		if err != nil {
			t.pool.UnpinPage(parentID, true)
			return err
		}
	}
	return t.pool.UnpinPage(parentID, true)
}

// coalesceOrRedistribute restores the fill invariant of an underflowing
// node, either by merging it with a sibling or by borrowing an entry from
// one. Returns whether a page was scheduled for deletion: the node itself,
// or its right sibling when the node absorbed it.
func (t *BPlusTree) coalesceOrRedistribute(node treePage, tx *transaction) (bool, error) {
	if node.isRoot() {
		deleted, err := t.adjustRoot(node)
		if err != nil {
			return false, err
		}
		if deleted {
			tx.scheduleDelete(node.id())
		}
		return deleted, nil
	}

	sibling, siblingIsRight, err := t.findSibling(node, tx)
	if err != nil {
		return false, err
	}
	parentFrame, err := t.pool.FetchPage(node.parent())
	if err != nil {
		return false, err
	}
	parent := asInternal(treePage{parentFrame})

	if node.size()+sibling.size() <= node.maxSize() {
		// Merge right into left. When the node's only neighbor is its right
		// sibling the roles swap so the merge target is still on the left.
		left, right := sibling, node
		if siblingIsRight {
			left, right = node, sibling
		}
		removeIndex := parent.valueIndex(right.id())
		err := t.coalesce(left, right, parent, removeIndex, tx)
		if uerr := t.pool.UnpinPage(parent.id(), true); err == nil {
			err = uerr
		}
		return true, err
	}

	index := parent.valueIndex(node.id())
	err = t.redistribute(sibling, node, index)
	if uerr := t.pool.UnpinPage(parent.id(), false); err == nil {
		err = uerr
	}
	return false, err
}

// findSibling latches and returns the node's left sibling, or its right
// sibling when the node is its parent's first child (reported by the second
// return value).
func (t *BPlusTree) findSibling(node treePage, tx *transaction) (treePage, bool, error) {
	parentFrame, err := t.pool.FetchPage(node.parent())
	if err != nil {
		return treePage{}, false, err
	}
	parent := asInternal(treePage{parentFrame})
	index := parent.valueIndex(node.id())
	siblingIndex := index - 1
	if index == 0 {
		siblingIndex = index + 1
	}
	siblingID := parent.childAt(siblingIndex)
	if err := t.pool.UnpinPage(parent.id(), false); err != nil {
		return treePage{}, false, err
	}
	sibling, err := t.crabbingFetch(siblingID, opDelete, false, tx)
	return sibling, index == 0, err
}

// coalesce moves everything from right into left, drops the separator entry
// for right from the parent and recurses when the parent underflows in turn.
func (t *BPlusTree) coalesce(left, right treePage, parent *internalNode, removeIndex int64, tx *transaction) error {
	if right.isLeaf() {
		asLeaf(right).moveAllTo(asLeaf(left))
	} else {
		if err := asInternal(right).moveAllTo(asInternal(left), removeIndex, t.pool); err != nil {
			return err
		}
	}
	tx.scheduleDelete(right.id())
	parent.remove(removeIndex)
	t.log.Debug("coalesced pages",
		zap.Stringer("tx", tx.id),
		zap.Int32("into", int32(left.id())), zap.Int32("deleted", int32(right.id())))
	// Strict underflow only: a parent sitting exactly at its minimum was a
	// safe node during the descent, so its own ancestors are already
	// unlatched and must not be touched.
	if parent.size() < parent.minSize() {
		_, err := t.coalesceOrRedistribute(parent.treePage, tx)
		return err
	}
	return nil
}

// redistribute borrows one entry from the sibling: its first entry when the
// node is the leftmost child, its last entry otherwise. The page routines
// rewrite the affected parent separator.
func (t *BPlusTree) redistribute(sibling, node treePage, index int64) error {
	if index == 0 {
		if node.isLeaf() {
			return asLeaf(sibling).moveFirstToEndOf(asLeaf(node), t.pool)
		}
		return asInternal(sibling).moveFirstToEndOf(asInternal(node), t.pool)
	}
	if node.isLeaf() {
		return asLeaf(sibling).moveLastToFrontOf(asLeaf(node), index, t.pool)
	}
	return asInternal(sibling).moveLastToFrontOf(asInternal(node), index, t.pool)
}

// adjustRoot handles underflow at the root: an empty leaf root empties the
// tree, and an internal root left with a single child promotes that child.
// Returns whether the old root page should be deleted.
func (t *BPlusTree) adjustRoot(root treePage) (bool, error) {
	if root.isLeaf() {
		if root.size() == 0 {
			t.rootID = disk.InvalidPageID
			return true, t.updateRootRecord()
		}
		return false, nil
	}
	if root.size() == 1 {
		t.rootID = asInternal(root).removeAndReturnOnlyChild()
		if err := t.updateRootRecord(); err != nil {
			return false, err
		}
		if err := reparent(t.pool, t.rootID, disk.InvalidPageID); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// updateRootRecord rewrites this tree's root page id in the header page.
// Called every time the root page id changes.
func (t *BPlusTree) updateRootRecord() error {
	frame, err := t.pool.FetchPage(disk.HeaderPageID)
	if err != nil {
		return err
	}
	frame.WLatch()
	disk.OpenHeaderPage(frame.Data()).UpdateRecord(t.name, t.rootID)
	frame.WUnlatch()
	return t.pool.UnpinPage(disk.HeaderPageID, true)
}
