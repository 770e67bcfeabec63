package bptree

import (
	"loamdb/pkg/disk"
)

// Check verifies the structural invariants of the tree: all leaves at equal
// depth, keys in order and within their separator bounds, non-root pages at
// least half full, and no frame left pinned by a completed operation.
// Diagnostic only; the tree must be quiescent while it runs.
func (t *BPlusTree) Check() bool {
	t.rootLatch.RLock()
	defer t.rootLatch.RUnlock()
	if t.rootID == disk.InvalidPageID {
		return t.pool.CheckAllUnpinned()
	}
	balanced := t.depthOf(t.rootID) >= 0
	ordered := t.checkPage(t.rootID, nil, nil, true)
	unpinned := t.pool.CheckAllUnpinned()
	if !balanced {
		t.log.Warn("tree is unbalanced")
	}
	if !ordered {
		t.log.Warn("page order or size out of bounds")
	}
	if !unpinned {
		t.log.Warn("pages left pinned after operation")
	}
	return balanced && ordered && unpinned
}

// depthOf returns the distance from the given page down to its leaves, or -1
// when subtrees disagree on it.
func (t *BPlusTree) depthOf(pageID disk.PageID) int {
	frame, err := t.pool.FetchPage(pageID)
	if err != nil {
		return -1
	}
	page := treePage{frame}
	depth := 0
	if !page.isLeaf() {
		node := asInternal(page)
		first := t.depthOf(node.childAt(0))
		ok := first >= 0
		for i := int64(1); ok && i < node.size(); i++ {
			if t.depthOf(node.childAt(i)) != first {
				ok = false
			}
		}
		depth = first + 1
		if !ok {
			depth = -1
		}
	}
	t.pool.UnpinPage(pageID, false)
	return depth
}

// checkPage verifies ordering, separator bounds and size bounds for the
// subtree under the given page. low is an inclusive bound, high exclusive;
// nil means unbounded.
func (t *BPlusTree) checkPage(pageID disk.PageID, low, high *int64, isRoot bool) bool {
	frame, err := t.pool.FetchPage(pageID)
	if err != nil {
		return false
	}
	defer t.pool.UnpinPage(pageID, false)
	page := treePage{frame}
	size := page.size()
	if !isRoot && (size < page.minSize() || size > page.maxSize()) {
		return false
	}

	if page.isLeaf() {
		leaf := asLeaf(page)
		for i := int64(0); i < size; i++ {
			key := leaf.keyAt(i)
			if i > 0 && t.cmp(leaf.keyAt(i-1), key) >= 0 {
				return false
			}
			if low != nil && t.cmp(key, *low) < 0 {
				return false
			}
			if high != nil && t.cmp(key, *high) >= 0 {
				return false
			}
		}
		return true
	}

	node := asInternal(page)
	for i := int64(2); i < size; i++ {
		if t.cmp(node.keyAt(i-1), node.keyAt(i)) >= 0 {
			return false
		}
	}
	for i := int64(0); i < size; i++ {
		childLow, childHigh := low, high
		if i > 0 {
			k := node.keyAt(i)
			childLow = &k
		}
		if i < size-1 {
			k := node.keyAt(i + 1)
			childHigh = &k
		}
		if !t.checkPage(node.childAt(i), childLow, childHigh, false) {
			return false
		}
	}
	return true
}
