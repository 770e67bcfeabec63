package bptree

import (
	"fmt"
	"io"

	"loamdb/pkg/disk"
)

// Print writes a pretty-printed dump of the whole tree to the specified
// writer. Debug only; the tree must be quiescent while it runs.
func (t *BPlusTree) Print(w io.Writer) {
	t.rootLatch.RLock()
	defer t.rootLatch.RUnlock()
	if t.rootID == disk.InvalidPageID {
		io.WriteString(w, "empty tree\n")
		return
	}
	t.printPage(w, t.rootID, "", "")
}

func (t *BPlusTree) printPage(w io.Writer, pageID disk.PageID, firstPrefix string, prefix string) {
	frame, err := t.pool.FetchPage(pageID)
	if err != nil {
		return
	}
	defer t.pool.UnpinPage(pageID, false)
	page := treePage{frame}

	if page.isLeaf() {
		leaf := asLeaf(page)
		fmt.Fprintf(w, "%v[%v] Leaf size: %v\n", firstPrefix, leaf.id(), leaf.size())
		for i := int64(0); i < leaf.size(); i++ {
			e := leaf.entryAt(i)
			fmt.Fprintf(w, "%v |--> (%v, %v)\n", prefix, e.Key, e.Value)
		}
		if leaf.next() != disk.InvalidPageID {
			fmt.Fprintf(w, "%v |--> right sibling @ [%v]\n", prefix, leaf.next())
		}
		return
	}

	node := asInternal(page)
	fmt.Fprintf(w, "%v[%v] Internal size: %v\n", firstPrefix, node.id(), node.size())
	nextFirstPrefix := prefix + " |--> "
	nextPrefix := prefix + " |    "
	for i := int64(0); i < node.size(); i++ {
		t.printPage(w, node.childAt(i), nextFirstPrefix, nextPrefix)
		if i != node.size()-1 {
			fmt.Fprintf(w, "%v[KEY] %v\n", nextPrefix, node.keyAt(i+1))
		}
	}
}
