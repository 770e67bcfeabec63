package bptree

import (
	"github.com/google/uuid"

	"loamdb/pkg/buffer"
	"loamdb/pkg/disk"
)

// transaction tracks the pages a single tree operation has latched and
// pinned, in acquisition order, plus the pages it has scheduled for
// deletion. Each transaction is used by exactly one goroutine; the crabbing
// protocol releases its page set in batches as nodes are proven safe.
type transaction struct {
	id         uuid.UUID
	pages      []*buffer.Frame
	deleted    map[disk.PageID]struct{}
	rootLocked int // How many times this operation holds the root latch.
}

func newTransaction() *transaction {
	return &transaction{
		id:      uuid.New(),
		deleted: make(map[disk.PageID]struct{}),
	}
}

// addPage appends a latched, pinned frame to the page set.
func (tx *transaction) addPage(frame *buffer.Frame) {
	tx.pages = append(tx.pages, frame)
}

// scheduleDelete marks a page to be deleted once its latch and pin are
// released.
func (tx *transaction) scheduleDelete(pageID disk.PageID) {
	tx.deleted[pageID] = struct{}{}
}
