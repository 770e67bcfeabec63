package buffer

import (
	"sync"

	"loamdb/pkg/list"
)

// LRUReplacer tracks the frames that are candidates for eviction, ie frames
// whose pin count has dropped to zero. The pool inserts a frame when its pin
// count falls to zero and erases it when the frame is pinned again, so a
// pinned frame is never picked as a victim.
//
// Insert, Victim and Erase are all O(1): recency is a doubly linked list with
// the most recent insertion at the head, and an auxiliary map from frame id
// to list link supports erasure from the middle.
type LRUReplacer struct {
	mtx   sync.Mutex
	order *list.List[int]
	links map[int]*list.Link[int]
}

// NewLRUReplacer creates an empty replacer.
func NewLRUReplacer() *LRUReplacer {
	return &LRUReplacer{
		order: list.New[int](),
		links: make(map[int]*list.Link[int]),
	}
}

// Insert adds the frame as the most recent eviction candidate. If the frame
// is already a candidate it is promoted to the head instead.
func (lru *LRUReplacer) Insert(frameID int) {
	lru.mtx.Lock()
	defer lru.mtx.Unlock()
	if link, ok := lru.links[frameID]; ok {
		link.PopSelf()
	}
	lru.links[frameID] = lru.order.PushHead(frameID)
}

// Victim removes and returns the least recently inserted candidate. Returns
// false when there are no candidates.
func (lru *LRUReplacer) Victim() (int, bool) {
	lru.mtx.Lock()
	defer lru.mtx.Unlock()
	tail := lru.order.PeekTail()
	if tail == nil {
		return 0, false
	}
	frameID := tail.GetValue()
	tail.PopSelf()
	delete(lru.links, frameID)
	return frameID, true
}

// Erase removes the frame from the candidate set, reporting whether it was a
// member.
func (lru *LRUReplacer) Erase(frameID int) bool {
	lru.mtx.Lock()
	defer lru.mtx.Unlock()
	link, ok := lru.links[frameID]
	if !ok {
		return false
	}
	link.PopSelf()
	delete(lru.links, frameID)
	return true
}

// Size returns the number of eviction candidates.
func (lru *LRUReplacer) Size() int {
	lru.mtx.Lock()
	defer lru.mtx.Unlock()
	return len(lru.links)
}
