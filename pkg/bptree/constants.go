package bptree

import (
	"encoding/binary"

	"loamdb/pkg/disk"
	"loamdb/pkg/entry"
)

// Page header constants. Every tree page starts with a one byte page-type tag
// followed by fixed-width varint slots for its bookkeeping fields; leaves
// additionally store the page id of their right sibling. The entry arrays
// start right after the header at stable offsets.
const (
	pageTypeOffset int64 = 0
	pageTypeSize   int64 = 1
	slotWidth      int64 = binary.MaxVarintLen64
	sizeOffset     int64 = pageTypeOffset + pageTypeSize
	maxSizeOffset  int64 = sizeOffset + slotWidth
	pageIDOffset   int64 = maxSizeOffset + slotWidth
	parentOffset   int64 = pageIDOffset + slotWidth
	pageHeaderSize int64 = parentOffset + slotWidth
)

// Leaf page header constants.
const (
	nextPageIDOffset int64 = pageHeaderSize
	leafHeaderSize   int64 = nextPageIDOffset + slotWidth
	leafEntrySize    int64 = entry.Width
)

// Internal page entry constants. Each entry is a (key, child page id) pair;
// the key in entry 0 is an unused sentinel.
const internalEntrySize int64 = slotWidth * 2

// DefaultLeafMaxSize is the number of entries a leaf page holds when sized
// for a full page.
const DefaultLeafMaxSize int64 = (disk.PageSize-leafHeaderSize)/leafEntrySize - 1

// DefaultInternalMaxSize is the number of (key, child) entries an internal
// page holds when sized for a full page.
const DefaultInternalMaxSize int64 = (disk.PageSize-pageHeaderSize)/internalEntrySize - 1
