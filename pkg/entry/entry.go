// Package entry defines the fixed-width key-value pairs stored in index pages
// and the ordering used to compare their keys.
package entry

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Width of a serialized key or value in bytes.
const FieldWidth int64 = binary.MaxVarintLen64

// Width of a serialized entry in bytes.
const Width int64 = FieldWidth * 2

// Entry is a key-value pair representing one record in a leaf page.
type Entry struct {
	Key   int64
	Value int64
}

// New constructs and returns a new Entry with the specified key and value.
func New(key int64, value int64) Entry {
	return Entry{key, value}
}

// Marshal serializes a given entry into a fixed-width byte slice.
func (entry Entry) Marshal() []byte {
	newdata := make([]byte, Width)
	binary.PutVarint(newdata[:FieldWidth], entry.Key)
	binary.PutVarint(newdata[FieldWidth:], entry.Value)
	return newdata
}

// Unmarshal deserializes a fixed-width byte slice into an entry.
func Unmarshal(data []byte) Entry {
	k, _ := binary.Varint(data[:FieldWidth])
	v, _ := binary.Varint(data[FieldWidth:Width])
	return Entry{Key: k, Value: v}
}

// Compare defines a total order over keys. It returns a negative number when
// a sorts before b, zero when they are equal, and a positive number otherwise.
type Compare func(a, b int64) int

// CompareInts orders keys numerically.
func CompareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Print writes the entry to the specified writer in the following format: (<key>, <value>),
func (entry Entry) Print(w io.Writer) {
	fmt.Fprintf(w, "(%d, %d), ", entry.Key, entry.Value)
}
