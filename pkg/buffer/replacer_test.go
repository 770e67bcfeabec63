package buffer_test

import (
	"testing"

	"loamdb/pkg/buffer"

	"github.com/stretchr/testify/require"
)

func TestReplacerVictimOrder(t *testing.T) {
	lru := buffer.NewLRUReplacer()

	_, ok := lru.Victim()
	require.False(t, ok)

	lru.Insert(1)
	lru.Insert(2)
	lru.Insert(3)
	require.Equal(t, 3, lru.Size())

	// The least recently inserted frame is evicted first.
	v, ok := lru.Victim()
	require.True(t, ok)
	require.Equal(t, 1, v)
	v, ok = lru.Victim()
	require.True(t, ok)
	require.Equal(t, 2, v)
	v, ok = lru.Victim()
	require.True(t, ok)
	require.Equal(t, 3, v)
	require.Equal(t, 0, lru.Size())
}

func TestReplacerReinsert(t *testing.T) {
	lru := buffer.NewLRUReplacer()
	lru.Insert(1)
	lru.Insert(2)
	// Reinsertion promotes the frame back to the head, so 2 is now the
	// oldest candidate.
	lru.Insert(1)
	require.Equal(t, 2, lru.Size())

	v, ok := lru.Victim()
	require.True(t, ok)
	require.Equal(t, 2, v)
	v, ok = lru.Victim()
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestReplacerErase(t *testing.T) {
	lru := buffer.NewLRUReplacer()
	require.False(t, lru.Erase(7))

	lru.Insert(7)
	lru.Insert(8)
	require.True(t, lru.Erase(7))
	require.False(t, lru.Erase(7))
	require.Equal(t, 1, lru.Size())

	v, ok := lru.Victim()
	require.True(t, ok)
	require.Equal(t, 8, v)
}
