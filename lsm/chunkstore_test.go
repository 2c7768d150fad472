package lsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkStore_AppendAndPrimary(t *testing.T) {
	s := newChunkStore()
	assert.Nil(t, s.primary())

	c1 := newChunk(1, nil)
	c2 := newChunk(2, nil)
	s.append(c1)
	s.append(c2)

	assert.Equal(t, c2, s.primary())
	assert.Equal(t, 2, s.nchunks())
}

func TestChunkStore_ReplaceRange(t *testing.T) {
	s := newChunkStore()
	c1, c2, c3, c4 := newChunk(1, nil), newChunk(2, nil), newChunk(3, nil), newChunk(4, nil)
	for _, c := range []*chunk{c1, c2, c3, c4} {
		c.SetFlag(ChunkMerging)
		s.append(c)
	}

	out := newChunk(5, nil)
	s.replaceRange(0, 2, out)

	assert.Equal(t, []*chunk{out, c3, c4}, s.active)
	assert.Equal(t, []*chunk{c1, c2}, s.old)
	assert.False(t, c1.HasFlag(ChunkMerging))
	assert.False(t, c2.HasFlag(ChunkMerging))
}

func TestChunkStore_RemoveFromOld(t *testing.T) {
	s := newChunkStore()
	c1, c2, c3 := newChunk(1, nil), newChunk(2, nil), newChunk(3, nil)
	s.old = []*chunk{c1, c2, c3}

	s.removeFromOld(1)
	assert.Equal(t, []*chunk{c1, c3}, s.old)
}

func TestChunkStore_Snapshots(t *testing.T) {
	s := newChunkStore()
	c1 := newChunk(1, nil)
	s.append(c1)
	s.old = append(s.old, newChunk(2, nil))

	activeSnap := s.snapshotActive()
	oldSnap := s.snapshotOld()

	assert.Equal(t, s.active, activeSnap)
	assert.Equal(t, s.old, oldSnap)

	s.append(newChunk(3, nil))
	assert.Len(t, activeSnap, 1, "snapshot must not observe later mutation")
}
