package lsm

// chunkStore holds the two ordered arrays described in spec §3: the
// active list (oldest -> newest, primary last) and the old-chunks holding
// area awaiting DROP. It has no lock of its own — every mutating method
// assumes the caller already holds the owning tree's write lock, and
// every read here assumes at least the read lock.
type chunkStore struct {
	active []*chunk
	old    []*chunk
}

func newChunkStore() *chunkStore {
	return &chunkStore{}
}

func (s *chunkStore) primary() *chunk {
	if len(s.active) == 0 {
		return nil
	}
	return s.active[len(s.active)-1]
}

func (s *chunkStore) nchunks() int { return len(s.active) }

func (s *chunkStore) noldChunks() int { return len(s.old) }

// append adds c as the new primary.
func (s *chunkStore) append(c *chunk) {
	s.active = append(s.active, c)
}

// replaceRange atomically swaps active[start:end] for a single merge
// output chunk, moving the originals into old_chunks with MERGING
// cleared (spec §3 Lifecycle, "Merge").
func (s *chunkStore) replaceRange(start, end int, out *chunk) {
	removed := make([]*chunk, end-start)
	copy(removed, s.active[start:end])

	rest := make([]*chunk, 0, len(s.active)-(end-start)+1)
	rest = append(rest, s.active[:start]...)
	rest = append(rest, out)
	rest = append(rest, s.active[end:]...)
	s.active = rest

	for _, c := range removed {
		c.ClearFlag(ChunkMerging)
		s.old = append(s.old, c)
	}
}

// removeFromOld deletes the old-chunks entry at idx after DROP has freed
// its files.
func (s *chunkStore) removeFromOld(idx int) {
	s.old = append(s.old[:idx], s.old[idx+1:]...)
}

// snapshotActive returns a shallow copy of the active list, safe to use
// after the caller releases the tree's lock (chunk pointers themselves
// are still governed by their own atomics/refcnt).
func (s *chunkStore) snapshotActive() []*chunk {
	out := make([]*chunk, len(s.active))
	copy(out, s.active)
	return out
}

func (s *chunkStore) snapshotOld() []*chunk {
	out := make([]*chunk, len(s.old))
	copy(out, s.old)
	return out
}
