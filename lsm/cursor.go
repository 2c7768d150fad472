package lsm

import (
	"sort"
	"sync/atomic"
)

// subCursor walks one chunk's snapshot in key order. entries is immutable
// for the lifetime of the sub-cursor (a fresh snapshot is taken whenever
// the owning MergedCursor rebuilds on structural invalidation).
type subCursor struct {
	c       *chunk
	entries []memEntry
	pos     int // -1 means exhausted/unpositioned
}

func newSubCursor(c *chunk) (*subCursor, error) {
	entries, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	return &subCursor{c: c, entries: entries, pos: -1}, nil
}

func (s *subCursor) valid() bool { return s.pos >= 0 && s.pos < len(s.entries) }

func (s *subCursor) key() []byte { return s.entries[s.pos].key }

func (s *subCursor) entry() memEntry { return s.entries[s.pos] }

func (s *subCursor) advance() {
	if s.pos < 0 {
		return
	}
	s.pos++
	if s.pos >= len(s.entries) {
		s.pos = -1
	}
}

func (s *subCursor) retreat() {
	if s.pos < 0 {
		return
	}
	s.pos--
	if s.pos < 0 {
		s.pos = -1
	}
}

// seekForward positions at the first entry >= key.
func (s *subCursor) seekForward(key []byte, cmp Collator) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return cmp.Compare(s.entries[i].key, key) >= 0
	})
	if i >= len(s.entries) {
		s.pos = -1
		return
	}
	s.pos = i
}

// seekStrictlyAfter positions at the first entry > key.
func (s *subCursor) seekStrictlyAfter(key []byte, cmp Collator) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return cmp.Compare(s.entries[i].key, key) > 0
	})
	if i >= len(s.entries) {
		s.pos = -1
		return
	}
	s.pos = i
}

// seekBackward positions at the last entry <= key.
func (s *subCursor) seekBackward(key []byte, cmp Collator) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return cmp.Compare(s.entries[i].key, key) > 0
	})
	i--
	if i < 0 {
		s.pos = -1
		return
	}
	s.pos = i
}

// seekStrictlyBefore positions at the last entry < key.
func (s *subCursor) seekStrictlyBefore(key []byte, cmp Collator) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return cmp.Compare(s.entries[i].key, key) >= 0
	})
	i--
	if i < 0 {
		s.pos = -1
		return
	}
	s.pos = i
}

func (s *subCursor) seekLast() {
	s.pos = len(s.entries) - 1
}

func (s *subCursor) seekFirst() {
	if len(s.entries) == 0 {
		s.pos = -1
		return
	}
	s.pos = 0
}

// MergedCursor implements spec §4.3: one sub-cursor per non-empty active
// chunk, newest first, structurally invalidated by dsk_gen and (if
// OPEN_SNAPSHOT) filtered by snapshot transaction id.
type MergedCursor struct {
	tree  *Tree
	flags uint32

	snapshotEnabled bool
	snapshotTxn     uint64

	dskGen uint64
	subs   []*subCursor

	currentIdx  int // index into subs of the last-returned position, -1 if none
	dir         CursorFlag
	lastKey     []byte
	lastGroup   []Entry // populated by step() when CursorMultiple is set
	needsReseek bool    // set on rebuild(): fresh sub-cursors must be repositioned

	closed bool
}

// OpenCursor opens a merged cursor over the tree (spec §4.3 "Contract").
func (t *Tree) OpenCursor(flags CursorFlag, txnID uint64) (*MergedCursor, error) {
	if !t.Active() {
		return nil, ErrClosed
	}

	c := &MergedCursor{tree: t, flags: uint32(flags), currentIdx: -1}

	if flags&OpenSnapshot != 0 {
		c.snapshotEnabled = true
		if txnID != 0 {
			c.snapshotTxn = txnID
		} else {
			c.snapshotTxn = atomic.LoadUint64(&t.txnSeq)
		}
	}

	if err := c.rebuild(); err != nil {
		return nil, err
	}
	c.flags |= uint32(CursorActive)
	return c, nil
}

// rebuild reconstructs the sub-cursor array from the tree's current active
// list under the tree read lock, recording the dsk_gen it was built
// against (spec §4.3 "Structural invalidation").
func (c *MergedCursor) rebuild() error {
	t := c.tree

	t.mu.RLock()
	active := t.store.snapshotActive()
	gen := t.DskGen()
	t.mu.RUnlock()

	subs := make([]*subCursor, 0, len(active))
	for i := len(active) - 1; i >= 0; i-- { // newest (primary) first
		ch := active[i]
		if ch.Empty() {
			continue
		}
		sc, err := newSubCursor(ch)
		if err != nil {
			for _, s := range subs {
				s.c.Unref()
			}
			return err
		}
		ch.Ref()
		subs = append(subs, sc)
	}

	c.releaseSubs()
	c.subs = subs
	c.dskGen = gen
	c.currentIdx = -1
	c.needsReseek = true
	return nil
}

// releaseSubs drops this cursor's chunk references before subs is
// replaced by a rebuild or the cursor closes. A chunk a cursor still
// walks must stay at refcnt > 0 so DROP defers it (spec §5 "Resource
// lifetime", §4.5).
func (c *MergedCursor) releaseSubs() {
	for _, sc := range c.subs {
		sc.c.Unref()
	}
}

func (c *MergedCursor) checkInvalidation() error {
	if c.tree.DskGen() != c.dskGen {
		return c.rebuild()
	}
	return nil
}

func (c *MergedCursor) visible(e memEntry) bool {
	return !c.snapshotEnabled || e.txnID <= c.snapshotTxn
}

// Search performs a point lookup (spec §4.3 "Point lookup"): iterate
// sub-cursors newest to oldest, consulting each chunk's Bloom filter
// first, stopping at the newest visible hit. A tombstone hit returns
// ErrDeleted; older chunks are not consulted for that key.
func (c *MergedCursor) Search(key []byte) ([]byte, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if err := c.checkInvalidation(); err != nil {
		return nil, err
	}

	metrics := c.tree.metrics
	for _, sc := range c.subs {
		if bh, err := sc.c.ensureBloom(); err == nil && bh != nil {
			if !bh.check(key) {
				if metrics != nil {
					metrics.BloomOutcomes.WithLabelValues("miss").Inc()
				}
				continue
			}
			if metrics != nil {
				metrics.BloomOutcomes.WithLabelValues("hit").Inc()
			}
		}

		sc.seekForward(key, c.tree.collator)
		if !sc.valid() || c.tree.collator.Compare(sc.key(), key) != 0 {
			sc.pos = -1
			continue
		}

		e := sc.entry()
		sc.pos = -1
		if !c.visible(e) {
			continue
		}
		if e.tombstone {
			return nil, ErrDeleted
		}
		return e.value, nil
	}

	return nil, ErrNotFound
}

// SearchNear positions on the closest match to key and reports the
// ordering relationship: -1 (positioned before key), 0 (exact), 1
// (positioned after key).
func (c *MergedCursor) SearchNear(key []byte) ([]byte, []byte, int, error) {
	if c.closed {
		return nil, nil, 0, ErrClosed
	}
	if err := c.checkInvalidation(); err != nil {
		return nil, nil, 0, err
	}

	if v, err := c.Search(key); err == nil {
		return key, v, 0, nil
	} else if err != ErrNotFound && err != ErrDeleted {
		return nil, nil, 0, err
	}

	for _, sc := range c.subs {
		sc.seekForward(key, c.tree.collator)
	}
	c.dir = IterateNext
	c.needsReseek = false // positions set above must not be replaced by a reseek
	c.currentIdx = -1
	if k, v, err := c.step(IterateNext); err == nil {
		return k, v, 1, nil
	}

	for _, sc := range c.subs {
		sc.seekBackward(key, c.tree.collator)
	}
	c.dir = IteratePrev
	c.currentIdx = -1
	if k, v, err := c.step(IteratePrev); err == nil {
		return k, v, -1, nil
	}

	return nil, nil, 0, ErrNotFound
}

// Next advances the cursor forward (spec §4.3 "Ordered iteration").
func (c *MergedCursor) Next() ([]byte, []byte, error) { return c.step(IterateNext) }

// Prev advances the cursor backward.
func (c *MergedCursor) Prev() ([]byte, []byte, error) { return c.step(IteratePrev) }

func (c *MergedCursor) step(dir CursorFlag) ([]byte, []byte, error) {
	if c.closed {
		return nil, nil, ErrClosed
	}
	if err := c.checkInvalidation(); err != nil {
		return nil, nil, err
	}

	if c.dir != dir || c.needsReseek {
		c.reseekForDirection(dir)
		c.needsReseek = false
	}
	c.dir = dir

	for {
		group, ok := c.minKeyGroup(dir)
		if !ok {
			c.currentIdx = -1
			return nil, nil, ErrNotFound
		}

		winner := -1
		var winnerEntry memEntry
		key := c.subs[group[0]].key()
		wantMultiple := c.flags&uint32(CursorMultiple) != 0
		var tied []Entry
		if wantMultiple {
			tied = make([]Entry, 0, len(group))
		}
		for _, i := range group {
			e := c.subs[i].entry()
			if !c.visible(e) {
				continue
			}
			if winner == -1 {
				winner = i
				winnerEntry = e
			}
			if wantMultiple {
				tied = append(tied, Entry{Key: e.key, Value: e.value, Tombstone: e.tombstone})
			}
		}

		for _, i := range group {
			if dir == IterateNext {
				c.subs[i].advance()
			} else {
				c.subs[i].retreat()
			}
		}

		if winner == -1 {
			continue // no visible entry shares this key; try the next one
		}

		if winnerEntry.tombstone && c.flags&uint32(CursorMinorMerge) == 0 {
			continue
		}

		c.currentIdx = winner
		c.lastKey = key
		if wantMultiple {
			c.lastGroup = tied
		}
		return winnerEntry.key, winnerEntry.value, nil
	}
}

// Multiple returns every visible entry tied at the cursor's current key
// across chunks (spec §4.3 "multiple" set), when opened with
// CursorMultiple. Empty otherwise, or before the first Next/Prev.
func (c *MergedCursor) Multiple() []Entry {
	return c.lastGroup
}

// Entry is one chunk's visible value for a key that multiple chunks share
// at the cursor's current position; see MergedCursor.Multiple.
type Entry struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// minKeyGroup finds every valid sub-cursor sharing the extremal
// (smallest for forward, largest for reverse) key, implementing the
// "multiple" set from spec §4.3.
func (c *MergedCursor) minKeyGroup(dir CursorFlag) ([]int, bool) {
	best := -1
	for i, sc := range c.subs {
		if !sc.valid() {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		cmp := c.tree.collator.Compare(sc.key(), c.subs[best].key())
		if dir == IterateNext && cmp < 0 {
			best = i
		} else if dir == IteratePrev && cmp > 0 {
			best = i
		}
	}
	if best == -1 {
		return nil, false
	}

	group := make([]int, 0, len(c.subs))
	for i, sc := range c.subs {
		if sc.valid() && c.tree.collator.Compare(sc.key(), c.subs[best].key()) == 0 {
			group = append(group, i)
		}
	}
	return group, true
}

// reseekForDirection repositions every sub-cursor for a change of
// direction or a post-rebuild resync. With no prior position it primes
// from the start/end; otherwise it reseeks relative to lastKey, which is
// also how a structurally invalidated cursor re-seeks to its last key
// after a rebuild (spec §4.3 "Structural invalidation").
func (c *MergedCursor) reseekForDirection(dir CursorFlag) {
	if c.lastKey == nil {
		for _, sc := range c.subs {
			if dir == IterateNext {
				sc.seekFirst()
			} else {
				sc.seekLast()
			}
		}
		return
	}

	for _, sc := range c.subs {
		if dir == IterateNext {
			sc.seekStrictlyAfter(c.lastKey, c.tree.collator)
		} else {
			sc.seekStrictlyBefore(c.lastKey, c.tree.collator)
		}
	}
}

// checkConflict enforces snapshot-isolated writes (spec §4.3 "Update
// layering", §7b): if a transaction newer than the cursor's snapshot has
// already committed a write for key, the write is rejected instead of
// silently clobbering it. A no-op on cursors opened without a snapshot.
func (c *MergedCursor) checkConflict(key []byte) error {
	if !c.snapshotEnabled {
		return nil
	}

	t := c.tree
	t.mu.RLock()
	active := t.store.snapshotActive()
	t.mu.RUnlock()

	for _, ch := range active {
		entries, err := ch.snapshot()
		if err != nil {
			return err
		}
		i := sort.Search(len(entries), func(i int) bool {
			return t.collator.Compare(entries[i].key, key) >= 0
		})
		if i < len(entries) && t.collator.Compare(entries[i].key, key) == 0 && entries[i].txnID > c.snapshotTxn {
			return ErrConflict
		}
	}
	return nil
}

// Insert writes to the primary through the cursor (spec §4.3 "Update
// layering"). Not permitted on a MERGE cursor.
func (c *MergedCursor) Insert(key, value []byte, txnID uint64) error {
	if c.flags&uint32(CursorMerge) != 0 {
		return ErrMergeCursor
	}
	if err := c.checkConflict(key); err != nil {
		return err
	}
	return c.tree.Insert(key, value, txnID)
}

// Update behaves like Insert; see Tree.Update.
func (c *MergedCursor) Update(key, value []byte, txnID uint64) error {
	if c.flags&uint32(CursorMerge) != 0 {
		return ErrMergeCursor
	}
	if err := c.checkConflict(key); err != nil {
		return err
	}
	return c.tree.Update(key, value, txnID)
}

// Remove writes a tombstone through the cursor.
func (c *MergedCursor) Remove(key []byte, txnID uint64) error {
	if c.flags&uint32(CursorMerge) != 0 {
		return ErrMergeCursor
	}
	if err := c.checkConflict(key); err != nil {
		return err
	}
	return c.tree.Remove(key, txnID)
}

// Reset drops the current position without releasing sub-cursor snapshots.
func (c *MergedCursor) Reset() {
	c.currentIdx = -1
	c.dir = 0
	c.lastKey = nil
	for _, sc := range c.subs {
		sc.pos = -1
	}
}

// Close releases the cursor's chunk references. Idempotent.
func (c *MergedCursor) Close() error {
	c.releaseSubs()
	c.closed = true
	c.subs = nil
	return nil
}
