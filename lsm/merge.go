package lsm

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// selectMergeRun implements spec §4.1 "Merge selection": scan the active
// array (oldest first, excluding the primary) for a contiguous run whose
// length falls in [merge_min, merge_max], whose chunks share compatible
// generations, and whose combined size is <= chunk_max. Ties prefer the
// longest run, then the lowest minimum generation. Selection aborts
// (returns nil) if any candidate chunk is already MERGING.
func (t *Tree) selectMergeRun() []*chunk {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.store.active)
	if n < 2 {
		return nil
	}
	candidates := t.store.active[:n-1] // exclude the primary

	for _, c := range candidates {
		if c.HasFlag(ChunkMerging) {
			return nil
		}
	}

	genGap := uint32(atomic.LoadUint32(&t.mergeAggressiveness))

	type found struct {
		start, length int
		minGen        uint32
	}
	var best *found

	for start := range candidates {
		maxLen := t.cfg.MergeMax
		if start+int(maxLen) > len(candidates) {
			maxLen = uint(len(candidates) - start)
		}
		for length := maxLen; length >= t.cfg.MergeMin; length-- {
			if start+int(length) > len(candidates) {
				continue
			}
			window := candidates[start : start+int(length)]

			var size uint64
			minGen, maxGen := window[0].Generation, window[0].Generation
			for _, c := range window {
				size += uint64(c.Size())
				if c.Generation < minGen {
					minGen = c.Generation
				}
				if c.Generation > maxGen {
					maxGen = c.Generation
				}
			}

			if size > t.cfg.ChunkMax {
				continue
			}
			if maxGen-minGen > genGap {
				continue
			}

			if best == nil || int(length) > best.length ||
				(int(length) == best.length && minGen < best.minGen) {
				best = &found{start: start, length: int(length), minGen: minGen}
			}
			break // longest viable length for this start already found
		}
	}

	if best == nil {
		return nil
	}

	run := make([]*chunk, best.length)
	copy(run, candidates[best.start:best.start+best.length])
	return run
}

// performMerge executes a MERGE unit (spec §3 Lifecycle "Merge"). If run
// is nil (a generic maintenance hint rather than a pre-selected run), a
// fresh selection is made at execution time so it always reflects the
// current active array.
func (t *Tree) performMerge(run []*chunk) error {
	if !t.Active() {
		return ErrShutdown
	}
	if t.isWorkDisabled(WorkMerge) {
		return nil
	}

	if run == nil {
		run = t.selectMergeRun()
	}
	if len(run) == 0 {
		t.bumpMergeAggressiveness()
		return nil
	}

	for _, c := range run {
		c.SetFlag(ChunkMerging)
	}

	start := time.Now()
	merged, oldestIncluded, err := t.mergeInputs(run)
	if err != nil {
		for _, c := range run {
			c.ClearFlag(ChunkMerging)
		}
		return MarkTransient(err)
	}

	maxGen := run[0].Generation
	var totalSize int64
	for _, c := range run {
		if c.Generation > maxGen {
			maxGen = c.Generation
		}
		totalSize += c.Size()
	}

	newID := atomic.AddUint32(&t.lastID, 1)
	out := newChunk(newID, t.blocks)
	out.Generation = maxGen + 1
	out.mem = nil
	out.count = int64(len(merged))
	out.size = totalSize

	if !oldestIncluded {
		// tombstones must survive: nothing below this run's window is
		// necessarily shadowed by them yet (GLOSSARY "Tombstone").
	} else {
		merged = dropTombstones(merged)
	}

	w, err := t.blocks.Create(out.URI)
	if err != nil {
		for _, c := range run {
			c.ClearFlag(ChunkMerging)
		}
		return MarkTransient(errors.Wrap(err, "create merge output file"))
	}
	if err := writeDiskChunk(w, merged); err != nil {
		w.Close()
		for _, c := range run {
			c.ClearFlag(ChunkMerging)
		}
		return MarkTransient(errors.Wrap(err, "write merge output"))
	}
	if err := w.Close(); err != nil {
		return MarkTransient(errors.Wrap(err, "close merge output file"))
	}
	out.SetFlag(ChunkOnDisk)

	t.mu.Lock()
	startIdx, endIdx, ok := locateRun(t.store.active, run)
	if !ok {
		t.mu.Unlock()
		// the active array changed shape under us (shouldn't happen given
		// the MERGING guard, but fail safe by reverting and retrying later)
		for _, c := range run {
			c.ClearFlag(ChunkMerging)
		}
		return MarkTransient(errors.New("merge input chunks no longer contiguous"))
	}
	t.store.replaceRange(startIdx, endIdx, out)
	t.modified.Store(true)
	perr := t.persistManifestLocked()
	t.bumpDskGen()
	t.mu.Unlock()
	if perr != nil {
		return MarkTransient(perr)
	}

	atomic.StoreUint32(&t.mergeAggressiveness, 0)
	if t.metrics != nil {
		t.metrics.MergeDuration.Observe(time.Since(start).Seconds())
		t.metrics.MergeAggressiveness.Set(0)
	}

	t.manager.push(newWorkUnit(WorkDrop, t))

	if t.shouldBloomOnMerge() {
		t.manager.push(newChunkWorkUnit(WorkBloom, t, out))
	}

	return nil
}

func (t *Tree) bumpMergeAggressiveness() {
	next := atomic.AddUint32(&t.mergeAggressiveness, 1)
	if t.metrics != nil {
		t.metrics.MergeAggressiveness.Set(float64(next))
	}
}

// shouldBloomOnMerge: BLOOM_OFF disables everything; otherwise merge
// outputs always qualify, including under BLOOM_MERGED (spec §4.1).
func (t *Tree) shouldBloomOnMerge() bool {
	return t.cfg.Bloom&BloomOff == 0
}

// mergeInputs performs a k-way merge over run's snapshots, keeping the
// newest value per key (run is ordered oldest -> newest, so later wins),
// and reports whether the run includes the tree's current oldest active
// chunk (needed to decide tombstone retention, GLOSSARY "Tombstone").
func (t *Tree) mergeInputs(run []*chunk) ([]memEntry, bool, error) {
	t.mu.RLock()
	oldestIncluded := len(t.store.active) > 0 && len(run) > 0 && t.store.active[0] == run[0]
	t.mu.RUnlock()

	snapshots := make([][]memEntry, len(run))
	for i, c := range run {
		s, err := c.snapshot()
		if err != nil {
			return nil, false, errors.Wrapf(err, "snapshot chunk %d for merge", c.ID)
		}
		snapshots[i] = s
	}

	merged := kWayMergeNewestWins(snapshots, t.collator)
	return merged, oldestIncluded, nil
}

// kWayMergeNewestWins merges N sorted entry slices (oldest to newest) into
// one sorted slice, keeping only the newest occurrence of each key.
func kWayMergeNewestWins(lists [][]memEntry, cmp Collator) []memEntry {
	idx := make([]int, len(lists))
	var out []memEntry

	for {
		bestList := -1
		for i, l := range lists {
			if idx[i] >= len(l) {
				continue
			}
			if bestList == -1 || cmp.Compare(l[idx[i]].key, lists[bestList][idx[bestList]].key) < 0 {
				bestList = i
			}
		}
		if bestList == -1 {
			break
		}

		key := lists[bestList][idx[bestList]].key
		var winner memEntry
		found := false
		for i, l := range lists {
			if idx[i] >= len(l) {
				continue
			}
			if cmp.Compare(l[idx[i]].key, key) == 0 {
				winner = l[idx[i]] // later list (newer chunk) overwrites
				found = true
				idx[i]++
			}
		}
		if found {
			out = append(out, winner)
		}
	}

	return out
}

func dropTombstones(entries []memEntry) []memEntry {
	out := entries[:0]
	for _, e := range entries {
		if !e.tombstone {
			out = append(out, e)
		}
	}
	return out
}

// locateRun finds run's contiguous position inside active, comparing by
// pointer identity.
func locateRun(active []*chunk, run []*chunk) (start, end int, ok bool) {
	for start = 0; start+len(run) <= len(active); start++ {
		match := true
		for i, c := range run {
			if active[start+i] != c {
				match = false
				break
			}
		}
		if match {
			return start, start + len(run), true
		}
	}
	return 0, 0, false
}
