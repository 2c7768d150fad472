package lsm

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// Close writes out any switched-out chunk whose FLUSH has not run yet,
// stops accepting new work for the tree, discards its queued work units,
// waits for in-flight writes, and persists a final manifest (spec §6
// "Tree admin"). The primary chunk's in-memory data is not written to
// disk.
func (t *Tree) Close() error {
	if !t.hasFlag(TreeOpen) {
		return nil
	}

	t.mu.RLock()
	pending := t.store.snapshotActive()
	t.mu.RUnlock()
	var flushErr error
	for _, c := range pending {
		if c.HasFlag(ChunkStable) && !c.HasFlag(ChunkOnDisk) {
			if err := t.performFlush(c, true); err != nil && flushErr == nil {
				flushErr = err
			}
		}
	}

	t.clearFlag(TreeActive)
	t.setFlagsAtomicRelease(TreeExclusive, true)
	t.manager.DropTree(t)
	t.inflight.Wait()

	t.mu.Lock()
	t.modified.Store(true)
	err := t.persistManifestLocked()
	t.mu.Unlock()

	if t.ownsManager {
		t.manager.Stop()
	}

	t.clearFlag(TreeOpen)
	if err == nil {
		err = flushErr
	}
	return err
}

// Compact requests an immediate switch (if the primary has data) followed
// by best-effort merge/drop passes, mirroring `compact` in spec §6. It
// runs synchronously on the calling goroutine rather than going through
// the worker pool queues, so callers get a bounded, explicit compaction
// rather than a queued hint.
func (t *Tree) Compact() error {
	if !t.Active() {
		return ErrClosed
	}

	t.setFlag(TreeCompacting)
	defer t.clearFlag(TreeCompacting)

	t.mu.RLock()
	primary := t.store.primary()
	t.mu.RUnlock()
	if primary != nil && primary.Count() > 0 {
		if err := t.performSwitch(true); err != nil {
			return err
		}
	}

	// Keep merging runs until the runs merged in this call add up to
	// merge_max chunks or more, or no eligible run is left.
	merged := 0
	for merged < int(t.cfg.MergeMax) {
		run := t.selectMergeRun()
		if run == nil {
			break
		}
		if err := t.performMerge(run); err != nil {
			return err
		}
		merged += len(run)
	}

	return t.performDrop()
}

// Truncate discards every chunk (moving them to old_chunks for DROP) and
// installs one new empty primary, without closing the tree (spec §4.1
// "expanded": `truncate` requires the tree open and ACTIVE).
func (t *Tree) Truncate() error {
	if !t.Active() {
		return ErrClosed
	}

	t.mu.Lock()
	discarded := t.store.snapshotActive()
	t.store.active = nil
	t.store.old = append(t.store.old, discarded...)

	id := atomic.AddUint32(&t.lastID, 1)
	t.store.append(t.newChunk(id))

	t.modified.Store(true)
	err := t.persistManifestLocked()
	t.bumpDskGen()
	t.mu.Unlock()

	if err != nil {
		return MarkTransient(err)
	}

	t.manager.push(newWorkUnit(WorkDrop, t))
	return nil
}

// DropTree permanently removes every chunk file, bloom file and the
// manifest itself. Requires the tree already closed (spec §4.1
// "expanded").
func (t *Tree) DropTree() error {
	if t.hasFlag(TreeOpen) {
		return errors.Wrap(ErrConfiguration, "drop_tree requires the tree closed")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	all := append(t.store.snapshotActive(), t.store.snapshotOld()...)
	var firstErr error
	for _, c := range all {
		if err := t.blocks.Remove(c.URI); err != nil && firstErr == nil {
			firstErr = err
		}
		if c.BloomURI != "" {
			if err := t.blocks.Remove(c.BloomURI); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := t.blocks.Remove("MANIFEST"); err != nil && firstErr == nil {
		firstErr = err
	}

	t.store = newChunkStore()
	return firstErr
}

// Stats is a point-in-time snapshot of a tree's statistics readout (spec
// §6 "Downstream", expanded in §4.1: the Go equivalent of WT_DSRC_STATS).
type Stats struct {
	NChunks    int
	NOldChunks int

	SwitchQueueDepth int
	AppQueueDepth    int
	MergeQueueDepth  int

	MergeAggressiveness uint32
	CkptThrottleMicros  int64
	MergeThrottleMicros int64
	ChunkFillMS         float64
}

// Statistics returns a Stats snapshot (spec §6 "statistics readout").
func (t *Tree) Statistics() Stats {
	t.mu.RLock()
	nchunks := t.store.nchunks()
	noldchunks := t.store.noldChunks()
	t.mu.RUnlock()

	sq, aq, mq := t.manager.QueueDepths()

	return Stats{
		NChunks:             nchunks,
		NOldChunks:          noldchunks,
		SwitchQueueDepth:    sq,
		AppQueueDepth:       aq,
		MergeQueueDepth:     mq,
		MergeAggressiveness: atomic.LoadUint32(&t.mergeAggressiveness),
		CkptThrottleMicros:  atomic.LoadInt64(&t.ckptThrottle),
		MergeThrottleMicros: atomic.LoadInt64(&t.mergeThrottle),
		ChunkFillMS:         loadFloat64(&t.chunkFillEWMA),
	}
}
