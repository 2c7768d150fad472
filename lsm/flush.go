package lsm

import (
	"time"

	"github.com/pkg/errors"
)

// performFlush executes a FLUSH unit (spec §3 Lifecycle "Flush", §4.1
// "Bloom policy"): persists the chunk, sets ONDISK, and — policy
// permitting — enqueues a BLOOM unit. Idempotent: a chunk already ONDISK
// is a no-op (spec §7).
func (t *Tree) performFlush(c *chunk, force bool) error {
	if !t.Active() {
		return ErrShutdown
	}
	if c == nil {
		return nil
	}
	if c.HasFlag(ChunkOnDisk) {
		return nil
	}
	if t.isWorkDisabled(WorkFlush) && !force {
		return nil
	}

	start := time.Now()
	entries, err := c.snapshot()
	if err != nil {
		return MarkTransient(errors.Wrap(err, "snapshot chunk before flush"))
	}

	w, err := t.blocks.Create(c.URI)
	if err != nil {
		return MarkTransient(errors.Wrap(err, "create chunk file"))
	}

	if err := writeDiskChunk(w, entries); err != nil {
		w.Close()
		return MarkTransient(errors.Wrap(err, "write chunk data"))
	}
	if err := w.Close(); err != nil {
		return MarkTransient(errors.Wrap(err, "close chunk file"))
	}

	c.SetFlag(ChunkOnDisk)
	c.discardMemory()

	t.mu.Lock()
	isOldest := len(t.store.active) > 0 && t.store.active[0] == c
	t.modified.Store(true)
	perr := t.persistManifestLocked()
	t.mu.Unlock()
	if perr != nil {
		return MarkTransient(perr)
	}

	if t.metrics != nil {
		t.metrics.FlushDuration.Observe(time.Since(start).Seconds())
	}

	if t.shouldBloomOnFlush(isOldest) {
		t.manager.push(newChunkWorkUnit(WorkBloom, t, c))
	}

	return nil
}

// shouldBloomOnFlush implements the bloom policy bitfield from spec §4.1:
// BLOOM_OFF disables entirely, BLOOM_MERGED restricts bloom construction
// to merge outputs (only bloating the oldest active chunk too if
// BLOOM_OLDEST is also set), and the default builds a bloom on every
// chunk except the newest (a flushed chunk is by definition not the
// primary, so the default always applies here).
func (t *Tree) shouldBloomOnFlush(isOldestActive bool) bool {
	if t.cfg.Bloom&BloomOff != 0 {
		return false
	}
	if t.cfg.Bloom&BloomMerged != 0 {
		return t.cfg.Bloom&BloomOldest != 0 && isOldestActive
	}
	return true
}
