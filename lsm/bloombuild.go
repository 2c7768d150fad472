package lsm

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// performBloom executes a BLOOM unit (spec §3 Lifecycle "Bloom", §4.4).
// bloom_busy is CAS'd from 0 to 1 so at most one worker ever builds a
// given chunk's filter concurrently; losing the race is a silent no-op,
// not an error, matching spec's "loss of the race skips the work".
func (t *Tree) performBloom(c *chunk) error {
	if !t.Active() {
		return ErrShutdown
	}
	if c == nil {
		return nil
	}
	if c.HasFlag(ChunkBloom) {
		return nil
	}
	if !c.HasFlag(ChunkOnDisk) {
		// bloom construction reads the durable file; re-queue implicitly
		// by returning nil once FLUSH catches up (FLUSH itself re-enqueues
		// BLOOM on completion).
		return nil
	}
	if t.isWorkDisabled(WorkBloom) {
		return nil
	}

	if !c.TryBloomBusy() {
		return nil
	}
	defer c.ClearBloomBusy()

	start := time.Now()
	entries, err := c.snapshot()
	if err != nil {
		return MarkTransient(errors.Wrap(err, "read chunk for bloom build"))
	}

	handle := newBloomHandle(t.cfg.BloomBitCount, t.cfg.BloomHashCount, uint64(len(entries)))
	for _, e := range entries {
		handle.insert(e.key)
	}

	bloomURI := fmt.Sprintf("chunk-%06d.bloom", c.ID)
	w, err := t.blocks.Create(bloomURI)
	if err != nil {
		return MarkTransient(errors.Wrap(err, "create bloom file"))
	}
	if err := handle.writeTo(w); err != nil {
		w.Close()
		return MarkTransient(errors.Wrap(err, "write bloom file"))
	}
	if err := w.Close(); err != nil {
		return MarkTransient(errors.Wrap(err, "close bloom file"))
	}

	c.BloomURI = bloomURI
	c.bloom = handle
	c.SetFlag(ChunkBloom)

	t.mu.Lock()
	t.modified.Store(true)
	perr := t.persistManifestLocked()
	t.mu.Unlock()
	if perr != nil {
		return MarkTransient(perr)
	}

	if t.metrics != nil {
		t.metrics.BloomDuration.Observe(time.Since(start).Seconds())
	}

	return nil
}
