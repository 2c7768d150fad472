package lsm

import (
	"sync/atomic"
	"time"
)

// performSwitch executes a SWITCH unit (spec §3 Lifecycle "Switch out",
// §4.1 "Write path"): the current primary acquires its switch_txn and
// becomes STABLE, a fresh primary is created, and a FLUSH unit is
// enqueued for the sealed chunk. Idempotent per spec §7: a SWITCH unit
// that finds the primary already sealed is a no-op, and without force so
// is one that arrives after NEED_SWITCH was cleared. A forced switch seals
// whatever the current primary is, even an empty one.
func (t *Tree) performSwitch(force bool) error {
	if !t.Active() {
		return ErrShutdown
	}

	t.mu.Lock()

	if !force && !t.hasFlag(TreeNeedSwitch) {
		t.mu.Unlock()
		return nil
	}

	old := t.store.primary()
	if old == nil {
		t.mu.Unlock()
		return nil
	}

	if old.HasFlag(ChunkStable) {
		t.clearFlag(TreeNeedSwitch)
		t.mu.Unlock()
		return nil
	}

	fillStart := old.CreateTS

	old.SetSwitchTxn(atomic.LoadUint64(&t.txnSeq))
	old.SetFlag(ChunkStable)

	newID := atomic.AddUint32(&t.lastID, 1)
	t.store.append(t.newChunk(newID))

	t.clearFlag(TreeNeedSwitch)
	t.modified.Store(true)

	err := t.persistManifestLocked()
	t.bumpDskGen()
	t.mu.Unlock()

	if err != nil {
		return MarkTransient(err)
	}

	t.recordFillTime(time.Since(fillStart))

	t.manager.push(newChunkWorkUnit(WorkFlush, t, old))
	return nil
}
