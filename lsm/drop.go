package lsm

import (
	"github.com/pkg/errors"
)

// performDrop executes a DROP unit (spec §3 Lifecycle "Drop", §4.5):
// scans old_chunks for entries with refcnt==0 and removes their data and
// bloom files. freeingOldChunks CASes true so at most one drop pass runs
// per tree at a time (spec §4.5 "one drop cycle at a time").
func (t *Tree) performDrop() error {
	if !t.Active() {
		return ErrShutdown
	}
	if t.isWorkDisabled(WorkDrop) {
		return nil
	}

	if !t.freeingOldChunks.CompareAndSwap(false, true) {
		return nil
	}
	defer t.freeingOldChunks.Store(false)

	t.mu.RLock()
	candidates := t.store.snapshotOld()
	t.mu.RUnlock()

	var freed []*chunk
	var firstErr error

	for _, c := range candidates {
		if c.RefCount() > 0 {
			continue
		}

		if err := t.blocks.Remove(c.URI); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "remove chunk file %s", c.URI)
		}
		if c.BloomURI != "" {
			if err := t.blocks.Remove(c.BloomURI); err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "remove bloom file %s", c.BloomURI)
			}
		}
		freed = append(freed, c)
	}

	if len(freed) == 0 {
		return firstErr
	}

	t.mu.Lock()
	for _, c := range freed {
		for i, o := range t.store.old {
			if o == c {
				t.store.removeFromOld(i)
				break
			}
		}
	}
	t.modified.Store(true)
	perr := t.persistManifestLocked()
	t.mu.Unlock()

	if perr != nil && firstErr == nil {
		firstErr = perr
	}
	if firstErr != nil {
		return MarkTransient(firstErr)
	}
	return nil
}
