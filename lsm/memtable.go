package lsm

import (
	"sort"
	"sync"
)

// memEntry is one key's most-recent value inside a chunk. tombstone marks
// a deletion; value is nil in that case.
type memEntry struct {
	key       []byte
	value     []byte
	tombstone bool
	txnID     uint64
}

// memTable is a small sorted-slice ordered map. Real LSM engines use a
// skip list or a balanced tree here to get O(log n) inserts; a sorted
// slice with binary-search insert is a deliberate simplification for a
// module whose in-memory tables are bounded by chunk_size before they
// switch out, and it keeps snapshot() (needed constantly by the merged
// cursor and by flush) a single slice copy rather than a tree walk.
type memTable struct {
	mu      sync.RWMutex
	entries []memEntry
	cmp     Collator
}

func newMemTable() *memTable {
	return &memTable{cmp: ByteCollator{}}
}

func (m *memTable) find(key []byte) int {
	return sort.Search(len(m.entries), func(i int) bool {
		return m.cmp.Compare(m.entries[i].key, key) >= 0
	})
}

// put inserts or overwrites key with value, recording txnID for snapshot
// isolation. tombstone marks a remove().
func (m *memTable) put(key, value []byte, tombstone bool, txnID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.find(key)
	if i < len(m.entries) && m.cmp.Compare(m.entries[i].key, key) == 0 {
		m.entries[i] = memEntry{key: key, value: value, tombstone: tombstone, txnID: txnID}
		return
	}

	m.entries = append(m.entries, memEntry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = memEntry{key: key, value: value, tombstone: tombstone, txnID: txnID}
}

func (m *memTable) get(key []byte) (memEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := m.find(key)
	if i < len(m.entries) && m.cmp.Compare(m.entries[i].key, key) == 0 {
		return m.entries[i], true
	}
	return memEntry{}, false
}

// snapshot returns a stable, ordered copy of the current entries. Callers
// (flush, cursor sub-positioning) must not assume it reflects later
// writes.
func (m *memTable) snapshot() []memEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]memEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *memTable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
