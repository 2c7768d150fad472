package lsm

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ChunkFlag mirrors the WT_LSM_CHUNK_* status bits: BLOOM present, MERGING
// in progress, ONDISK flushed, STABLE (no further writes accepted).
type ChunkFlag uint32

const (
	ChunkBloom ChunkFlag = 1 << iota
	ChunkMerging
	ChunkOnDisk
	ChunkStable
)

// chunk is one entry in a tree's active or old-chunks list. All flag,
// refcnt and bloomBusy mutation is atomic so readers and workers can
// inspect a chunk without taking the tree lock (spec §5).
type chunk struct {
	ID         uint32
	Generation uint32
	CreateTS   time.Time

	URI      string
	BloomURI string

	count int64 // atomic, approximate record count
	size  int64 // atomic, approximate byte size

	switchTxn uint64 // atomic

	refcnt    int32 // atomic
	bloomBusy int32 // atomic CAS guard

	empty   atomic.Bool
	evicted atomic.Bool

	flags uint32 // atomic ChunkFlag bitset

	// mem holds the chunk's data while it lives only in memory: true for
	// the primary and for any chunk that has switched out but not yet
	// flushed. Once ONDISK is set, mem is cleared and reads flow through
	// diskCache instead.
	mem *memTable

	diskOnce  sync.Once
	diskCache []memEntry
	diskErr   error

	bloom     *bloomHandle
	bloomOnce sync.Once
	bloomErr  error

	loader BlockStore
}

func newChunk(id uint32, loader BlockStore) *chunk {
	return &chunk{
		ID:       id,
		CreateTS: time.Now(),
		URI:      fmt.Sprintf("chunk-%06d.db", id),
		mem:      newMemTable(),
		loader:   loader,
	}
}

func (c *chunk) HasFlag(f ChunkFlag) bool {
	return atomic.LoadUint32(&c.flags)&uint32(f) != 0
}

func (c *chunk) SetFlag(f ChunkFlag) {
	for {
		old := atomic.LoadUint32(&c.flags)
		next := old | uint32(f)
		if old == next || atomic.CompareAndSwapUint32(&c.flags, old, next) {
			return
		}
	}
}

func (c *chunk) ClearFlag(f ChunkFlag) {
	for {
		old := atomic.LoadUint32(&c.flags)
		next := old &^ uint32(f)
		if old == next || atomic.CompareAndSwapUint32(&c.flags, old, next) {
			return
		}
	}
}

func (c *chunk) Ref() int32   { return atomic.AddInt32(&c.refcnt, 1) }
func (c *chunk) Unref() int32 { return atomic.AddInt32(&c.refcnt, -1) }
func (c *chunk) RefCount() int32 {
	return atomic.LoadInt32(&c.refcnt)
}

// TryBloomBusy CASes bloomBusy from 0 to 1. Losing the race means another
// worker already owns bloom construction for this chunk; the caller should
// treat the unit as a no-op (spec §4.4).
func (c *chunk) TryBloomBusy() bool {
	return atomic.CompareAndSwapInt32(&c.bloomBusy, 0, 1)
}

func (c *chunk) ClearBloomBusy() {
	atomic.StoreInt32(&c.bloomBusy, 0)
}

func (c *chunk) SwitchTxn() uint64 {
	return atomic.LoadUint64(&c.switchTxn)
}

func (c *chunk) SetSwitchTxn(txn uint64) {
	atomic.StoreUint64(&c.switchTxn, txn)
}

func (c *chunk) Count() int64 { return atomic.LoadInt64(&c.count) }
func (c *chunk) Size() int64  { return atomic.LoadInt64(&c.size) }

func (c *chunk) addEstimate(sz int) {
	atomic.AddInt64(&c.count, 1)
	atomic.AddInt64(&c.size, int64(sz))
}

func (c *chunk) Empty() bool     { return c.empty.Load() }
func (c *chunk) SetEmpty(v bool) { c.empty.Store(v) }

func (c *chunk) Evicted() bool     { return c.evicted.Load() }
func (c *chunk) SetEvicted(v bool) { c.evicted.Store(v) }

// snapshot returns the chunk's records in ascending key order, loading
// from disk (and caching the result) if the in-memory table has already
// been discarded post-flush.
func (c *chunk) snapshot() ([]memEntry, error) {
	if c.mem != nil {
		return c.mem.snapshot(), nil
	}

	c.diskOnce.Do(func() {
		c.diskCache, c.diskErr = loadDiskChunk(c)
	})
	return c.diskCache, c.diskErr
}

// ensureBloom lazily loads a chunk's persisted Bloom filter the first time
// it's needed after reopening a tree, since the manifest only records
// bloom_uri, not the filter's bit array itself.
func (c *chunk) ensureBloom() (*bloomHandle, error) {
	if !c.HasFlag(ChunkBloom) || c.BloomURI == "" {
		return nil, nil
	}
	if c.bloom != nil {
		return c.bloom, nil
	}
	c.bloomOnce.Do(func() {
		r, err := c.loader.Open(c.BloomURI)
		if err != nil {
			c.bloomErr = err
			return
		}
		defer r.Close()
		c.bloom, c.bloomErr = loadBloomHandle(r)
	})
	return c.bloom, c.bloomErr
}

// discardMemory releases the in-memory table after a successful flush.
// Idempotent so a retried FLUSH unit is safe (spec §7 Idempotence).
func (c *chunk) discardMemory() {
	c.mem = nil
}
