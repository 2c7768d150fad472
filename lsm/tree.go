package lsm

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Tree is the root aggregate from spec §2 item 8: chunk store,
// configuration, throttling state, worker manager handle and status
// flags. Structural changes are serialized under mu (the reader-writer
// lock from spec §5).
type Tree struct {
	name string
	dir  string

	logger  logrus.FieldLogger
	metrics *Metrics

	cfg      Config
	blocks   BlockStore
	codec    Codec
	collator Collator

	manager     *Manager
	ownsManager bool

	mu    sync.RWMutex
	store *chunkStore

	flags       uint32 // TreeFlag bitset, read and updated atomically
	flagsAtomic uint32 // TreeFlagAtomic, atomic acquire/release

	dskGen uint64 // atomic, bumped on every structural change
	txnSeq uint64 // atomic, default allocator for standalone use
	lastID uint32 // atomic
	modified atomic.Bool

	chunkFillEWMA int64 // atomic, math.Float64bits of an EWMA in milliseconds
	ckptThrottle  int64 // atomic, microseconds
	mergeThrottle int64 // atomic, microseconds

	mergeAggressiveness uint32 // atomic
	freeingOldChunks    atomic.Bool

	disabledWork uint32 // atomic bitset of permanently disabled WorkKind

	inflight sync.WaitGroup
}

// Open opens (or creates) a tree rooted at dir, replaying its manifest if
// one exists. cfg is validated and used as given; build it with
// ParseConfig to start from a config string — mirrors WiredTiger's
// `open(name, config)` contract (spec §4.1).
func Open(name, dir string, cfg Config, opts ...TreeOption) (*Tree, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	collator, ok := lookupCollator(cfg.CollatorName)
	if !ok {
		return nil, errors.Wrapf(ErrConfiguration, "unknown collator %q", cfg.CollatorName)
	}

	t := &Tree{
		name:     name,
		dir:      dir,
		logger:   logrus.StandardLogger().WithField("tree", name),
		metrics:  noopMetrics(),
		cfg:      cfg,
		blocks:   nil,
		codec:    RawCodec{},
		collator: collator,
		store:    newChunkStore(),
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.blocks == nil {
		bs, err := NewFileBlockStore(dir)
		if err != nil {
			return nil, err
		}
		t.blocks = bs
	}

	if t.manager == nil {
		t.manager = NewManager(cfg.WorkersMax, cfg.MergeThreads,
			WithManagerLogger(t.logger), WithManagerMetrics(t.metrics))
		t.ownsManager = true
	}

	atomic.StoreInt64(&t.ckptThrottle, int64(cfg.CkptThrottle))
	atomic.StoreInt64(&t.mergeThrottle, int64(cfg.MergeThrottle))

	if err := t.loadOrInit(); err != nil {
		return nil, err
	}

	t.setFlagsAtomicRelease(TreeExclusive, false)
	t.setFlag(TreeOpen | TreeActive)

	return t, nil
}

// newChunk creates a chunk whose in-memory table orders by the tree's
// configured collator, not the package default. A memtable ordered
// differently from cursor/merge comparisons (both of which use
// t.collator) would desync iteration order from insert order.
func (t *Tree) newChunk(id uint32) *chunk {
	c := newChunk(id, t.blocks)
	c.mem.cmp = t.collator
	return c
}

func (t *Tree) manifestPath() string {
	return filepath.Join(t.dir, "MANIFEST")
}

func (t *Tree) loadOrInit() error {
	env, ok, err := readManifest(t.manifestPath())
	if err != nil {
		return err
	}

	if !ok {
		// brand-new tree: one empty, in-memory primary.
		c := t.newChunk(1)
		t.store.append(c)
		atomic.StoreUint32(&t.lastID, 1)
		t.modified.Store(true)
		return t.persistManifestLocked()
	}

	for _, r := range env.Chunks {
		c := recordToChunk(r, t.blocks, t.collator)
		if err := t.verifyChunkPresence(c); err != nil {
			return err
		}
		t.store.active = append(t.store.active, c)
	}
	for _, r := range env.OldChunks {
		c := recordToChunk(r, t.blocks, t.collator)
		t.store.old = append(t.store.old, c)
	}
	atomic.StoreUint32(&t.lastID, env.LastID)

	if t.store.primary() == nil || t.store.primary().HasFlag(ChunkStable) {
		// crash recovered with no writable primary; open one so writes
		// have somewhere to land.
		id := atomic.AddUint32(&t.lastID, 1)
		t.store.append(t.newChunk(id))
	}

	return nil
}

// verifyChunkPresence marks a STABLE chunk missing on disk as empty=1 and
// elides it from cursors (spec §4.1 "Failure modes": crash recovery).
func (t *Tree) verifyChunkPresence(c *chunk) error {
	if !c.HasFlag(ChunkOnDisk) {
		return nil
	}
	if _, err := t.blocks.Size(c.URI); err != nil {
		c.SetEmpty(true)
	}
	return nil
}

func (t *Tree) persistManifestLocked() error {
	if !t.modified.Load() {
		return nil
	}
	if err := writeManifest(t.manifestPath(), t.store, atomic.LoadUint32(&t.lastID)); err != nil {
		return err
	}
	t.modified.Store(false)
	return nil
}

// --- flag helpers -----------------------------------------------------

func (t *Tree) hasFlag(f TreeFlag) bool {
	return atomic.LoadUint32(&t.flags)&uint32(f) != 0
}

func (t *Tree) setFlag(f TreeFlag) {
	for {
		old := atomic.LoadUint32(&t.flags)
		next := old | uint32(f)
		if old == next || atomic.CompareAndSwapUint32(&t.flags, old, next) {
			return
		}
	}
}

func (t *Tree) clearFlag(f TreeFlag) {
	for {
		old := atomic.LoadUint32(&t.flags)
		next := old &^ uint32(f)
		if old == next || atomic.CompareAndSwapUint32(&t.flags, old, next) {
			return
		}
	}
}

// setFlagsAtomicRelease sets or clears the EXCLUSIVE bit with
// release-store semantics; open/close pair it with an acquire-load via
// hasFlagAtomicAcquire (spec §9 open question 1).
func (t *Tree) setFlagsAtomicRelease(f TreeFlagAtomic, set bool) {
	for {
		old := atomic.LoadUint32(&t.flagsAtomic)
		var next uint32
		if set {
			next = old | uint32(f)
		} else {
			next = old &^ uint32(f)
		}
		if old == next || atomic.CompareAndSwapUint32(&t.flagsAtomic, old, next) {
			return
		}
	}
}

func (t *Tree) hasFlagAtomicAcquire(f TreeFlagAtomic) bool {
	return atomic.LoadUint32(&t.flagsAtomic)&uint32(f) != 0
}

// Active reports whether the tree is open and its workers are active
// (spec §5 Cancellation checks this at every worker safe point). The
// EXCLUSIVE bit is read with acquire semantics so a goroutine that races
// with Close's release-store either observes the pre-close state in full
// or sees the tree as already exclusive; it never sees a torn in-between.
func (t *Tree) Active() bool {
	if t.hasFlagAtomicAcquire(TreeExclusive) {
		return false
	}
	return t.hasFlag(TreeOpen) && t.hasFlag(TreeActive)
}

func (t *Tree) isWorkDisabled(k WorkKind) bool {
	return atomic.LoadUint32(&t.disabledWork)&uint32(k) != 0
}

// disableWork stops further scheduling of a work kind after persistent
// retry failure (spec §7 Propagation).
func (t *Tree) disableWork(k WorkKind) {
	for {
		old := atomic.LoadUint32(&t.disabledWork)
		next := old | uint32(k)
		if old == next || atomic.CompareAndSwapUint32(&t.disabledWork, old, next) {
			return
		}
	}
}

// DskGen returns the tree's structural generation, compared by cursors
// against their captured value to detect structural invalidation (spec
// §4.3).
func (t *Tree) DskGen() uint64 { return atomic.LoadUint64(&t.dskGen) }

func (t *Tree) bumpDskGen() { atomic.AddUint64(&t.dskGen, 1) }

// AllocTxn hands out a monotonically increasing transaction id. A real
// embedding supplies its own txn ids from the upstream session/txn
// subsystem (spec §6 "Clock/session"); this exists for standalone use and
// tests.
func (t *Tree) AllocTxn() uint64 { return atomic.AddUint64(&t.txnSeq, 1) }

// --- write path ---------------------------------------------------------

// Insert writes (key, value) into the primary chunk under txnID (spec
// §4.1 "Write path").
func (t *Tree) Insert(key, value []byte, txnID uint64) error {
	return t.write(key, value, false, txnID)
}

// Update behaves like Insert; the distinction (must-exist semantics)
// belongs to the embedding database's row layer, not the chunk store.
func (t *Tree) Update(key, value []byte, txnID uint64) error {
	return t.write(key, value, false, txnID)
}

// Remove writes a tombstone for key (spec §3 GLOSSARY "Tombstone").
func (t *Tree) Remove(key []byte, txnID uint64) error {
	return t.write(key, nil, true, txnID)
}

func (t *Tree) write(key, value []byte, tombstone bool, txnID uint64) error {
	if !t.Active() {
		return ErrClosed
	}

	if err := t.throttle(); err != nil {
		return err
	}

	t.inflight.Add(1)
	defer t.inflight.Done()

	t.mu.RLock()
	primary := t.store.primary()
	t.mu.RUnlock()

	primary.mem.put(key, value, tombstone, txnID)
	primary.addEstimate(len(key) + len(value))
	t.modified.Store(true)

	if uint64(primary.Size()) > t.cfg.ChunkSize {
		t.requestSwitch(false)
	}

	return nil
}

// requestSwitch sets NEED_SWITCH (if not already set) and enqueues a
// single SWITCH unit. force marks an application- or compact-requested
// switch regardless of size.
func (t *Tree) requestSwitch(force bool) {
	t.mu.Lock()
	already := t.hasFlag(TreeNeedSwitch)
	if !already {
		t.setFlag(TreeNeedSwitch)
	}
	t.mu.Unlock()

	if already && !force {
		return
	}

	kind := WorkSwitch
	if force {
		kind |= WorkForce
	}
	t.manager.push(newWorkUnit(kind, t))
}

// throttle sleeps ckpt_throttle+merge_throttle microseconds when
// TreeThrottle is set (spec §4.1 "Throttling"). Throttle-on-with-zero-
// budget returns a retryable busy error instead of blocking forever
// (spec §8 boundary behavior).
func (t *Tree) throttle() error {
	if !t.hasFlag(TreeThrottle) {
		return nil
	}

	total := atomic.LoadInt64(&t.ckptThrottle) + atomic.LoadInt64(&t.mergeThrottle)
	if total <= 0 {
		return ErrBusy
	}

	if t.metrics != nil {
		t.metrics.ThrottleMicros.Set(float64(total))
	}
	time.Sleep(time.Duration(total) * time.Microsecond)
	return nil
}

// recordFillTime folds a chunk-fill duration into chunk_fill_ms, an EWMA
// reported by Statistics (spec §4.1). The tree itself does not use it to
// adjust the throttle magnitudes.
func (t *Tree) recordFillTime(d time.Duration) {
	const alpha = 0.2
	prev := loadFloat64(&t.chunkFillEWMA)
	next := prev
	if prev == 0 {
		next = float64(d.Milliseconds())
	} else {
		next = alpha*float64(d.Milliseconds()) + (1-alpha)*prev
	}
	storeFloat64(&t.chunkFillEWMA, next)
}

// Search performs a point lookup honoring snapshot isolation when txnID
// is non-zero, by delegating to a throwaway cursor (spec §4.3 "Point
// lookup"). With txnID zero every committed entry is visible.
func (t *Tree) Search(key []byte, txnID uint64) ([]byte, error) {
	flags := OpenRead
	if txnID != 0 {
		flags |= OpenSnapshot
	}
	c, err := t.OpenCursor(flags, txnID)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	return c.Search(key)
}
