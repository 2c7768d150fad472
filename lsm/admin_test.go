package lsm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmin_CompactSwitchesMergesAndDrops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeMin, cfg.MergeMax, cfg.ChunkMax = 2, 4, 1_000_000
	tr, cleanup := newTestTree(t, cfg)
	defer cleanup()

	tr.mu.Lock()
	tr.store.active = nil
	for i := 0; i < 3; i++ {
		c := newChunk(uint32(i+1), tr.blocks)
		for k := i * 10; k < i*10+10; k++ {
			c.mem.put([]byte(fmt.Sprintf("k%03d", k)), []byte("v"), false, 1)
		}
		c.addEstimate(500)
		c.SetFlag(ChunkStable)
		c.SetFlag(ChunkOnDisk) // pretend already flushed so Compact's merge pass can run
		w, err := tr.blocks.Create(c.URI)
		require.NoError(t, err)
		require.NoError(t, writeDiskChunk(w, c.mem.snapshot()))
		require.NoError(t, w.Close())
		c.discardMemory()
		tr.store.append(c)
	}
	tr.store.append(newChunk(4, tr.blocks))
	tr.mu.Unlock()

	require.NoError(t, tr.Compact())

	tr.mu.RLock()
	nActive := tr.store.nchunks()
	tr.mu.RUnlock()
	assert.LessOrEqual(t, nActive, 2)
}

// Compact stops once the runs it merged in one call add up to merge_max
// chunks, rather than looping until the tree is fully compacted.
func TestAdmin_CompactBoundedByMergeMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeMin, cfg.MergeMax, cfg.ChunkMax = 2, 2, 1_000_000
	tr, cleanup := newTestTree(t, cfg)
	defer cleanup()

	tr.mu.Lock()
	tr.store.active = nil
	for i := 0; i < 6; i++ {
		c := newChunk(uint32(i+1), tr.blocks)
		c.mem.put([]byte(fmt.Sprintf("k%03d", i)), []byte("v"), false, 1)
		c.SetFlag(ChunkStable)
		tr.store.append(c)
	}
	tr.store.append(newChunk(7, tr.blocks))
	tr.mu.Unlock()

	require.NoError(t, tr.Compact())

	tr.mu.RLock()
	nActive := tr.store.nchunks()
	tr.mu.RUnlock()

	assert.False(t, tr.hasFlag(TreeCompacting), "TreeCompacting must be cleared once Compact returns")
	assert.Greater(t, nActive, 2, "compact must stop after merge_max chunks, not merge everything in one call")
}

func TestAdmin_TruncateDiscardsAllChunks(t *testing.T) {
	tr, cleanup := newTestTree(t, DefaultConfig())
	defer cleanup()

	require.NoError(t, tr.Insert([]byte("K"), []byte("v"), tr.AllocTxn()))

	require.NoError(t, tr.Truncate())

	tr.mu.RLock()
	defer tr.mu.RUnlock()
	assert.Equal(t, 1, tr.store.nchunks())
	assert.Equal(t, int64(0), tr.store.primary().Count())
	assert.GreaterOrEqual(t, len(tr.store.old), 1)
}

func TestAdmin_DropTreeRequiresClosed(t *testing.T) {
	tr, cleanup := newTestTree(t, DefaultConfig())
	defer cleanup()

	err := tr.DropTree()
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestAdmin_DropTreeRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open("t1", dir, DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, tr.Insert([]byte("K"), []byte("v"), tr.AllocTxn()))
	require.NoError(t, tr.performSwitch(true))
	require.NoError(t, tr.Close())

	require.NoError(t, tr.DropTree())

	_, err = tr.blocks.Size("MANIFEST")
	assert.Error(t, err)
}

func TestAdmin_StatisticsReflectsChunkCounts(t *testing.T) {
	tr, cleanup := newTestTree(t, DefaultConfig())
	defer cleanup()

	stats := tr.Statistics()
	assert.Equal(t, 1, stats.NChunks)
	assert.Equal(t, 0, stats.NOldChunks)
}
