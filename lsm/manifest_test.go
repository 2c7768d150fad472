package lsm

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Round-trip law: opening a tree, closing it without writes, and reopening
// yields an identical manifest.
func TestManifest_RoundTripUnchangedAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	tr, err := Open("t1", dir, DefaultConfig())
	require.NoError(t, err)
	before, ok, err := readManifest(tr.manifestPath())
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tr.Close())

	tr2, err := Open("t1", dir, DefaultConfig())
	require.NoError(t, err)
	defer tr2.Close()

	after, ok, err := readManifest(tr2.manifestPath())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, before, after)
}

func TestManifest_ReopenRestoresChunkListsAndData(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()

	tr, err := Open("t1", dir, cfg)
	require.NoError(t, err)
	require.NoError(t, tr.Insert([]byte("K"), []byte("V"), tr.AllocTxn()))
	require.NoError(t, tr.performSwitch(true))
	require.NoError(t, tr.Close())

	tr2, err := Open("t1", dir, cfg)
	require.NoError(t, err)
	defer tr2.Close()

	tr2.mu.RLock()
	nchunks := tr2.store.nchunks()
	sealed := tr2.store.active[0]
	tr2.mu.RUnlock()

	assert.Equal(t, 2, nchunks) // sealed + fresh primary
	assert.True(t, sealed.HasFlag(ChunkStable))

	v, err := tr2.Search([]byte("K"), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("V"), v)
}

func TestManifest_MissingFileReportsNotOk(t *testing.T) {
	_, ok, err := readManifest(t.TempDir() + "/does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManifest_CorruptDataIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/MANIFEST"
	require.NoError(t, os.WriteFile(path, []byte("not msgpack"), 0o644))

	_, _, err := readManifest(path)
	assert.ErrorIs(t, err, ErrCorruption)
}
