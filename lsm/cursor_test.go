package lsm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_NextOrdersAcrossChunksNewestWins(t *testing.T) {
	tr, cleanup := newTestTree(t, DefaultConfig())
	defer cleanup()

	tr.mu.Lock()
	tr.store.active = nil
	older := newChunk(1, tr.blocks)
	older.mem.put([]byte("a"), []byte("old-a"), false, 1)
	older.mem.put([]byte("b"), []byte("old-b"), false, 1)
	older.SetFlag(ChunkStable)
	tr.store.append(older)

	newer := newChunk(2, tr.blocks)
	newer.mem.put([]byte("a"), []byte("new-a"), false, 2)
	newer.mem.put([]byte("c"), []byte("new-c"), false, 2)
	tr.store.append(newer)
	tr.mu.Unlock()

	cur, err := tr.OpenCursor(OpenRead, 0)
	require.NoError(t, err)
	defer cur.Close()

	var got [][2]string
	for {
		k, v, err := cur.Next()
		if err != nil {
			break
		}
		got = append(got, [2]string{string(k), string(v)})
	}

	assert.Equal(t, [][2]string{
		{"a", "new-a"}, // newest chunk wins the tie on key "a"
		{"b", "old-b"},
		{"c", "new-c"},
	}, got)
}

func TestCursor_PrevOrdersDescending(t *testing.T) {
	tr, cleanup := newTestTree(t, DefaultConfig())
	defer cleanup()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, tr.Insert([]byte(k), []byte(k), tr.AllocTxn()))
	}

	cur, err := tr.OpenCursor(OpenRead, 0)
	require.NoError(t, err)
	defer cur.Close()

	var got []string
	for {
		k, _, err := cur.Prev()
		if err != nil {
			break
		}
		got = append(got, string(k))
	}
	assert.Equal(t, []string{"c", "b", "a"}, got)
}

func TestCursor_SearchSkipsTombstoneByDefault(t *testing.T) {
	tr, cleanup := newTestTree(t, DefaultConfig())
	defer cleanup()

	require.NoError(t, tr.Insert([]byte("K"), []byte("v"), tr.AllocTxn()))
	require.NoError(t, tr.Remove([]byte("K"), tr.AllocTxn()))

	cur, err := tr.OpenCursor(OpenRead, 0)
	require.NoError(t, err)
	defer cur.Close()

	_, err = cur.Search([]byte("K"))
	assert.ErrorIs(t, err, ErrDeleted)
}

func TestCursor_SearchNear(t *testing.T) {
	tr, cleanup := newTestTree(t, DefaultConfig())
	defer cleanup()

	for _, k := range []string{"a", "c", "e"} {
		require.NoError(t, tr.Insert([]byte(k), []byte(k), tr.AllocTxn()))
	}

	cur, err := tr.OpenCursor(OpenRead, 0)
	require.NoError(t, err)
	defer cur.Close()

	k, _, rel, err := cur.SearchNear([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), k)
	assert.Equal(t, 1, rel)
}

// Scenario 6: structural invalidation mid-iteration.
func TestCursor_StructuralInvalidationRebuildsAndReseeks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeMin, cfg.MergeMax, cfg.ChunkMax = 2, 4, 1_000_000
	tr, cleanup := newTestTree(t, cfg)
	defer cleanup()

	tr.mu.Lock()
	tr.store.active = nil
	var toMerge []*chunk
	for i := 0; i < 3; i++ {
		c := newChunk(uint32(i+1), tr.blocks)
		for k := i * 100; k < i*100+100; k++ {
			c.mem.put([]byte(fmt.Sprintf("k%05d", k)), []byte("v"), false, 1)
		}
		c.SetFlag(ChunkStable)
		tr.store.append(c)
		toMerge = append(toMerge, c)
	}
	tr.store.append(newChunk(4, tr.blocks))
	tr.mu.Unlock()

	cur, err := tr.OpenCursor(OpenRead, 0)
	require.NoError(t, err)
	defer cur.Close()

	// Walk forward with Next() until positioned at K=150 (chunk[1]), so
	// lastKey/dir carry real mid-iteration state into the rebuild.
	target := []byte("k00150")
	var k []byte
	for {
		k, _, err = cur.Next()
		require.NoError(t, err)
		if string(k) == string(target) {
			break
		}
	}
	require.Equal(t, target, k)

	require.NoError(t, tr.performMerge(toMerge))

	nk, _, err := cur.Next()
	require.NoError(t, err, "structural invalidation must trigger a rebuild, not an error")
	assert.Equal(t, []byte("k00151"), nk)
}

// Spec §4.3 "Update layering", §7b: a snapshot cursor's write must be
// rejected once a newer transaction has already committed for the key.
func TestCursor_SnapshotWriteConflict(t *testing.T) {
	tr, cleanup := newTestTree(t, DefaultConfig())
	defer cleanup()

	require.NoError(t, tr.Insert([]byte("K"), []byte("v1"), tr.AllocTxn()))

	snap, err := tr.OpenCursor(OpenRead|OpenSnapshot, tr.AllocTxn())
	require.NoError(t, err)
	defer snap.Close()

	// A transaction newer than snap's snapshot commits behind its back.
	require.NoError(t, tr.Insert([]byte("K"), []byte("v2"), tr.AllocTxn()))

	err = snap.Insert([]byte("K"), []byte("conflicting"), tr.AllocTxn())
	assert.ErrorIs(t, err, ErrConflict)

	err = snap.Update([]byte("K"), []byte("conflicting"), tr.AllocTxn())
	assert.ErrorIs(t, err, ErrConflict)

	err = snap.Remove([]byte("K"), tr.AllocTxn())
	assert.ErrorIs(t, err, ErrConflict)
}

// A snapshot cursor's write to a key nothing newer has touched must not be
// rejected.
func TestCursor_SnapshotWriteNoConflictOnUntouchedKey(t *testing.T) {
	tr, cleanup := newTestTree(t, DefaultConfig())
	defer cleanup()

	require.NoError(t, tr.Insert([]byte("K1"), []byte("v1"), tr.AllocTxn()))

	snap, err := tr.OpenCursor(OpenRead|OpenSnapshot, tr.AllocTxn())
	require.NoError(t, err)
	defer snap.Close()

	require.NoError(t, tr.Insert([]byte("K2"), []byte("other"), tr.AllocTxn()))

	assert.NoError(t, snap.Insert([]byte("K1"), []byte("v1-updated"), tr.AllocTxn()))
}

// A non-snapshot cursor never conflict-checks.
func TestCursor_NonSnapshotWriteNeverConflicts(t *testing.T) {
	tr, cleanup := newTestTree(t, DefaultConfig())
	defer cleanup()

	require.NoError(t, tr.Insert([]byte("K"), []byte("v1"), tr.AllocTxn()))

	cur, err := tr.OpenCursor(OpenRead, 0)
	require.NoError(t, err)
	defer cur.Close()

	require.NoError(t, tr.Insert([]byte("K"), []byte("v2"), tr.AllocTxn()))
	assert.NoError(t, cur.Insert([]byte("K"), []byte("v3"), tr.AllocTxn()))
}

// Spec §4.3 "multiple" set / CursorMultiple: opened with the flag, a
// cursor exposes every visible tied entry, not just the newest-wins winner.
func TestCursor_MultipleExposesAllVisibleEntriesAtKey(t *testing.T) {
	tr, cleanup := newTestTree(t, DefaultConfig())
	defer cleanup()

	tr.mu.Lock()
	tr.store.active = nil
	older := newChunk(1, tr.blocks)
	older.mem.put([]byte("k"), []byte("old"), false, 1)
	older.SetFlag(ChunkStable)
	tr.store.append(older)
	newer := newChunk(2, tr.blocks)
	newer.mem.put([]byte("k"), []byte("new"), false, 1)
	tr.store.append(newer)
	tr.mu.Unlock()

	cur, err := tr.OpenCursor(OpenRead|CursorMultiple, 0)
	require.NoError(t, err)
	defer cur.Close()

	k, v, err := cur.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("k"), k)
	assert.Equal(t, []byte("new"), v)

	group := cur.Multiple()
	require.Len(t, group, 2)
	assert.Equal(t, []byte("new"), group[0].Value)
	assert.Equal(t, []byte("old"), group[1].Value)
}

// Without CursorMultiple, Multiple returns nothing.
func TestCursor_MultipleEmptyWithoutFlag(t *testing.T) {
	tr, cleanup := newTestTree(t, DefaultConfig())
	defer cleanup()

	require.NoError(t, tr.Insert([]byte("k"), []byte("v"), tr.AllocTxn()))

	cur, err := tr.OpenCursor(OpenRead, 0)
	require.NoError(t, err)
	defer cur.Close()

	_, _, err = cur.Next()
	require.NoError(t, err)
	assert.Empty(t, cur.Multiple())
}
