package lsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemTable_PutOverwritesInPlace(t *testing.T) {
	m := newMemTable()
	m.put([]byte("a"), []byte("v1"), false, 1)
	m.put([]byte("a"), []byte("v2"), false, 2)

	e, ok := m.get([]byte("a"))
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), e.value)
	assert.Equal(t, 1, m.Len())
}

func TestMemTable_PutMaintainsSortedOrder(t *testing.T) {
	m := newMemTable()
	for _, k := range []string{"c", "a", "b"} {
		m.put([]byte(k), []byte(k), false, 1)
	}

	snap := m.snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []byte("a"), snap[0].key)
	assert.Equal(t, []byte("b"), snap[1].key)
	assert.Equal(t, []byte("c"), snap[2].key)
}

func TestMemTable_TombstoneRecorded(t *testing.T) {
	m := newMemTable()
	m.put([]byte("a"), []byte("v"), false, 1)
	m.put([]byte("a"), nil, true, 2)

	e, ok := m.get([]byte("a"))
	require.True(t, ok)
	assert.True(t, e.tombstone)
	assert.Nil(t, e.value)
}

func TestMemTable_SnapshotIsolatedFromLaterWrites(t *testing.T) {
	m := newMemTable()
	m.put([]byte("a"), []byte("v1"), false, 1)

	snap := m.snapshot()
	m.put([]byte("b"), []byte("v2"), false, 2)

	assert.Len(t, snap, 1)
	assert.Equal(t, 2, m.Len())
}

func TestMemTable_GetMissing(t *testing.T) {
	m := newMemTable()
	_, ok := m.get([]byte("missing"))
	assert.False(t, ok)
}
