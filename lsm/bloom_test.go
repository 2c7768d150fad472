package lsm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBloomHandle_NoFalseNegatives(t *testing.T) {
	bh := newBloomHandle(10, 4, 100)
	keys := make([][]byte, 0, 100)
	for i := 0; i < 100; i++ {
		k := []byte{byte(i), byte(i >> 8)}
		keys = append(keys, k)
		bh.insert(k)
	}

	for _, k := range keys {
		assert.True(t, bh.check(k))
	}
}

func TestBloomHandle_AbsentIsAuthoritative(t *testing.T) {
	bh := newBloomHandle(10, 4, 10)
	bh.insert([]byte("present"))

	// A key that was never inserted may occasionally collide, but a filter
	// this sparse with a single insert should report absent for an
	// unrelated key.
	assert.False(t, bh.check([]byte("definitely-not-in-here-xyz")))
}

func TestBloomHandle_RoundTripsThroughWriter(t *testing.T) {
	bh := newBloomHandle(10, 4, 10)
	bh.insert([]byte("k1"))
	bh.insert([]byte("k2"))

	var buf bytes.Buffer
	require.NoError(t, bh.writeTo(&buf))

	loaded, err := loadBloomHandle(&buf)
	require.NoError(t, err)
	assert.True(t, loaded.check([]byte("k1")))
	assert.True(t, loaded.check([]byte("k2")))
}
