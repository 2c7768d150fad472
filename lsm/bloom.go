package lsm

import (
	"io"

	"github.com/pkg/errors"
	"github.com/willf/bloom"
)

// bloomHandle wraps a willf/bloom.BloomFilter as the per-chunk Bloom
// filter handle from spec §4.4. check reports "maybe present" (true) or
// "definitely absent" (false); it never produces false negatives.
type bloomHandle struct {
	filter *bloom.BloomFilter
}

// newBloomHandle sizes a filter from bitCount bits per key and hashCount
// hash functions over an estimated key population, matching the
// bloom_bit_count/bloom_hash_count config knobs in spec §6.
func newBloomHandle(bitCount, hashCount uint32, estKeys uint64) *bloomHandle {
	m := uint(estKeys) * uint(bitCount)
	if m == 0 {
		m = 1024
	}
	return &bloomHandle{filter: bloom.New(m, uint(hashCount))}
}

func (b *bloomHandle) insert(key []byte) {
	b.filter.Add(key)
}

// check returns true if the key might be present (a "maybe"), false if it
// is definitely absent. Bloom soundness (spec §8 invariant 6) means false
// is authoritative.
func (b *bloomHandle) check(key []byte) bool {
	return b.filter.Test(key)
}

func (b *bloomHandle) writeTo(w io.Writer) error {
	_, err := b.filter.WriteTo(w)
	return errors.Wrap(err, "write bloom filter")
}

func loadBloomHandle(r io.Reader) (*bloomHandle, error) {
	f := &bloom.BloomFilter{}
	if _, err := f.ReadFrom(r); err != nil {
		return nil, errors.Wrap(err, "read bloom filter")
	}
	return &bloomHandle{filter: f}, nil
}
