package lsm

import (
	"strconv"

	"github.com/spaolacci/murmur3"
)

// ShardKey deterministically maps key to one of n partitions, the way the
// teacher's sharding.State picks a physical shard for an object id
// (usecases/sharding/state.go). A Store embedding several trees as
// partitions of one logical collection can use this instead of routing
// every key through a single tree's write path.
func ShardKey(key []byte, n int) int {
	if n <= 1 {
		return 0
	}
	h := murmur3.New64()
	h.Write(key)
	return int(h.Sum64() % uint64(n))
}

// PartitionedStore fans a logical collection out over n trees keyed by
// ShardKey, so writers scale past what one tree's worker pool and
// primary-chunk lock can serve alone.
type PartitionedStore struct {
	store    *Store
	baseName string
	n        int
}

// NewPartitionedStore opens n trees named "<baseName>-0".."<baseName>-(n-1)"
// through store.
func NewPartitionedStore(store *Store, baseName string, n int, opts ...TreeOption) (*PartitionedStore, error) {
	p := &PartitionedStore{store: store, baseName: baseName, n: n}
	for i := 0; i < n; i++ {
		if err := store.CreateOrLoadTree(p.treeName(i), opts...); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PartitionedStore) treeName(i int) string {
	return p.baseName + "-" + strconv.Itoa(i)
}

// TreeFor returns the tree that owns key.
func (p *PartitionedStore) TreeFor(key []byte) *Tree {
	return p.store.Tree(p.treeName(ShardKey(key, p.n)))
}

func (p *PartitionedStore) Insert(key, value []byte, txnID uint64) error {
	return p.TreeFor(key).Insert(key, value, txnID)
}

func (p *PartitionedStore) Remove(key []byte, txnID uint64) error {
	return p.TreeFor(key).Remove(key, txnID)
}

func (p *PartitionedStore) Search(key []byte, txnID uint64) ([]byte, error) {
	return p.TreeFor(key).Search(key, txnID)
}
