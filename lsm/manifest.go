package lsm

import (
	"os"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const manifestVersion = 1

// chunkRecord is the persisted shape of a chunk (spec §6 "Persisted
// state"): (id, uri, bloom_uri?, generation, count, size, switch_txn,
// flags) in active order, followed by the old-chunk list.
type chunkRecord struct {
	ID         uint32 `msgpack:"id"`
	URI        string `msgpack:"uri"`
	BloomURI   string `msgpack:"bloom_uri,omitempty"`
	Generation uint32 `msgpack:"generation"`
	Count      int64  `msgpack:"count"`
	Size       int64  `msgpack:"size"`
	SwitchTxn  uint64 `msgpack:"switch_txn"`
	Flags      uint32 `msgpack:"flags"`
	Empty      bool   `msgpack:"empty"`
}

type manifestEnvelope struct {
	Version   uint8         `msgpack:"version"`
	LastID    uint32        `msgpack:"last_id"`
	Chunks    []chunkRecord `msgpack:"chunks"`
	OldChunks []chunkRecord `msgpack:"old_chunks"`
}

func chunkToRecord(c *chunk) chunkRecord {
	return chunkRecord{
		ID:         c.ID,
		URI:        c.URI,
		BloomURI:   c.BloomURI,
		Generation: c.Generation,
		Count:      c.Count(),
		Size:       c.Size(),
		SwitchTxn:  c.SwitchTxn(),
		Flags:      atomicFlagsOf(c),
		Empty:      c.Empty(),
	}
}

func atomicFlagsOf(c *chunk) uint32 {
	var flags uint32
	if c.HasFlag(ChunkBloom) {
		flags |= uint32(ChunkBloom)
	}
	if c.HasFlag(ChunkMerging) {
		flags |= uint32(ChunkMerging)
	}
	if c.HasFlag(ChunkOnDisk) {
		flags |= uint32(ChunkOnDisk)
	}
	if c.HasFlag(ChunkStable) {
		flags |= uint32(ChunkStable)
	}
	return flags
}

func recordToChunk(r chunkRecord, loader BlockStore, cmp Collator) *chunk {
	c := newChunk(r.ID, loader)
	c.mem.cmp = cmp
	c.URI = r.URI
	c.BloomURI = r.BloomURI
	c.Generation = r.Generation
	c.count = r.Count
	c.size = r.Size
	c.switchTxn = r.SwitchTxn
	c.flags = r.Flags
	c.SetEmpty(r.Empty)

	if c.HasFlag(ChunkOnDisk) {
		// on-disk chunks no longer carry an in-memory table; reads will
		// hydrate diskCache lazily via snapshot().
		c.mem = nil
	}
	return c
}

// writeManifest serializes the tree's chunk lists atomically: it writes
// to a temp file and renames over the manifest path so a crash never
// leaves a half-written manifest (spec §7f "Fatal corruption").
func writeManifest(path string, s *chunkStore, lastID uint32) error {
	env := manifestEnvelope{Version: manifestVersion, LastID: lastID}
	for _, c := range s.active {
		env.Chunks = append(env.Chunks, chunkToRecord(c))
	}
	for _, c := range s.old {
		env.OldChunks = append(env.OldChunks, chunkToRecord(c))
	}

	data, err := msgpack.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal manifest")
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write manifest temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "rename manifest into place")
	}
	return nil
}

// readManifest loads a manifest, or reports (nil, false, nil) if none
// exists yet (a brand-new tree).
func readManifest(path string) (*manifestEnvelope, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "read manifest")
	}

	var env manifestEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, false, errors.Wrap(ErrCorruption, err.Error())
	}
	if env.Version != manifestVersion {
		return nil, false, errors.Wrapf(ErrCorruption, "unsupported manifest version %d", env.Version)
	}
	return &env, true, nil
}
