package lsm

import (
	"io"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// diskRecord is the on-disk encoding of one memEntry. Records are written
// in ascending key order so a flushed chunk can be read back and
// positioned without a sort pass.
type diskRecord struct {
	Key       []byte `msgpack:"k"`
	Value     []byte `msgpack:"v"`
	Tombstone bool   `msgpack:"t"`
	TxnID     uint64 `msgpack:"x"`
}

// writeDiskChunk streams entries (already sorted) to w as a sequence of
// msgpack-encoded records, matching how the teacher's queue.Record wraps
// a msgpack.Encoder for compact append-only encoding.
func writeDiskChunk(w io.Writer, entries []memEntry) error {
	enc := msgpack.NewEncoder(w)
	if err := enc.EncodeArrayLen(len(entries)); err != nil {
		return errors.Wrap(err, "encode chunk length")
	}
	for _, e := range entries {
		rec := diskRecord{Key: e.key, Value: e.value, Tombstone: e.tombstone, TxnID: e.txnID}
		if err := enc.Encode(rec); err != nil {
			return errors.Wrap(err, "encode chunk record")
		}
	}
	return nil
}

func readDiskChunk(r io.Reader) ([]memEntry, error) {
	dec := msgpack.NewDecoder(r)
	n, err := dec.DecodeArrayLen()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, errors.Wrap(err, "decode chunk length")
	}

	out := make([]memEntry, 0, n)
	for i := 0; i < n; i++ {
		var rec diskRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, errors.Wrapf(err, "decode chunk record %d", i)
		}
		out = append(out, memEntry{key: rec.Key, value: rec.Value, tombstone: rec.Tombstone, txnID: rec.TxnID})
	}
	return out, nil
}

// loadDiskChunk reads a chunk's records via the BlockStore bound at
// chunk-creation time, so chunk.go (which has no reference to the owning
// tree) can still lazily hydrate its disk cache.
func loadDiskChunk(c *chunk) ([]memEntry, error) {
	loader := c.loader
	if loader == nil {
		return nil, errors.New("lsm: chunk has no block store bound")
	}
	rc, err := loader.Open(c.URI)
	if err != nil {
		return nil, errors.Wrapf(err, "open chunk %d", c.ID)
	}
	defer rc.Close()

	return readDiskChunk(rc)
}
