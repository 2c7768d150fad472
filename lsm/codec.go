package lsm

import (
	"bytes"
	"io"
)

// Codec is the upstream record codec (spec §6). The core never interprets
// the byte contents of a key or value; packing/unpacking application rows
// into those bytes belongs entirely to the embedding database. The tree
// calls its Codec only from the row-level helpers (InsertRow, UpdateRow,
// GetRow, ValueFieldNames), always with the tree's value_format; plain
// Insert/Search take raw bytes.
type Codec interface {
	Pack(format string, values []any) ([]byte, error)
	Unpack(format string, data []byte) ([]any, error)
	NameIterator(format string) (FieldIterator, error)
}

// FieldIterator walks the field names encoded in a pack format string.
type FieldIterator interface {
	Next() (name string, ok bool)
}

// RawCodec is the default Codec: it performs no packing at all and treats
// every "value" as already being the raw bytes the caller wants stored.
// It exists only so the module can run standalone in tests and simple
// embeddings; a real database supplies its own row-packing Codec.
type RawCodec struct{}

func (RawCodec) Pack(_ string, values []any) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	b, ok := values[0].([]byte)
	if !ok {
		return nil, ErrConfiguration
	}
	return b, nil
}

func (RawCodec) Unpack(_ string, data []byte) ([]any, error) {
	return []any{data}, nil
}

func (RawCodec) NameIterator(_ string) (FieldIterator, error) {
	return emptyFieldIterator{}, nil
}

type emptyFieldIterator struct{}

func (emptyFieldIterator) Next() (string, bool) { return "", false }

// Collator orders keys. compare(a,b) returns -1, 0 or +1, matching the
// upstream collator contract in spec §6.
type Collator interface {
	Compare(a, b []byte) int
}

// ByteCollator is the default Collator: plain lexicographic byte ordering.
type ByteCollator struct{}

func (ByteCollator) Compare(a, b []byte) int { return bytes.Compare(a, b) }

// ReverseCollator orders keys highest-first, the mirror image of
// ByteCollator. Registered under the "reverse" name so a config string can
// select it without a WithCollator option.
type ReverseCollator struct{}

func (ReverseCollator) Compare(a, b []byte) int { return bytes.Compare(b, a) }

// collatorRegistry maps the spec §6 "collator" config name to a built-in
// Collator. A tree that needs an application-specific ordering still opens
// with WithCollator, which takes precedence over the config string.
var collatorRegistry = map[string]Collator{
	"":        ByteCollator{},
	"byte":    ByteCollator{},
	"reverse": ReverseCollator{},
}

func lookupCollator(name string) (Collator, bool) {
	c, ok := collatorRegistry[name]
	return c, ok
}

// BlockStore is the upstream block/file interface (spec §6). Chunks and
// bloom filters are addressed purely by URI; the core never assumes a
// local filesystem.
type BlockStore interface {
	Create(uri string) (io.WriteCloser, error)
	Open(uri string) (io.ReadCloser, error)
	Remove(uri string) error
	Size(uri string) (int64, error)
}
