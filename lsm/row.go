package lsm

// InsertRow packs values through the tree's configured Codec using its
// value_format before writing them under key, the way an embedding
// database hands application rows to the storage engine instead of raw
// bytes (spec §6 "Codec").
func (t *Tree) InsertRow(key []byte, values []any, txnID uint64) error {
	packed, err := t.codec.Pack(t.cfg.ValueFormat, values)
	if err != nil {
		return err
	}
	return t.Insert(key, packed, txnID)
}

// UpdateRow behaves like InsertRow; see Tree.Update.
func (t *Tree) UpdateRow(key []byte, values []any, txnID uint64) error {
	packed, err := t.codec.Pack(t.cfg.ValueFormat, values)
	if err != nil {
		return err
	}
	return t.Update(key, packed, txnID)
}

// GetRow reads key and unpacks its value through the tree's Codec.
func (t *Tree) GetRow(key []byte, txnID uint64) ([]any, error) {
	raw, err := t.Search(key, txnID)
	if err != nil {
		return nil, err
	}
	return t.codec.Unpack(t.cfg.ValueFormat, raw)
}

// ValueFieldNames lists the field names encoded in the tree's configured
// value_format, as reported by the Codec's FieldIterator.
func (t *Tree) ValueFieldNames() ([]string, error) {
	it, err := t.codec.NameIterator(t.cfg.ValueFormat)
	if err != nil {
		return nil, err
	}

	var names []string
	for {
		name, ok := it.Next()
		if !ok {
			break
		}
		names = append(names, name)
	}
	return names, nil
}
