package doc

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Tx stages writes against a locked document. Reads see staged writes.
type Tx struct {
	d        *Document
	ops      []Op
	staged   map[string]map[string]int
	appended map[string][]Item
	err      error
}

func newTx(d *Document) *Tx {
	return &Tx{
		d:        d,
		staged:   make(map[string]map[string]int),
		appended: make(map[string][]Item),
	}
}

// Set stages value as the whole new content of collection/key. Marshal
// failures abort the transaction at commit.
func (tx *Tx) Set(collection, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		if tx.err == nil {
			tx.err = fmt.Errorf("encode %s/%s: %w", collection, key, err)
		}
		return
	}
	tx.stage(Op{Collection: collection, Key: key, Value: raw})
}

func (tx *Tx) Delete(collection, key string) {
	tx.stage(Op{Collection: collection, Key: key, Delete: true})
}

func (tx *Tx) stage(op Op) {
	m := tx.staged[op.Collection]
	if m == nil {
		m = make(map[string]int)
		tx.staged[op.Collection] = m
	}
	if idx, ok := m[op.Key]; ok {
		tx.ops[idx] = op
		return
	}
	m[op.Key] = len(tx.ops)
	tx.ops = append(tx.ops, op)
}

// Append stages a new list item with a fresh id.
func (tx *Tx) Append(collection string, value any) string {
	raw, err := json.Marshal(value)
	if err != nil {
		if tx.err == nil {
			tx.err = fmt.Errorf("encode %s item: %w", collection, err)
		}
		return ""
	}
	id := tx.d.ids.NewUUID()
	tx.ops = append(tx.ops, Op{Collection: collection, Item: id, Value: raw})
	tx.appended[collection] = append(tx.appended[collection], Item{ID: id, Value: raw})
	return id
}

func (tx *Tx) Get(collection, key string) (json.RawMessage, bool) {
	if idx, ok := tx.staged[collection][key]; ok {
		op := tx.ops[idx]
		if op.Delete {
			return nil, false
		}
		return op.Value, true
	}
	return tx.d.get(collection, key)
}

func (tx *Tx) Keys(collection string) []string {
	base := tx.d.keys(collection)
	staged := tx.staged[collection]
	if len(staged) == 0 {
		return base
	}
	set := make(map[string]struct{}, len(base)+len(staged))
	for _, key := range base {
		set[key] = struct{}{}
	}
	for key, idx := range staged {
		if tx.ops[idx].Delete {
			delete(set, key)
			continue
		}
		set[key] = struct{}{}
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (tx *Tx) List(collection string) []Item {
	return append(tx.d.list(collection), tx.appended[collection]...)
}
