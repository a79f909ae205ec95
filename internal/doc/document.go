// Package doc holds the replicated session document: named map collections of
// JSON registers plus append-only lists, merged field by field in the order
// the host sequences updates.
package doc

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"party-cards/internal/common/uuid"
)

var ErrEmptyUpdate = errors.New("update has no operations")

// Reader is the read side shared by Document and Tx.
type Reader interface {
	Get(collection, key string) (json.RawMessage, bool)
	Keys(collection string) []string
	List(collection string) []Item
}

type Op struct {
	Collection string          `json:"c" validate:"required,max=64"`
	Key        string          `json:"k,omitempty" validate:"max=256"`
	Value      json.RawMessage `json:"v,omitempty"`
	Delete     bool            `json:"d,omitempty"`
	Item       string          `json:"i,omitempty" validate:"max=64"`
}

// Update is the unit of replication. Seq is zero until the host sequences it.
type Update struct {
	Seq    uint64 `json:"seq,omitempty"`
	Origin string `json:"origin,omitempty" validate:"max=64"`
	Ops    []Op   `json:"ops" validate:"required,min=1,max=512,dive"`
}

type Item struct {
	ID    string          `json:"id"`
	Value json.RawMessage `json:"v"`
	Seq   uint64          `json:"s,omitempty"`
}

type Entry struct {
	Value json.RawMessage `json:"v"`
	Seq   uint64          `json:"s"`
}

type Snapshot struct {
	Seq   uint64                      `json:"seq"`
	Maps  map[string]map[string]Entry `json:"maps"`
	Lists map[string][]Item           `json:"lists"`
}

type Change struct {
	Origin      string
	Local       bool
	Seq         uint64
	Collections []string
}

// entry is one register. value is what readers see; base is the last
// host-confirmed value, which differs only while local writes are pending.
type entry struct {
	value       json.RawMessage
	seq         uint64
	pending     int
	deleted     bool
	base        json.RawMessage
	baseDeleted bool
}

type Document struct {
	mu        sync.RWMutex
	hosted    bool
	origin    string
	seq       uint64
	maps      map[string]map[string]*entry
	lists     map[string][]Item
	pending   map[string][]Item
	ids       uuid.UUID
	emit      func(Update)
	observers map[int]func(Change)
	nextObs   int
}

// New returns a replica document. Local writes stay pending until the host
// echoes them back with a sequence number.
func New() *Document {
	return &Document{
		maps:      make(map[string]map[string]*entry),
		lists:     make(map[string][]Item),
		pending:   make(map[string][]Item),
		ids:       uuid.New(),
		observers: make(map[int]func(Change)),
	}
}

// NewHosted returns the host's copy. It sequences every update it applies.
func NewHosted() *Document {
	d := New()
	d.hosted = true
	d.origin = "host"
	return d
}

func (d *Document) SetOrigin(origin string) {
	d.mu.Lock()
	d.origin = origin
	d.mu.Unlock()
}

func (d *Document) Origin() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.origin
}

// SetEmitter installs the callback that receives every committed local update.
func (d *Document) SetEmitter(fn func(Update)) {
	d.mu.Lock()
	d.emit = fn
	d.mu.Unlock()
}

func (d *Document) Seq() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.seq
}

// Observe registers fn for every applied change, local or remote.
func (d *Document) Observe(fn func(Change)) func() {
	d.mu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}
}

// Transact runs fn against a staging transaction. If fn returns an error
// nothing is applied. Otherwise every staged op lands atomically, observers
// fire once and the update is handed to the emitter.
func (d *Document) Transact(fn func(tx *Tx) error) (Update, error) {
	d.mu.Lock()
	tx := newTx(d)
	if err := fn(tx); err != nil {
		d.mu.Unlock()
		return Update{}, err
	}
	if tx.err != nil {
		d.mu.Unlock()
		return Update{}, tx.err
	}
	if len(tx.ops) == 0 {
		d.mu.Unlock()
		return Update{}, nil
	}
	update := Update{Origin: d.origin, Ops: tx.ops}
	if d.hosted {
		d.seq++
		update.Seq = d.seq
		d.applyConfirmed(update)
	} else {
		d.applyPending(update)
	}
	change := Change{Origin: update.Origin, Local: true, Seq: update.Seq, Collections: touched(update.Ops)}
	observers := d.observerList()
	emit := d.emit
	d.mu.Unlock()

	notify(observers, change)
	if emit != nil {
		emit(update)
	}
	return update, nil
}

// Apply merges a host-sequenced update into a replica.
func (d *Document) Apply(update Update) {
	if len(update.Ops) == 0 {
		return
	}
	d.mu.Lock()
	d.applyConfirmed(update)
	if update.Seq > d.seq {
		d.seq = update.Seq
	}
	change := Change{Origin: update.Origin, Seq: update.Seq, Collections: touched(update.Ops)}
	observers := d.observerList()
	d.mu.Unlock()
	notify(observers, change)
}

// Sequence stamps a client update with the next host sequence number and
// applies it. The returned update is what every peer must receive.
func (d *Document) Sequence(update Update) (Update, error) {
	if len(update.Ops) == 0 {
		return Update{}, ErrEmptyUpdate
	}
	d.mu.Lock()
	d.seq++
	update.Seq = d.seq
	d.applyConfirmed(update)
	change := Change{Origin: update.Origin, Seq: update.Seq, Collections: touched(update.Ops)}
	observers := d.observerList()
	d.mu.Unlock()
	notify(observers, change)
	return update, nil
}

func (d *Document) applyPending(update Update) {
	for _, op := range update.Ops {
		if op.Item != "" {
			d.pending[op.Collection] = append(d.pending[op.Collection], Item{ID: op.Item, Value: op.Value})
			continue
		}
		e := d.entry(op.Collection, op.Key)
		e.value = op.Value
		e.deleted = op.Delete
		e.pending++
	}
}

func (d *Document) applyConfirmed(update Update) {
	own := !d.hosted && d.origin != "" && update.Origin == d.origin
	for _, op := range update.Ops {
		if op.Item != "" {
			d.confirmItem(op, update.Seq, own)
			continue
		}
		e := d.entry(op.Collection, op.Key)
		if e.pending > 0 {
			// A newer local write is still in flight and will be sequenced
			// after this one, so its value stays.
			if own {
				e.pending--
			}
			if update.Seq > e.seq {
				e.seq = update.Seq
				e.base, e.baseDeleted = op.Value, op.Delete
			}
			continue
		}
		if update.Seq <= e.seq {
			continue
		}
		e.value = op.Value
		e.deleted = op.Delete
		e.base, e.baseDeleted = op.Value, op.Delete
		e.seq = update.Seq
	}
}

func (d *Document) confirmItem(op Op, seq uint64, own bool) {
	if own {
		pending := d.pending[op.Collection]
		for i := range pending {
			if pending[i].ID == op.Item {
				d.pending[op.Collection] = append(pending[:i], pending[i+1:]...)
				break
			}
		}
	}
	items := d.lists[op.Collection]
	for _, existing := range items {
		if existing.ID == op.Item {
			return
		}
	}
	item := Item{ID: op.Item, Value: op.Value, Seq: seq}
	idx := sort.Search(len(items), func(i int) bool { return items[i].Seq > seq })
	items = append(items, Item{})
	copy(items[idx+1:], items[idx:])
	items[idx] = item
	d.lists[op.Collection] = items
}

func (d *Document) entry(collection, key string) *entry {
	m := d.maps[collection]
	if m == nil {
		m = make(map[string]*entry)
		d.maps[collection] = m
	}
	e := m[key]
	if e == nil {
		e = &entry{deleted: true, baseDeleted: true}
		m[key] = e
	}
	return e
}

func (d *Document) Get(collection, key string) (json.RawMessage, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.get(collection, key)
}

func (d *Document) get(collection, key string) (json.RawMessage, bool) {
	e, ok := d.maps[collection][key]
	if !ok || e.deleted {
		return nil, false
	}
	return e.value, true
}

func (d *Document) Keys(collection string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.keys(collection)
}

func (d *Document) keys(collection string) []string {
	keys := make([]string, 0, len(d.maps[collection]))
	for key, e := range d.maps[collection] {
		if !e.deleted {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (d *Document) List(collection string) []Item {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.list(collection)
}

func (d *Document) list(collection string) []Item {
	confirmed := d.lists[collection]
	pending := d.pending[collection]
	out := make([]Item, 0, len(confirmed)+len(pending))
	out = append(out, confirmed...)
	return append(out, pending...)
}

// Snapshot returns the confirmed state for the sync handshake.
func (d *Document) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap := Snapshot{
		Seq:   d.seq,
		Maps:  make(map[string]map[string]Entry, len(d.maps)),
		Lists: make(map[string][]Item, len(d.lists)),
	}
	for name, m := range d.maps {
		out := make(map[string]Entry, len(m))
		for key, e := range m {
			if e.deleted {
				continue
			}
			out[key] = Entry{Value: e.value, Seq: e.seq}
		}
		snap.Maps[name] = out
	}
	for name, items := range d.lists {
		snap.Lists[name] = append([]Item(nil), items...)
	}
	return snap
}

// LoadSnapshot replaces confirmed state. Writes still pending locally are
// kept on top so they are not lost before the host echoes them.
func (d *Document) LoadSnapshot(snap Snapshot) {
	d.mu.Lock()
	maps := make(map[string]map[string]*entry, len(snap.Maps))
	for name, m := range snap.Maps {
		out := make(map[string]*entry, len(m))
		for key, e := range m {
			out[key] = &entry{value: e.Value, seq: e.Seq, base: e.Value}
		}
		maps[name] = out
	}
	for name, m := range d.maps {
		for key, e := range m {
			if e.pending == 0 {
				continue
			}
			if maps[name] == nil {
				maps[name] = make(map[string]*entry)
			}
			kept := *e
			kept.base, kept.baseDeleted = nil, true
			if base, ok := maps[name][key]; ok {
				kept.base, kept.baseDeleted = base.value, false
				if base.seq > kept.seq {
					kept.seq = base.seq
				}
			}
			maps[name][key] = &kept
		}
	}
	d.maps = maps
	d.lists = make(map[string][]Item, len(snap.Lists))
	collections := make([]string, 0, len(snap.Maps)+len(snap.Lists))
	for name, items := range snap.Lists {
		d.lists[name] = append([]Item(nil), items...)
		collections = append(collections, name)
	}
	for name := range snap.Maps {
		collections = append(collections, name)
	}
	if snap.Seq > d.seq {
		d.seq = snap.Seq
	}
	sort.Strings(collections)
	change := Change{Seq: snap.Seq, Collections: collections}
	observers := d.observerList()
	d.mu.Unlock()
	notify(observers, change)
}

// DiscardPending drops every local write the host has not confirmed and
// shows the confirmed state again. A discarded write that was still in flight
// reappears when its echo arrives. It returns how many registers and list
// items were rolled back.
func (d *Document) DiscardPending() int {
	d.mu.Lock()
	discarded := 0
	seen := make(map[string]struct{})
	for name, m := range d.maps {
		for _, e := range m {
			if e.pending == 0 {
				continue
			}
			e.value, e.deleted = e.base, e.baseDeleted
			e.pending = 0
			discarded++
			seen[name] = struct{}{}
		}
	}
	for name, items := range d.pending {
		if len(items) == 0 {
			continue
		}
		discarded += len(items)
		seen[name] = struct{}{}
	}
	d.pending = make(map[string][]Item)
	if discarded == 0 {
		d.mu.Unlock()
		return 0
	}
	collections := make([]string, 0, len(seen))
	for name := range seen {
		collections = append(collections, name)
	}
	sort.Strings(collections)
	change := Change{Seq: d.seq, Collections: collections}
	observers := d.observerList()
	d.mu.Unlock()
	notify(observers, change)
	return discarded
}

func (d *Document) observerList() []func(Change) {
	ids := make([]int, 0, len(d.observers))
	for id := range d.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		out = append(out, d.observers[id])
	}
	return out
}

func notify(observers []func(Change), change Change) {
	for _, fn := range observers {
		fn(change)
	}
}

func touched(ops []Op) []string {
	seen := make(map[string]struct{}, len(ops))
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		if _, ok := seen[op.Collection]; ok {
			continue
		}
		seen[op.Collection] = struct{}{}
		out = append(out, op.Collection)
	}
	sort.Strings(out)
	return out
}
