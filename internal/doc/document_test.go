package doc

import (
	"encoding/json"
	"errors"
	"testing"
)

// relay wires replicas to a hosted document the way the session host does:
// every update a replica emits is sequenced by the host and queued for all
// replicas, including the sender.
type relay struct {
	host     *Document
	replicas []*Document
	queue    []Update
}

func newRelay(origins ...string) *relay {
	r := &relay{host: NewHosted()}
	for _, origin := range origins {
		d := New()
		d.SetOrigin(origin)
		d.SetEmitter(func(u Update) {
			sequenced, err := r.host.Sequence(u)
			if err != nil {
				return
			}
			r.queue = append(r.queue, sequenced)
		})
		r.replicas = append(r.replicas, d)
	}
	return r
}

func (r *relay) deliver() {
	for len(r.queue) > 0 {
		u := r.queue[0]
		r.queue = r.queue[1:]
		for _, d := range r.replicas {
			d.Apply(u)
		}
	}
}

func mustString(t *testing.T, r Reader, collection, key string) string {
	t.Helper()
	raw, ok := r.Get(collection, key)
	if !ok {
		t.Fatalf("expected %s/%s to be present", collection, key)
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		t.Fatalf("decode %s/%s: %v", collection, key, err)
	}
	return value
}

func TestTransactAppliesAtomically(t *testing.T) {
	d := New()
	calls := 0
	var seen []string
	d.Observe(func(change Change) {
		calls++
		seen = change.Collections
		if _, ok := d.Get("game", "phase"); !ok {
			t.Errorf("observer saw partial write")
		}
		if _, ok := d.Get("game", "round"); !ok {
			t.Errorf("observer saw partial write")
		}
	})

	_, err := d.Transact(func(tx *Tx) error {
		tx.Set("game", "phase", "submitting")
		tx.Set("game", "round", 1)
		tx.Set("meta", "status", "playing")
		return nil
	})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one notification, got %d", calls)
	}
	if len(seen) != 2 || seen[0] != "game" || seen[1] != "meta" {
		t.Fatalf("unexpected touched collections %v", seen)
	}
}

func TestTransactErrorDiscardsWrites(t *testing.T) {
	d := New()
	emitted := 0
	d.SetEmitter(func(Update) { emitted++ })
	boom := errors.New("boom")
	_, err := d.Transact(func(tx *Tx) error {
		tx.Set("game", "phase", "judging")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := d.Get("game", "phase"); ok {
		t.Fatalf("expected aborted write to be invisible")
	}
	if emitted != 0 {
		t.Fatalf("expected nothing emitted, got %d", emitted)
	}
}

func TestTxReadsStagedWrites(t *testing.T) {
	d := New()
	_, err := d.Transact(func(tx *Tx) error {
		tx.Set("hands", "p1", []string{"w1"})
		tx.Set("hands", "p2", []string{"w2"})
		tx.Delete("hands", "p1")
		if _, ok := tx.Get("hands", "p1"); ok {
			t.Errorf("expected staged delete to hide p1")
		}
		keys := tx.Keys("hands")
		if len(keys) != 1 || keys[0] != "p2" {
			t.Errorf("unexpected staged keys %v", keys)
		}
		tx.Append("chat", map[string]string{"text": "hi"})
		if len(tx.List("chat")) != 1 {
			t.Errorf("expected staged append to be listed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
}

func TestDifferentFieldsBothSurvive(t *testing.T) {
	r := newRelay("a", "b")
	a, b := r.replicas[0], r.replicas[1]

	_, _ = a.Transact(func(tx *Tx) error {
		tx.Set("submissions", "a", []string{"w1"})
		return nil
	})
	_, _ = b.Transact(func(tx *Tx) error {
		tx.Set("submissions", "b", []string{"w2"})
		return nil
	})
	r.deliver()

	for _, d := range append(r.replicas, r.host) {
		keys := d.Keys("submissions")
		if len(keys) != 2 {
			t.Fatalf("expected both submissions to survive, got %v", keys)
		}
	}
}

func TestSameFieldCollapsesToHostOrder(t *testing.T) {
	r := newRelay("a", "b")
	a, b := r.replicas[0], r.replicas[1]

	_, _ = a.Transact(func(tx *Tx) error {
		tx.Set("game", "phase", "judging")
		return nil
	})
	_, _ = b.Transact(func(tx *Tx) error {
		tx.Set("game", "phase", "roundEnd")
		return nil
	})
	// b's optimistic value survives while its write is in flight.
	if got := mustString(t, b, "game", "phase"); got != "roundEnd" {
		t.Fatalf("expected pending local value, got %q", got)
	}
	r.deliver()

	for i, d := range append(r.replicas, r.host) {
		if got := mustString(t, d, "game", "phase"); got != "roundEnd" {
			t.Fatalf("replica %d expected roundEnd, got %q", i, got)
		}
	}
}

func TestListAppendsConvergeInHostOrder(t *testing.T) {
	r := newRelay("a", "b")
	a, b := r.replicas[0], r.replicas[1]
	_, _ = a.Transact(func(tx *Tx) error {
		tx.Append("chat", "first")
		return nil
	})
	_, _ = b.Transact(func(tx *Tx) error {
		tx.Append("chat", "second")
		return nil
	})
	r.deliver()

	for i, d := range r.replicas {
		items := d.List("chat")
		if len(items) != 2 {
			t.Fatalf("replica %d expected 2 items, got %d", i, len(items))
		}
		if string(items[0].Value) != `"first"` || string(items[1].Value) != `"second"` {
			t.Fatalf("replica %d unexpected order %s %s", i, items[0].Value, items[1].Value)
		}
	}
}

func TestSnapshotHandshake(t *testing.T) {
	host := NewHosted()
	_, _ = host.Transact(func(tx *Tx) error {
		tx.Set("meta", "code", "ABCD")
		tx.Set("players", "p1", map[string]string{"name": "Ada"})
		tx.Set("players", "p2", map[string]string{"name": "Bo"})
		tx.Append("chat", "Ada joined")
		return nil
	})
	_, _ = host.Transact(func(tx *Tx) error {
		tx.Delete("players", "p2")
		return nil
	})

	payload, err := json.Marshal(host.Snapshot())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	replica := New()
	replica.SetOrigin("c1")
	replica.LoadSnapshot(snap)
	if replica.Seq() != 2 {
		t.Fatalf("expected seq 2, got %d", replica.Seq())
	}
	if got := mustString(t, replica, "meta", "code"); got != "ABCD" {
		t.Fatalf("expected code ABCD, got %q", got)
	}
	if keys := replica.Keys("players"); len(keys) != 1 || keys[0] != "p1" {
		t.Fatalf("expected only p1, got %v", keys)
	}
	if len(replica.List("chat")) != 1 {
		t.Fatalf("expected chat history")
	}
}

func TestLoadSnapshotKeepsPendingWrites(t *testing.T) {
	replica := New()
	replica.SetOrigin("c1")
	_, _ = replica.Transact(func(tx *Tx) error {
		tx.Set("game", "phase", "judging")
		return nil
	})

	host := NewHosted()
	_, _ = host.Transact(func(tx *Tx) error {
		tx.Set("game", "phase", "submitting")
		return nil
	})
	replica.LoadSnapshot(host.Snapshot())
	if got := mustString(t, replica, "game", "phase"); got != "judging" {
		t.Fatalf("expected pending write to survive snapshot, got %q", got)
	}
}

func TestDiscardPendingFallsBackToConfirmedState(t *testing.T) {
	r := newRelay("a", "b")
	a, b := r.replicas[0], r.replicas[1]
	_, _ = a.Transact(func(tx *Tx) error {
		tx.Set("settings", "lobbyName", "kept")
		return nil
	})
	r.deliver()

	// The host never sees this write, as when it drops a rate limited frame.
	a.SetEmitter(nil)
	_, _ = a.Transact(func(tx *Tx) error {
		tx.Set("settings", "lobbyName", "dropped")
		tx.Set("settings", "theme", "dark")
		tx.Append("chat", "lost")
		return nil
	})
	var changes []Change
	cancel := a.Observe(func(c Change) { changes = append(changes, c) })
	defer cancel()

	if n := a.DiscardPending(); n != 3 {
		t.Fatalf("expected 3 writes discarded, got %d", n)
	}
	if got := mustString(t, a, "settings", "lobbyName"); got != "kept" {
		t.Fatalf("expected confirmed value back, got %q", got)
	}
	if _, ok := a.Get("settings", "theme"); ok {
		t.Fatalf("expected unconfirmed key removed")
	}
	if len(a.List("chat")) != 0 {
		t.Fatalf("expected unconfirmed chat item removed")
	}
	if len(changes) != 1 || len(changes[0].Collections) != 2 {
		t.Fatalf("expected one change for chat and settings, got %+v", changes)
	}

	_, _ = b.Transact(func(tx *Tx) error {
		tx.Set("settings", "lobbyName", "from-b")
		return nil
	})
	r.deliver()
	for i, d := range append(r.replicas, r.host) {
		if got := mustString(t, d, "settings", "lobbyName"); got != "from-b" {
			t.Fatalf("replica %d expected from-b, got %q", i, got)
		}
	}
	if n := a.DiscardPending(); n != 0 {
		t.Fatalf("expected nothing left to discard, got %d", n)
	}
}

func TestDiscardPendingKeepsInFlightWriteOnEcho(t *testing.T) {
	r := newRelay("a")
	a := r.replicas[0]
	_, _ = a.Transact(func(tx *Tx) error {
		tx.Set("game", "phase", "judging")
		return nil
	})
	a.DiscardPending()
	if _, ok := a.Get("game", "phase"); ok {
		t.Fatalf("expected phase hidden until confirmed")
	}
	r.deliver()
	if got := mustString(t, a, "game", "phase"); got != "judging" {
		t.Fatalf("expected echoed write applied, got %q", got)
	}
}

func TestStaleUpdateIgnored(t *testing.T) {
	d := New()
	d.Apply(Update{Seq: 5, Origin: "x", Ops: []Op{{Collection: "game", Key: "phase", Value: json.RawMessage(`"judging"`)}}})
	d.Apply(Update{Seq: 3, Origin: "y", Ops: []Op{{Collection: "game", Key: "phase", Value: json.RawMessage(`"waiting"`)}}})
	if got := mustString(t, d, "game", "phase"); got != "judging" {
		t.Fatalf("expected newer sequence to win, got %q", got)
	}
}

func TestSequenceRejectsEmptyUpdate(t *testing.T) {
	host := NewHosted()
	if _, err := host.Sequence(Update{}); !errors.Is(err, ErrEmptyUpdate) {
		t.Fatalf("expected ErrEmptyUpdate, got %v", err)
	}
}
