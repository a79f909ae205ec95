package server

import (
	"reflect"
	"testing"
	"time"

	"party-cards/internal/common/clock/mocks"
	"party-cards/internal/doc"
	"party-cards/internal/game"
	"party-cards/internal/protocol"

	"go.uber.org/mock/gomock"
	"golang.org/x/time/rate"
)

const testIdleTTL = 60 * time.Second

type testRegistry struct {
	reg       *Registry
	now       time.Time
	collected []string
}

func newTestRegistry(t *testing.T) *testRegistry {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockClock := mocks.NewMockClock(ctrl)
	tr := &testRegistry{now: time.Date(2025, 4, 5, 10, 0, 0, 0, time.UTC)}
	mockClock.EXPECT().Now().DoAndReturn(func() time.Time { return tr.now }).AnyTimes()
	tr.reg = newRegistry(mockClock, testIdleTTL, func(code string) *room {
		d := doc.NewHosted()
		return newRoom(code, d, game.NewEngine(d, game.Options{Clock: mockClock}), rate.NewLimiter(rate.Inf, 1))
	})
	tr.reg.onCollect = func(r *room, reason string) {
		tr.collected = append(tr.collected, r.code+":"+reason)
	}
	return tr
}

func (tr *testRegistry) advance(d time.Duration) time.Time {
	tr.now = tr.now.Add(d)
	return tr.now
}

func TestSweepKeepsIdleDocumentWithinGrace(t *testing.T) {
	tr := newTestRegistry(t)
	rm, _ := tr.reg.Attach("ABC123")
	tr.reg.Detach(rm)
	start := tr.now

	if removed := tr.reg.Sweep(start.Add(testIdleTTL - time.Second)); len(removed) != 0 {
		t.Fatalf("expected document kept inside grace window, removed %v", removed)
	}
	if _, ok := tr.reg.Get("ABC123"); !ok {
		t.Fatalf("expected document still hosted")
	}
	removed := tr.reg.Sweep(start.Add(testIdleTTL))
	if !reflect.DeepEqual(removed, []string{"ABC123"}) {
		t.Fatalf("expected document removed at TTL, got %v", removed)
	}
	if _, ok := tr.reg.Get("ABC123"); ok {
		t.Fatalf("expected document gone after sweep")
	}
	if !reflect.DeepEqual(tr.collected, []string{"ABC123:idle"}) {
		t.Fatalf("unexpected collect hook calls %v", tr.collected)
	}
}

func TestSweepNeverRemovesAttachedDocument(t *testing.T) {
	tr := newTestRegistry(t)
	rm, _ := tr.reg.Attach("ABC123")
	tr.reg.Attach("ABC123")
	tr.reg.Detach(rm)

	if removed := tr.reg.Sweep(tr.now.Add(30 * 24 * time.Hour)); len(removed) != 0 {
		t.Fatalf("expected attached document kept, removed %v", removed)
	}
}

func TestReattachRestartsIdleClock(t *testing.T) {
	tr := newTestRegistry(t)
	rm, _ := tr.reg.Attach("ABC123")
	tr.reg.Detach(rm)
	tr.advance(50 * time.Second)
	tr.reg.Attach("ABC123")
	tr.reg.Detach(rm)

	if removed := tr.reg.Sweep(tr.now.Add(testIdleTTL - time.Second)); len(removed) != 0 {
		t.Fatalf("expected refresh to restart the grace window, removed %v", removed)
	}
	if removed := tr.reg.Sweep(tr.now.Add(testIdleTTL)); len(removed) != 1 {
		t.Fatalf("expected removal once idle past TTL, got %v", removed)
	}
}

func TestStaleDetachLeavesRecreatedDocument(t *testing.T) {
	tr := newTestRegistry(t)
	old, _ := tr.reg.Attach("ABC123")
	if !tr.reg.Collect("ABC123") {
		t.Fatalf("expected collect to find the document")
	}
	fresh, created := tr.reg.Attach("ABC123")
	if !created || fresh == old {
		t.Fatalf("expected a new room after collect")
	}

	// The collected room's client only now notices its transport is gone.
	tr.reg.Detach(old)
	if n := tr.reg.ClientCount(); n != 1 {
		t.Fatalf("expected new room to keep its client, got %d", n)
	}
	if removed := tr.reg.Sweep(tr.now.Add(2 * testIdleTTL)); len(removed) != 0 {
		t.Fatalf("expected attached document kept, removed %v", removed)
	}
}

func TestSweepRemovesUntrackedDocument(t *testing.T) {
	tr := newTestRegistry(t)
	tr.reg.Attach("ABC123")
	tr.reg.Attach("XYZ789")
	tr.reg.mu.Lock()
	delete(tr.reg.tracking, "XYZ789")
	tr.reg.mu.Unlock()

	removed := tr.reg.Sweep(tr.now)
	if !reflect.DeepEqual(removed, []string{"XYZ789"}) {
		t.Fatalf("expected drifted document removed, got %v", removed)
	}
	if !reflect.DeepEqual(tr.collected, []string{"XYZ789:drift"}) {
		t.Fatalf("unexpected collect hook calls %v", tr.collected)
	}
}

func TestCollectClosesAttachedClients(t *testing.T) {
	tr := newTestRegistry(t)
	r, created := tr.reg.Attach("ABC123")
	if !created {
		t.Fatalf("expected first attach to create the document")
	}
	cl := newClient("c1", "test", transportWebSocket)
	cl.setAttached(r, "u1")
	if err := r.join(cl); err != nil {
		t.Fatalf("join: %v", err)
	}

	if tr.reg.Collect("NOPE") {
		t.Fatalf("expected unknown document to report false")
	}
	if !tr.reg.Collect("ABC123") {
		t.Fatalf("expected collect to find the document")
	}
	if !cl.out.closed() {
		t.Fatalf("expected client outbox closed")
	}
	var types []string
	reason := ""
	for len(cl.out.ch) > 0 {
		frame, err := protocol.Decode(<-cl.out.ch)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		types = append(types, frame.Type)
		reason = frame.Reason
	}
	if !reflect.DeepEqual(types, []string{protocol.TypeSnapshot, protocol.TypeError}) || reason != protocol.ReasonCollected {
		t.Fatalf("unexpected frames %v reason %q", types, reason)
	}
	if err := r.join(newClient("c2", "test", transportWebSocket)); err == nil {
		t.Fatalf("expected closed room to reject joins")
	}
}

func TestCollectAllAndClose(t *testing.T) {
	tr := newTestRegistry(t)
	tr.reg.Attach("A1")
	tr.reg.Attach("B2")
	if n := tr.reg.CollectAll(); n != 2 {
		t.Fatalf("expected 2 flushed, got %d", n)
	}
	tr.reg.Attach("C3")
	tr.reg.Close()
	if codes := tr.reg.Codes(); len(codes) != 0 {
		t.Fatalf("expected empty registry after close, got %v", codes)
	}
	if tr.reg.ClientCount() != 0 {
		t.Fatalf("expected no tracked clients")
	}
}

func TestStatsReportRosterAndPhase(t *testing.T) {
	tr := newTestRegistry(t)
	r, _ := tr.reg.Attach("ABC123")
	m := r.engine.Mutations()
	if err := m.InitializeSession(game.InitPayload{Code: "ABC123", Host: game.Player{ID: "P1", Name: "Ann", JoinedAt: 1}}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := m.AddPlayer(game.Player{ID: "P2", Name: "Bo", JoinedAt: 2}); err != nil {
		t.Fatalf("add player: %v", err)
	}
	tr.reg.Detach(r)
	tr.advance(15 * time.Second)

	stats := tr.reg.Stats()
	if len(stats) != 1 {
		t.Fatalf("expected one document, got %d", len(stats))
	}
	row := stats[0]
	if row.ClientCount != 0 || row.IdleSeconds != 15 || row.Phase != string(game.PhaseWaiting) {
		t.Fatalf("unexpected stats %+v", row)
	}
	if !reflect.DeepEqual(row.Roster, []string{"Ann", "Bo"}) {
		t.Fatalf("unexpected roster %v", row.Roster)
	}
}
