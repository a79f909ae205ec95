package game

import (
	"context"
	"fmt"
	"testing"
	"time"

	"party-cards/internal/doc"
)

type stubClock struct {
	now time.Time
}

func (c *stubClock) Now() time.Time {
	return c.now
}

type testGame struct {
	doc    *doc.Document
	engine *Engine
	clock  *stubClock
	timers []func()
	whites int
	blacks int
}

func testPack(whites, blacks int) Pack {
	pack := Pack{Name: "test"}
	for i := 1; i <= whites; i++ {
		pack.Cards = append(pack.Cards, Card{ID: fmt.Sprintf("w%d", i), Color: ColorWhite, Text: fmt.Sprintf("White %d.", i), Pack: "test"})
	}
	for i := 1; i <= blacks; i++ {
		pack.Cards = append(pack.Cards, Card{ID: fmt.Sprintf("b%d", i), Color: ColorBlack, Text: fmt.Sprintf("Prompt %d is _.", i), Pack: "test", Pick: 1})
	}
	return pack
}

// newTestGame builds a hosted session with players P1 (host) .. Pn, joined
// in that order.
func newTestGame(t *testing.T, players int, settings SettingsPatch, whites, blacks int) *testGame {
	t.Helper()
	g := &testGame{
		doc:    doc.NewHosted(),
		clock:  &stubClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		whites: whites,
		blacks: blacks,
	}
	g.engine = NewEngine(g.doc, Options{
		Catalog:   NewStaticCatalog(testPack(whites, blacks)),
		Clock:     g.clock,
		AfterFunc: func(_ time.Duration, fn func()) { g.timers = append(g.timers, fn) },
		Shuffle:   func(int, func(i, j int)) {},
	})
	m := g.engine.Mutations()
	if err := m.InitializeSession(InitPayload{Code: "ABC123", Host: Player{ID: "P1", Name: "Player 1", JoinedAt: 1}}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	for i := 2; i <= players; i++ {
		player := Player{ID: fmt.Sprintf("P%d", i), Name: fmt.Sprintf("Player %d", i), JoinedAt: int64(i)}
		if err := m.AddPlayer(player); err != nil {
			t.Fatalf("add player: %v", err)
		}
	}
	settings.CardPacks = []string{"test"}
	if err := m.UpdateSettings(settings); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	return g
}

func intPtr(v int) *int { return &v }

func (g *testGame) state() State {
	return Load(g.doc)
}

func (g *testGame) runTimers() {
	timers := g.timers
	g.timers = nil
	for _, fn := range timers {
		fn()
	}
}

func (g *testGame) start(t *testing.T) {
	t.Helper()
	if result := g.engine.StartGame(context.Background()); !result.Success {
		t.Fatalf("start game: %s", result.Reason)
	}
	g.checkConservation(t)
}

// playFirst submits the first pick cards of each listed player's hand.
func (g *testGame) playFirst(t *testing.T, players ...string) {
	t.Helper()
	for _, id := range players {
		st := g.state()
		hand := st.Hands[id]
		if result := g.engine.PlayCard(id, hand[:st.Game.BlackCard.Pick]); !result.Success {
			t.Fatalf("play card %s: %s", id, result.Reason)
		}
		g.checkConservation(t)
	}
}

func (g *testGame) checkConservation(t *testing.T) {
	t.Helper()
	st := g.state()
	if st.Game.Phase == PhaseWaiting && st.Game.Round == 0 {
		return
	}
	seen := make(map[string]string)
	count := func(where string, ids []string) {
		for _, id := range ids {
			if prev, dup := seen[id]; dup {
				t.Fatalf("card %s in both %s and %s", id, prev, where)
			}
			seen[id] = where
		}
	}
	count("whiteDeck", st.Pools.WhiteDeck)
	count("discardWhite", st.Pools.DiscardWhite)
	for id, hand := range st.Hands {
		count("hand:"+id, hand)
	}
	for id, cards := range st.Game.Submissions {
		if id == st.Game.JudgeID {
			t.Fatalf("judge %s has a submission", id)
		}
		count("submission:"+id, cards)
	}
	if len(seen) != g.whites {
		t.Fatalf("expected %d white cards in play, got %d", g.whites, len(seen))
	}
	blacks := make(map[string]struct{})
	for _, id := range append(append([]string{}, st.Pools.BlackDeck...), st.Pools.DiscardBlack...) {
		if _, dup := blacks[id]; dup {
			t.Fatalf("black card %s duplicated", id)
		}
		blacks[id] = struct{}{}
	}
	if st.Game.BlackCard != nil {
		if _, dup := blacks[st.Game.BlackCard.ID]; dup {
			t.Fatalf("current black card %s also in a pile", st.Game.BlackCard.ID)
		}
		blacks[st.Game.BlackCard.ID] = struct{}{}
	}
	if len(blacks) != g.blacks {
		t.Fatalf("expected %d black cards in play, got %d", g.blacks, len(blacks))
	}
}
