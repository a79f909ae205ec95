package server

import (
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"party-cards/internal/common/clock"
	"party-cards/internal/doc"
	"party-cards/internal/game"
)

type stopper interface {
	Stop() bool
}

type afterFunc func(time.Duration, func()) stopper

func realAfterFunc(delay time.Duration, fn func()) stopper {
	return time.AfterFunc(delay, fn)
}

// coordinator owns the server-side automation of one room: bot moves, the
// round-end countdown, the hand-off safety net and host migration. The
// document observer only schedules; engine calls run from timers.
type coordinator struct {
	room      *room
	clock     clock.Clock
	after     afterFunc
	botDelay  time.Duration
	handOff   time.Duration
	hostGrace time.Duration

	mu      sync.Mutex
	rng     *rand.Rand
	timers  map[string]stopper
	stopped bool
	cancel  func()
}

type coordinatorOptions struct {
	Clock     clock.Clock
	After     afterFunc
	BotDelay  time.Duration
	HandOff   time.Duration
	HostGrace time.Duration
	Seed      uint64
}

func newCoordinator(r *room, opts coordinatorOptions) *coordinator {
	if opts.Clock == nil {
		opts.Clock = &clock.DefaultClock{}
	}
	if opts.After == nil {
		opts.After = realAfterFunc
	}
	if opts.Seed == 0 {
		opts.Seed = uint64(opts.Clock.Now().UnixNano())
	}
	c := &coordinator{
		room:      r,
		clock:     opts.Clock,
		after:     opts.After,
		botDelay:  opts.BotDelay,
		handOff:   opts.HandOff,
		hostGrace: opts.HostGrace,
		rng:       rand.New(rand.NewPCG(opts.Seed, opts.Seed>>1)),
		timers:    make(map[string]stopper),
	}
	c.cancel = r.doc.Observe(func(doc.Change) { c.review() })
	r.coordinator = c
	return c
}

// review looks at the current view and schedules whatever is owed.
func (c *coordinator) review() {
	view := game.Read(c.room.doc, "")
	phase := view.Game.Phase
	round := view.Game.Round

	if phase == game.PhaseRoundEnd {
		if countdown := view.Settings.RoundEndCountdownSeconds; countdown > 0 {
			deadline := time.UnixMilli(view.Game.RoundEndStartTime).Add(time.Duration(countdown) * time.Second)
			delay := deadline.Sub(c.clock.Now())
			if delay < 0 {
				delay = 0
			}
			c.schedule(fmt.Sprintf("next_round:%d", round), delay, func() { c.nextRound(round) })
		}
	}
	if phase == game.PhaseSubmittingComplete {
		c.schedule(fmt.Sprintf("hand_off:%d", round), 2*c.handOff, func() { c.advance(round) })
	}
	if len(game.BotMoves(view, nil)) > 0 {
		c.schedule(fmt.Sprintf("bots:%s:%d", phase, round), c.botDelay, c.playBots)
	}
}

// schedule arms fn under key unless a timer with that key is pending.
func (c *coordinator) schedule(key string, delay time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if _, ok := c.timers[key]; ok {
		return
	}
	c.timers[key] = c.after(delay, func() {
		c.mu.Lock()
		delete(c.timers, key)
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return
		}
		fn()
	})
}

func (c *coordinator) pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.timers))
	for key := range c.timers {
		keys = append(keys, key)
	}
	return keys
}

func (c *coordinator) nextRound(round int) {
	view := game.Read(c.room.doc, "")
	if view.Game.Phase != game.PhaseRoundEnd || view.Game.Round != round {
		return
	}
	if result := c.room.engine.NextRound(); !result.Success {
		log.Printf("coordinator next round failed document=%s round=%d reason=%s", c.room.code, round, result.Reason)
	}
}

func (c *coordinator) advance(round int) {
	view := game.Read(c.room.doc, "")
	if view.Game.Phase != game.PhaseSubmittingComplete || view.Game.Round != round {
		return
	}
	if result := c.room.engine.AdvanceToJudging(); !result.Success {
		log.Printf("coordinator hand-off failed document=%s round=%d reason=%s", c.room.code, round, result.Reason)
	}
}

func (c *coordinator) playBots() {
	if c.room.clientCount() == 0 {
		return
	}
	c.mu.Lock()
	moves := game.BotMoves(game.Read(c.room.doc, ""), c.rng)
	c.mu.Unlock()
	for _, move := range moves {
		if result := c.room.engine.PlayBot(move); !result.Success {
			log.Printf("bot move rejected document=%s bot=%s action=%s reason=%s", c.room.code, move.PlayerID, move.Action, result.Reason)
		}
	}
}

// identityLeft moves the host role once the host's last connection has been
// gone for the grace period, so a page refresh keeps it.
func (c *coordinator) identityLeft(identity string) {
	if identity == "" {
		return
	}
	c.schedule("host:"+identity, c.hostGrace, func() { c.migrateHost(identity) })
}

func (c *coordinator) migrateHost(identity string) {
	if c.room.hasIdentity(identity) {
		return
	}
	state := game.Read(c.room.doc, "").State
	if state.Meta.HostIdentity != identity {
		return
	}
	next := ""
	var joined int64
	for _, candidate := range c.room.identities() {
		player, ok := state.Players[candidate]
		if !ok || player.PlayerType == game.PlayerTypeBot {
			continue
		}
		if next == "" || player.JoinedAt < joined {
			next = candidate
			joined = player.JoinedAt
		}
	}
	if next == "" {
		return
	}
	if err := c.room.engine.Mutations().TransferHost(next); err != nil {
		log.Printf("host migration failed document=%s from=%s to=%s error=%v", c.room.code, identity, next, err)
		return
	}
	log.Printf("host migrated document=%s from=%s to=%s", c.room.code, identity, next)
}

func (c *coordinator) stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	timers := c.timers
	c.timers = make(map[string]stopper)
	c.mu.Unlock()
	c.cancel()
	for _, t := range timers {
		t.Stop()
	}
}
