package server

import (
	"sort"
	"sync"
	"time"

	"party-cards/internal/common/clock"
	"party-cards/internal/game"
	"party-cards/internal/protocol"
)

// tracking is the per-document accounting the GC sweep reads.
type tracking struct {
	clients      int
	lastActivity time.Time
}

// DocumentStats is the introspection row for one hosted document.
type DocumentStats struct {
	Document    string   `json:"document"`
	ClientCount int      `json:"clientCount"`
	IdleSeconds float64  `json:"idleSeconds"`
	Roster      []string `json:"roster"`
	Phase       string   `json:"phase"`
}

// Registry owns every hosted document and its client accounting. It is
// populated on first hello, updated on every attach and detach, pruned by
// Sweep and emptied by Close.
type Registry struct {
	mu       sync.Mutex
	clock    clock.Clock
	idleTTL  time.Duration
	rooms    map[string]*room
	tracking map[string]*tracking

	open      func(code string) *room
	onCollect func(r *room, reason string)
}

func newRegistry(c clock.Clock, idleTTL time.Duration, open func(code string) *room) *Registry {
	return &Registry{
		clock:    c,
		idleTTL:  idleTTL,
		rooms:    make(map[string]*room),
		tracking: make(map[string]*tracking),
		open:     open,
	}
}

// Attach returns the room for code, creating it on first use, and counts one
// more client against it.
func (r *Registry) Attach(code string) (*room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	rm, ok := r.rooms[code]
	if !ok {
		rm = r.open(code)
		r.rooms[code] = rm
	}
	t := r.tracking[code]
	if t == nil {
		t = &tracking{}
		r.tracking[code] = t
	}
	t.clients++
	t.lastActivity = now
	return rm, !ok
}

// Detach counts one client gone from rm. The document stays until a sweep
// finds it idle past the TTL. A room that was collected, or replaced by a new
// room under the same code, is not counted against.
func (r *Registry) Detach(rm *room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[rm.code] != rm {
		return
	}
	t := r.tracking[rm.code]
	if t == nil {
		return
	}
	if t.clients > 0 {
		t.clients--
	}
	t.lastActivity = r.clock.Now()
}

func (r *Registry) Get(code string) (*room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[code]
	return rm, ok
}

// Sweep removes every document with no clients whose idle time has reached
// the TTL, plus any stored document missing from the accounting. A document
// with clients is never removed.
func (r *Registry) Sweep(now time.Time) []string {
	r.mu.Lock()
	var removed []*room
	var reasons []string
	for code, rm := range r.rooms {
		t, ok := r.tracking[code]
		switch {
		case !ok:
			reasons = append(reasons, "drift")
		case t.clients == 0 && now.Sub(t.lastActivity) >= r.idleTTL:
			reasons = append(reasons, "idle")
		default:
			continue
		}
		removed = append(removed, rm)
		delete(r.rooms, code)
		delete(r.tracking, code)
	}
	for code, t := range r.tracking {
		if _, ok := r.rooms[code]; !ok && t.clients == 0 {
			delete(r.tracking, code)
		}
	}
	r.mu.Unlock()

	codes := make([]string, 0, len(removed))
	for i, rm := range removed {
		r.collected(rm, reasons[i])
		codes = append(codes, rm.code)
	}
	sort.Strings(codes)
	return codes
}

// Collect force-removes one document whatever its client count.
func (r *Registry) Collect(code string) bool {
	r.mu.Lock()
	rm, ok := r.rooms[code]
	if ok {
		delete(r.rooms, code)
		delete(r.tracking, code)
	}
	r.mu.Unlock()
	if ok {
		r.collected(rm, "manual")
	}
	return ok
}

// CollectAll force-removes every document and returns how many there were.
func (r *Registry) CollectAll() int {
	r.mu.Lock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.rooms = make(map[string]*room)
	r.tracking = make(map[string]*tracking)
	r.mu.Unlock()
	for _, rm := range rooms {
		r.collected(rm, "manual")
	}
	return len(rooms)
}

// Close empties the registry on shutdown.
func (r *Registry) Close() {
	r.CollectAll()
}

func (r *Registry) collected(rm *room, reason string) {
	rm.close(protocol.ReasonCollected)
	if r.onCollect != nil {
		r.onCollect(rm, reason)
	}
}

func (r *Registry) Codes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	codes := make([]string, 0, len(r.rooms))
	for code := range r.rooms {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (r *Registry) Stats() []DocumentStats {
	r.mu.Lock()
	now := r.clock.Now()
	stats := make([]DocumentStats, 0, len(r.rooms))
	rooms := make([]*room, 0, len(r.rooms))
	for code, rm := range r.rooms {
		row := DocumentStats{Document: code}
		if t := r.tracking[code]; t != nil {
			row.ClientCount = t.clients
			if t.clients == 0 {
				row.IdleSeconds = now.Sub(t.lastActivity).Seconds()
			}
		}
		stats = append(stats, row)
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	for i, rm := range rooms {
		view := game.Read(rm.doc, "")
		stats[i].Phase = string(view.Game.Phase)
		stats[i].Roster = roster(view.State)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Document < stats[j].Document })
	return stats
}

func (r *Registry) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, t := range r.tracking {
		total += t.clients
	}
	return total
}

func roster(state game.State) []string {
	ids := make([]string, 0, len(state.Players))
	for id := range state.Players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := state.Players[ids[i]], state.Players[ids[j]]
		if a.JoinedAt != b.JoinedAt {
			return a.JoinedAt < b.JoinedAt
		}
		return ids[i] < ids[j]
	})
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, state.Players[id].Name)
	}
	return names
}
