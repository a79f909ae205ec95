package game

import (
	"sort"
	"sync"

	"party-cards/internal/doc"
)

// View is the typed snapshot one participant renders from.
type View struct {
	State
	Self string
}

type Standing struct {
	PlayerID string
	Name     string
	Points   int
}

func Read(r doc.Reader, self string) View {
	return View{State: Load(r), Self: self}
}

func (v View) IsWaiting() bool { return v.Game.Phase == PhaseWaiting }

// IsSubmitting also covers the submitting-complete hand-off.
func (v View) IsSubmitting() bool {
	return v.Game.Phase == PhaseSubmitting || v.Game.Phase == PhaseSubmittingComplete
}

func (v View) IsJudging() bool { return v.Game.Phase == PhaseJudging }

func (v View) IsRoundEnd() bool { return v.Game.Phase == PhaseRoundEnd }

func (v View) IsComplete() bool { return v.Game.Phase == PhaseComplete }

func (v View) IsPlaying() bool {
	return v.IsSubmitting() || v.IsJudging() || v.IsRoundEnd()
}

func (v View) MyHand() []string {
	return v.Hands[v.Self]
}

func (v View) MySubmission() []string {
	return v.Game.Submissions[v.Self]
}

func (v View) IsJudge() bool {
	return v.Self != "" && v.Game.JudgeID == v.Self
}

func (v View) IsHost() bool {
	if v.Self == "" {
		return false
	}
	if v.Meta.HostIdentity != "" {
		return v.Meta.HostIdentity == v.Self
	}
	player, ok := v.Players[v.Self]
	return ok && player.IsHost
}

// Leaderboard sorts scores descending. Ties keep playerOrder, and scored
// players missing from it follow by id.
func (v View) Leaderboard() []Standing {
	ids := make([]string, 0, len(v.Game.Scores))
	seen := make(map[string]struct{}, len(v.Game.Scores))
	for _, id := range v.Game.PlayerOrder {
		if _, ok := v.Game.Scores[id]; ok {
			ids = append(ids, id)
			seen[id] = struct{}{}
		}
	}
	for _, id := range sortedKeys(v.Game.Scores) {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	out := make([]Standing, 0, len(ids))
	for _, id := range ids {
		name := id
		if player, ok := v.Players[id]; ok {
			name = player.Name
		}
		out = append(out, Standing{PlayerID: id, Name: name, Points: v.Game.Scores[id]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Points > out[j].Points })
	return out
}

// CardText resolves a card id through the session's text cache.
func (v View) CardText(id string) string {
	if text, ok := v.Pools.CardTextCache[id]; ok {
		return text.Text
	}
	return id
}

// Projection keeps a View current for one participant and republishes it on
// every local or remote change.
type Projection struct {
	mu      sync.Mutex
	doc     *doc.Document
	self    string
	view    View
	subs    map[int]func(View)
	nextSub int
	cancel  func()
}

func NewProjection(d *doc.Document, self string) *Projection {
	p := &Projection{
		doc:  d,
		self: self,
		view: Read(d, self),
		subs: make(map[int]func(View)),
	}
	p.cancel = d.Observe(func(doc.Change) { p.refresh() })
	return p
}

func (p *Projection) refresh() {
	view := Read(p.doc, p.self)
	p.mu.Lock()
	p.view = view
	subs := make([]func(View), 0, len(p.subs))
	ids := make([]int, 0, len(p.subs))
	for id := range p.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		subs = append(subs, p.subs[id])
	}
	p.mu.Unlock()
	for _, fn := range subs {
		fn(view)
	}
}

func (p *Projection) Current() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

// Subscribe calls fn with every new View until the returned func is called.
func (p *Projection) Subscribe(fn func(View)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

func (p *Projection) Close() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.subs = make(map[int]func(View))
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
