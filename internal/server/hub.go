package server

import (
	"errors"
	"log"
	"sort"
	"sync"

	"party-cards/internal/doc"
	"party-cards/internal/game"
	"party-cards/internal/protocol"

	"golang.org/x/time/rate"
)

var errRoomClosed = errors.New("room closed")

// hostOrigin stamps updates written by the server's own engine.
const hostOrigin = "server"

// room is one hosted session document and the clients attached to it.
// Sequencing, joins and broadcasts share mu so every client sees the
// snapshot followed by exactly the updates sequenced after it.
type room struct {
	code        string
	doc         *doc.Document
	engine      *game.Engine
	limiter     *rate.Limiter
	coordinator *coordinator

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

func newRoom(code string, d *doc.Document, engine *game.Engine, limiter *rate.Limiter) *room {
	r := &room{
		code:    code,
		doc:     d,
		engine:  engine,
		limiter: limiter,
		clients: make(map[string]*client),
	}
	d.SetOrigin(hostOrigin)
	d.SetEmitter(r.broadcast)
	return r
}

func (r *room) join(c *client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errRoomClosed
	}
	r.clients[c.id] = c
	c.send(protocol.SnapshotFrame(r.code, r.doc.Snapshot()))
	return nil
}

func (r *room) leave(clientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
	return len(r.clients)
}

// submit sequences a client update and fans it out to every attached
// client, the sender included, so its pending write is confirmed.
func (r *room) submit(update doc.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errRoomClosed
	}
	sequenced, err := r.doc.Sequence(update)
	if err != nil {
		return err
	}
	r.fanOut(sequenced)
	return nil
}

// broadcast is the hosted document's emitter for server-side writes.
func (r *room) broadcast(update doc.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.fanOut(update)
}

func (r *room) fanOut(update doc.Update) {
	payload, err := protocol.Encode(protocol.UpdateFrame(update))
	if err != nil {
		log.Printf("sync encode failed document=%s seq=%d error=%v", r.code, update.Seq, err)
		return
	}
	for id, c := range r.clients {
		if !c.out.push(payload) {
			log.Printf("sync client dropped document=%s client_id=%s reason=slow_consumer", r.code, id)
		}
	}
}

func (r *room) clientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *room) hasIdentity(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.Identity() == identity {
			return true
		}
	}
	return false
}

// identities lists the distinct identities currently attached, sorted.
func (r *room) identities() []string {
	r.mu.Lock()
	seen := make(map[string]struct{}, len(r.clients))
	for _, c := range r.clients {
		if identity := c.Identity(); identity != "" {
			seen[identity] = struct{}{}
		}
	}
	r.mu.Unlock()
	out := make([]string, 0, len(seen))
	for identity := range seen {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}

// close tells every client why and drops them. The room rejects further
// joins and writes.
func (r *room) close(reason string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	clients := make([]*client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[string]*client)
	r.mu.Unlock()

	r.doc.SetEmitter(nil)
	if r.coordinator != nil {
		r.coordinator.stop()
	}
	for _, c := range clients {
		c.send(protocol.Error(reason))
		c.out.close()
	}
}
