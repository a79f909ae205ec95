package server

import (
	"log"
	"sync"

	"party-cards/internal/protocol"
)

const (
	transportWebSocket = "websocket"
	transportSSE       = "sse"

	outboxSize = 256
)

// outbox buffers encoded frames for one connection. The transport's writer
// drains ch until done closes.
type outbox struct {
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newOutbox() *outbox {
	return &outbox{
		ch:   make(chan []byte, outboxSize),
		done: make(chan struct{}),
	}
}

// push never blocks. A full buffer means the reader stopped keeping up; the
// connection is closed and the client reconnects for a fresh snapshot.
func (o *outbox) push(payload []byte) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.ch <- payload:
		return true
	default:
		o.close()
		return false
	}
}

func (o *outbox) close() {
	o.closeOnce.Do(func() { close(o.done) })
}

func (o *outbox) closed() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// client is one transport connection. It attaches to at most one room.
type client struct {
	id        string
	remote    string
	transport string
	out       *outbox

	mu       sync.Mutex
	identity string
	room     *room
	joining  bool
}

func newClient(id, remote, transport string) *client {
	return &client{
		id:        id,
		remote:    remote,
		transport: transport,
		out:       newOutbox(),
	}
}

func (c *client) send(frame protocol.Frame) bool {
	payload, err := protocol.Encode(frame)
	if err != nil {
		log.Printf("sync encode failed client_id=%s type=%s error=%v", c.id, frame.Type, err)
		return false
	}
	return c.out.push(payload)
}

func (c *client) attached() *room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// claim reserves the client for one hello. Concurrent fallback posts can
// race, and only the first may attach.
func (c *client) claim() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room != nil || c.joining {
		return false
	}
	c.joining = true
	return true
}

func (c *client) setAttached(r *room, identity string) {
	c.mu.Lock()
	c.room = r
	c.identity = identity
	c.joining = false
	c.mu.Unlock()
}

func (c *client) detach() (*room, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, identity := c.room, c.identity
	c.room = nil
	return r, identity
}

// rateKey groups a client's frames with every other connection of the same
// identity, starting with the hello that names it. Anonymous connections are
// limited on their own.
func (c *client) rateKey(frame protocol.Frame) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != "" {
		return "identity:" + c.identity
	}
	if frame.Type == protocol.TypeHello && frame.Identity != "" {
		return "identity:" + frame.Identity
	}
	return "client:" + c.id
}

func (c *client) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}
