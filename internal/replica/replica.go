// Package replica attaches a local session document to the host over the
// sync transport.
package replica

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"party-cards/internal/doc"
	"party-cards/internal/protocol"

	"github.com/gorilla/websocket"
)

const (
	DefaultSyncTimeout = 3 * time.Second
	writeWait          = 5 * time.Second
)

var ErrNoDocument = errors.New("document id is required")

type Options struct {
	URL         string
	Document    string
	Identity    string
	Doc         *doc.Document
	SyncTimeout time.Duration
	Dialer      *websocket.Dialer
}

// Replica is one attached client. Local transactions on Doc() are forwarded
// to the host and host updates are merged back in.
type Replica struct {
	conn     *websocket.Conn
	doc      *doc.Document
	document string
	identity string

	writeMu sync.Mutex

	mu       sync.Mutex
	clientID string
	attached bool
	queue    []doc.Update
	reason   string

	synced    atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

// Connect dials the host and attaches opts.Document. It returns once the
// first snapshot arrives or SyncTimeout elapses; a timeout is not an error,
// Synced reports which happened. The document id is sent only in the hello
// frame.
func Connect(ctx context.Context, opts Options) (*Replica, error) {
	if opts.Document == "" {
		return nil, ErrNoDocument
	}
	if opts.Doc == nil {
		opts.Doc = doc.New()
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = DefaultSyncTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	conn, _, err := opts.Dialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, err
	}
	r := &Replica{
		conn:     conn,
		doc:      opts.Doc,
		document: opts.Document,
		identity: opts.Identity,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	r.doc.SetEmitter(r.forward)
	go r.readLoop()

	timer := time.NewTimer(opts.SyncTimeout)
	defer timer.Stop()
	select {
	case <-r.ready:
	case <-timer.C:
		log.Printf("replica sync timeout document=%s timeout=%s", r.document, opts.SyncTimeout)
	case <-r.done:
		log.Printf("replica closed before sync document=%s reason=%s", r.document, r.Reason())
	case <-ctx.Done():
		r.Disconnect()
		return nil, ctx.Err()
	}
	return r, nil
}

func (r *Replica) Doc() *doc.Document {
	return r.doc
}

func (r *Replica) Synced() bool {
	return r.synced.Load()
}

func (r *Replica) ClientID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clientID
}

// Reason is the last error reason the host reported, if any.
func (r *Replica) Reason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// Done is closed when the transport drops or Disconnect runs.
func (r *Replica) Done() <-chan struct{} {
	return r.done
}

// Disconnect says bye and closes the transport. It is safe to call more
// than once.
func (r *Replica) Disconnect() {
	r.closeOnce.Do(func() {
		r.doc.SetEmitter(nil)
		if err := r.write(protocol.Bye()); err != nil {
			log.Printf("replica bye failed document=%s error=%v", r.document, err)
		}
		r.writeMu.Lock()
		_ = r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		r.writeMu.Unlock()
		_ = r.conn.Close()
	})
	<-r.done
}

func (r *Replica) forward(update doc.Update) {
	r.mu.Lock()
	if !r.attached {
		r.queue = append(r.queue, update)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	if err := r.write(protocol.UpdateFrame(update)); err != nil {
		log.Printf("replica send failed document=%s error=%v", r.document, err)
	}
}

func (r *Replica) write(frame protocol.Frame) error {
	payload, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return r.conn.WriteMessage(websocket.TextMessage, payload)
}

func (r *Replica) readLoop() {
	defer close(r.done)
	for {
		_, payload, err := r.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("replica disconnected document=%s error=%v", r.document, err)
			}
			return
		}
		frame, err := protocol.Decode(payload)
		if err != nil {
			log.Printf("replica dropped frame document=%s error=%v", r.document, err)
			continue
		}
		r.handle(frame)
	}
}

func (r *Replica) handle(frame protocol.Frame) {
	switch frame.Type {
	case protocol.TypeWelcome:
		r.mu.Lock()
		r.clientID = frame.Client
		r.mu.Unlock()
		r.doc.SetOrigin(frame.Client)
		if err := r.write(protocol.Hello(r.document, r.identity)); err != nil {
			log.Printf("replica hello failed document=%s error=%v", r.document, err)
		}
	case protocol.TypeSnapshot:
		r.doc.LoadSnapshot(*frame.Snapshot)
		r.attach()
		r.synced.Store(true)
		r.readyOnce.Do(func() { close(r.ready) })
	case protocol.TypeUpdate:
		r.doc.Apply(*frame.Update)
	case protocol.TypeError:
		if dropsWrite(frame.Reason) {
			if n := r.doc.DiscardPending(); n > 0 {
				log.Printf("replica discarded unconfirmed writes document=%s reason=%s writes=%d", r.document, frame.Reason, n)
			}
		}
		r.mu.Lock()
		r.reason = frame.Reason
		r.mu.Unlock()
		log.Printf("replica host error document=%s reason=%s", r.document, frame.Reason)
	}
}

// dropsWrite reports whether the host may have thrown away one of our update
// frames without sequencing it.
func dropsWrite(reason string) bool {
	switch reason {
	case protocol.ReasonRateLimited, protocol.ReasonTooLarge, protocol.ReasonInvalidFrame:
		return true
	}
	return false
}

// attach flushes updates committed before the handshake finished. They are
// stamped with the client id so the host echo confirms them.
func (r *Replica) attach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, update := range r.queue {
		update.Origin = r.clientID
		if err := r.write(protocol.UpdateFrame(update)); err != nil {
			log.Printf("replica flush failed document=%s error=%v", r.document, err)
		}
	}
	r.queue = nil
	r.attached = true
}
