package server

import (
	"context"
	"errors"
	"log"

	"party-cards/internal/db"
	"party-cards/internal/discovery"
	"party-cards/internal/protocol"
)

// handleFrame dispatches one inbound frame for either transport. It returns
// false once the client has said bye.
func (s *Server) handleFrame(cl *client, payload []byte) bool {
	if len(payload) > s.cfg.MaxMessageBytes {
		s.drop(cl, protocol.ReasonTooLarge)
		return true
	}
	frame, err := protocol.Decode(payload)
	if !s.limiter.allowClient(cl.rateKey(frame), s.clock.Now()) {
		s.drop(cl, protocol.ReasonRateLimited)
		return true
	}
	if err != nil {
		log.Printf("sync frame invalid client_id=%s error=%v", cl.id, err)
		s.drop(cl, protocol.ReasonInvalidFrame)
		return true
	}
	switch frame.Type {
	case protocol.TypeHello:
		s.attach(cl, frame)
	case protocol.TypeUpdate:
		s.submit(cl, frame)
	case protocol.TypeBye:
		log.Printf("sync bye client_id=%s", cl.id)
		return false
	default:
		s.drop(cl, protocol.ReasonInvalidFrame)
	}
	return true
}

// drop logs a rejected frame and tells the client why. The connection stays.
func (s *Server) drop(cl *client, reason string) {
	document := ""
	if r := cl.attached(); r != nil {
		document = r.code
	}
	log.Printf("sync frame dropped client_id=%s document=%s reason=%s", cl.id, document, reason)
	cl.send(protocol.Error(reason))
}

func (s *Server) attach(cl *client, frame protocol.Frame) {
	if !cl.claim() {
		s.drop(cl, protocol.ReasonAlreadyAttached)
		return
	}
	code, identity := frame.Document, frame.Identity
	if !s.bindIdentity(code, identity) {
		cl.setAttached(nil, "")
		s.drop(cl, protocol.ReasonIdentityBusy)
		return
	}

	r, created := s.registry.Attach(code)
	if created {
		log.Printf("document created document=%s", code)
		s.registerSession(code)
		s.persistEvent(code, db.EventSessionCreated, cl.id, identity, EventPayload{Document: code})
	}
	cl.setAttached(r, identity)
	if err := r.join(cl); err != nil {
		cl.setAttached(nil, "")
		s.registry.Detach(r)
		s.drop(cl, protocol.ReasonCollected)
		return
	}
	clients := r.clientCount()
	log.Printf("sync attached client_id=%s document=%s identity=%s transport=%s clients=%d", cl.id, code, identity, cl.transport, clients)
	s.persistEvent(code, db.EventClientJoined, cl.id, identity, EventPayload{
		Document:  code,
		Transport: cl.transport,
		Remote:    cl.remote,
		Clients:   clients,
	})
}

func (s *Server) submit(cl *client, frame protocol.Frame) {
	r := cl.attached()
	if r == nil {
		s.drop(cl, protocol.ReasonNotAttached)
		return
	}
	if !r.limiter.AllowN(s.clock.Now(), 1) {
		s.drop(cl, protocol.ReasonRateLimited)
		return
	}
	update := *frame.Update
	update.Origin = cl.id
	update.Seq = 0
	if err := r.submit(update); err != nil {
		if errors.Is(err, errRoomClosed) {
			s.drop(cl, protocol.ReasonCollected)
			return
		}
		log.Printf("sync update rejected client_id=%s document=%s error=%v", cl.id, r.code, err)
		s.drop(cl, protocol.ReasonInvalidFrame)
	}
}

// detach runs once per connection when its transport ends.
func (s *Server) detach(cl *client) {
	r, identity := cl.detach()
	if r == nil {
		return
	}
	remaining := r.leave(cl.id)
	s.registry.Detach(r)
	if identity != "" && !r.hasIdentity(identity) {
		s.releaseIdentity(r.code, identity)
		if r.coordinator != nil {
			r.coordinator.identityLeft(identity)
		}
	}
	log.Printf("sync detached client_id=%s document=%s identity=%s clients=%d", cl.id, r.code, identity, remaining)
	s.persistEvent(r.code, db.EventClientLeft, cl.id, identity, EventPayload{
		Document:  r.code,
		Transport: cl.transport,
		Clients:   remaining,
	})
}

// bindIdentity claims identity for code in the discovery registry. Only an
// identity already playing elsewhere is refused; a registry outage is logged
// and the join goes ahead.
func (s *Server) bindIdentity(code, identity string) bool {
	if s.directory == nil || identity == "" {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()
	err := s.directory.BindIdentity(ctx, &discovery.BindIdentityInput{Identity: identity, Code: code})
	if errors.Is(err, discovery.ErrIdentityInOtherSession) {
		return false
	}
	if err != nil {
		log.Printf("discovery bind failed document=%s identity=%s error=%v", code, identity, err)
	}
	return true
}

func (s *Server) releaseIdentity(code, identity string) {
	if s.directory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()
	if err := s.directory.ReleaseIdentity(ctx, &discovery.ReleaseIdentityInput{Identity: identity, Code: code}); err != nil {
		log.Printf("discovery release failed document=%s identity=%s error=%v", code, identity, err)
	}
}

func (s *Server) registerSession(code string) {
	if s.directory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()
	if err := s.directory.RegisterSession(ctx, &discovery.RegisterSessionInput{Code: code, Address: s.cfg.PublicAddr}); err != nil {
		log.Printf("discovery register failed document=%s error=%v", code, err)
	}
}
