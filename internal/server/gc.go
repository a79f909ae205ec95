package server

import (
	"context"
	"log"
	"time"

	"party-cards/internal/discovery"
)

func (s *Server) runSweeper(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.GCInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one GC pass and refreshes discovery entries for the documents
// that survive it.
func (s *Server) sweep(ctx context.Context) {
	now := s.clock.Now()
	removed := s.registry.Sweep(now)
	if len(removed) > 0 {
		log.Printf("gc sweep removed=%d documents=%v", len(removed), removed)
	}
	s.limiter.prune(now, s.cfg.IdleTTL())
	if s.directory == nil {
		return
	}
	for _, code := range s.registry.Codes() {
		refresh, cancel := context.WithTimeout(ctx, discoveryTimeout)
		err := s.directory.RegisterSession(refresh, &discovery.RegisterSessionInput{Code: code, Address: s.cfg.PublicAddr})
		cancel()
		if err != nil {
			log.Printf("discovery refresh failed document=%s error=%v", code, err)
		}
	}
}
