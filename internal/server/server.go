package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"party-cards/internal/common/clock"
	"party-cards/internal/common/uuid"
	"party-cards/internal/config"
	"party-cards/internal/discovery"
	"party-cards/internal/doc"
	"party-cards/internal/game"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const discoveryTimeout = 2 * time.Second

type Server struct {
	cfg       config.Config
	db        *gorm.DB
	directory discovery.Registry
	registry  *Registry
	limiter   *rateLimiter
	catalog   game.Catalog
	clock     clock.Clock
	ids       uuid.UUID
	after     afterFunc

	sseMu      sync.Mutex
	sseClients map[string]*client

	stopMu  sync.Mutex
	stopGC  context.CancelFunc
	gcDone  chan struct{}
	httpSrv *http.Server
}

type Option func(*Server)

func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

func WithCatalog(c game.Catalog) Option {
	return func(s *Server) { s.catalog = c }
}

func WithUUID(u uuid.UUID) Option {
	return func(s *Server) { s.ids = u }
}

func withAfterFunc(fn afterFunc) Option {
	return func(s *Server) { s.after = fn }
}

// New builds a session host. conn and directory are optional: a nil conn
// disables the audit log and a nil directory disables session discovery.
func New(conn *gorm.DB, directory discovery.Registry, cfg config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg,
		db:         conn,
		directory:  directory,
		clock:      &clock.DefaultClock{},
		ids:        uuid.New(),
		catalog:    game.DefaultCatalog(),
		after:      realAfterFunc,
		sseClients: make(map[string]*client),
		limiter: newRateLimiter(
			cfg.ClientMessagesPerSecond, cfg.ClientMessageBurst,
			cfg.DocumentMessagesPerSecond, cfg.DocumentMessageBurst,
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = newRegistry(s.clock, cfg.IdleTTL(), s.openRoom)
	s.registry.onCollect = s.collected
	return s
}

func (s *Server) Registry() *Registry {
	return s.registry
}

// openRoom builds the hosted document, its engine and its coordinator.
func (s *Server) openRoom(code string) *room {
	d := doc.NewHosted()
	engine := game.NewEngine(d, game.Options{
		Catalog:   s.catalog,
		Clock:     s.clock,
		HandOff:   s.cfg.SubmitHandOff(),
		AfterFunc: func(delay time.Duration, fn func()) {
			s.after(delay, fn)
		},
	})
	r := newRoom(code, d, engine, s.limiter.documentLimiter())
	newCoordinator(r, coordinatorOptions{
		Clock:     s.clock,
		After:     s.after,
		BotDelay:  s.cfg.BotDelay(),
		HandOff:   s.cfg.SubmitHandOff(),
		HostGrace: s.cfg.SyncTimeout(),
	})
	return r
}

func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/sync", s.handleWebsocket)
	router.GET("/sync/events", s.handleSSEStream)
	router.POST("/sync/messages", s.handleSSEMessage)

	router.GET("/health", s.handleHealth)
	router.GET("/status", s.handleStatus)
	router.GET("/admin", s.handleAdminHome)
	router.POST("/gc", s.handleCollectAll)
	router.DELETE("/gc/:documentId", s.handleCollect)
	router.GET("/sessions/:code", s.handleSessionLookup)
	return router
}

// Start runs the GC sweeper until Shutdown or ctx ends.
func (s *Server) Start(ctx context.Context) {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.stopGC != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.stopGC = cancel
	s.gcDone = make(chan struct{})
	go s.runSweeper(ctx, s.gcDone)
}

// ListenAndServe starts the sweeper and serves HTTP on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.Start(context.Background())
	s.stopMu.Lock()
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpSrv
	s.stopMu.Unlock()
	log.Printf("session host listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the sweeper, drops every client and clears the registry.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopMu.Lock()
	stop, done, srv := s.stopGC, s.gcDone, s.httpSrv
	s.stopGC = nil
	s.stopMu.Unlock()

	if stop != nil {
		stop()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	s.registry.Close()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) collected(r *room, reason string) {
	log.Printf("gc collected document=%s reason=%s", r.code, reason)
	s.persistCollected(r, reason)
	if s.directory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()
	if err := s.directory.RemoveSession(ctx, &discovery.RemoveSessionInput{Code: r.code}); err != nil {
		log.Printf("discovery remove failed document=%s error=%v", r.code, err)
	}
}
