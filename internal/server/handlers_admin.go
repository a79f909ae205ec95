package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"runtime"

	"party-cards/internal/discovery"
	"party-cards/internal/web"

	"github.com/a-h/templ"
	"github.com/gin-gonic/gin"
)

type documentURI struct {
	DocumentID string `uri:"documentId" binding:"required,sessioncode"`
}

type sessionURI struct {
	Code string `uri:"code" binding:"required,sessioncode"`
}

type memoryStats struct {
	AllocBytes     uint64 `json:"allocBytes"`
	HeapInuseBytes uint64 `json:"heapInuseBytes"`
	SysBytes       uint64 `json:"sysBytes"`
	NumGC          uint32 `json:"numGC"`
	Goroutines     int    `json:"goroutines"`
}

type statusResponse struct {
	ActiveClients   int             `json:"activeClients"`
	ActiveDocuments int             `json:"activeDocuments"`
	IdleGCSeconds   int             `json:"idleGcSeconds"`
	Documents       []DocumentStats `json:"documents"`
	Memory          memoryStats     `json:"memory"`
}

type sessionResponse struct {
	Code    string `json:"code"`
	Exists  bool   `json:"exists"`
	Local   bool   `json:"local"`
	Address string `json:"address,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	documents := s.registry.Stats()
	c.JSON(http.StatusOK, statusResponse{
		ActiveClients:   s.registry.ClientCount(),
		ActiveDocuments: len(documents),
		IdleGCSeconds:   s.cfg.IdleGCSeconds,
		Documents:       documents,
		Memory: memoryStats{
			AllocBytes:     mem.Alloc,
			HeapInuseBytes: mem.HeapInuse,
			SysBytes:       mem.Sys,
			NumGC:          mem.NumGC,
			Goroutines:     runtime.NumGoroutine(),
		},
	})
}

func (s *Server) handleAdminHome(c *gin.Context) {
	stats := s.registry.Stats()
	data := web.AdminHomeData{
		Documents:     make([]web.DocumentSummary, 0, len(stats)),
		ActiveClients: s.registry.ClientCount(),
		IdleGCSeconds: s.cfg.IdleGCSeconds,
		GeneratedAt:   s.clock.Now(),
	}
	for _, row := range stats {
		data.Documents = append(data.Documents, web.DocumentSummary{
			Document:    row.Document,
			Phase:       row.Phase,
			Clients:     row.ClientCount,
			IdleSeconds: row.IdleSeconds,
			Roster:      row.Roster,
		})
	}
	templ.Handler(web.AdminHome(data)).ServeHTTP(c.Writer, c.Request)
}

func (s *Server) handleCollectAll(c *gin.Context) {
	flushed := s.registry.CollectAll()
	log.Printf("gc forced documents=%d", flushed)
	c.JSON(http.StatusOK, gin.H{"flushed": flushed})
}

func (s *Server) handleCollect(c *gin.Context) {
	var req documentURI
	if !bindURI(c, &req) {
		return
	}
	if !s.registry.Collect(req.DocumentID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	log.Printf("gc forced document=%s", req.DocumentID)
	c.JSON(http.StatusOK, gin.H{"flushed": 1, "document": req.DocumentID})
}

// handleSessionLookup answers the join-time question "does this code exist
// and where". Local documents answer first; the discovery registry covers
// sessions hosted by other processes.
func (s *Server) handleSessionLookup(c *gin.Context) {
	var req sessionURI
	if !bindURI(c, &req) {
		return
	}
	resp := sessionResponse{Code: req.Code}
	if _, ok := s.registry.Get(req.Code); ok {
		resp.Exists = true
		resp.Local = true
		resp.Address = s.cfg.PublicAddr
		c.JSON(http.StatusOK, resp)
		return
	}
	if s.directory == nil {
		c.JSON(http.StatusNotFound, resp)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), discoveryTimeout)
	defer cancel()
	session, err := s.directory.ResolveSession(ctx, &discovery.ResolveSessionInput{Code: req.Code})
	if errors.Is(err, discovery.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, resp)
		return
	}
	if err != nil {
		log.Printf("discovery resolve failed document=%s error=%v", req.Code, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "discovery unavailable"})
		return
	}
	resp.Exists = true
	resp.Address = session.Address
	c.JSON(http.StatusOK, resp)
}
