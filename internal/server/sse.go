package server

import (
	"io"
	"log"
	"net/http"

	"party-cards/internal/protocol"

	"github.com/gin-gonic/gin"
)

const sseEvent = "frame"

// handleSSEStream is the fallback downstream: every frame the client would
// receive over a websocket arrives as one event. The client posts its own
// frames to /sync/messages with the id from the welcome event.
func (s *Server) handleSSEStream(c *gin.Context) {
	cl := newClient(s.ids.NewUUID(), c.Request.RemoteAddr, transportSSE)
	s.sseMu.Lock()
	s.sseClients[cl.id] = cl
	s.sseMu.Unlock()
	log.Printf("sse connected client_id=%s remote=%s", cl.id, cl.remote)

	defer func() {
		s.sseMu.Lock()
		delete(s.sseClients, cl.id)
		s.sseMu.Unlock()
		cl.out.close()
		s.detach(cl)
		log.Printf("sse disconnected client_id=%s", cl.id)
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header(protocol.ClientHeader, cl.id)
	cl.send(protocol.Welcome(cl.id))

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case payload := <-cl.out.ch:
			c.SSEvent(sseEvent, string(payload))
			return true
		case <-cl.out.done:
			for {
				select {
				case payload := <-cl.out.ch:
					c.SSEvent(sseEvent, string(payload))
				default:
					return false
				}
			}
		case <-ctx.Done():
			return false
		}
	})
}

// handleSSEMessage accepts one upstream frame from a fallback client.
func (s *Server) handleSSEMessage(c *gin.Context) {
	id := c.GetHeader(protocol.ClientHeader)
	s.sseMu.Lock()
	cl, ok := s.sseClients[id]
	s.sseMu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown client"})
		return
	}
	payload, oversize, err := readLimited(c.Request.Body, s.cfg.MaxMessageBytes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if oversize {
		s.drop(cl, protocol.ReasonTooLarge)
		c.Status(http.StatusAccepted)
		return
	}
	if !s.handleFrame(cl, payload) {
		cl.out.close()
	}
	c.Status(http.StatusAccepted)
}
