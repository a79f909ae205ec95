package server

import (
	"io"
	"log"
	"net/http"
	"time"

	"party-cards/internal/protocol"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// handleWebsocket upgrades GET /sync. The URL carries nothing about the
// document; the client names it in its hello frame.
func (s *Server) handleWebsocket(c *gin.Context) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	cl := newClient(s.ids.NewUUID(), c.Request.RemoteAddr, transportWebSocket)
	log.Printf("ws connected client_id=%s remote=%s", cl.id, cl.remote)
	go s.writeWS(conn, cl)
	cl.send(protocol.Welcome(cl.id))
	go s.readWS(conn, cl)
}

func (s *Server) readWS(conn *websocket.Conn, cl *client) {
	defer func() {
		if recovered := recover(); recovered != nil {
			log.Printf("ws read panic client_id=%s error=%v", cl.id, recovered)
		}
		s.detach(cl)
		cl.out.close()
	}()
	for {
		_, reader, err := conn.NextReader()
		if err != nil {
			if !cl.out.closed() {
				log.Printf("ws disconnected client_id=%s error=%v", cl.id, err)
			}
			return
		}
		payload, oversize, err := readLimited(reader, s.cfg.MaxMessageBytes)
		if err != nil {
			log.Printf("ws disconnected client_id=%s error=%v", cl.id, err)
			return
		}
		if oversize {
			s.drop(cl, protocol.ReasonTooLarge)
			continue
		}
		if !s.handleFrame(cl, payload) {
			return
		}
	}
}

// writeWS drains the outbox. Frames queued before the outbox closed are
// still written so a final error frame reaches the client.
func (s *Server) writeWS(conn *websocket.Conn, cl *client) {
	defer conn.Close()
	write := func(payload []byte) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("ws write failed client_id=%s error=%v", cl.id, err)
			return false
		}
		return true
	}
	for {
		select {
		case payload := <-cl.out.ch:
			if !write(payload) {
				cl.out.close()
				return
			}
		case <-cl.out.done:
			for {
				select {
				case payload := <-cl.out.ch:
					if !write(payload) {
						return
					}
				default:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

// readLimited reads at most limit bytes and discards the rest of an
// oversize message so the connection stays usable.
func readLimited(reader io.Reader, limit int) ([]byte, bool, error) {
	payload, err := io.ReadAll(io.LimitReader(reader, int64(limit)+1))
	if err != nil {
		return nil, false, err
	}
	if len(payload) <= limit {
		return payload, false, nil
	}
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return nil, true, err
	}
	return nil, true, nil
}
