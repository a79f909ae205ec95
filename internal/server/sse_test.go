package server

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"party-cards/internal/protocol"
)

type sseStream struct {
	clientID string
	frames   chan protocol.Frame
}

func openSSE(t *testing.T, ts *httptest.Server) *sseStream {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sync/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("expected event stream, got %q", ct)
	}
	stream := &sseStream{
		clientID: resp.Header.Get(protocol.ClientHeader),
		frames:   make(chan protocol.Frame, 16),
	}
	go func() {
		defer resp.Body.Close()
		defer close(stream.frames)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			frame, err := protocol.Decode([]byte(strings.TrimPrefix(line, "data:")))
			if err != nil {
				continue
			}
			stream.frames <- frame
		}
	}()
	return stream
}

func (s *sseStream) next(t *testing.T) protocol.Frame {
	t.Helper()
	select {
	case frame, ok := <-s.frames:
		if !ok {
			t.Fatalf("event stream closed")
		}
		return frame
	case <-time.After(5 * time.Second):
		t.Fatalf("no event within timeout")
	}
	return protocol.Frame{}
}

func postFrame(t *testing.T, ts *httptest.Server, clientID string, frame protocol.Frame) *http.Response {
	t.Helper()
	payload, err := protocol.Encode(frame)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return doRequest(t, ts, http.MethodPost, "/sync/messages", bytes.NewReader(payload), map[string]string{
		protocol.ClientHeader: clientID,
		"Content-Type":        "application/json",
	})
}

func TestSSEHandshakeAndUpdates(t *testing.T) {
	srv, ts := startServer(t, testConfig())
	stream := openSSE(t, ts)

	welcome := stream.next(t)
	if welcome.Type != protocol.TypeWelcome || welcome.Client == "" || welcome.Client != stream.clientID {
		t.Fatalf("expected welcome matching header %q, got %+v", stream.clientID, welcome)
	}
	if resp := postFrame(t, ts, stream.clientID, protocol.Hello("ABC123", "u1")); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if snapshot := stream.next(t); snapshot.Type != protocol.TypeSnapshot || snapshot.Document != "ABC123" {
		t.Fatalf("expected snapshot, got %+v", snapshot)
	}

	ws, _ := dialSync(t, ts)
	helloAndSnapshot(t, ws, "ABC123", "u2")
	sendFrame(t, ws, lobbyNameUpdate("Friday"))
	update := stream.next(t)
	if update.Type != protocol.TypeUpdate || update.Update == nil || update.Update.Seq != 1 {
		t.Fatalf("expected websocket update on the event stream, got %+v", update)
	}

	postFrame(t, ts, stream.clientID, lobbyNameUpdate("Saturday"))
	if echo := stream.next(t); echo.Update == nil || echo.Update.Origin != stream.clientID {
		t.Fatalf("expected own update echoed with origin, got %+v", echo)
	}
	if n := srv.Registry().ClientCount(); n != 2 {
		t.Fatalf("expected two clients across transports, got %d", n)
	}
}

func TestSSEUnknownClient(t *testing.T) {
	_, ts := startServer(t, testConfig())
	resp := postFrame(t, ts, "missing", protocol.Hello("ABC123", "u1"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSSEOversizePost(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageBytes = 128
	_, ts := startServer(t, cfg)
	stream := openSSE(t, ts)
	stream.next(t)

	resp := doRequest(t, ts, http.MethodPost, "/sync/messages", strings.NewReader(strings.Repeat("x", 512)), map[string]string{
		protocol.ClientHeader: stream.clientID,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if frame := stream.next(t); frame.Reason != protocol.ReasonTooLarge {
		t.Fatalf("expected message_too_large, got %+v", frame)
	}
}

func TestSSEByeEndsStream(t *testing.T) {
	srv, ts := startServer(t, testConfig())
	stream := openSSE(t, ts)
	stream.next(t)
	postFrame(t, ts, stream.clientID, protocol.Hello("ABC123", "u1"))
	stream.next(t)

	postFrame(t, ts, stream.clientID, protocol.Bye())
	select {
	case _, ok := <-stream.frames:
		if ok {
			t.Fatalf("expected stream closed after bye")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("stream still open after bye")
	}
	waitFor(t, 5*time.Second, func() bool { return srv.Registry().ClientCount() == 0 })
}
