package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"party-cards/internal/config"
	"party-cards/internal/protocol"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test; listen unavailable: %v", err)
	}
	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	return ts
}

func startServer(t *testing.T, cfg config.Config, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(nil, nil, cfg, opts...)
	ts := newTestServer(t, srv.Handler())
	t.Cleanup(func() {
		srv.Registry().Close()
		ts.Close()
	})
	return srv, ts
}

func syncURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/sync"
}

func dialSync(t *testing.T, ts *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(syncURL(ts), nil)
	if err != nil {
		t.Skipf("skipping test; websocket dial unavailable: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	welcome := readFrame(t, conn, 5*time.Second)
	if welcome.Type != protocol.TypeWelcome || welcome.Client == "" {
		t.Fatalf("expected welcome with client id, got %+v", welcome)
	}
	return conn, welcome.Client
}

func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) protocol.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	frame, err := protocol.Decode(payload)
	if err != nil {
		t.Fatalf("decode frame %s: %v", payload, err)
	}
	return frame
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame protocol.Frame) {
	t.Helper()
	payload, err := protocol.Encode(frame)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func doRequest(t *testing.T, ts *httptest.Server, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()
	if body == nil {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// fakeTimers captures scheduled callbacks so tests decide when they run.
type fakeTimers struct {
	mu      sync.Mutex
	pending []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

func (f *fakeTimers) after(delay time.Duration, fn func()) stopper {
	f.mu.Lock()
	defer f.mu.Unlock()
	timer := &fakeTimer{delay: delay, fn: fn}
	f.pending = append(f.pending, timer)
	return timer
}

// engineAfter matches the game engine's timer hook.
func (f *fakeTimers) engineAfter(delay time.Duration, fn func()) {
	f.after(delay, fn)
}

// fire runs every callback pending right now and returns how many ran.
// Callbacks scheduled while firing wait for the next call.
func (f *fakeTimers) fire() int {
	f.mu.Lock()
	timers := f.pending
	f.pending = nil
	f.mu.Unlock()
	ran := 0
	for _, timer := range timers {
		if timer.stopped {
			continue
		}
		timer.fn()
		ran++
	}
	return ran
}
