package server

import (
	"testing"
	"time"

	"party-cards/internal/protocol"
)

func TestClientLimiterExhaustsAndRefills(t *testing.T) {
	limiter := newRateLimiter(2, 3, 100, 100)
	now := time.Date(2025, 4, 5, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !limiter.allowClient("identity:u1", now) {
			t.Fatalf("expected burst frame %d allowed", i)
		}
	}
	if limiter.allowClient("identity:u1", now) {
		t.Fatalf("expected frame past burst rejected")
	}
	if !limiter.allowClient("identity:u2", now) {
		t.Fatalf("expected a different key to have its own bucket")
	}
	if !limiter.allowClient("identity:u1", now.Add(500*time.Millisecond)) {
		t.Fatalf("expected one token back after half a second")
	}
	if limiter.allowClient("identity:u1", now.Add(500*time.Millisecond)) {
		t.Fatalf("expected refill to add a single token")
	}
}

func TestDocumentLimiterIsPerCall(t *testing.T) {
	limiter := newRateLimiter(100, 100, 1, 1)
	now := time.Date(2025, 4, 5, 10, 0, 0, 0, time.UTC)
	a, b := limiter.documentLimiter(), limiter.documentLimiter()
	if !a.AllowN(now, 1) || a.AllowN(now, 1) {
		t.Fatalf("expected document bucket of one")
	}
	if !b.AllowN(now, 1) {
		t.Fatalf("expected documents to have separate buckets")
	}
}

func TestPruneForgetsIdleBuckets(t *testing.T) {
	limiter := newRateLimiter(1, 1, 1, 1)
	now := time.Date(2025, 4, 5, 10, 0, 0, 0, time.UTC)
	limiter.allowClient("client:old", now)
	limiter.allowClient("client:new", now.Add(50*time.Second))

	if removed := limiter.prune(now.Add(60*time.Second), time.Minute); removed != 1 {
		t.Fatalf("expected one bucket pruned, got %d", removed)
	}
	if _, ok := limiter.clients["client:new"]; !ok {
		t.Fatalf("expected recent bucket kept")
	}
	if !limiter.allowClient("client:old", now.Add(60*time.Second)) {
		t.Fatalf("expected pruned key to start with a full bucket")
	}
}

func TestRateKeyFollowsIdentity(t *testing.T) {
	cl := newClient("c1", "test", transportWebSocket)
	if key := cl.rateKey(protocol.Frame{}); key != "client:c1" {
		t.Fatalf("expected anonymous client key, got %q", key)
	}
	if key := cl.rateKey(protocol.Hello("ABC123", "u1")); key != "identity:u1" {
		t.Fatalf("expected hello billed to identity, got %q", key)
	}
	if key := cl.rateKey(protocol.Hello("ABC123", "")); key != "client:c1" {
		t.Fatalf("expected anonymous hello billed to client, got %q", key)
	}
	cl.setAttached(nil, "u1")
	if key := cl.rateKey(lobbyNameUpdate("x")); key != "identity:u1" {
		t.Fatalf("expected attached frames billed to identity, got %q", key)
	}
}
