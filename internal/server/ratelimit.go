package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter hands out token buckets per client key and per document.
type rateLimiter struct {
	mu          sync.Mutex
	clientRate  rate.Limit
	clientBurst int
	docRate     rate.Limit
	docBurst    int
	clients     map[string]*limiterEntry
}

func newRateLimiter(clientPerSecond, clientBurst, docPerSecond, docBurst int) *rateLimiter {
	return &rateLimiter{
		clientRate:  rate.Limit(clientPerSecond),
		clientBurst: clientBurst,
		docRate:     rate.Limit(docPerSecond),
		docBurst:    docBurst,
		clients:     make(map[string]*limiterEntry),
	}
}

func (l *rateLimiter) allowClient(key string, now time.Time) bool {
	l.mu.Lock()
	entry, ok := l.clients[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.clientRate, l.clientBurst)}
		l.clients[key] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

func (l *rateLimiter) documentLimiter() *rate.Limiter {
	return rate.NewLimiter(l.docRate, l.docBurst)
}

// prune forgets client buckets idle for longer than ttl.
func (l *rateLimiter) prune(now time.Time, ttl time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, entry := range l.clients {
		if now.Sub(entry.lastSeen) >= ttl {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}
