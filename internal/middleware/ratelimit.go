// Package middleware provides HTTP middleware for the analytics service.
package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter throttles requests per client IP with a token bucket. Detection
// runs are expensive, so the detect endpoints sit behind one of these.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	perMin   int
	stopOnce sync.Once
	stop     chan struct{}

	// now is replaceable in tests.
	now func() time.Time
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a limiter allowing perMin requests per minute per
// client. Stale buckets are swept in the background until Stop is called.
func NewRateLimiter(perMin int) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		perMin:  perMin,
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go rl.sweep()
	return rl
}

// Wrap enforces the limit in front of next.
func (rl *RateLimiter) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientKey(r)) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// Allow reports whether one more request from the client fits the budget.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[client]
	if !ok {
		rl.buckets[client] = &bucket{
			tokens:     float64(rl.perMin) - 1,
			lastRefill: now,
		}
		return true
	}

	refill := now.Sub(b.lastRefill).Minutes() * float64(rl.perMin)
	if refill > 0 {
		b.tokens += refill
		if b.tokens > float64(rl.perMin) {
			b.tokens = float64(rl.perMin)
		}
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Stop ends the background sweeper.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for client, b := range rl.buckets {
				if now.Sub(b.lastRefill) > 10*time.Minute {
					delete(rl.buckets, client)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// clientKey extracts the client address without the ephemeral port, so one
// client maps to one bucket across connections.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
