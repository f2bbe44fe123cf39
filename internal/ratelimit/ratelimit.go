// Package ratelimit guards two different things with two different
// token buckets: outbound calls to the ERP gateway (one bucket per
// configured environment, adjustable at runtime) and inbound requests
// to expensive HTTP endpoints (one bucket per client, to keep a single
// caller from hammering a manual sync trigger or the auto-price
// lookup).
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Registry holds one named token bucket per ERP environment. The
// default requests-per-second/burst come from configuration but can be
// adjusted at runtime without restarting the sync scheduler mid-tick.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{limiters: map[string]*rate.Limiter{}}
}

// Configure registers or replaces the bucket for name.
func (r *Registry) Configure(name string, requestsPerSecond float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[name] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// Wait blocks until a token is available for name, or ctx is
// cancelled. Unconfigured names pass through unthrottled.
func (r *Registry) Wait(ctx context.Context, name string) error {
	r.mu.RLock()
	limiter, ok := r.limiters[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}

// SetLimit adjusts an existing bucket's rate and burst in place.
func (r *Registry) SetLimit(name string, requestsPerSecond float64, burst int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	limiter, ok := r.limiters[name]
	if !ok {
		return fmt.Errorf("ratelimit: unknown environment %q", name)
	}
	limiter.SetLimit(rate.Limit(requestsPerSecond))
	limiter.SetBurst(burst)
	return nil
}

// Snapshot reports the current rate and burst for every configured
// environment, for display on an admin/status endpoint.
func (r *Registry) Snapshot() map[string]Limits {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Limits, len(r.limiters))
	for name, l := range r.limiters {
		out[name] = Limits{RequestsPerSecond: float64(l.Limit()), Burst: l.Burst()}
	}
	return out
}

// Limits is a bucket's current configuration.
type Limits struct {
	RequestsPerSecond float64
	Burst             int
}

// PerClientLimiter throttles inbound HTTP requests per client; its
// Middleware identifies the client by remote IP. Used in front of expensive endpoints —
// manual sync triggers, auto-price lookups — so a single caller can't
// hammer them.
type PerClientLimiter struct {
	mu                sync.Mutex
	clients           map[string]*rate.Limiter
	requestsPerSecond float64
	burst             int
	lastSeen          map[string]time.Time
}

// NewPerClientLimiter builds a PerClientLimiter allowing
// requestsPerSecond sustained requests per client with the given burst.
func NewPerClientLimiter(requestsPerSecond float64, burst int) *PerClientLimiter {
	return &PerClientLimiter{
		clients:           map[string]*rate.Limiter{},
		lastSeen:          map[string]time.Time{},
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
	}
}

func (p *PerClientLimiter) limiterFor(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen[key] = time.Now()
	if l, ok := p.clients[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.requestsPerSecond), p.burst)
	p.clients[key] = l
	return l
}

// Allow reports whether key (typically a client IP or user name) has a
// token available right now.
func (p *PerClientLimiter) Allow(key string) bool {
	return p.limiterFor(key).Allow()
}

// Prune drops per-client buckets idle longer than maxAge, so long-lived
// processes don't accumulate one limiter per distinct caller forever.
func (p *PerClientLimiter) Prune(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, seen := range p.lastSeen {
		if seen.Before(cutoff) {
			delete(p.clients, key)
			delete(p.lastSeen, key)
		}
	}
}

// Middleware rejects requests over the limit with 429 Too Many
// Requests, keyed by client IP.
func (p *PerClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if !p.Allow(key) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
