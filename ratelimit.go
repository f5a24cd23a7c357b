package main

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig tunes the per-IP HTTP limiter
type RateLimitConfig struct {
	RequestsPerSecond rate.Limit
	Burst             int
}

// DefaultRateLimitConfig is generous enough for a browser client polling
// /health while blocking obvious floods
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 20,
	Burst:             40,
}

// IPRateLimiter applies a token-bucket limit per remote IP. Idle entries
// are evicted periodically so the map stays bounded.
type IPRateLimiter struct {
	cfg      RateLimitConfig
	mu       sync.Mutex
	limiters map[string]*ipLimiterEntry
}

type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a limiter and starts its eviction sweep
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	l := &IPRateLimiter{
		cfg:      cfg,
		limiters: make(map[string]*ipLimiterEntry),
	}
	go l.evictLoop()
	return l
}

func (l *IPRateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.limiters[ip]
	if !ok {
		e = &ipLimiterEntry{limiter: rate.NewLimiter(l.cfg.RequestsPerSecond, l.cfg.Burst)}
		l.limiters[ip] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (l *IPRateLimiter) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		for ip, e := range l.limiters {
			if time.Since(e.lastSeen) > 3*time.Minute {
				delete(l.limiters, ip)
			}
		}
		l.mu.Unlock()
	}
}

// Middleware rejects requests over the per-IP budget with 429
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.get(extractIP(r)).Allow() {
			metricConnectionsRejected.WithLabelValues("rate_limit").Inc()
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
