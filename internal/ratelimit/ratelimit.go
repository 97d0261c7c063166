package ratelimit

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket for one connection's inbound frames
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter allows perSecond frames with the given burst. A non-positive
// rate disables limiting.
func NewLimiter(perSecond float64, burst int) *Limiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Limiter{limiter: rate.NewLimiter(limit, burst)}
}

func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientLimiters keeps one limiter per key (usually a client IP)
type ClientLimiters struct {
	limiters        map[string]*limiterEntry
	limit           rate.Limit
	burst           int
	mu              sync.Mutex
	cleanupInterval time.Duration
	idleTimeout     time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

// NewClientLimiters allows perMinute events per key with the given burst
func NewClientLimiters(perMinute, burst int) *ClientLimiters {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	cl := &ClientLimiters{
		limiters:        make(map[string]*limiterEntry),
		limit:           limit,
		burst:           burst,
		cleanupInterval: 5 * time.Minute,
		idleTimeout:     time.Hour,
		stop:            make(chan struct{}),
	}
	go cl.cleanup()
	return cl
}

// Allow reports whether key may proceed now
func (cl *ClientLimiters) Allow(key string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	entry, ok := cl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter.Allow()
}

func (cl *ClientLimiters) Stop() {
	cl.stopOnce.Do(func() { close(cl.stop) })
}

func (cl *ClientLimiters) cleanup() {
	ticker := time.NewTicker(cl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.stop:
			return
		case <-ticker.C:
			cl.evictIdle(time.Now())
		}
	}
}

func (cl *ClientLimiters) evictIdle(now time.Time) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	for key, entry := range cl.limiters {
		if now.Sub(entry.lastSeen) > cl.idleTimeout {
			delete(cl.limiters, key)
		}
	}
}

// ClientIP extracts the caller's address, preferring proxy headers
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
