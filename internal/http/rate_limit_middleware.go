package httpx

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter tracks request counts per key inside a fixed window.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) rateDecision
}

type rateDecision struct {
	allowed   bool
	limit     int
	remaining int
	resetIn   time.Duration
}

type rateWindowState struct {
	count   int
	resetAt time.Time
}

// memoryRateLimiter is the in-process fallback used when Redis is not
// configured. Counters live in a map keyed by route+client and are
// swept periodically so idle keys do not accumulate.
type memoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindowState
	now     func() time.Time
}

// NewMemoryRateLimiter returns the in-process limiter.
func NewMemoryRateLimiter() RateLimiter {
	return newMemoryRateLimiter()
}

func newMemoryRateLimiter() *memoryRateLimiter {
	l := &memoryRateLimiter{
		windows: make(map[string]*rateWindowState),
		now:     time.Now,
	}
	go l.sweepLoop()
	return l
}

func (l *memoryRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 || window <= 0 {
		return rateDecision{allowed: true, limit: limit, remaining: limit}
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.windows[key]
	if !ok || now.After(state.resetAt) {
		state = &rateWindowState{resetAt: now.Add(window)}
		l.windows[key] = state
	}
	state.count++

	remaining := limit - state.count
	if remaining < 0 {
		remaining = 0
	}
	return rateDecision{
		allowed:   state.count <= limit,
		limit:     limit,
		remaining: remaining,
		resetIn:   time.Until(state.resetAt),
	}
}

func (l *memoryRateLimiter) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := l.now()
		l.mu.Lock()
		for key, state := range l.windows {
			if now.After(state.resetAt) {
				delete(l.windows, key)
			}
		}
		l.mu.Unlock()
	}
}

func (s *Router) withRateLimit(route string, limit int, next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil || limit <= 0 {
		return next
	}
	return func(w http.ResponseWriter, req *http.Request) {
		key := route + ":" + rateLimitKeyIP(req)
		decision := s.limiter.Allow(key, limit, s.rateWindow)
		applyRateHeaders(w, decision)
		if !decision.allowed {
			s.recordRateLimitHit(route)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

func applyRateHeaders(w http.ResponseWriter, decision rateDecision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.remaining))
	resetSeconds := int(decision.resetIn / time.Second)
	if resetSeconds < 0 {
		resetSeconds = 0
	}
	w.Header().Set("X-RateLimit-Reset", strconv.Itoa(resetSeconds))
}

// rateLimitKeyIP buckets callers by connection address. The forwarded
// headers are spoofable, so throttling keys off the socket peer.
func rateLimitKeyIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
