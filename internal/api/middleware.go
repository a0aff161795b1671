package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/zjrosen/axd/internal/axerr"
	"github.com/zjrosen/axd/internal/log"
)

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.logRequests(h.authenticate(h.rateLimit(next)))
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug(log.CatAPI, "request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "elapsed", time.Since(start))
	})
}

// authenticate enforces the API key when one is configured. Local
// development runs keyless by default.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.Server.APIKey != "" && r.Header.Get("X-API-Key") != h.cfg.Server.APIKey {
			writeError(w, axerr.PermissionDenied("missing or invalid API key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.allow(clientKey(r)) {
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limit exceeded",
				Code:  "RESOURCE_EXHAUSTED",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimiter is a per-client token bucket. Buckets refill at rps and hold
// at most burst tokens; idle buckets are pruned lazily.
type rateLimiter struct {
	mu      sync.Mutex
	rps     float64
	burst   float64
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		rps:     rps,
		burst:   float64(burst),
		buckets: make(map[string]*bucket),
	}
}

func (l *rateLimiter) allow(key string) bool {
	if l.rps <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, last: now}
		l.buckets[key] = b
	}

	b.tokens += now.Sub(b.last).Seconds() * l.rps
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--

	if len(l.buckets) > 1024 {
		l.prune(now)
	}
	return true
}

func (l *rateLimiter) prune(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.last) > time.Minute {
			delete(l.buckets, key)
		}
	}
}
