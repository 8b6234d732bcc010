// Package middleware holds HTTP middleware shared by the API surface.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter enforces a per-source sliding-window limit on the
// synchronous scoring endpoint. The stream path is unaffected.
type RateLimiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	limit   int
	burst   int
	logger  *slog.Logger
}

type window struct {
	count int
	start time.Time
}

// NewRateLimiter allows limit requests per source per minute, tolerating
// bursts up to twice that before rejecting outright.
func NewRateLimiter(limit int, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		burst:   limit * 2,
		logger:  logger,
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether a request from key fits the current window.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	// Fast path under the read lock; the count increment races benignly,
	// the limit is soft.
	rl.mu.RLock()
	w, ok := rl.windows[key]
	if ok && now.Sub(w.start) <= time.Minute {
		w.count++
		count := w.count
		rl.mu.RUnlock()
		if count > rl.burst {
			rl.logger.Warn("rate limit exceeded", "source", key, "count", count, "burst", rl.burst)
			return false
		}
		if count > rl.limit {
			rl.logger.Warn("rate limit soft threshold crossed", "source", key, "count", count, "limit", rl.limit)
		}
		return true
	}
	rl.mu.RUnlock()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if w, ok := rl.windows[key]; ok && now.Sub(w.start) <= time.Minute {
		w.count++
		return w.count <= rl.burst
	}
	rl.windows[key] = &window{count: 1, start: now}
	return true
}

// Limit wraps a handler, rejecting over-limit sources with 429.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(sourceKey(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded","retry_after_seconds":60}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sourceKey identifies the caller: first X-Forwarded-For hop when
// present, else the remote address without the port.
func sourceKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, w := range rl.windows {
			if now.Sub(w.start) > 2*time.Minute {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}
