package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinBurst(t *testing.T) {
	rl := NewRateLimiter(5, slog.Default())
	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("1.2.3.4"), "request %d should pass", i)
	}
	assert.False(t, rl.Allow("1.2.3.4"))
}

func TestAllowIsPerSource(t *testing.T) {
	rl := NewRateLimiter(1, slog.Default())
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
}

func TestLimitRejectsWith429(t *testing.T) {
	rl := NewRateLimiter(1, slog.Default())
	handler := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/transaction", nil)
		req.RemoteAddr = "9.9.9.9:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		last = w.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestSourceKeyPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest("POST", "/transaction", nil)
	req.RemoteAddr = "10.0.0.1:9999"
	assert.Equal(t, "10.0.0.1", sourceKey(req))

	req.Header.Set("X-Forwarded-For", "49.36.12.7, 10.0.0.1")
	assert.Equal(t, "49.36.12.7", sourceKey(req))
}
