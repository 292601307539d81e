package middleware

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func requestFrom(addr string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/users/login", nil)
	r.RemoteAddr = addr
	return r
}

func TestRateLimiter_PerIP(t *testing.T) {
	rl := NewRateLimiter(60, 2) // one per second, burst of two
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	h := rl.Limit(ok)

	codes := func(addr string, n int) []int {
		var out []int
		for i := 0; i < n; i++ {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, requestFrom(addr))
			out = append(out, rec.Code)
		}
		return out
	}

	assert.Equal(t, []int{200, 200, 429}, codes("10.0.0.1:1234", 3))
	// Another client has its own bucket.
	assert.Equal(t, []int{200}, codes("10.0.0.2:1234", 1))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("10.0.0.1:9999"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Too many requests, please try again later"}`, rec.Body.String())

	// Refilled after a second.
	now = now.Add(time.Second)
	assert.Equal(t, []int{200}, codes("10.0.0.1:1234", 1))
}

func TestRateLimiter_IgnoresForwardingHeaders(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	h := rl.Limit(ok)

	counts := map[int]int{}
	for i := 0; i < 20; i++ {
		r := requestFrom("203.0.113.7:4000")
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		r.Header.Set("X-Real-IP", fmt.Sprintf("192.0.2.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		counts[rec.Code]++
	}

	assert.Equal(t, map[int]int{http.StatusOK: 1, http.StatusTooManyRequests: 19}, counts)
}

func TestRateLimiter_Disabled(t *testing.T) {
	h := NewRateLimiter(0, 0).Limit(ok)
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestFrom("10.0.0.1:1"))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimiter_ForgetsIdleClients(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	h := rl.Limit(ok)

	h.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:1"))
	now = now.Add(idleTTL + time.Minute)
	h.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.2:1"))

	assert.NotContains(t, rl.visitors, "10.0.0.1")
	assert.Contains(t, rl.visitors, "10.0.0.2")
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("nope"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/posts/abc", nil))

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "path=/posts/abc")
	assert.Contains(t, out, "status=404")
	assert.Contains(t, out, "bytes=4")

	buf.Reset()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Empty(t, buf.String())
}
