package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, time.Time) (Decision, error) {
	return Decision{}, errors.New("redis: connection refused")
}

func TestRateLimit_Memory(t *testing.T) {
	cfg := RateLimitConfig{Max: 2, Window: time.Minute}
	h := RateLimit(NewMemoryLimiter(cfg), cfg)(okHandler())

	for range 2 {
		w := hit(h, "10.0.0.1:9999")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := hit(h, "10.0.0.1:9999")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"error":"rate_limited","message":"rate limit exceeded"}`, w.Body.String())

	w = hit(h, "10.0.0.2:9999")
	assert.Equal(t, http.StatusOK, w.Code, "other clients keep their own budget")
}

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	l := NewMemoryLimiter(RateLimitConfig{Max: 4, Window: time.Minute})
	ctx := context.Background()
	t0 := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	for range 4 {
		d, err := l.Allow(ctx, "k", t0)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, _ := l.Allow(ctx, "k", t0.Add(30*time.Second))
	assert.False(t, d.Allowed)

	// Halfway into the next window half of the previous count still applies.
	d, _ = l.Allow(ctx, "k", t0.Add(90*time.Second))
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "k", t0.Add(90*time.Second))
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "k", t0.Add(90*time.Second))
	assert.False(t, d.Allowed)

	d, _ = l.Allow(ctx, "k", t0.Add(5*time.Minute))
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.Remaining)
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	l := NewMemoryLimiter(RateLimitConfig{Max: 1, Window: time.Second})
	t0 := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	_, _ = l.Allow(context.Background(), "a", t0)
	_, _ = l.Allow(context.Background(), "b", t0.Add(3*time.Second))

	l.Sweep(t0.Add(3 * time.Second))
	assert.NotContains(t, l.buckets, "a")
	assert.Contains(t, l.buckets, "b")
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := RateLimitConfig{Max: 3, Window: time.Minute}
	l := NewRedisLimiter(client, "rl:", cfg)
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 10, 0, 10, 0, time.UTC)

	for i := range 3 {
		d, err := l.Allow(ctx, "1.2.3.4", now)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}
	d, err := l.Allow(ctx, "1.2.3.4", now)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, now.Truncate(time.Minute).Add(time.Minute), d.ResetAt)

	d, err = l.Allow(ctx, "1.2.3.4", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, d.Allowed, "next window starts fresh")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	h := RateLimit(brokenLimiter{}, RateLimitConfig{Max: 1, Window: time.Second})(okHandler())
	w := hit(h, "10.0.0.1:1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{name: "forwarded chain", header: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, remote: "10.0.0.1:1", want: "203.0.113.9"},
		{name: "real ip", header: map[string]string{"X-Real-IP": "198.51.100.4"}, remote: "10.0.0.1:1", want: "198.51.100.4"},
		{name: "remote addr", remote: "192.0.2.1:4567", want: "192.0.2.1"},
		{name: "remote without port", remote: "192.0.2.1", want: "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}
