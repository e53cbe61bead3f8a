package httpx

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRateLimiterWindow(t *testing.T) {
	rl := NewMemoryRateLimiter()
	t.Cleanup(rl.Close)

	for i := 1; i <= 3; i++ {
		decision := rl.Allow("sub:alice", 3, time.Minute)
		require.True(t, decision.allowed, "request %d", i)
		assert.Equal(t, i, decision.count)
	}
	blocked := rl.Allow("sub:alice", 3, time.Minute)
	assert.False(t, blocked.allowed)
	assert.True(t, rl.Allow("sub:bob", 3, time.Minute).allowed)
	assert.True(t, rl.Allow("sub:alice", 0, time.Minute).allowed)
}

func TestMemoryRateLimiterResetsAfterWindow(t *testing.T) {
	rl := NewMemoryRateLimiter()
	t.Cleanup(rl.Close)

	require.True(t, rl.Allow("ip:1", 1, 20*time.Millisecond).allowed)
	require.False(t, rl.Allow("ip:1", 1, 20*time.Millisecond).allowed)
	time.Sleep(40 * time.Millisecond)
	assert.True(t, rl.Allow("ip:1", 1, 20*time.Millisecond).allowed)
}

func TestMemoryRateLimiterCleanup(t *testing.T) {
	limiter := NewMemoryRateLimiter().(*memoryRateLimiter)
	t.Cleanup(limiter.Close)

	limiter.Allow("ip:1", 5, time.Millisecond)
	limiter.cleanup(time.Now().Add(time.Second))
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Empty(t, limiter.entries)
}

func TestWithRateLimitRejectsExcess(t *testing.T) {
	registry := prometheus.NewRegistry()
	router := &Router{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		limiter: NewMemoryRateLimiter(),
	}
	router.initMetrics(registry)
	t.Cleanup(router.Close)

	handler := router.withRateLimit("/webhooks/github", 2, time.Minute, rateLimitKeyIP, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", nil)
		req.RemoteAddr = "10.0.0.7:5555"
		last = httptest.NewRecorder()
		handler(last, req)
		if i < 2 {
			assert.Equal(t, http.StatusAccepted, last.Code)
		}
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Equal(t, "2", last.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, last.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, 1.0, testutil.ToFloat64(router.rateLimitHits.WithLabelValues("/webhooks/github", "ip")))
}

func TestWithRateLimitIgnoresForwardedFor(t *testing.T) {
	router := &Router{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		limiter: NewMemoryRateLimiter(),
	}
	router.initMetrics(prometheus.NewRegistry())
	t.Cleanup(router.Close)

	handler := router.withRateLimit("/webhooks/github", 2, time.Minute, rateLimitKeyIP, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", nil)
		req.RemoteAddr = "10.0.0.7:5555"
		req.Header.Set("X-Forwarded-For", "203.0.113."+strconv.Itoa(i))
		rec := httptest.NewRecorder()
		handler(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestRateMetricKey(t *testing.T) {
	assert.Equal(t, "sub", rateMetricKey("sub:alice"))
	assert.Equal(t, "ip", rateMetricKey("ip:10.0.0.1"))
	assert.Equal(t, "unknown", rateMetricKey(""))
}

func TestRedisRateLimiterUnreachable(t *testing.T) {
	_, err := NewRedisRateLimiter("127.0.0.1:1", "", 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
