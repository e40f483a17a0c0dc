package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(now *time.Time) *rateLimiter {
	return &rateLimiter{
		window:        10 * time.Second,
		last:          make(map[string]time.Time),
		sweepInterval: 10 * time.Second,
		now: func() time.Time {
			return *now
		},
	}
}

func runLimiter(l *rateLimiter, path string) *gin.Context {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", path, nil)
	l.handle(c)
	return c
}

func TestRateLimiterHandle_BlocksWithinWindow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Now()
	limiter := newTestLimiter(&now)

	require.False(t, runLimiter(limiter, "/api/v1/cache/summaries/s1/retry").IsAborted())
	require.True(t, runLimiter(limiter, "/api/v1/cache/summaries/s1/retry").IsAborted())
	require.False(t, runLimiter(limiter, "/api/v1/cache/summaries/s2/retry").IsAborted())

	now = now.Add(11 * time.Second)
	require.False(t, runLimiter(limiter, "/api/v1/cache/summaries/s1/retry").IsAborted())
}

func TestRateLimiterCleanupExpiredLocked_RemovesExpiredEntries(t *testing.T) {
	base := time.Now()
	limiter := newTestLimiter(&base)
	limiter.last["expired"] = base.Add(-20 * time.Second)
	limiter.last["active"] = base.Add(-2 * time.Second)

	limiter.mu.Lock()
	limiter.cleanupExpiredLocked(base)
	limiter.mu.Unlock()

	require.NotContains(t, limiter.last, "expired")
	require.Contains(t, limiter.last, "active")
	require.False(t, limiter.lastSweep.IsZero())
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := CORS("https://ops.example.com")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("OPTIONS", "/api/v1/cache/analyze", nil)
	c.Request.Header.Set("Origin", "https://ops.example.com")
	handler(c)
	require.True(t, c.IsAborted())
	require.Equal(t, "https://ops.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/cache/summaries", nil)
	c.Request.Header.Set("Origin", "https://other.example.com")
	handler(c)
	require.False(t, c.IsAborted())
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
