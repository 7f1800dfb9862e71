package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// rejectionsTotal reads the limiter rejection counter off the default
// registry.
func rejectionsTotal(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() == "botmarket_ratelimit_rejections_total" {
			return fam.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestRateLimiter_WindowExceeded(t *testing.T) {
	rl := NewRateLimiter()
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rejectedBefore := rejectionsTotal(t)

	for i := 0; i < RateLimitRequests; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d inside the window", i)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "60", rec.Header().Get("Retry-After"))
	require.Contains(t, rec.Body.String(), "rate limit exceeded")
	require.Equal(t, rejectedBefore+1, rejectionsTotal(t))
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter()
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	exhaust := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	exhaust.Header.Set("X-Real-IP", "198.51.100.7")
	for i := 0; i <= RateLimitRequests; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), exhaust)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, exhaust)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different client still has a full budget.
	other := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	other.Header.Set("X-Real-IP", "198.51.100.8")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:4242"
	require.Equal(t, "203.0.113.9", clientID(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	require.Equal(t, "198.51.100.7", clientID(req))

	req.Header.Set("X-Real-IP", "192.0.2.55")
	require.Equal(t, "192.0.2.55", clientID(req))
}
