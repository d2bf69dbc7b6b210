package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unischedule/schedule-sync/pkg/circuitbreaker"
)

func TestCompositeHealthChecker(t *testing.T) {
	c := NewCompositeHealthChecker("1.2.3")
	c.AddCheck("database", func(context.Context) error { return nil })
	c.AddOptionalCheck("redis", func(context.Context) error { return errors.New("connection refused") })

	status := c.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "All checks passed", status.Message)
	assert.Equal(t, "1.2.3", status.Version)
	assert.True(t, status.Checks["redis"].Optional)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)

	c.AddCheck("zeta", func(context.Context) error { return errors.New("down") })
	c.AddCheck("alpha", func(context.Context) error { return errors.New("down") })

	status = c.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, "Some checks failed: alpha, zeta", status.Message)
	assert.Len(t, status.Checks, 4)
}

func TestBreakerCheck(t *testing.T) {
	cb := circuitbreaker.New("schedule-source", circuitbreaker.WithFailureThreshold(1))
	check := NewBreakerCheck(cb)
	ctx := context.Background()

	require.NoError(t, check(ctx))

	_ = cb.Execute(ctx, func(context.Context) error { return errors.New("boom") })
	err := check(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule-source breaker is open")
	assert.Contains(t, err.Error(), "1 failures total")

	cb.Reset()
	assert.NoError(t, check(ctx))
}

func TestAPIKeyAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name   string
		keys   []string
		header map[string]string
		want   int
	}{
		{name: "disabled", keys: nil, want: http.StatusNoContent},
		{name: "missing", keys: []string{"secret"}, want: http.StatusUnauthorized},
		{name: "wrong", keys: []string{"secret"}, header: map[string]string{"X-API-Key": "nope"}, want: http.StatusUnauthorized},
		{name: "header", keys: []string{"other", "secret"}, header: map[string]string{"X-API-Key": "secret"}, want: http.StatusNoContent},
		{name: "bearer", keys: []string{"secret"}, header: map[string]string{"Authorization": "Bearer secret"}, want: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAPIKeyAuth("", tt.keys).Middleware(ok)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestIPRateLimiter(t *testing.T) {
	l := NewIPRateLimiter(2)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 192.168.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) MiddlewareFunc {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }),
		mw("outer"), mw("inner"), SecurityHeadersMiddleware)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", ClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.1")
	assert.Equal(t, "198.51.100.1", ClientIP(req))
}
