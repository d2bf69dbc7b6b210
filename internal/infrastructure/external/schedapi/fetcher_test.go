package schedapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unischedule/schedule-sync/internal/domain/shared"
	"github.com/unischedule/schedule-sync/pkg/circuitbreaker"
	"github.com/unischedule/schedule-sync/pkg/logger"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func newTestFetcher(baseURL string, mutate func(*FetcherConfig)) (*Fetcher, *sleepRecorder) {
	rec := &sleepRecorder{}
	cfg := FetcherConfig{
		BaseURL:    baseURL,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		BaseDelay:  10 * time.Millisecond,
		Sleep:      rec.Sleep,
		Logger:     logger.Discard(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewFetcher(cfg), rec
}

func deadServerURL() string {
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}

func TestFetcher_ResponseKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json":
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_, _ = w.Write([]byte(`{"ok":true}`))
		case "/text":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("hello"))
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		case "/broken":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":`))
		}
	}))
	defer srv.Close()

	f, _ := newTestFetcher(srv.URL+"/", nil)
	defer f.Close()
	ctx := context.Background()

	body, err := f.Get(ctx, "/json", nil)
	require.NoError(t, err)
	assert.True(t, body.IsJSON())
	assert.JSONEq(t, `{"ok":true}`, string(body.JSON))

	var decoded struct{ OK bool }
	require.NoError(t, body.Decode(&decoded))
	assert.True(t, decoded.OK)

	body, err = f.Get(ctx, "text", nil)
	require.NoError(t, err)
	assert.False(t, body.IsJSON())
	assert.Equal(t, "hello", body.Text)
	assert.ErrorIs(t, body.Decode(&decoded), ErrUnexpectedPayload)

	body, err = f.Get(ctx, "/empty", nil)
	require.NoError(t, err)
	assert.True(t, body.IsEmpty())
	assert.Equal(t, http.StatusNoContent, body.StatusCode)

	_, err = f.Get(ctx, "/broken", nil)
	assert.ErrorIs(t, err, ErrMalformedJSON)
}

func TestFetcher_QueryParamsAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("size"))
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(srv.URL, nil)
	_, err := f.Do(context.Background(), http.MethodPost, "/schedules", url.Values{"page": {"2"}, "size": {"50"}}, map[string]int{"x": 1})
	require.NoError(t, err)
}

func TestFetcher_APIErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "schedule missing", http.StatusNotFound)
	}))
	defer srv.Close()

	f, rec := newTestFetcher(srv.URL, nil)
	_, err := f.Get(context.Background(), "/schedules/1", nil)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "schedule missing", apiErr.Message)
	assert.True(t, apiErr.IsNotFound())
	assert.ErrorIs(t, err, shared.ErrExternalService)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, rec.Delays())
}

func TestFetcher_NetworkErrorAfterRetries(t *testing.T) {
	f, rec := newTestFetcher(deadServerURL(), nil)

	_, err := f.Get(context.Background(), "/schedules", nil)

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, 3, netErr.Attempts)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, rec.Delays())
}

func TestFetcher_TimeoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	f, rec := newTestFetcher(srv.URL, func(c *FetcherConfig) {
		c.Timeout = 30 * time.Millisecond
		c.MaxRetries = 1
	})

	_, err := f.Get(context.Background(), "/slow", nil)

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr), "got %v", err)
	assert.Equal(t, 2, timeoutErr.Attempts)
	assert.ErrorIs(t, err, shared.ErrTimeout)
	assert.Len(t, rec.Delays(), 1)
}

func TestFetcher_RecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				return
			}
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	f, rec := newTestFetcher(srv.URL, nil)
	body, err := f.Get(context.Background(), "/schedules", nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body.JSON))
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
	assert.NotEmpty(t, rec.Delays())
}

func TestFetcher_Closed(t *testing.T) {
	f, _ := newTestFetcher("http://127.0.0.1:1", nil)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	_, err := f.Get(context.Background(), "/schedules", nil)
	assert.ErrorIs(t, err, ErrFetcherClosed)
}

func TestFetcher_BreakerFailsFast(t *testing.T) {
	f, _ := newTestFetcher(deadServerURL(), func(c *FetcherConfig) {
		c.MaxRetries = 0
		c.BreakerThreshold = 1
		c.BreakerCooldown = time.Hour
	})

	_, err := f.Get(context.Background(), "/schedules", nil)
	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, 1, netErr.Attempts)

	_, err = f.Get(context.Background(), "/schedules", nil)
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, 0, netErr.Attempts)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.True(t, f.Breaker().IsOpen())
}

func TestFetcher_BreakerIgnoresAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(srv.URL, func(c *FetcherConfig) {
		c.BreakerThreshold = 1
	})

	for i := 0; i < 3; i++ {
		_, err := f.Get(context.Background(), "/x", nil)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "Bad Request", apiErr.Message)
	}
	assert.True(t, f.Breaker().State() == circuitbreaker.StateClosed)
}

func TestFetcher_ContextCanceled(t *testing.T) {
	f, _ := newTestFetcher(deadServerURL(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Get(ctx, "/schedules", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetcher_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(srv.URL, func(c *FetcherConfig) {
		c.RateLimit = 20
		c.RateBurst = 1
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := f.Get(context.Background(), "/", nil)
		require.NoError(t, err)
	}
	// 1 token up front, then 2 more at 20 rps
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
