package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/umputun/paperscope/pkg/domain"
)

func TestFetcher_RateLimitSpacesRequests(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	// 20 rps means 50ms between consecutive requests
	f := newFetcher(domain.SourceSpec{ID: "s1", RateLimit: 20}, Options{RequestTimeout: 5 * time.Second, UserAgent: "test/1.0"})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.get(ctx, server.URL)
		require.NoError(t, err)
	}

	require.Len(t, stamps, 3)
	elapsed := stamps[2].Sub(stamps[0])
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond,
		"three requests at 20 rps need two 50ms waits between them")
}

func TestNewFetcher_LimiterConfiguration(t *testing.T) {
	f := newFetcher(domain.SourceSpec{ID: "s1"}, Options{})
	assert.Equal(t, rate.Inf, f.limiter.Limit(), "zero rate limit means unlimited")

	f = newFetcher(domain.SourceSpec{ID: "s1", RateLimit: 2.5}, Options{})
	assert.Equal(t, rate.Limit(2.5), f.limiter.Limit())
	assert.Equal(t, 1, f.limiter.Burst(), "no bursting, requests are evenly spaced")
}

func TestFetcher_RateLimitCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	// 1 rps: the second request would have to wait a full second
	f := newFetcher(domain.SourceSpec{ID: "s1", RateLimit: 1}, Options{RequestTimeout: 5 * time.Second, UserAgent: "test/1.0"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := f.get(ctx, server.URL)
	require.NoError(t, err, "first request has a token available")

	_, err = f.get(ctx, server.URL)
	require.Error(t, err, "waiting for the next token must respect the context")
}
