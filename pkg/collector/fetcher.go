package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"golang.org/x/time/rate"

	"github.com/umputun/paperscope/pkg/domain"
)

// errPermanent marks failures that must not be retried, i.e. 4xx responses
// other than 429
var errPermanent = errors.New("permanent failure")

// fetcher issues rate-limited HTTP GETs with bounded exponential-backoff
// retries for transient failures. One fetcher per source; the rate-limit state
// is private to it, no cross-source coordination.
type fetcher struct {
	client    *http.Client
	userAgent string
	headers   map[string]string
	limiter   *rate.Limiter
}

func newFetcher(spec domain.SourceSpec, opts Options) *fetcher {
	limit := rate.Inf
	if spec.RateLimit > 0 {
		limit = rate.Limit(spec.RateLimit)
	}

	return &fetcher{
		client: &http.Client{
			Timeout: opts.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: opts.UserAgent,
		headers:   spec.Headers,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// get fetches the URL body. Transient failures (network errors, timeouts,
// 429, 5xx) are retried up to 3 attempts with exponential backoff; other 4xx
// abort immediately.
func (f *fetcher) get(ctx context.Context, reqURL string) ([]byte, error) {
	var body []byte
	retrier := repeater.NewBackoff(3, time.Second, repeater.WithMaxDelay(30*time.Second))

	err := retrier.Do(ctx, func() error {
		// spacing between consecutive requests, including retries
		if err := f.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		data, err := f.fetchOnce(ctx, reqURL)
		if err != nil {
			return err
		}
		body = data
		return nil
	}, errPermanent)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *fetcher) fetchOnce(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", errors.Join(err, errPermanent))
	}

	req.Header.Set("User-Agent", f.userAgent)
	addBrowserHeaders(req)
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", reqURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("transient status %d from %s", resp.StatusCode, reqURL)
	default:
		return nil, fmt.Errorf("status %d from %s: %w", resp.StatusCode, reqURL, errPermanent)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}
