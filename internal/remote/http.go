package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPOptions configures an HTTPStore.
type HTTPOptions struct {
	// Timeout bounds each request including the body transfer. Zero means none.
	Timeout time.Duration
	// RequestsPerSecond throttles requests. Zero or negative disables throttling.
	RequestsPerSecond float64
	// UserAgent is sent with every request when set.
	UserAgent string
	// Client overrides the HTTP client.
	Client *http.Client
}

// HTTPStore fetches resources relative to an HTTP(S) base URL.
type HTTPStore struct {
	baseURL   string
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// NewHTTPStore creates a store for the given base URL.
func NewHTTPStore(baseURL string, opts HTTPOptions) *HTTPStore {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &HTTPStore{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		client:    client,
		limiter:   limiter,
		userAgent: opts.UserAgent,
	}
}

// URL returns the absolute URL of a resource.
func (s *HTTPStore) URL(resource string) string {
	return s.baseURL + "/" + resource
}

// Fetch issues a GET for the resource. A 404 yields a FetchError wrapping ErrNotFound.
func (s *HTTPStore) Fetch(ctx context.Context, resource string, progress ProgressFunc) (io.ReadCloser, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, &FetchError{Resource: resource, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(resource), nil)
	if err != nil {
		return nil, &FetchError{Resource: resource, Err: err}
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{Resource: resource, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		_ = resp.Body.Close()
		return nil, &FetchError{Resource: resource, Err: ErrNotFound}
	case resp.StatusCode != http.StatusOK:
		_ = resp.Body.Close()
		return nil, &FetchError{Resource: resource, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	return withProgress(resp.Body, resource, resp.ContentLength, progress), nil
}
