// Package httpfetch implements the HttpFetcher component: GET/HEAD
// with retries, exponential backoff, redirect following with a hard
// cap, and configurable timeouts (spec.md §4.3). Retry/backoff is
// grounded on the teacher's pkg/audio/errors.go
// calculateExponentialBackoff and pkg/common/youtube.go's
// multi-strategy retry loop, rebuilt on net/http.
package httpfetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/latoulicious/voicecast/internal/apperrors"
)

const MaxRedirects = 5

// Timeouts mirrors spec.md §4.3's default timeout triad.
type Timeouts struct {
	Headers time.Duration
	Body    time.Duration
	Stream  time.Duration
}

var DefaultTimeouts = Timeouts{
	Headers: 15 * time.Second,
	Body:    30 * time.Second,
	Stream:  120 * time.Second,
}

// FetchOptions configures a single fetch.
type FetchOptions struct {
	Method   string // defaults to GET
	Headers  map[string]string
	Timeouts Timeouts

	// Body, when non-nil, is marshaled as JSON and sent as the request
	// body with a Content-Type: application/json header.
	Body interface{}

	// Streaming marks a fetch whose body is consumed incrementally over
	// a long duration (the voice pipeline's audio pull), so Timeouts.Stream
	// bounds it instead of the shorter Timeouts.Body used for bounded,
	// fully-buffered responses like JSON API calls.
	Streaming bool
}

// Fetcher performs HTTP fetches with the redirect/timeout/retry policy
// spec.md §4.3 fixes.
type Fetcher struct {
	client *http.Client
}

// New constructs a Fetcher with a CheckRedirect hook enforcing
// MaxRedirects and resolving relative Location headers against the
// current URL (net/http already does the relative resolution; we only
// need the count cap).
func New() *Fetcher {
	return &Fetcher{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= MaxRedirects {
					return apperrors.New(apperrors.KindHttpRedirectLimit, "Fetcher.redirect",
						fmt.Errorf("exceeded %d redirects", MaxRedirects))
				}
				return nil
			},
		},
	}
}

// Fetch performs one HTTP request. HEAD requests return a
// zero-length, already-closed body; callers should read Response
// headers only.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts FetchOptions) (*http.Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	timeouts := opts.Timeouts
	if timeouts == (Timeouts{}) {
		timeouts = DefaultTimeouts
	}

	if _, err := url.Parse(rawURL); err != nil {
		return nil, apperrors.New(apperrors.KindHttpIo, "Fetcher.Fetch", fmt.Errorf("invalid url: %w", err))
	}

	reqCtx, cancelReq := context.WithCancel(ctx)
	bodyOwnsCtx := false
	defer func() {
		if !bodyOwnsCtx {
			cancelReq()
		}
	}()
	headerTimer := time.AfterFunc(timeouts.Headers, cancelReq)

	var bodyReader io.Reader
	if opts.Body != nil {
		encoded, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, apperrors.New(apperrors.KindHttpIo, "Fetcher.Fetch", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, apperrors.New(apperrors.KindHttpIo, "Fetcher.Fetch", err)
	}
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	headersInTime := headerTimer.Stop()
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindHttpRedirectLimit {
			return nil, err
		}
		if !headersInTime {
			return nil, apperrors.New(apperrors.KindHttpTimeout, "Fetcher.Fetch", err)
		}
		return nil, apperrors.New(apperrors.KindHttpIo, "Fetcher.Fetch", err)
	}

	if method != http.MethodHead {
		bodyTimeout := timeouts.Body
		if opts.Streaming {
			bodyTimeout = timeouts.Stream
		}
		resp.Body = newTimeoutBody(resp.Body, bodyTimeout, cancelReq)
		bodyOwnsCtx = true
	}

	return resp, nil
}

// FetchWithRetry wraps Fetch with exponential backoff (factor 2, min
// 1000ms, max 5000ms) over transient failures: network errors, 408,
// 429, 5xx. 4xx other than 408/429 are non-retryable.
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string, opts FetchOptions, maxRetries int, baseDelay time.Duration) (*http.Response, error) {
	policy := apperrors.BackoffPolicy{BaseDelay: baseDelay, MaxDelay: 5 * time.Second, Factor: 2}
	if baseDelay == 0 {
		policy.BaseDelay = time.Second
	}

	var resp *http.Response
	err := apperrors.Retry(maxRetries, policy, func(d time.Duration) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}, func(attempt int) error {
		r, err := f.Fetch(ctx, rawURL, opts)
		if err != nil {
			if apperrors.KindOf(err) == apperrors.KindHttpTimeout || apperrors.KindOf(err) == apperrors.KindHttpIo {
				return apperrors.New(apperrors.KindProviderTransient, "Fetcher.FetchWithRetry", err)
			}
			return err
		}
		if apperrors.IsRetryableStatusCode(r.StatusCode) {
			r.Body.Close()
			return apperrors.New(apperrors.KindProviderTransient, "Fetcher.FetchWithRetry",
				fmt.Errorf("status %d", r.StatusCode))
		}
		if r.StatusCode >= 400 {
			r.Body.Close()
			return apperrors.New(apperrors.KindProviderFatal, "Fetcher.FetchWithRetry",
				fmt.Errorf("status %d", r.StatusCode))
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// timeoutBody closes the underlying body once the body (or stream)
// timeout elapses from when the response headers arrived, aborting
// long-hanging bodies; Close also releases the request's context.
type timeoutBody struct {
	io.ReadCloser
	timer  *time.Timer
	cancel context.CancelFunc
}

func newTimeoutBody(body io.ReadCloser, d time.Duration, cancel context.CancelFunc) io.ReadCloser {
	tb := &timeoutBody{ReadCloser: body, cancel: cancel}
	tb.timer = time.AfterFunc(d, func() { body.Close() })
	return tb
}

func (t *timeoutBody) Close() error {
	t.timer.Stop()
	err := t.ReadCloser.Close()
	t.cancel()
	return err
}
