package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/codyseavey/card-desk/internal/config"
	"github.com/codyseavey/card-desk/internal/metrics"
)

const (
	defaultMaxAttempts    = 5
	defaultInitialBackoff = 1000 * time.Millisecond
	maxBackoffJitter      = 500 * time.Millisecond
	maxResponseBytes      = 8 << 20
	defaultHTTPTimeout    = 15 * time.Second
)

// HTTPDoer is the subset of *http.Client the fetcher needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetchResponse is a fully read successful response
type FetchResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Fetcher performs outbound HTTP requests for one upstream source, retrying
// network errors, 429 and 5xx responses with exponential backoff and jitter.
type Fetcher struct {
	source         string
	client         HTTPDoer
	maxAttempts    int
	initialBackoff time.Duration
	limiter        *rate.Limiter

	// replaceable in tests
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

type FetcherOption func(*Fetcher)

// WithHTTPClient overrides the default http.Client
func WithHTTPClient(client HTTPDoer) FetcherOption {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

func WithMaxAttempts(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxAttempts = n
		}
	}
}

func WithInitialBackoff(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.initialBackoff = d
		}
	}
}

// WithRateLimit spaces attempts to at most rps requests per second. Zero disables it.
func WithRateLimit(rps float64) FetcherOption {
	return func(f *Fetcher) {
		if rps > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithFetchConfig applies the process-wide retry settings
func WithFetchConfig(cfg config.FetchConfig) FetcherOption {
	return func(f *Fetcher) {
		WithMaxAttempts(cfg.MaxAttempts)(f)
		WithInitialBackoff(cfg.InitialBackoff)(f)
		WithRateLimit(cfg.RequestsPerSecond)(f)
	}
}

// NewFetcher creates a fetcher whose logs and metrics are labelled with source
func NewFetcher(source string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		source:         source,
		client:         &http.Client{Timeout: defaultHTTPTimeout},
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
		sleep:          sleepContext,
		jitter: func() time.Duration {
			return time.Duration(rand.Int64N(int64(maxBackoffJitter)))
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Backoff returns the delay before the retry that follows attempt i (0-based)
func (f *Fetcher) Backoff(i int) time.Duration {
	return f.initialBackoff*time.Duration(1<<uint(i)) + f.jitter()
}

// FetchWithRetry sends req until it succeeds, fails permanently, or the attempt
// budget is spent. Requests with a body must be replayable (GetBody set).
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*FetchResponse, error) {
	target := req.URL.Host + req.URL.Path
	var lastErr error
	lastStatus := 0

	for attempt := 0; attempt < f.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := f.Backoff(attempt - 1)
			if err := f.sleep(ctx, delay); err != nil {
				metrics.FetchAttemptsTotal.WithLabelValues(f.source, "canceled").Inc()
				return nil, fmt.Errorf("%s: %w", f.source, err)
			}
		}

		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				metrics.FetchAttemptsTotal.WithLabelValues(f.source, "canceled").Inc()
				return nil, fmt.Errorf("%s: %w", f.source, err)
			}
		}

		attemptReq, err := cloneRequest(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to prepare request: %w", f.source, err)
		}

		resp, err := f.client.Do(attemptReq)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				metrics.FetchAttemptsTotal.WithLabelValues(f.source, "canceled").Inc()
				return nil, fmt.Errorf("%s: %w", f.source, ctxErr)
			}
			lastErr, lastStatus = err, 0
			log.Printf("[Fetch:%s] attempt %d/%d %s %s: network error: %v",
				f.source, attempt+1, f.maxAttempts, req.Method, target, err)
			metrics.FetchAttemptsTotal.WithLabelValues(f.source, "retry").Inc()
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		if readErr != nil {
			lastErr, lastStatus = readErr, 0
			log.Printf("[Fetch:%s] attempt %d/%d %s %s: read error: %v",
				f.source, attempt+1, f.maxAttempts, req.Method, target, readErr)
			metrics.FetchAttemptsTotal.WithLabelValues(f.source, "retry").Inc()
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
			lastStatus = resp.StatusCode
			log.Printf("[Fetch:%s] attempt %d/%d %s %s: status %d, will retry",
				f.source, attempt+1, f.maxAttempts, req.Method, target, resp.StatusCode)
			metrics.FetchAttemptsTotal.WithLabelValues(f.source, "retry").Inc()
			continue

		case resp.StatusCode >= 400:
			log.Printf("[Fetch:%s] attempt %d/%d %s %s: status %d, not retrying",
				f.source, attempt+1, f.maxAttempts, req.Method, target, resp.StatusCode)
			metrics.FetchAttemptsTotal.WithLabelValues(f.source, "permanent").Inc()
			return nil, &PermanentError{
				Source:     f.source,
				StatusCode: resp.StatusCode,
				Body:       truncate(string(body), 200),
			}
		}

		if attempt > 0 {
			log.Printf("[Fetch:%s] attempt %d/%d %s %s: ok", f.source, attempt+1, f.maxAttempts, req.Method, target)
		}
		metrics.FetchAttemptsTotal.WithLabelValues(f.source, "ok").Inc()
		return &FetchResponse{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
			Attempts:   attempt + 1,
		}, nil
	}

	metrics.FetchAttemptsTotal.WithLabelValues(f.source, "exhausted").Inc()
	if lastErr == nil {
		lastErr = errors.New("no attempts made")
	}
	return nil, &TransientError{
		Source:     f.source,
		Attempts:   f.maxAttempts,
		StatusCode: lastStatus,
		Err:        lastErr,
	}
}

// GetJSON issues a GET with the given headers and decodes the body into target.
// Decode failures are returned as *ParseError carrying the raw body.
func (f *Fetcher) GetJSON(ctx context.Context, url string, headers map[string]string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", f.source, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.FetchWithRetry(ctx, req)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(resp.Body, target); err != nil {
		return &ParseError{Source: f.source, Raw: string(resp.Body), Err: err}
	}
	return nil
}

func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	clone := req.Clone(ctx)
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, errors.New("request body is not replayable")
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	return clone, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
