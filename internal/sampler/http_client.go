package sampler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/treehealth/ndvi-monitor/internal/config"
	"github.com/treehealth/ndvi-monitor/internal/errs"
	"github.com/treehealth/ndvi-monitor/internal/logger"
	"github.com/treehealth/ndvi-monitor/internal/metrics"
)

// RetryPolicy configures retries on 429 and 5xx responses
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns the policy used when the config does not override it
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    time.Second,
		MaxWait:    30 * time.Second,
	}
}

// HTTPClient calls the sampling service over HTTP behind a circuit breaker
type HTTPClient struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	retry    RetryPolicy
	sleepFn  func(context.Context, time.Duration) error
}

// Option configures an HTTPClient
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.client = c }
}

// WithSleepFunc overrides the wait between retries; it must return early
// with the context error when ctx is done
func WithSleepFunc(fn func(context.Context, time.Duration) error) Option {
	return func(h *HTTPClient) { h.sleepFn = fn }
}

// WithRetryPolicy overrides the retry policy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(h *HTTPClient) { h.retry = p }
}

// NewHTTPClient returns a configuration error when no endpoint is set
func NewHTTPClient(cfg config.SamplerConfig, opts ...Option) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, errs.New(errs.KindConfiguration, "sampler endpoint is not configured")
	}

	retry := DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = cfg.MaxRetries
	}

	c := &HTTPClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout(),
		client:   &http.Client{},
		retry:    retry,
		sleepFn:  sleepContext,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        "ndvi-sampler",
			MaxRequests: 1,
			Interval:    10 * time.Minute,
			Timeout:     time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Sampler circuit breaker state changed")
			},
		}),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Sample posts the points for one month. Expiry of the per-call timeout,
// transport failures and non-2xx answers all surface as SamplerUnavailable.
func (c *HTTPClient) Sample(ctx context.Context, points []Point, period time.Time) ([]Result, error) {
	start := time.Now()
	results, err := c.sample(ctx, points, period)
	metrics.RecordSamplerCall(time.Since(start), len(points), len(results), err)
	return results, err
}

func (c *HTTPClient) sample(ctx context.Context, points []Point, period time.Time) ([]Result, error) {
	if len(points) == 0 {
		return nil, nil
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(sampleRequest{Period: period.Format(PeriodLayout), Points: points})
	if err != nil {
		return nil, fmt.Errorf("encode sample request: %w", err)
	}

	resp, err := c.do(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errs.Newf(errs.KindSamplerUnavailable, "sampler returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var decoded sampleResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		if errors.Is(err, io.EOF) {
			return []Result{}, nil
		}
		return nil, errs.Wrap(errs.KindSamplerUnavailable, err, "decode sampler response")
	}

	results := make([]Result, 0, len(decoded.Results))
	for _, w := range decoded.Results {
		results = append(results, w.toResult())
	}

	logger.Debug().
		Str("period", period.Format(PeriodLayout)).
		Int("points", len(points)).
		Int("results", len(results)).
		Msg("Sampler call completed")
	return results, nil
}

func (c *HTTPClient) do(ctx context.Context, body []byte) (*http.Response, error) {
	var lastErr error
	var lastStatus int

	attempts := 1 + c.retry.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, err, "build sampler request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "ndvi-monitor/1.0")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("sampler returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		lastStatus = 0
		var retryAfter string
		if resp != nil {
			lastStatus = resp.StatusCode
			retryAfter = resp.Header.Get("Retry-After")
			resp.Body.Close()
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errs.Wrap(errs.KindSamplerUnavailable, err, "sampler circuit open")
		}
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.KindSamplerUnavailable, ctx.Err(), "sampler call timed out")
		}

		if attempt < attempts-1 {
			wait := c.backoff(attempt, retryAfter)
			logger.Warn().Err(err).Int("attempt", attempt+1).Dur("wait", wait).Msg("Retrying sampler call")
			if err := c.sleepFn(ctx, wait); err != nil {
				return nil, errs.Wrap(errs.KindSamplerUnavailable, err, "sampler call cancelled during backoff")
			}
		}
	}

	if lastStatus != 0 {
		return nil, errs.Wrap(errs.KindSamplerUnavailable, lastErr, fmt.Sprintf("sampler returned %d after retries", lastStatus))
	}
	return nil, errs.Wrap(errs.KindSamplerUnavailable, lastErr, "sampler request failed")
}

// backoff honours Retry-After seconds, otherwise exponential with jitter in [MinWait, MaxWait]
func (c *HTTPClient) backoff(attempt int, retryAfter string) time.Duration {
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return min(time.Duration(seconds)*time.Second, c.retry.MaxWait)
	}

	base := math.Min(float64(c.retry.MinWait)*math.Pow(2, float64(attempt)), float64(c.retry.MaxWait))
	minWait := float64(c.retry.MinWait)
	if base <= minWait {
		return c.retry.MinWait
	}
	return time.Duration(minWait + rand.Float64()*(base-minWait))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
