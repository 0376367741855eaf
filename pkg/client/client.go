// Package client provides the portal line-test caller with bounded retry,
// request pacing, and failure-budget gating.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/linetools/linecheck/pkg/session"
)

// Prometheus metrics for portal call operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linecheck_requests_total",
		Help: "Total portal requests by outcome",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "linecheck_request_duration_seconds",
		Help:    "Portal request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	callRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linecheck_call_retries_total",
		Help: "Total number of call retry attempts",
	})

	callExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linecheck_call_exhausted_total",
		Help: "Total number of items that exhausted all call attempts",
	})
)

// Result is the outcome of one line-test call. A nil Response denotes
// permanent failure for the item after retry exhaustion.
type Result struct {
	Username string          `json:"username"`
	Response json.RawMessage `json:"response"`
}

// Failed reports whether the result carries no payload.
func (r Result) Failed() bool {
	return len(r.Response) == 0 || string(r.Response) == "null"
}

// Gate decides whether an outbound call may proceed based on the shared
// failure budget. Implementations must be safe for concurrent use.
type Gate interface {
	// Allow returns false when calls must be blocked. It may sleep to
	// throttle before returning true.
	Allow(ctx context.Context) (bool, error)

	// RecordExhausted consumes budget for one exhausted item.
	RecordExhausted(ctx context.Context) error
}

// Config holds the caller configuration.
type Config struct {
	// TestURL is the fixed line-test endpoint.
	TestURL string

	// ProvinceCode is embedded in every request payload.
	ProvinceCode string

	// MaxRetries is the maximum attempt count per item (including the
	// initial attempt).
	MaxRetries int

	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration

	// RequestTimeout bounds a single HTTP attempt.
	RequestTimeout time.Duration

	// Limiter paces outbound attempts. Optional.
	Limiter *rate.Limiter

	// Gate blocks calls when the shared failure budget is critical. Optional.
	Gate Gate
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(testURL string) Config {
	return Config{
		TestURL:        testURL,
		ProvinceCode:   "NAN",
		MaxRetries:     2,
		RetryDelay:     1 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Client issues line-test calls against the portal.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a portal caller.
func New(cfg Config) (*Client, error) {
	if cfg.TestURL == "" {
		return nil, fmt.Errorf("test url is required")
	}
	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("max retries must be >= 1 (got %d)", cfg.MaxRetries)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	logger := log.With().Str("component", "portal-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		config: cfg,
		logger: logger,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Check runs the line test for one item. Every outcome is a value: after
// exhausting all attempts the result carries a nil payload, never an error.
func (c *Client) Check(ctx context.Context, item string, cred session.Credential) Result {
	attempted := false
	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		if c.config.Limiter != nil {
			if err := c.config.Limiter.Wait(ctx); err != nil {
				break
			}
		}

		if c.config.Gate != nil {
			allowed, err := c.config.Gate.Allow(ctx)
			if err != nil {
				c.logger.Warn().Err(err).Msg("Failure budget check failed")
			} else if !allowed {
				c.logger.Error().Str("username", item).Msg("Call blocked by failure budget")
				break
			}
		}

		attempted = true
		body, status, err := c.attempt(ctx, item, cred)
		if err == nil && status == http.StatusOK {
			requestsTotal.WithLabelValues("ok").Inc()
			c.logger.Info().
				Str("username", item).
				Int("attempt", attempt).
				Msg("Line test succeeded")
			return Result{Username: item, Response: body}
		}

		if err != nil {
			requestsTotal.WithLabelValues("network_error").Inc()
			c.logger.Warn().
				Err(err).
				Str("username", item).
				Int("attempt", attempt).
				Msg("Network error on line test attempt")
		} else {
			requestsTotal.WithLabelValues(fmt.Sprintf("%d", status)).Inc()
			c.logger.Warn().
				Str("username", item).
				Int("attempt", attempt).
				Int("status_code", status).
				Msg("Line test attempt failed")
		}

		if attempt < c.config.MaxRetries {
			callRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				attempt = c.config.MaxRetries // stop retrying, fall through to exhaustion
			case <-time.After(c.config.RetryDelay):
			}
		}
	}

	callExhaustedTotal.Inc()
	// A call blocked before any attempt burned no budget; consuming for it
	// would deepen the block until the window reset.
	if attempted && c.config.Gate != nil {
		if err := c.config.Gate.RecordExhausted(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to record budget consumption")
		}
	}

	c.logger.Error().
		Str("username", item).
		Int("max_attempts", c.config.MaxRetries).
		Msg("Max retries reached for item")

	return Result{Username: item}
}

// Probe tests a credential with a synthetic single-item call.
func (c *Client) Probe(ctx context.Context, cred session.Credential) bool {
	_, status, err := c.attempt(ctx, "test_user", cred)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Error probing cookies")
		return false
	}
	if status != http.StatusOK {
		c.logger.Info().Int("status_code", status).Msg("Cookies are invalid")
		return false
	}
	c.logger.Info().Msg("Cookies are valid")
	return true
}

// attempt issues a single HTTP request and decodes the body on success.
func (c *Client) attempt(ctx context.Context, item string, cred session.Credential) (json.RawMessage, int, error) {
	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(map[string]string{
		"listInfo":     item,
		"provinceCode": c.config.ProvinceCode,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TestURL, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	for name, value := range cred {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if !json.Valid(body) {
		return nil, resp.StatusCode, fmt.Errorf("response is not valid JSON")
	}

	return body, resp.StatusCode, nil
}
