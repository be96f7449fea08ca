// Package usaspending provides a rate-limited, retrying client for the
// USAspending.gov v2 API. Queries are immutable values: each mutator
// returns a copy, and an explicit materialization call executes the HTTP
// requests, transparently paging until exhaustion or a record cap.
package usaspending

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the production USAspending API endpoint.
const DefaultBaseURL = "https://api.usaspending.gov"

const maxErrorBodyBytes = 2048

// ClientConfig configures rate limiting and retry behavior for a Client.
type ClientConfig struct {
	// BaseURL is the API root, without a trailing slash.
	BaseURL string

	// RequestsPerSecond is the shared token-bucket refill rate. All
	// concurrent fetches across all workers draw from this one budget.
	RequestsPerSecond float64

	// Burst is the token-bucket capacity.
	Burst int

	// MaxAttempts bounds retries of transient failures, including the
	// first attempt.
	MaxAttempts int

	// InitialBackoff is the first retry delay; subsequent delays grow
	// exponentially with jitter.
	InitialBackoff time.Duration

	// Timeout applies per HTTP request.
	Timeout time.Duration
}

// DefaultClientConfig returns conservative defaults suitable for the
// public API's documented limits.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:           DefaultBaseURL,
		RequestsPerSecond: 4,
		Burst:             8,
		MaxAttempts:       5,
		InitialBackoff:    500 * time.Millisecond,
		Timeout:           30 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("BaseURL is required")
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("RequestsPerSecond must be positive, got %v", c.RequestsPerSecond)
	}
	if c.Burst <= 0 {
		return fmt.Errorf("Burst must be positive, got %d", c.Burst)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("MaxAttempts must be positive, got %d", c.MaxAttempts)
	}
	return nil
}

// Client issues queries against the spending API. Safe for concurrent use;
// all requests share one rate limiter so added concurrency increases
// in-flight parallelism, not request rate.
type Client struct {
	config  ClientConfig
	httpc   *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("client config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:  cfg,
		httpc:   &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}, nil
}

// Award fetches the detail record for a generated award identifier.
func (c *Client) Award(ctx context.Context, generatedID string) (*Award, error) {
	if generatedID == "" {
		return nil, &ValidationError{Field: "award_id", Reason: "must not be empty"}
	}
	var award Award
	path := "/api/v2/awards/" + generatedID + "/"
	if err := c.getJSON(ctx, path, &award); err != nil {
		return nil, fmt.Errorf("fetch award %s: %w", generatedID, err)
	}
	if award.GeneratedID == "" {
		award.GeneratedID = generatedID
	}
	return &award, nil
}

// getJSON performs a rate-limited, retrying GET and decodes the response.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doRetry(ctx, func() error {
		return c.do(ctx, http.MethodGet, path, nil, out)
	})
}

// postJSON performs a rate-limited, retrying POST and decodes the response.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	return c.doRetry(ctx, func() error {
		return c.do(ctx, http.MethodPost, path, payload, out)
	})
}

// doRetry wraps a single request with exponential backoff. Only transient
// and rate-limit failures are retried; permanent and validation errors
// abort immediately.
func (c *Client) doRetry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.InitialBackoff

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("retrying upstream request",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		// A server-advertised wait takes precedence over the backoff
		// schedule.
		var rl *RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			select {
			case <-time.After(rl.RetryAfter):
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
		}
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(c.config.MaxAttempts-1)), ctx)
	return backoff.Retry(wrapped, b)
}

// do issues one HTTP request after waiting for a rate-limiter token, and
// classifies failures into the error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Context cancellation is not an upstream failure.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &TransientError{Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		return &TransientError{StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return &ValidationError{Field: path, Reason: readErrorBody(resp.Body)}
	default:
		return &PermanentError{StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
}

func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(b))
}
