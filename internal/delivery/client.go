// Package delivery posts job results to caller-supplied endpoints.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"posextract/internal/config"
	"posextract/internal/infrastructure"
	"posextract/pkg/contracts/domain"
)

// DeliveryError describes a failed attempt. It is logged, never returned.
type DeliveryError struct {
	URL        string
	Attempt    int
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery to %s attempt %d: %v", e.URL, e.Attempt, e.Err)
	}
	return fmt.Sprintf("delivery to %s attempt %d: status %d", e.URL, e.Attempt, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Client delivers payloads with bounded retries.
type Client struct {
	http           *resty.Client
	maxAttempts    int
	attemptTimeout time.Duration
	retryDelay     time.Duration
	logger         *slog.Logger
	metrics        *infrastructure.Metrics
}

// NewClient creates a delivery client from cfg.
func NewClient(cfg config.DeliveryConfig, logger *slog.Logger, metrics *infrastructure.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	httpClient := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", config.AppName+"/"+config.AppVersion).
		SetRetryCount(0)

	return &Client{
		http:           httpClient,
		maxAttempts:    attempts,
		attemptTimeout: cfg.AttemptTimeout,
		retryDelay:     cfg.RetryDelay,
		logger:         logger.With(slog.String("component", "delivery")),
		metrics:        metrics,
	}
}

// ValidateURL reports whether target is an absolute http or https URL.
func ValidateURL(target string) error {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return fmt.Errorf("invalid delivery url: %w", err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("delivery url %q must be an absolute http(s) url", target)
	}
	return nil
}

// Deliver posts payload to target, trying up to the configured number of
// attempts. It reports whether any attempt got a 2xx response and never
// returns an error.
func (c *Client) Deliver(ctx context.Context, payload domain.DeliveryPayload, target string) (delivered bool) {
	logger := c.logger.With(slog.String("job_id", payload.JobID))
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Delivery panicked", slog.Any("panic", r))
			delivered = false
		}
	}()

	if err := ValidateURL(target); err != nil {
		c.metrics.DeliveryAttempt("invalid_url")
		logger.ErrorContext(ctx, "Delivery skipped: configuration error",
			slog.String("url", target),
			slog.String("error", err.Error()))
		return false
	}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := c.attempt(ctx, payload, target, attempt)
		if err == nil {
			c.metrics.DeliveryAttempt("success")
			logger.InfoContext(ctx, "Result delivered",
				slog.String("url", target),
				slog.Int("attempt", attempt))
			return true
		}

		c.metrics.DeliveryAttempt("error")
		logger.WarnContext(ctx, "Delivery attempt failed",
			slog.String("url", target),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.maxAttempts),
			slog.String("error", err.Error()))

		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			logger.WarnContext(ctx, "Delivery abandoned", slog.String("error", ctx.Err().Error()))
			return false
		case <-time.After(c.retryDelay):
		}
	}

	logger.ErrorContext(ctx, "Delivery failed after all attempts",
		slog.String("url", target),
		slog.Int("attempts", c.maxAttempts))
	return false
}

func (c *Client) attempt(ctx context.Context, payload domain.DeliveryPayload, target string, n int) error {
	attemptCtx := ctx
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	resp, err := c.http.R().
		SetContext(attemptCtx).
		SetBody(payload).
		Post(target)
	if err != nil {
		return &DeliveryError{URL: target, Attempt: n, Err: err}
	}
	if !resp.IsSuccess() {
		return &DeliveryError{URL: target, Attempt: n, StatusCode: resp.StatusCode()}
	}
	return nil
}
