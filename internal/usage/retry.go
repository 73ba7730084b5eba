package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
)

// RetryConfig controls Retrying.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Retrying retries failed lookups with exponential backoff. Client errors that
// will not change on retry (bad request, not found, auth) are returned
// immediately.
type Retrying struct {
	next    Lookup
	cfg     RetryConfig
	onRetry func()
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps next with cfg. Non-positive delays fall back to 500ms and
// 10s respectively.
func NewRetrying(next Lookup, cfg RetryConfig) *Retrying {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	return &Retrying{next: next, cfg: cfg, sleep: sleepCtx}
}

// OnRetry registers a callback invoked before every retry attempt.
func (r *Retrying) OnRetry(fn func()) {
	r.onRetry = fn
}

// Lookup calls the wrapped lookup until it succeeds, fails permanently, or the
// retry budget is spent.
func (r *Retrying) Lookup(ctx context.Context, conversationID string) ([]Record, error) {
	var lastErr error
	delay := r.cfg.InitialDelay

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if r.onRetry != nil {
				r.onRetry()
			}
			slog.Warn("retrying usage lookup",
				"conversation_id", conversationID,
				"attempt", attempt,
				"delay_ms", delay.Milliseconds(),
				"error", lastErr,
			)
			if err := r.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("retry cancelled: %w", lastErr)
			}
			delay *= 2
			if delay > r.cfg.MaxDelay {
				delay = r.cfg.MaxDelay
			}
		}

		records, err := r.next.Lookup(ctx, conversationID)
		if err == nil {
			return records, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("giving up after %d retries: %w", r.cfg.MaxRetries, lastErr)
}

// retryable reports whether err may succeed on another attempt.
func retryable(err error) bool {
	if errors.Is(err, ErrNegativeCount) || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusConflict,
			apiErr.StatusCode == http.StatusTooManyRequests:
			return true
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			return false
		}
	}

	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
