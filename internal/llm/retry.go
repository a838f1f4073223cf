package llm

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/mohammad-safakhou/polyview/config"
)

// Retryer retries rate-limited collaborator calls. The delay comes from the
// provider's backoff hint when present, else the fixed fallback delay. Total
// retries are capped; on exhaustion the last error propagates to the caller.
// The same discipline applies to single-call and streaming variants alike.
type Retryer struct {
	maxRetries    int
	fallbackDelay time.Duration
	logger        *log.Logger
}

func NewRetryer(cfg config.LLMRetryConfig, logger *log.Logger) *Retryer {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	fallback := cfg.FallbackDelay
	if fallback <= 0 {
		fallback = 61 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[LLM] ", log.LstdFlags)
	}
	return &Retryer{maxRetries: maxRetries, fallbackDelay: fallback, logger: logger}
}

// Do runs fn, retrying while it fails with a RateLimitError. Any other error
// returns immediately.
func (r *Retryer) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var rle *RateLimitError
		if !errors.As(lastErr, &rle) {
			return lastErr
		}
		if attempt >= r.maxRetries {
			r.logger.Printf("rate limit: max retries (%d) reached, giving up", r.maxRetries)
			return lastErr
		}
		delay := rle.RetryAfter
		if delay <= 0 {
			delay = r.fallbackDelay
		}
		r.logger.Printf("rate limit: waiting %v before retry %d/%d", delay, attempt+1, r.maxRetries)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
