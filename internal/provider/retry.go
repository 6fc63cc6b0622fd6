package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig bounds the backoff loop around a provider call.
type RetryConfig struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay before the first retry
	MaxDelay    time.Duration // cap for the exponential backoff
}

// DefaultRetryConfig returns the retry policy used for provider calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// InvokeWithRetry calls prov.Invoke, retrying transient failures with
// exponential backoff up to cfg.MaxAttempts. Non-retryable errors and
// context cancellation surface immediately. RetryAfter hints from the
// vendor override the computed delay.
func InvokeWithRetry(ctx context.Context, prov Provider, req Request, cfg RetryConfig, log zerolog.Logger) (*Response, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	delay := cfg.BaseDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		resp, err := prov.Invoke(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt == cfg.MaxAttempts {
			break
		}

		wait := delay
		var pe *Error
		if errors.As(err, &pe) && pe.RetryAfter > 0 {
			wait = time.Duration(pe.RetryAfter) * time.Second
		}
		if wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("provider call failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
	return nil, lastErr
}

// Retrying decorates a Provider so every Invoke runs under the backoff
// policy. Name and Models pass through to the wrapped provider.
type Retrying struct {
	inner Provider
	cfg   RetryConfig
	log   zerolog.Logger
}

// WithRetry wraps prov with the given retry policy.
func WithRetry(prov Provider, cfg RetryConfig, log zerolog.Logger) *Retrying {
	return &Retrying{
		inner: prov,
		cfg:   cfg,
		log:   log.With().Str("component", "provider").Logger(),
	}
}

func (r *Retrying) Name() string     { return r.inner.Name() }
func (r *Retrying) Models() []string { return r.inner.Models() }

func (r *Retrying) Invoke(ctx context.Context, req Request) (*Response, error) {
	return InvokeWithRetry(ctx, r.inner, req, r.cfg, r.log)
}
