package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ReconnectConfig controls link recovery. Attempts are unbounded; the
// delay doubles from InitialDelay up to MaxDelay and recovery gives up
// once MaxElapsed has passed.
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxElapsed   time.Duration
}

// DefaultReconnectConfig returns 250ms initial, 5s cap, 30s budget.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		MaxElapsed:   30 * time.Second,
	}
}

// ErrReconnectTimeout is returned when the link could not be recovered in time.
var ErrReconnectTimeout = errors.New("session: reconnect timed out")

// backoff returns InitialDelay * 2^(attempt-1), capped at MaxDelay.
func backoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return cfg.MaxDelay
	}
	delay := cfg.InitialDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	return delay
}

// retry calls fn until it succeeds, ctx is cancelled, or cfg.MaxElapsed
// passes. The last attempt error is wrapped into ErrReconnectTimeout. An
// error for which permanent reports true is returned at once, unwrapped.
// A nil permanent retries every error.
func retry[T any](ctx context.Context, cfg ReconnectConfig, logger *slog.Logger, permanent func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()
	deadline := start.Add(cfg.MaxElapsed)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			logger.Info("Reconnected", "attempts", attempt, "elapsed", time.Since(start).Round(time.Millisecond))
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if permanent != nil && permanent(err) {
			logger.Error("Reconnect attempt failed permanently", "attempt", attempt, "error", err)
			return zero, err
		}

		delay := backoff(attempt, cfg)
		if remaining := time.Until(deadline); remaining <= 0 {
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrReconnectTimeout, attempt, err)
		} else if delay > remaining {
			delay = remaining
		}

		logger.Warn("Reconnect attempt failed", "attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}
	}
}
