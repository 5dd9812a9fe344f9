// Copyright 2024-2026 Aiku AI

// Package retryutil runs bounded retry sequences with exponential backoff.
package retryutil

import (
	"context"
	"errors"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	maxShift           = 30
)

// Policy describes a bounded retry sequence. The zero value retries three
// times with a one second base delay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Sleep waits for d or until ctx is done. Tests replace it to avoid
	// real waits; nil means SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return p.MaxAttempts
}

// Delay returns the wait after the given failed attempt (1-based):
// BaseDelay * 2^attempt.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxShift {
		attempt = maxShift
	}
	return base << attempt
}

// Do calls op until it succeeds or the policy's attempts are used up. When
// every attempt fails, onExhausted (if non-nil) is called exactly once with
// the last error and that error is returned. If ctx ends while waiting
// between attempts, Do returns without calling onExhausted.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error, onExhausted func(err error)) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	attempts := p.maxAttempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return errors.Join(lastErr, err)
		}
	}
	if onExhausted != nil {
		onExhausted(lastErr)
	}
	return lastErr
}

// SleepContext waits for d, returning early with ctx.Err() if ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
