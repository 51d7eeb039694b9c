// Package retry runs an operation with exponential backoff and reports
// exhaustion as "no result" instead of an error.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Policy controls retry behaviour. The wait after failed attempt n (0-based)
// is BaseDelay * 2^n. No jitter is applied.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Name labels log lines.
	Name string
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

// Delay returns the wait after failed attempt n (0-based).
func (p Policy) Delay(n int) time.Duration {
	return p.BaseDelay << uint(n)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do invokes op until it succeeds, returns a permanent error, ctx is done, or
// MaxAttempts is reached. It returns (value, true) on success and
// (zero, false) otherwise; the last error is logged, not returned.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, bool) {
	p = p.withDefaults()

	var zero T
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, true
		}
		lastErr = err

		if IsPermanent(err) {
			break
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		delay := p.Delay(attempt)
		p.Logger.Debug("retrying", "op", p.Name, "attempt", attempt+1, "delay", delay, "error", err)
		if err := p.Sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	p.Logger.Warn("giving up", "op", p.Name, "max_attempts", p.MaxAttempts, "error", lastErr)
	return zero, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
