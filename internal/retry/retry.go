// Package retry re-runs a whole analysis after a transient failure.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taxwise-partners/sp-estimator/internal/metrics"
)

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error // last failure
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Runner retries a function a fixed number of times with a fixed delay.
type Runner struct {
	Attempts int
	Delay    time.Duration

	// IsPermanent reports errors that must not be retried, in addition to
	// Permanent-wrapped errors and context cancellation.
	IsPermanent func(error) bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Default is one automatic retry after two seconds.
func Default() Runner {
	return Runner{Attempts: 2, Delay: 2 * time.Second}
}

func (r Runner) permanent(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var p permanentError
	if errors.As(err, &p) {
		return true
	}
	return r.IsPermanent != nil && r.IsPermanent(err)
}

// Do calls fn until it succeeds, fails permanently, or runs out of
// attempts. attempt is 1-based.
func (r Runner) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.With("component", "retry")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if r.permanent(ctx, err) {
			return err
		}
		if attempt == attempts {
			break
		}

		logger.Warn("run failed, retrying",
			"attempt", attempt,
			"attempts", attempts,
			"delay", r.Delay,
			"error", err,
		)
		r.Metrics.IncRunRetries()

		t := time.NewTimer(r.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}
