// Package retry retries transient failures with exponential backoff.
//
// It is used at the edges of the process (Matrix sends) and never inside the
// conversation core, which reports failures to its caller instead.
//
//	err := retry.Do(ctx, retry.Matrix, func() error {
//	    return client.send(ctx, room, content)
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls the backoff schedule.
type Config struct {
	// Attempts is the total number of calls, including the first. Values
	// below one mean a single call.
	Attempts int
	// Initial is the wait before the second call; later waits double.
	Initial time.Duration
	// Max caps a single wait.
	Max time.Duration
}

// Matrix is the schedule used for homeserver requests.
var Matrix = Config{Attempts: 3, Initial: 500 * time.Millisecond, Max: 5 * time.Second}

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts are
// exhausted or ctx is done. The last error is returned unwrapped from any
// Permanent marker.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Initial <= 0 {
		cfg.Initial = Matrix.Initial
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}

	delay := cfg.Initial
	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(err, ctxErr)
		}
		err = fn()
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt >= cfg.Attempts {
			return err
		}

		slog.Debug("retry: attempt failed", "attempt", attempt, "of", cfg.Attempts, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, cfg.Max)
	}
}
