package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// permanentError marks a deliberate refusal that must not be retried and
// counts as ResultRejected.
type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Call.Do returns it immediately. Use it for answers the
// downstream gave deliberately, such as a rejected request.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Call runs downstream operations behind a breaker with bounded retries.
type Call struct {
	Breaker     *Breaker
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      float64
}

// Do executes fn until it succeeds, returns a permanent error, or the attempt
// budget is spent. ErrOpenCircuit is returned without calling fn when the
// breaker refuses traffic. A nil Breaker only retries.
func (c Call) Do(ctx context.Context, fn func(context.Context) error) error {
	breaker := c.Breaker
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if breaker != nil {
			if err := breaker.Allow(ctx); err != nil {
				if lastErr != nil {
					return lastErr
				}
				return err
			}
		}
		err := fn(ctx)
		if breaker != nil {
			breaker.Record(ctx, err)
		}
		if Classify(err) != ResultFailed {
			return unwrapPermanent(err)
		}
		lastErr = err
		if attempt == attempts || ctx.Err() != nil {
			break
		}
		timer := time.NewTimer(Backoff(c.BaseBackoff, attempt, c.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}

// Backoff doubles base per attempt. Jitter is a fraction of the delay
// (0.2 spreads it by 20% either way).
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << uint(attempt-1)
	if jitter <= 0 {
		return d
	}
	spread := float64(d) * jitter
	return d + time.Duration((rand.Float64()*2-1)*spread)
}

func unwrapPermanent(err error) error {
	var p permanentError
	if errors.As(err, &p) {
		return p.err
	}
	return err
}
