package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper backed by a timer.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Policy describes an exponential backoff schedule.
type Policy struct {
	// Initial is the delay after the first failed attempt.
	Initial time.Duration

	// Multiplier scales the delay after each further failure.
	// Default: 2
	Multiplier float64

	// Max caps a single delay. Zero means no cap.
	Max time.Duration

	// MaxAttempts is the total number of attempts, including the first.
	// Default: 1
	MaxAttempts int

	// Sleep waits between attempts. Default: Sleep.
	Sleep Sleeper

	// SleepAfterLast also waits Delay after the final failed attempt,
	// before Do gives up.
	SleepAfterLast bool
}

// Delay returns the wait that follows failed attempt i (zero based).
func (p Policy) Delay(i int) time.Duration {
	m := p.Multiplier
	if m <= 0 {
		m = 2
	}
	d := float64(p.Initial)
	for ; i > 0; i-- {
		d *= m
		if p.Max > 0 && d >= float64(p.Max) {
			return p.Max
		}
	}
	if p.Max > 0 && time.Duration(d) > p.Max {
		return p.Max
	}
	return time.Duration(d)
}

// Attempts returns the effective attempt limit.
func (p Policy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Wait sleeps for Delay(i) using the configured Sleeper.
func (p Policy) Wait(ctx context.Context, i int) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	return sleep(ctx, p.Delay(i))
}

// ExhaustedError is returned by Do when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, or the attempt
// limit is reached. The sleep happens between attempts, and after the last
// one too when SleepAfterLast is set.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts()
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := p.Wait(ctx, attempt-1); err != nil {
				return err
			}
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
	}

	if p.SleepAfterLast {
		if err := p.Wait(ctx, attempts-1); err != nil {
			return err
		}
	}
	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}
