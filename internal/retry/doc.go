// Package retry provides the backoff policy shared by every component that
// talks to the remote catalog, order and download services.
//
// A Policy describes the schedule (initial delay, multiplier, cap, attempt
// limit). Do runs an operation under that schedule and sleeps through an
// injectable Sleeper, so retry timing can be tested without wall-clock waits.
//
// # Usage
//
//	p := retry.Policy{Initial: 15 * time.Second, Multiplier: 2, MaxAttempts: 3}
//	err := p.Do(ctx, func(ctx context.Context, attempt int) error {
//	    return login(ctx)
//	})
package retry
