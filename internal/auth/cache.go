package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ligustah/sceneslurp/internal/retry"
)

// Options configures a TokenCache.
type Options struct {
	// Window is how long a token stays usable after issue.
	// Default: 1h
	Window time.Duration

	// Retry governs login attempts.
	// Default: 3 attempts, 15s initial delay, doubling.
	Retry retry.Policy

	// Store persists the token between runs.
	// Default: a MemoryStore.
	Store Store

	// Now returns the current time. Default: time.Now.
	Now func() time.Time

	// Logger receives login and cache events.
	Logger *slog.Logger
}

// DefaultOptions returns the options used for zero fields.
func DefaultOptions() Options {
	return Options{
		Window: time.Hour,
		Retry: retry.Policy{
			Initial:     15 * time.Second,
			Multiplier:     2,
			MaxAttempts:    3,
			SleepAfterLast: true,
		},
	}
}

// TokenCache returns a valid token, logging in only when the held one is
// missing or expired. It is safe for concurrent use; callers arriving
// while a login is in flight wait for it and share its result.
type TokenCache struct {
	login Authenticator
	opts  Options
	log   *slog.Logger

	mu      sync.Mutex
	current Token
}

// NewTokenCache creates a cache that obtains tokens from login.
func NewTokenCache(login Authenticator, opts Options) *TokenCache {
	def := DefaultOptions()
	if opts.Window <= 0 {
		opts.Window = def.Window
	}
	if opts.Retry.MaxAttempts <= 0 {
		sleep := opts.Retry.Sleep
		opts.Retry = def.Retry
		opts.Retry.Sleep = sleep
	}
	if opts.Store == nil {
		opts.Store = &MemoryStore{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default().With("component", "auth")
	}

	return &TokenCache{login: login, opts: opts, log: log}
}

// Window returns the validity window in use.
func (c *TokenCache) Window() time.Duration {
	return c.opts.Window
}

// Token returns a token that is valid now.
func (c *TokenCache) Token(ctx context.Context) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	if c.current.Valid(now, c.opts.Window) {
		return c.current, nil
	}

	stored, err := c.opts.Store.Load(ctx)
	switch {
	case err == nil && stored.Valid(now, c.opts.Window):
		c.current = stored
		return stored, nil
	case err == nil:
		c.log.Debug("stored token expired", "issued_at", stored.IssuedAt)
		c.clear(ctx)
	case errors.Is(err, ErrNoToken):
	default:
		c.log.Warn("discarding unreadable token record", "error", err)
		c.clear(ctx)
	}

	tok, err := c.authenticate(ctx)
	if err != nil {
		return Token{}, err
	}

	if err := c.opts.Store.Save(ctx, tok); err != nil {
		// The token is still good for this process.
		c.log.Warn("persist token", "error", err)
	}
	c.current = tok
	return tok, nil
}

// Invalidate drops the held and stored token so the next call logs in.
func (c *TokenCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = Token{}
	return c.opts.Store.Clear(ctx)
}

func (c *TokenCache) clear(ctx context.Context) {
	if err := c.opts.Store.Clear(ctx); err != nil {
		c.log.Warn("clear token record", "error", err)
	}
}

func (c *TokenCache) authenticate(ctx context.Context) (Token, error) {
	var tried int
	var value string

	err := c.opts.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		tried = attempt + 1
		v, err := c.login.Login(ctx)
		if err != nil {
			c.log.Warn("login failed", "attempt", tried, "error", err)
			return err
		}
		if v == "" {
			c.log.Warn("login returned empty token", "attempt", tried)
			return errors.New("empty token")
		}
		value = v
		return nil
	})
	if err != nil {
		var ex *retry.ExhaustedError
		if errors.As(err, &ex) {
			return Token{}, &AuthFailure{Attempts: ex.Attempts, Err: ex.Err}
		}
		return Token{}, &AuthFailure{Attempts: tried, Err: fmt.Errorf("login aborted: %w", err)}
	}

	c.log.Info("logged in", "attempts", tried)
	return Token{Value: value, IssuedAt: c.opts.Now()}, nil
}
