package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Token is a session token and the instant it was issued.
type Token struct {
	Value    string    `yaml:"token"`
	IssuedAt time.Time `yaml:"issued_at"`
}

// Valid reports whether the token may still be used at now.
// A token exactly window old is still valid.
func (t Token) Valid(now time.Time, window time.Duration) bool {
	if t.Value == "" || t.IssuedAt.IsZero() {
		return false
	}
	return now.Sub(t.IssuedAt) <= window
}

// Authenticator exchanges credentials for a fresh session token.
type Authenticator interface {
	Login(ctx context.Context) (string, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context) (string, error)

// Login calls f.
func (f AuthenticatorFunc) Login(ctx context.Context) (string, error) {
	return f(ctx)
}

// ErrAuthFailure matches any *AuthFailure.
var ErrAuthFailure = errors.New("auth: login failed")

// AuthFailure is returned when no token could be obtained after all
// login attempts.
type AuthFailure struct {
	Attempts int
	Err      error
}

func (e *AuthFailure) Error() string {
	return fmt.Sprintf("auth: login failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *AuthFailure) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrAuthFailure) true for any AuthFailure.
func (e *AuthFailure) Is(target error) bool {
	return target == ErrAuthFailure
}
