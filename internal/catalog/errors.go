package catalog

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrInvalidQuery = errors.New("catalog: invalid query")
	ErrRateLimited  = errors.New("catalog: rate limited")
	ErrNotAvailable = errors.New("catalog: download not available")
)

// codeRateLimit is the errorCode the service sends when throttling.
const codeRateLimit = "RATE_LIMIT"

// APIError is an error reported inside the service's response envelope.
type APIError struct {
	Endpoint string
	Code     string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catalog: %s: %s: %s", e.Endpoint, e.Code, e.Message)
}

// RateLimited reports whether the service asked us to slow down.
func (e *APIError) RateLimited() bool {
	return e.Code == codeRateLimit
}

// RateLimitedError is returned once rate-limit retries are exhausted.
type RateLimitedError struct {
	Retries int
	Err     error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("catalog: still rate limited after %d retries: %v", e.Retries, e.Err)
}

func (e *RateLimitedError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrRateLimited) true.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}
