package deliver

import (
	"errors"
	"fmt"
)

// ErrEmptyBatch and ErrNoPlatform are validation errors: rejected
// immediately, never retried.
var (
	ErrEmptyBatch = errors.New("deliver: empty batch")
	ErrNoPlatform = errors.New("deliver: batch has no platform")
)

// AuthError is a 401 from the collector: a credential problem, not a
// transient fault. Never retried; requires key rotation.
type AuthError struct {
	Endpoint string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed against %s (check API key)", e.Endpoint)
}

// IsAuthError checks whether an error is an authentication failure.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// RateLimitError is a 429 that survived the retry budget.
type RateLimitError struct {
	Endpoint string
	Retries  int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded at %s after %d retries", e.Endpoint, e.Retries)
}

// IsRateLimitError checks whether an error is an exhausted rate limit.
func IsRateLimitError(err error) bool {
	var rlErr *RateLimitError
	return errors.As(err, &rlErr)
}

// ServerError is a 5xx that survived the retry budget.
type ServerError struct {
	Endpoint   string
	StatusCode int
	Retries    int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error HTTP %d from %s after %d retries", e.StatusCode, e.Endpoint, e.Retries)
}

// IsServerError checks whether an error is an exhausted server error.
func IsServerError(err error) bool {
	var srvErr *ServerError
	return errors.As(err, &srvErr)
}

// ConnectivityError is a transport-level failure that survived retries and
// endpoint failover.
type ConnectivityError struct {
	Endpoints []string
	Cause     error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("no collector endpoint reachable (tried %d): %v", len(e.Endpoints), e.Cause)
}

func (e *ConnectivityError) Unwrap() error { return e.Cause }

// IsConnectivityError checks whether an error is a hard connectivity
// failure.
func IsConnectivityError(err error) bool {
	var connErr *ConnectivityError
	return errors.As(err, &connErr)
}

// RequestError is any other non-retryable 4xx, carrying the server-provided
// message when present.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("collector rejected request: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("collector rejected request: HTTP %d", e.StatusCode)
}
