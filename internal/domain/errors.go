package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrBotRunning          = errors.New("bot already running")
	ErrBotStopped          = errors.New("bot not running")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnhealthy           = errors.New("exchange unhealthy")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrContextDone         = errors.New("context cancelled")
	ErrLockHeld            = errors.New("lock already held")
)

// CircuitOpenError rejects a new-entry submission while the circuit breaker
// is open. Exit management is never blocked by it.
type CircuitOpenError struct {
	Reason string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open: %s", e.Reason)
}

// RiskLimitError blocks new entries for a single bot when a risk limit is
// breached. It carries the specific limit that tripped.
type RiskLimitError struct {
	Reason string
}

func (e *RiskLimitError) Error() string {
	return fmt.Sprintf("risk limit breached: %s", e.Reason)
}

// ValidationError reports malformed bot config or order parameters. Never
// retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConnectivityError wraps a transport failure talking to the venue. Retryable
// with bounded backoff.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity: %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// RateLimitError reports venue throttling. RetryAfter is zero when the venue
// gave no hint.
type RateLimitError struct {
	Op         string
	RetryAfter int64 // seconds
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s", e.Op)
}

// IsRetryable reports whether err is a transient failure worth retrying.
func IsRetryable(err error) bool {
	var ce *ConnectivityError
	var re *RateLimitError
	return errors.As(err, &ce) || errors.As(err, &re)
}
