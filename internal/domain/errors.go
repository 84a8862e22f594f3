package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for transient and ledger-level failures. Callers branch with
// errors.Is; the typed structs below carry structured detail for the caller.
var (
	// ErrRateLimited is returned when a token cannot be acquired within the
	// caller's timeout.
	ErrRateLimited = errors.New("rate limited")

	// ErrCircuitOpen is returned while the breaker is open or a half-open
	// probe is already in flight.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrInsufficientFunds is returned by a ledger commit that would drive
	// cash negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidPosition is returned by a ledger commit that would close more
	// than is held without short permission.
	ErrInvalidPosition = errors.New("invalid position state")

	// ErrStaleData marks a quote served past its TTL.
	ErrStaleData = errors.New("stale market data")

	// ErrNotFound is returned by stores when no snapshot exists.
	ErrNotFound = errors.New("not found")
)

// ValidationError rejects bad input before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// RiskRejected declines a trade at the risk gate. Declines are logged and
// never retried.
type RiskRejected struct {
	Rule   string
	Reason string
}

func (e *RiskRejected) Error() string {
	return fmt.Sprintf("risk rejected [%s]: %s", e.Rule, e.Reason)
}

// BrokerError wraps a gateway failure. Retryable failures go through bounded
// backoff before being surfaced as OrderFailed.
type BrokerError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// OrderFailed is the terminal state after retries are exhausted. The ledger is
// guaranteed untouched.
type OrderFailed struct {
	OrderID  string
	Attempts int
	Last     error
}

func (e *OrderFailed) Error() string {
	return fmt.Sprintf("order %s failed after %d attempts: %v", e.OrderID, e.Attempts, e.Last)
}

func (e *OrderFailed) Unwrap() error { return e.Last }

// StateCorruptionError is fatal at startup: recovery found snapshots but none
// passed consistency verification. The engine must refuse to enter RUNNING.
type StateCorruptionError struct {
	Detail string
}

func (e *StateCorruptionError) Error() string {
	return fmt.Sprintf("state corruption: %s", e.Detail)
}

// IsRetryable reports whether an execution error is worth another attempt.
// Risk rejections and validation failures are final; rate limits, open
// circuits, and retryable broker errors are not.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrCircuitOpen) {
		return true
	}
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Retryable
	}
	return false
}
