package domain

import (
	"errors"
	"fmt"
)

// ErrInsufficientHistory is returned by the indicator engine when the candle
// window is shorter than the required lookback. Cycles skip it silently.
var ErrInsufficientHistory = errors.New("insufficient candle history")

// GatewayError wraps a failure from the exchange gateway. Transient errors are
// retried on the next cycle; fatal ones (bad credentials) are not.
type GatewayError struct {
	Op    string
	Fatal bool
	Err   error
}

func (e *GatewayError) Error() string {
	kind := "transient"
	if e.Fatal {
		kind = "fatal"
	}
	return fmt.Sprintf("gateway %s: %s error: %v", e.Op, kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// InvariantViolation indicates a logic defect (second open position, negative
// quantity). It aborts the current cycle without mutating state and must be
// surfaced loudly.
type InvariantViolation struct {
	Msg string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation: " + e.Msg
}
