// Package trading defines the boundary to the IQ Option trading platform:
// credential verification and the live handle a successful login yields.
package trading

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoResult is returned by a Handle when the platform answered without a value.
var ErrNoResult = errors.New("trading platform returned no result")

// PanicError wraps a value recovered from a panicking handle call.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("trading handle panicked: %v", e.Value)
}

// Handle is a live, authenticated connection to the trading platform.
type Handle interface {
	GetBalance(ctx context.Context) (float64, error)
	ResetPracticeBalance(ctx context.Context) (string, error)
}

// Closer is implemented by handles that can be closed.
type Closer interface {
	Close(ctx context.Context) error
}

// Disconnecter is implemented by handles that expose a disconnect operation.
type Disconnecter interface {
	Disconnect(ctx context.Context) error
}

// Result is the outcome of an authentication attempt. Handle is set only on
// success.
type Result struct {
	Success bool
	Reason  string
	Handle  Handle
}

// Verifier authenticates credentials against the trading platform.
type Verifier interface {
	Authenticate(ctx context.Context, identifier, secret string) (Result, error)
}
