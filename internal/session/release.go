// Package session tracks the live trading handle that belongs to each
// authenticated user.
package session

import (
	"context"
	"log/slog"

	"github.com/haimerb/iqbts/internal/trading"
)

// ReleaseMethod names the handle operation used to release it.
type ReleaseMethod string

const (
	MethodNone       ReleaseMethod = ""
	MethodClose      ReleaseMethod = "close"
	MethodDisconnect ReleaseMethod = "disconnect"
)

// ReleaseResult reports what Release did.
type ReleaseResult struct {
	// Released is true when a release method ran without error.
	Released bool
	// Method is the last method attempted.
	Method ReleaseMethod
	// Err is the failure of the last attempted method, if any.
	Err error
}

// Release shuts down a handle that is no longer registered. It tries Close
// and then Disconnect, stopping at the first one the handle implements that
// succeeds. Failures are logged and reported in the result, never returned
// as errors.
func Release(ctx context.Context, logger *slog.Logger, h trading.Handle) ReleaseResult {
	var res ReleaseResult
	if h == nil {
		return res
	}
	if logger == nil {
		logger = slog.Default()
	}

	if c, ok := h.(trading.Closer); ok {
		res.Method = MethodClose
		res.Err = safeCall(func() error { return c.Close(ctx) })
		if res.Err == nil {
			res.Released = true
			return res
		}
		logger.Warn("failed to close trading handle", slog.String("error", res.Err.Error()))
	}

	if d, ok := h.(trading.Disconnecter); ok {
		res.Method = MethodDisconnect
		res.Err = safeCall(func() error { return d.Disconnect(ctx) })
		if res.Err == nil {
			res.Released = true
			return res
		}
		logger.Warn("failed to disconnect trading handle", slog.String("error", res.Err.Error()))
	}

	if res.Method == MethodNone {
		logger.Debug("trading handle has no release method")
	}
	return res
}

// safeCall converts a panic in a handle method into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &trading.PanicError{Value: r}
		}
	}()
	return fn()
}
