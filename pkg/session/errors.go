package session

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceUnavailable reports that no usable handle exists right now:
	// the session is starting, reconnecting, stopping, or failed to start.
	ErrServiceUnavailable = errors.New("automation service unavailable")

	// ErrStartFailed reports that handle creation failed after all start retries.
	ErrStartFailed = errors.New("failed to start automation session")

	// ErrStopping reports that a stop is in progress and the request was rejected.
	ErrStopping = errors.New("session is stopping")
)

// FallbackError reports that both a script and its natural-language
// fallback failed. Both causes are reachable through errors.Is and errors.As.
type FallbackError struct {
	Op          string
	ScriptErr   error
	FallbackErr error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("%s failed: %v; fallback instruction also failed: %v", e.Op, e.ScriptErr, e.FallbackErr)
}

// Unwrap exposes both causes.
func (e *FallbackError) Unwrap() []error {
	return []error{e.ScriptErr, e.FallbackErr}
}
