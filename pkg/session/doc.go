// Package session keeps one automation handle alive for the whole process
// and runs operations against it with connection-aware retry.
//
// # Lifecycle
//
// The Manager moves through five states:
//
//	Stopped -> Starting -> Ready -> Reconnecting -> Ready
//	                          \            \
//	                           -> Stopping -> Stopped
//
// Start creates a handle through an automation.Factory and verifies it with
// the full probe (listing tabs). EnsureReady checks a ready handle with the
// quick probe (painting a status message); a connection-class failure marks
// the session disconnected, anything ambiguous escalates to the full probe.
// A disconnected session enters Reconnecting, where a periodic loop retries
// creation until it succeeds or MaxReconnectAttempts is reached.
//
// Stop always wins: it is observed by the reconnect loop before every
// attempt, and a handle created concurrently with a stop is destroyed
// instead of being installed.
//
// # Retry
//
// Executor wraps operations. A connection-class error forces an immediate
// reconnect, waits StabilizeDelay and tries again; application errors such
// as failed assertions are returned as-is. IsConnectionError is the only
// place that decides which is which.
//
// Example:
//
//	manager := session.NewManager(factory, session.DefaultOptions())
//	exec := session.NewExecutor(manager, 3)
//
//	result, err := exec.RunInstruction(ctx, "open the settings page")
//	if errors.Is(err, session.ErrServiceUnavailable) {
//	    // the browser is gone; the reconnect loop is already running
//	}
package session
