// Package automation defines the contract between pilot and the AI-operated
// browser it drives.
//
// A Handle is one live attachment to a browser tab. Handles are created by a
// Factory and may fail at any time with connection-class errors when the
// browser, the debugging bridge or the tab goes away; the session package
// owns detection and recovery. Nothing outside pkg/session should keep a
// Handle across operations.
package automation

import (
	"context"
	"errors"
)

var (
	// ErrDisconnected reports that the handle lost its browser or tab.
	// Handles wrap it so callers can classify with errors.Is.
	ErrDisconnected = errors.New("automation handle disconnected")

	// ErrAssertionFailed reports that an assertion evaluated to false.
	// It is an application error and never triggers reconnection.
	ErrAssertionFailed = errors.New("assertion failed")
)

// Tab describes one browser tab visible to the handle.
type Tab struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}

// Handle is one live automation attachment.
type Handle interface {
	// RunInstruction executes a natural-language instruction on the active tab.
	RunInstruction(ctx context.Context, instruction string) (any, error)

	// RunScript executes a structured automation script.
	RunScript(ctx context.Context, script *Script) (*ScriptResult, error)

	// Assert verifies a natural-language assertion. A false assertion
	// returns an error wrapping ErrAssertionFailed.
	Assert(ctx context.Context, assertion string) error

	// ListTabs enumerates the tabs of the attached browser.
	ListTabs(ctx context.Context) ([]Tab, error)

	// SetActiveTab makes the tab with the given id the target of later operations.
	SetActiveTab(ctx context.Context, id string) error

	// EvaluateScript runs JavaScript in the active tab and returns its JSON-compatible result.
	EvaluateScript(ctx context.Context, script string) (any, error)

	// ShowStatus displays a short message in the page. It is the cheapest
	// call that still needs a working bridge, so it doubles as a liveness probe.
	ShowStatus(ctx context.Context, message string) error

	// Destroy releases the handle. It is safe to call on a dead handle.
	Destroy(ctx context.Context) error
}

// Factory creates handles bound to a tab.
type Factory interface {
	Create(ctx context.Context) (Handle, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context) (Handle, error)

// Create calls f(ctx).
func (f FactoryFunc) Create(ctx context.Context) (Handle, error) {
	return f(ctx)
}
