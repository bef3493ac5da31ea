package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/entrhq/pilot/pkg/automation"
	"github.com/stretchr/testify/assert"
)

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "sentinel", err: automation.ErrDisconnected, want: true},
		{name: "wrapped sentinel", err: fmt.Errorf("list tabs: %w", automation.ErrDisconnected), want: true},
		{name: "no tab", err: errors.New("No tab is connected"), want: true},
		{name: "bridge", err: errors.New("bridge client is not connected"), want: true},
		{name: "debugger", err: errors.New("Debugger is not attached to the tab"), want: true},
		{name: "connection lost", err: errors.New("connection lost"), want: true},
		{name: "timeout", err: errors.New("Timeout 30000ms exceeded"), want: true},
		{name: "target closed", err: errors.New("Target closed"), want: true},
		{name: "page closed", err: errors.New("Target page, context or browser has been closed"), want: true},
		{name: "websocket", err: errors.New("WebSocket closed unexpectedly"), want: true},
		{name: "element missing", err: errors.New("element not found: #submit"), want: false},
		{name: "script error", err: errors.New("ReferenceError: x is not defined"), want: false},
		{name: "assertion", err: fmt.Errorf("%w: timeout banner is visible", automation.ErrAssertionFailed), want: false},
		{name: "context deadline", err: context.DeadlineExceeded, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectionError(tt.err))
		})
	}
}
