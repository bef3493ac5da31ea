package session

import (
	"errors"
	"strings"

	"github.com/entrhq/pilot/pkg/automation"
)

// connectionMarkers are lower-case fragments of errors raised when the
// browser, the debugging bridge or the tab is gone.
var connectionMarkers = []string{
	"no tab is connected",
	"bridge client",
	"debugger is not attached",
	"connection lost",
	"timeout",
	"target closed",
	"has been closed",
	"websocket closed",
}

// IsConnectionError reports whether err means the handle is no longer usable
// and recreating it may help. Everything else is an application error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, automation.ErrDisconnected) {
		return true
	}
	if errors.Is(err, automation.ErrAssertionFailed) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range connectionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
