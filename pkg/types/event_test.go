package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSessionEvent(t *testing.T) {
	event := NewSessionEvent(EventTypeStarted, "ready")

	assert.Equal(t, EventTypeStarted, event.Type)
	assert.Equal(t, "ready", event.State)
	assert.NotNil(t, event.Metadata)
	assert.False(t, event.Time.IsZero())
}

func TestSessionEvent_Builders(t *testing.T) {
	cause := errors.New("connection lost")
	base := NewSessionEvent(EventTypeReconnectAttempt, "reconnecting")

	event := base.WithAttempt(3).WithError(cause).WithMetadata("endpoint", "ws://localhost:9222")

	assert.Equal(t, 3, event.Attempt)
	assert.Equal(t, cause, event.Error)
	assert.Equal(t, "ws://localhost:9222", event.Metadata["endpoint"])

	// value receivers leave the original untouched
	assert.Zero(t, base.Attempt)
	assert.Nil(t, base.Error)
}

func TestSessionEvent_IsFailure(t *testing.T) {
	tests := []struct {
		eventType SessionEventType
		want      bool
	}{
		{EventTypeStarting, false},
		{EventTypeStarted, false},
		{EventTypeStartFailed, true},
		{EventTypeDisconnected, true},
		{EventTypeReconnectAttempt, false},
		{EventTypeReconnected, false},
		{EventTypeReconnectFailed, true},
		{EventTypeStopped, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			assert.Equal(t, tt.want, NewSessionEvent(tt.eventType, "").IsFailure())
		})
	}
}
