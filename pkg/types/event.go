package types

import "time"

// SessionEventType defines the type of event emitted by the session manager.
type SessionEventType string

const (
	EventTypeStarting         SessionEventType = "starting"          // EventTypeStarting indicates a handle is being created for a new session.
	EventTypeStarted          SessionEventType = "started"           // EventTypeStarted indicates the session reached the ready state.
	EventTypeStartFailed      SessionEventType = "start_failed"      // EventTypeStartFailed indicates handle creation failed after all start retries.
	EventTypeDisconnected     SessionEventType = "disconnected"      // EventTypeDisconnected indicates a probe declared the handle unusable.
	EventTypeReconnectAttempt SessionEventType = "reconnect_attempt" // EventTypeReconnectAttempt indicates one reconnect tick is running.
	EventTypeReconnected      SessionEventType = "reconnected"       // EventTypeReconnected indicates the session recovered and is ready again.
	EventTypeReconnectFailed  SessionEventType = "reconnect_failed"  // EventTypeReconnectFailed indicates the reconnect loop gave up.
	EventTypeStopped          SessionEventType = "stopped"           // EventTypeStopped indicates the session was stopped deliberately.
	EventTypeTaskStarted      SessionEventType = "task_started"      // EventTypeTaskStarted indicates an operation was dispatched to the handle.
)

// SessionEvent represents a lifecycle change of the automation session.
type SessionEvent struct {
	// Metadata holds optional additional information about the event.
	Metadata map[string]interface{}

	// Error carries the cause for failure events.
	Error error

	// Time is when the event was produced.
	Time time.Time

	// Type indicates the kind of event.
	Type SessionEventType

	// State is the session state after the transition.
	State string

	// Attempt is the reconnect or start attempt number, when relevant.
	Attempt int
}

// NewSessionEvent creates an event of the given type for the given state.
func NewSessionEvent(eventType SessionEventType, state string) SessionEvent {
	return SessionEvent{
		Type:     eventType,
		State:    state,
		Time:     time.Now(),
		Metadata: make(map[string]interface{}),
	}
}

// WithError returns a copy of the event carrying err.
func (e SessionEvent) WithError(err error) SessionEvent {
	e.Error = err
	return e
}

// WithAttempt returns a copy of the event carrying the attempt number.
func (e SessionEvent) WithAttempt(attempt int) SessionEvent {
	e.Attempt = attempt
	return e
}

// WithMetadata returns a copy of the event with one more metadata entry.
func (e SessionEvent) WithMetadata(key string, value interface{}) SessionEvent {
	md := make(map[string]interface{}, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		md[k] = v
	}
	md[key] = value
	e.Metadata = md
	return e
}

// IsFailure reports whether the event describes a failed transition.
func (e SessionEvent) IsFailure() bool {
	switch e.Type {
	case EventTypeStartFailed, EventTypeDisconnected, EventTypeReconnectFailed:
		return true
	}
	return false
}
