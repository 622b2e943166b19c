// Package history exports relay lifecycle events to analytics stores.
// Events are an append-only audit trail; nothing is read back at startup.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventRestart EventType = "restart" // destination changed while running
)

// Record describes one relay process at the time of the event.
type Record struct {
	StreamKey   string    `json:"stream_key"`
	PID         int       `json:"pid"`
	Destination string    `json:"destination"`
	StartedAt   time.Time `json:"started_at"`
	StoppedAt   time.Time `json:"stopped_at,omitempty"`
	Outcome     string    `json:"outcome,omitempty"` // terminated, killed, already_exited
	ExitErr     string    `json:"exit_error,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// NullTime maps a zero time to SQL NULL.
func NullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// NullString maps an empty string to SQL NULL.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
