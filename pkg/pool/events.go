package pool

import "time"

// Event types published by the pool.
const (
	EventConnectionCreated  = "connection.created"
	EventConnectionClosed   = "connection.closed"
	EventConnectionLost     = "connection.lost"
	EventConnectionAcquired = "connection.acquired"
	EventConnectionReleased = "connection.released"
	EventRequestQueued      = "request.queued"
	EventScaledUp           = "pool.scaled_up"
	EventScaledDown         = "pool.scaled_down"
	EventHealthSummary      = "pool.health_summary"
	EventDrainComplete      = "pool.drain_complete"
	EventClosed             = "pool.closed"
)

// Event describes a single pool occurrence for external consumers.
type Event struct {
	Type         string
	ConnectionID string
	Message      string
	Timestamp    time.Time
	Fields       map[string]interface{}
}

// Emitter receives pool events. The pool publishes through this interface
// and never depends on a concrete sink; pkg/events provides a bus that
// fans events out to registered listeners.
type Emitter interface {
	EmitPoolEvent(Event)
}

type nopEmitter struct{}

func (nopEmitter) EmitPoolEvent(Event) {}

func (p *Pool) emit(eventType, connID, message string, fields map[string]interface{}) {
	p.emitter.EmitPoolEvent(Event{
		Type:         eventType,
		ConnectionID: connID,
		Message:      message,
		Timestamp:    time.Now(),
		Fields:       fields,
	})
}
