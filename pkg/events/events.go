// Package events fans the pool's event stream out to registered listeners.
// The pool publishes through the narrow pool.Emitter interface; this bus is
// one possible sink, with optional SQLite persistence for audit trails.
package events

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/trmlabs/connpool/pkg/pool"
)

// Severity represents the severity level of an event.
type Severity string

const (
	// SeverityInfo represents informational events.
	SeverityInfo Severity = "info"
	// SeverityWarning represents warning events.
	SeverityWarning Severity = "warning"
	// SeverityError represents error events.
	SeverityError Severity = "error"
)

// Event is a pool occurrence enriched with an id, severity and source for
// external consumers.
type Event struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Severity     Severity               `json:"severity"`
	Source       string                 `json:"source"`
	ConnectionID string                 `json:"connection_id,omitempty"`
	Message      string                 `json:"message"`
	Timestamp    time.Time              `json:"timestamp"`
	Fields       map[string]interface{} `json:"fields,omitempty"`
}

// Handler processes a published event.
type Handler func(Event) error

// Filter decides whether a subscription receives an event.
type Filter func(Event) bool

// Subscription is a registered listener.
type Subscription struct {
	ID      string    `json:"id"`
	Types   []string  `json:"types"`
	Created time.Time `json:"created"`
	Count   int64     `json:"count"`
	handler Handler
	filter  Filter
}

// Bus manages event publishing and subscriptions. Events are dispatched
// asynchronously; a slow handler never blocks the pool.
type Bus struct {
	mu            sync.RWMutex
	source        string
	subscriptions map[string]*Subscription
	buffer        []Event
	bufferSize    int
	queue         chan Event
	persistence   Persistence
	done          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewBus creates an event bus. persistence may be nil; events are then kept
// only in the in-memory ring buffer.
func NewBus(source string, bufferSize int, persistence Persistence) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	b := &Bus{
		source:        source,
		subscriptions: make(map[string]*Subscription),
		buffer:        make([]Event, 0, bufferSize),
		bufferSize:    bufferSize,
		queue:         make(chan Event, bufferSize*2),
		persistence:   persistence,
		done:          make(chan struct{}),
	}

	b.wg.Add(1)
	go b.worker()

	log.Debug().Str("source", source).Int("buffer_size", bufferSize).Msg("Event bus started")
	return b
}

// EmitPoolEvent implements pool.Emitter.
func (b *Bus) EmitPoolEvent(pe pool.Event) {
	b.Publish(Event{
		Type:         pe.Type,
		Severity:     severityFor(pe.Type),
		ConnectionID: pe.ConnectionID,
		Message:      pe.Message,
		Timestamp:    pe.Timestamp,
		Fields:       pe.Fields,
	})
}

func severityFor(eventType string) Severity {
	switch {
	case eventType == pool.EventConnectionLost:
		return SeverityError
	case strings.HasSuffix(eventType, "scaled_down"), eventType == pool.EventDrainComplete:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Publish queues an event for dispatch. When the queue is full the event is
// dropped and logged rather than blocking the publisher.
func (b *Bus) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Source == "" {
		event.Source = b.source
	}

	select {
	case b.queue <- event:
	case <-b.done:
	default:
		log.Warn().Str("event_id", event.ID).Str("event_type", event.Type).Msg("Event queue full, dropping event")
	}
}

// Subscribe registers a handler for events, optionally restricted by a
// filter and a set of event types. Returns the subscription id.
func (b *Bus) Subscribe(handler Handler, filter Filter, types ...string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		ID:      fmt.Sprintf("sub-%s", uuid.New().String()),
		Types:   types,
		Created: time.Now(),
		handler: handler,
		filter:  filter,
	}
	b.subscriptions[sub.ID] = sub

	log.Debug().Str("subscription_id", sub.ID).Int("types", len(types)).Msg("Event subscription created")
	return sub.ID
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscriptions, id)
}

// History returns up to limit most recent events from the ring buffer.
func (b *Bus) History(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > len(b.buffer) {
		limit = len(b.buffer)
	}
	start := len(b.buffer) - limit
	history := make([]Event, limit)
	copy(history, b.buffer[start:])
	return history
}

// Stop shuts the bus down after draining queued events. Publishing after
// Stop is a silent no-op.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
	})
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case event := <-b.queue:
			b.process(event)
		case <-b.done:
			// Drain what was queued before the stop.
			for {
				select {
				case event := <-b.queue:
					b.process(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) process(event Event) {
	b.mu.Lock()
	if len(b.buffer) >= b.bufferSize {
		copy(b.buffer, b.buffer[1:])
		b.buffer[len(b.buffer)-1] = event
	} else {
		b.buffer = append(b.buffer, event)
	}
	subs := make([]*Subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	if b.persistence != nil {
		if err := b.persistence.SaveEvent(event); err != nil {
			log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to persist event")
		}
	}

	for _, sub := range subs {
		if !b.matches(event, sub) {
			continue
		}
		b.dispatch(event, sub)
	}
}

func (b *Bus) matches(event Event, sub *Subscription) bool {
	if len(sub.Types) > 0 {
		matched := false
		for _, t := range sub.Types {
			if event.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if sub.filter != nil && !sub.filter(event) {
		return false
	}
	return true
}

func (b *Bus) dispatch(event Event, sub *Subscription) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("subscription_id", sub.ID).
				Str("event_id", event.ID).
				Msg("Event handler panicked")
		}
	}()

	if err := sub.handler(event); err != nil {
		log.Error().
			Err(err).
			Str("subscription_id", sub.ID).
			Str("event_id", event.ID).
			Msg("Event handler returned error")
		return
	}

	b.mu.Lock()
	sub.Count++
	b.mu.Unlock()
}

// Common filters.

// ConnectionFilter keeps events for one connection record.
func ConnectionFilter(connectionID string) Filter {
	return func(event Event) bool {
		return event.ConnectionID == connectionID
	}
}

// SeverityFilter keeps events of the given severities.
func SeverityFilter(severities ...Severity) Filter {
	set := make(map[Severity]bool, len(severities))
	for _, s := range severities {
		set[s] = true
	}
	return func(event Event) bool {
		return set[event.Severity]
	}
}
