package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trmlabs/connpool/pkg/pool"
)

// collector is a handler that records delivered events.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(e Event) error {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus("test", 16, nil)
	defer bus.Stop()

	c := &collector{}
	bus.Subscribe(c.handle, nil)

	bus.Publish(Event{Type: "connection.created", Message: "created"})
	bus.Publish(Event{Type: "connection.closed", Message: "closed"})

	require.Eventually(t, func() bool { return c.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"connection.created", "connection.closed"}, c.types())

	// Publish fills in id, source, and timestamp.
	c.mu.Lock()
	first := c.events[0]
	c.mu.Unlock()
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "test", first.Source)
	assert.False(t, first.Timestamp.IsZero())
}

func TestSubscribeTypeRestriction(t *testing.T) {
	bus := NewBus("test", 16, nil)
	defer bus.Stop()

	c := &collector{}
	bus.Subscribe(c.handle, nil, pool.EventScaledUp, pool.EventScaledDown)

	bus.Publish(Event{Type: pool.EventConnectionCreated})
	bus.Publish(Event{Type: pool.EventScaledUp})
	bus.Publish(Event{Type: pool.EventScaledDown})

	require.Eventually(t, func() bool { return c.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.NotContains(t, c.types(), pool.EventConnectionCreated)
}

func TestSubscribeFilters(t *testing.T) {
	bus := NewBus("test", 16, nil)
	defer bus.Stop()

	byConn := &collector{}
	bus.Subscribe(byConn.handle, ConnectionFilter("conn-1"))

	bySeverity := &collector{}
	bus.Subscribe(bySeverity.handle, SeverityFilter(SeverityError))

	bus.Publish(Event{Type: "a", ConnectionID: "conn-1", Severity: SeverityInfo})
	bus.Publish(Event{Type: "b", ConnectionID: "conn-2", Severity: SeverityError})

	require.Eventually(t, func() bool {
		return byConn.len() == 1 && bySeverity.len() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a"}, byConn.types())
	assert.Equal(t, []string{"b"}, bySeverity.types())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus("test", 16, nil)
	defer bus.Stop()

	c := &collector{}
	id := bus.Subscribe(c.handle, nil)

	bus.Publish(Event{Type: "a"})
	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)

	bus.Unsubscribe(id)
	bus.Publish(Event{Type: "b"})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, c.len())
}

func TestHistoryRingBuffer(t *testing.T) {
	bus := NewBus("test", 4, nil)
	defer bus.Stop()

	for i := 0; i < 6; i++ {
		bus.Publish(Event{Type: "tick", Message: string(rune('a' + i))})
	}

	require.Eventually(t, func() bool { return len(bus.History(0)) == 4 }, time.Second, 5*time.Millisecond)

	history := bus.History(0)
	require.Len(t, history, 4)
	assert.Equal(t, "c", history[0].Message, "oldest events are evicted first")
	assert.Equal(t, "f", history[3].Message)

	assert.Len(t, bus.History(2), 2)
}

func TestEmitPoolEventSeverityMapping(t *testing.T) {
	bus := NewBus("test", 16, nil)
	defer bus.Stop()

	c := &collector{}
	bus.Subscribe(c.handle, nil)

	bus.EmitPoolEvent(pool.Event{Type: pool.EventConnectionLost, Timestamp: time.Now()})
	bus.EmitPoolEvent(pool.Event{Type: pool.EventScaledDown, Timestamp: time.Now()})
	bus.EmitPoolEvent(pool.Event{Type: pool.EventDrainComplete, Timestamp: time.Now()})
	bus.EmitPoolEvent(pool.Event{Type: pool.EventConnectionCreated, Timestamp: time.Now()})

	require.Eventually(t, func() bool { return c.len() == 4 }, time.Second, 5*time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, SeverityError, c.events[0].Severity)
	assert.Equal(t, SeverityWarning, c.events[1].Severity)
	assert.Equal(t, SeverityWarning, c.events[2].Severity)
	assert.Equal(t, SeverityInfo, c.events[3].Severity)
}

func TestHandlerPanicDoesNotKillBus(t *testing.T) {
	bus := NewBus("test", 16, nil)
	defer bus.Stop()

	bus.Subscribe(func(Event) error { panic("boom") }, nil)
	c := &collector{}
	bus.Subscribe(c.handle, nil)

	bus.Publish(Event{Type: "a"})
	bus.Publish(Event{Type: "b"})

	require.Eventually(t, func() bool { return c.len() == 2 }, time.Second, 5*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	bus := NewBus("test", 16, nil)
	bus.Stop()
	bus.Stop()

	// Publishing after stop must not panic or block.
	bus.Publish(Event{Type: "late"})
}
