package events

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLitePersistence {
	t.Helper()
	p, err := NewSQLitePersistence(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestSaveAndLoadEvents(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	events := []Event{
		{ID: "e1", Type: "connection.created", Severity: SeverityInfo, Source: "test",
			ConnectionID: "c1", Message: "created", Timestamp: now.Add(-2 * time.Minute),
			Fields: map[string]interface{}{"target": "db:5432"}},
		{ID: "e2", Type: "connection.lost", Severity: SeverityError, Source: "test",
			ConnectionID: "c1", Message: "lost", Timestamp: now.Add(-time.Minute)},
		{ID: "e3", Type: "pool.scaled_up", Severity: SeverityInfo, Source: "test",
			Message: "scaled", Timestamp: now},
	}
	for _, e := range events {
		require.NoError(t, store.SaveEvent(e))
	}

	loaded, err := store.LoadEvents(nil, 0)
	require.NoError(t, err)
	require.Len(t, loaded, 3)

	// Most recent first.
	assert.Equal(t, "e3", loaded[0].ID)
	assert.Equal(t, "e1", loaded[2].ID)
	assert.Equal(t, SeverityError, loaded[1].Severity)
	assert.Equal(t, "db:5432", loaded[2].Fields["target"])
}

func TestLoadEventsWithFilterAndLimit(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	require.NoError(t, store.SaveEvent(Event{ID: "e1", Type: "a", Severity: SeverityInfo, Source: "test", ConnectionID: "c1", Message: "m", Timestamp: now}))
	require.NoError(t, store.SaveEvent(Event{ID: "e2", Type: "b", Severity: SeverityInfo, Source: "test", ConnectionID: "c2", Message: "m", Timestamp: now}))

	byConn, err := store.LoadEvents(ConnectionFilter("c2"), 0)
	require.NoError(t, err)
	require.Len(t, byConn, 1)
	assert.Equal(t, "e2", byConn[0].ID)

	limited, err := store.LoadEvents(nil, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCleanupOldEvents(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	require.NoError(t, store.SaveEvent(Event{ID: "old", Type: "a", Severity: SeverityInfo, Source: "test", Message: "m", Timestamp: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.SaveEvent(Event{ID: "new", Type: "a", Severity: SeverityInfo, Source: "test", Message: "m", Timestamp: now}))

	require.NoError(t, store.CleanupOldEvents(24*time.Hour))

	remaining, err := store.LoadEvents(nil, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "new", remaining[0].ID)
}

func TestBusPersistsEvents(t *testing.T) {
	store := newTestStore(t)
	bus := NewBus("test", 16, store)

	bus.Publish(Event{Type: "connection.created", Message: "created"})
	bus.Stop()

	persisted, err := store.LoadEvents(nil, 0)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "connection.created", persisted[0].Type)
	assert.Equal(t, "test", persisted[0].Source)
}
