package events

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Persistence stores the event stream for later inspection.
type Persistence interface {
	SaveEvent(event Event) error
	LoadEvents(filter Filter, limit int) ([]Event, error)
	CleanupOldEvents(olderThan time.Duration) error
	Close() error
}

// SQLitePersistence implements Persistence on a local SQLite database.
type SQLitePersistence struct {
	db *sql.DB
}

// NewSQLitePersistence opens (or creates) the database at path and prepares
// the event table.
func NewSQLitePersistence(path string) (*SQLitePersistence, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event database: %w", err)
	}

	p := &SQLitePersistence{db: db}
	if err := p.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create event tables: %w", err)
	}
	return p, nil
}

// SaveEvent inserts an event row.
func (p *SQLitePersistence) SaveEvent(event Event) error {
	fieldsJSON, _ := json.Marshal(event.Fields)

	_, err := p.db.Exec(
		`INSERT INTO pool_events
			(id, type, severity, source, connection_id, message, timestamp, fields)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Type, string(event.Severity), event.Source,
		event.ConnectionID, event.Message, event.Timestamp, string(fieldsJSON))
	return err
}

// LoadEvents returns up to limit most recent events matching filter.
func (p *SQLitePersistence) LoadEvents(filter Filter, limit int) ([]Event, error) {
	query := `SELECT id, type, severity, source, connection_id, message, timestamp, fields
		FROM pool_events ORDER BY timestamp DESC`
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}

	rows, err := p.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var severity, fields sql.NullString

		err := rows.Scan(&event.ID, &event.Type, &severity, &event.Source,
			&event.ConnectionID, &event.Message, &event.Timestamp, &fields)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to scan event row")
			continue
		}
		if severity.Valid {
			event.Severity = Severity(severity.String)
		}
		if fields.Valid && fields.String != "" {
			json.Unmarshal([]byte(fields.String), &event.Fields)
		}
		if filter == nil || filter(event) {
			events = append(events, event)
		}
	}
	return events, rows.Err()
}

// CleanupOldEvents removes events older than the given duration.
func (p *SQLitePersistence) CleanupOldEvents(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	result, err := p.db.Exec(`DELETE FROM pool_events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return err
	}

	if deleted, _ := result.RowsAffected(); deleted > 0 {
		log.Info().Int64("rows_deleted", deleted).Msg("Cleaned up old pool events")
	}
	return nil
}

// Close releases the database handle.
func (p *SQLitePersistence) Close() error {
	return p.db.Close()
}

func (p *SQLitePersistence) createTables() error {
	_, err := p.db.Exec(`CREATE TABLE IF NOT EXISTS pool_events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		source TEXT NOT NULL,
		connection_id TEXT,
		message TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		fields TEXT
	)`)
	if err != nil {
		return fmt.Errorf("failed to create pool_events table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_pool_events_timestamp ON pool_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_pool_events_type ON pool_events(type)`,
		`CREATE INDEX IF NOT EXISTS idx_pool_events_connection ON pool_events(connection_id)`,
	}
	for _, q := range indexes {
		if _, err := p.db.Exec(q); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
