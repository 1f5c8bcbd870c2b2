package factory

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/trmlabs/connpool/pkg/pool"
)

// SQLiteFactory opens SQLite database handles. The pool target is the
// database path (or ":memory:"). Each pooled connection is its own *sql.DB
// limited to a single underlying connection, so the pool manager, not
// database/sql, decides how many handles exist.
type SQLiteFactory struct{}

// NewSQLiteFactory creates a SQLite factory.
func NewSQLiteFactory() *SQLiteFactory {
	return &SQLiteFactory{}
}

// Create opens the database and verifies it responds.
func (f *SQLiteFactory) Create(ctx context.Context, target string) (pool.RawConn, error) {
	db, err := sql.Open("sqlite3", target)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", target, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", target, err)
	}
	return db, nil
}

// IsReady pings the database.
func (f *SQLiteFactory) IsReady(handle pool.RawConn) bool {
	db, ok := handle.(*sql.DB)
	if !ok || db == nil {
		return false
	}
	return db.Ping() == nil
}

// Close closes the database handle.
func (f *SQLiteFactory) Close(handle pool.RawConn) error {
	db, ok := handle.(*sql.DB)
	if !ok || db == nil {
		return nil
	}
	return db.Close()
}
