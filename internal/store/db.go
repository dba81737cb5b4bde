package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database that holds conversations and messages.
type DB struct {
	*sql.DB
	now        func() int64
	maxContent int
}

// DefaultMaxContentBytes bounds message content when no option overrides it.
const DefaultMaxContentBytes = 4096

// Option customizes a DB.
type Option func(*DB)

// WithClock overrides the clock used for createdAt and sentAt. The clock
// returns unix nanoseconds. Appends still enforce strictly increasing sentAt
// per conversation regardless of what the clock returns.
func WithClock(now func() int64) Option {
	return func(db *DB) { db.now = now }
}

// WithMaxContentBytes sets the largest accepted message content in bytes.
func WithMaxContentBytes(n int) Option {
	return func(db *DB) {
		if n > 0 {
			db.maxContent = n
		}
	}
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// Write transactions use BEGIN IMMEDIATE so concurrent writers queue on the
// busy timeout instead of failing on lock upgrade.
func Open(path string, opts ...Option) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{
		DB:         db,
		now:        func() int64 { return time.Now().UnixNano() },
		maxContent: DefaultMaxContentBytes,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}
