package sqlite

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/zalexshow/shotgun.live-prometheus-exporter/config"
)

var (
	db   *sql.DB
	once sync.Once
)

// GetDatabase opens (once) the exporter database configured via DB_PATH
// and bootstraps the schema. Fatal misconfiguration surfaces on first use.
func GetDatabase() (*sql.DB, error) {
	var err error
	once.Do(func() {
		db, err = Open(config.Get().DBPath)
	})
	if err != nil {
		return nil, err
	}

	return db, nil
}

// Open opens a SQLite database at path and ensures the schema exists.
// Use ":memory:" in tests.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)

	d, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open %s: %w", path, err)
	}

	// SQLite serializes writes anyway; a single connection keeps
	// transactions and the in-memory test databases well-behaved.
	d.SetMaxOpenConns(1)

	if err := Bootstrap(d); err != nil {
		d.Close()
		return nil, err
	}

	return d, nil
}

func Bootstrap(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tickets (
			ticket_id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			event_name TEXT,
			ticket_title TEXT,
			ticket_status TEXT,
			ticket_price REAL,
			channel TEXT,
			ticket_redeemed_at TEXT,
			ticket_data TEXT,
			first_seen_at TEXT NOT NULL,
			last_updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ticket_status_changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ticket_id TEXT NOT NULL,
			old_status TEXT,
			new_status TEXT NOT NULL,
			changed_at TEXT NOT NULL,
			FOREIGN KEY (ticket_id) REFERENCES tickets (ticket_id)
		)`,
		`CREATE TABLE IF NOT EXISTS exporter_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_id ON tickets(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_status ON tickets(ticket_status)`,
		`CREATE INDEX IF NOT EXISTS idx_status_changes_ticket ON ticket_status_changes(ticket_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite bootstrap: %w", err)
		}
	}

	return nil
}
