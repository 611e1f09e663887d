// Package opstate persists the bridge's operational state across
// restarts. Today that is the discovery ledger: every config topic the
// bridge has announced, so that `hairmqtt purge` can retract entities
// from Home Assistant long after the session that created them.
package opstate

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one announced discovery topic.
type Entry struct {
	Topic         string
	UniqueID      string
	FirstSeen     time.Time
	LastSeen      time.Time
	Announcements int
}

// Ledger records announced discovery topics in SQLite. All methods
// are safe for concurrent use (SQLite serializes writes).
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the ledger at dbPath.
func Open(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	l := &Ledger{db: db, now: time.Now}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS discovery_ledger (
		topic         TEXT PRIMARY KEY,
		unique_id     TEXT NOT NULL,
		first_seen    TEXT NOT NULL,
		last_seen     TEXT NOT NULL,
		announcements INTEGER NOT NULL DEFAULT 1
	);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Record notes that a config was published to topic. Repeat
// announcements bump the counter and the last-seen time.
func (l *Ledger) Record(topic, uniqueID string) error {
	ts := l.now().UTC().Format(time.RFC3339)
	_, err := l.db.Exec(
		`INSERT INTO discovery_ledger (topic, unique_id, first_seen, last_seen)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (topic) DO UPDATE
		 SET unique_id = excluded.unique_id,
		     last_seen = excluded.last_seen,
		     announcements = announcements + 1`,
		topic, uniqueID, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", topic, err)
	}
	return nil
}

// Entries returns every recorded topic ordered by topic. The result is
// empty (non-nil) when nothing has been announced.
func (l *Ledger) Entries() ([]Entry, error) {
	rows, err := l.db.Query(
		`SELECT topic, unique_id, first_seen, last_seen, announcements
		 FROM discovery_ledger ORDER BY topic`,
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e           Entry
			first, last string
		)
		if err := rows.Scan(&e.Topic, &e.UniqueID, &first, &last, &e.Announcements); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		e.FirstSeen, _ = time.Parse(time.RFC3339, first)
		e.LastSeen, _ = time.Parse(time.RFC3339, last)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Forget removes topic. No error is returned if it was never recorded.
func (l *Ledger) Forget(topic string) error {
	if _, err := l.db.Exec(`DELETE FROM discovery_ledger WHERE topic = ?`, topic); err != nil {
		return fmt.Errorf("forget %s: %w", topic, err)
	}
	return nil
}
