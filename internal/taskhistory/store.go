// Package taskhistory implements the durable task-execution record (A3):
// one row per distinct scheduler task name, updated on every run, backed by
// an embedded pure-Go SQLite database so the agent carries no cgo
// dependency.
package taskhistory

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nodeops/healthagent/internal/scheduler"
)

const schema = `
CREATE TABLE IF NOT EXISTS task_executions (
	name        TEXT PRIMARY KEY,
	last_run    TIMESTAMP NOT NULL,
	duration_ns INTEGER NOT NULL,
	status      TEXT NOT NULL
);
`

// Record is one task's last-known execution.
type Record struct {
	Name     string
	LastRun  time.Time
	Duration time.Duration
	Status   string
}

// Store is a sqlite-backed scheduler.HistoryRecorder.
type Store struct {
	db *sql.DB
}

var _ scheduler.HistoryRecorder = (*Store)(nil)

// Open opens (creating if necessary) a task history database at path.
// path == ":memory:" is supported for tests. WAL mode trades a small amount
// of durability for write concurrency with the socket handler's concurrent
// status-read goroutines.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("taskhistory: open %s: %w", path, err)
	}
	// The dispatcher is single-threaded but RecordExecution may race with
	// Close/queries from the socket handler goroutines, so cap to a single
	// connection rather than reason about modernc.org/sqlite's concurrent
	// writer behavior.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("taskhistory: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordExecution upserts the latest execution for name, satisfying
// scheduler.HistoryRecorder.
func (s *Store) RecordExecution(name string, at time.Time, dur time.Duration, status string) error {
	_, err := s.db.Exec(
		`INSERT INTO task_executions (name, last_run, duration_ns, status) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET last_run = excluded.last_run, duration_ns = excluded.duration_ns, status = excluded.status`,
		name, at.UTC(), dur.Nanoseconds(), status,
	)
	if err != nil {
		return fmt.Errorf("taskhistory: record execution for %s: %w", name, err)
	}
	return nil
}

// LastExecution returns the most recently recorded execution for name.
func (s *Store) LastExecution(name string) (Record, bool, error) {
	row := s.db.QueryRow(`SELECT name, last_run, duration_ns, status FROM task_executions WHERE name = ?`, name)

	var rec Record
	var durNs int64
	err := row.Scan(&rec.Name, &rec.LastRun, &durNs, &rec.Status)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("taskhistory: query %s: %w", name, err)
	}
	rec.Duration = time.Duration(durNs)
	return rec, true, nil
}

// All returns every recorded task execution, for the status protocol
// response's diagnostic detail.
func (s *Store) All() ([]Record, error) {
	rows, err := s.db.Query(`SELECT name, last_run, duration_ns, status FROM task_executions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("taskhistory: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var durNs int64
		if err := rows.Scan(&rec.Name, &rec.LastRun, &durNs, &rec.Status); err != nil {
			return nil, fmt.Errorf("taskhistory: scan: %w", err)
		}
		rec.Duration = time.Duration(durNs)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
