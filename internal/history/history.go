// Package history keeps a per-run outcome journal in SQLite.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/calcurse/calsync/internal/utils"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS run_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at TEXT NOT NULL,     -- RFC3339
    finished_at TEXT NOT NULL,    -- RFC3339
    mode TEXT NOT NULL,
    dry_run INTEGER NOT NULL,
    pulled INTEGER NOT NULL,
    removed_local INTEGER NOT NULL,
    pushed INTEGER NOT NULL,
    removed_remote INTEGER NOT NULL,
    status TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_run_history_started_at ON run_history(started_at);
`

// Record is the outcome of one reconciliation run.
type Record struct {
	StartedAt     time.Time
	FinishedAt    time.Time
	Mode          string
	DryRun        bool
	Pulled        int
	RemovedLocal  int
	Pushed        int
	RemovedRemote int
	Status        string
	Error         string
}

// Journal persists run records. A journal is optional for the engine: if
// recording fails the run outcome is unaffected.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at dbPath.
func Open(dbPath string) (*Journal, error) {
	if err := utils.EnsureParent(dbPath); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=rwc&_journal_mode=WAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal db at %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends one run outcome.
func (j *Journal) Record(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("cannot record nil run")
	}

	_, err := j.db.Exec(
		`INSERT INTO run_history
		 (started_at, finished_at, mode, dry_run, pulled, removed_local, pushed, removed_remote, status, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.StartedAt.Format(time.RFC3339),
		rec.FinishedAt.Format(time.RFC3339),
		rec.Mode,
		rec.DryRun,
		rec.Pulled,
		rec.RemovedLocal,
		rec.Pushed,
		rec.RemovedRemote,
		rec.Status,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (j *Journal) Recent(limit int) ([]*Record, error) {
	rows, err := j.db.Query(
		`SELECT started_at, finished_at, mode, dry_run, pulled, removed_local, pushed, removed_remote, status, error
		 FROM run_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query run history: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		var startedAt, finishedAt string
		if err := rows.Scan(&startedAt, &finishedAt, &rec.Mode, &rec.DryRun,
			&rec.Pulled, &rec.RemovedLocal, &rec.Pushed, &rec.RemovedRemote,
			&rec.Status, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan run record: %w", err)
		}
		if rec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", startedAt, err)
		}
		if rec.FinishedAt, err = time.Parse(time.RFC3339, finishedAt); err != nil {
			return nil, fmt.Errorf("parse finished_at %q: %w", finishedAt, err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run history: %w", err)
	}
	return records, nil
}

// Count returns the number of recorded runs.
func (j *Journal) Count() (int, error) {
	var count int
	if err := j.db.QueryRow("SELECT COUNT(*) FROM run_history").Scan(&count); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return count, nil
}
