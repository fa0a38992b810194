// Package journal keeps a history of backend runs for diagnostics.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Outcome is how a backend run ended.
type Outcome string

const (
	OutcomeRunning        Outcome = "running"
	OutcomeLaunchFailed   Outcome = "launch_failed"
	OutcomeExited         Outcome = "exited"
	OutcomeUnexpectedExit Outcome = "unexpected_exit"
	OutcomeTerminated     Outcome = "terminated"
	OutcomeForced         Outcome = "forced"
)

// Run is one recorded backend launch.
type Run struct {
	ID        string     `json:"id"`
	Path      string     `json:"path"`
	PID       int        `json:"pid"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Outcome   Outcome    `json:"outcome"`
	ExitCode  *int       `json:"exitCode,omitempty"`
	Detail    string     `json:"detail,omitempty"`
}

// ErrRunNotFound is returned by Finish for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	pid        INTEGER NOT NULL DEFAULT -1,
	started_at DATETIME NOT NULL,
	ended_at   DATETIME,
	outcome    TEXT NOT NULL,
	exit_code  INTEGER,
	detail     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
`

// Journal stores runs in a SQLite database.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One writer; avoids SQLITE_BUSY between the watcher and UI goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Begin records a successful launch and returns the run ID. If id is empty a
// new one is generated.
func (j *Journal) Begin(id, path string, pid int, at time.Time) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	_, err := j.db.Exec(
		`INSERT INTO runs (id, path, pid, started_at, outcome) VALUES (?, ?, ?, ?, ?)`,
		id, path, pid, at.UTC(), OutcomeRunning,
	)
	if err != nil {
		return "", fmt.Errorf("record run start: %w", err)
	}
	return id, nil
}

// LaunchFailed records a launch that never produced a process.
func (j *Journal) LaunchFailed(path string, cause error, at time.Time) (string, error) {
	id := uuid.NewString()
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	_, err := j.db.Exec(
		`INSERT INTO runs (id, path, pid, started_at, ended_at, outcome, detail) VALUES (?, ?, -1, ?, ?, ?, ?)`,
		id, path, at.UTC(), at.UTC(), OutcomeLaunchFailed, detail,
	)
	if err != nil {
		return "", fmt.Errorf("record launch failure: %w", err)
	}
	return id, nil
}

// Finish records how a run ended. exitCode < 0 is stored as unknown.
func (j *Journal) Finish(id string, outcome Outcome, exitCode int, detail string, at time.Time) error {
	var code sql.NullInt64
	if exitCode >= 0 {
		code = sql.NullInt64{Int64: int64(exitCode), Valid: true}
	}

	res, err := j.db.Exec(
		`UPDATE runs SET ended_at = ?, outcome = ?, exit_code = ?, detail = ? WHERE id = ?`,
		at.UTC(), outcome, code, detail, id,
	)
	if err != nil {
		return fmt.Errorf("record run end: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish %s: %w", id, ErrRunNotFound)
	}
	return nil
}

// HostExitedDetail marks runs closed by CloseStale.
const HostExitedDetail = "host exited"

// CloseStale ends every run still marked running. Call it at start-up, once
// no other host can own a backend; such rows are left by a host that died
// before recording the end of its run.
func (j *Journal) CloseStale(at time.Time) (int64, error) {
	res, err := j.db.Exec(
		`UPDATE runs SET ended_at = ?, outcome = ?, detail = ? WHERE outcome = ?`,
		at.UTC(), OutcomeExited, HostExitedDetail, OutcomeRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("close stale runs: %w", err)
	}
	return res.RowsAffected()
}

// Recent returns up to limit runs, newest first.
func (j *Journal) Recent(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.Query(`
		SELECT id, path, pid, started_at, ended_at, outcome, exit_code, detail
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r     Run
			ended sql.NullTime
			code  sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Path, &r.PID, &r.StartedAt, &ended, &r.Outcome, &code, &r.Detail); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			r.EndedAt = &t
		}
		if code.Valid {
			c := int(code.Int64)
			r.ExitCode = &c
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Prune deletes runs started before now-olderThan and returns how many were
// removed.
func (j *Journal) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC()
	res, err := j.db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}
