// Package history persists an execution journal: every settled tool
// invocation and every completed workflow lands in a project-local
// SQLite database (.gemini/history.db), consumed by the status command.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/datanger/gemini-cli/pkg/models"
)

// Store wraps an SQLite journal database.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DBPath returns the project-local journal path.
func DBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".gemini", "history.db")
}

// Open opens the journal database at the given path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// OpenProject opens the journal in the project's .gemini directory.
func OpenProject(projectRoot string) (*Store, error) {
	return Open(DBPath(projectRoot))
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the journal file path.
func (s *Store) Path() string {
	return s.path
}

// migrate applies pending schema migrations.
func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Results},
		{2, migrationV2Workflows},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Results = `
CREATE TABLE IF NOT EXISTS results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	invocation_id TEXT NOT NULL,
	tool TEXT NOT NULL,
	success INTEGER NOT NULL,
	error TEXT,
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_session ON results(session_id);
CREATE INDEX IF NOT EXISTS idx_results_tool ON results(tool);
`

const migrationV2Workflows = `
CREATE TABLE IF NOT EXISTS workflows (
	session_id TEXT PRIMARY KEY,
	task TEXT NOT NULL,
	objective TEXT,
	scope TEXT,
	final_phase TEXT NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	ended_at DATETIME
);
`

// ResultRow is one journaled invocation outcome.
type ResultRow struct {
	SessionID    string
	InvocationID string
	Tool         string
	Success      bool
	Error        string
	Elapsed      time.Duration
	RetryCount   int
	RecordedAt   time.Time
}

// RecordResult journals one settled execution result.
func (s *Store) RecordResult(sessionID string, res models.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO results (session_id, invocation_id, tool, success, error, elapsed_ms, retry_count, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, res.InvocationID, res.Tool, boolInt(res.Success), res.Error,
		res.Elapsed.Milliseconds(), res.RetryCount, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	return nil
}

// RecordWorkflow journals a workflow's final state, replacing any prior
// row for the session.
func (s *Store) RecordWorkflow(ctx *models.WorkflowContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed := 0
	if ctx.CurrentPhase == models.PhaseCompleted {
		completed = 1
	}
	_, err := s.conn.Exec(`
		INSERT INTO workflows (session_id, task, objective, scope, final_phase, completed, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			final_phase = excluded.final_phase,
			completed = excluded.completed,
			ended_at = excluded.ended_at
	`, ctx.SessionID, ctx.Task, ctx.Objective, ctx.Scope, string(ctx.CurrentPhase),
		completed, formatTime(ctx.StartedAt), formatTime(ctx.UpdatedAt))
	if err != nil {
		return fmt.Errorf("record workflow: %w", err)
	}
	return nil
}

// Recent returns the latest journaled results, newest first.
func (s *Store) Recent(limit int) ([]ResultRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT session_id, invocation_id, tool, success, COALESCE(error, ''), elapsed_ms, retry_count, recorded_at
		FROM results ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent results: %w", err)
	}
	defer rows.Close()

	var out []ResultRow
	for rows.Next() {
		var r ResultRow
		var success int
		var elapsedMs int64
		var recorded string
		if err := rows.Scan(&r.SessionID, &r.InvocationID, &r.Tool, &success, &r.Error, &elapsedMs, &r.RetryCount, &recorded); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		r.Success = success != 0
		r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		if t, err := parseTime(recorded); err == nil {
			r.RecordedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary aggregates journal totals per tool.
type Summary struct {
	Tool     string
	Total    int
	Failures int
	Retries  int
}

// Summarize returns per-tool aggregate counts across the journal.
func (s *Store) Summarize() ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT tool, COUNT(*), SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), SUM(retry_count)
		FROM results GROUP BY tool ORDER BY tool
	`)
	if err != nil {
		return nil, fmt.Errorf("summarize results: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.Tool, &sum.Total, &sum.Failures, &sum.Retries); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Purge deletes journaled results older than the given duration and
// returns the number removed.
func (s *Store) Purge(olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := formatTime(time.Now().Add(-olderThan))
	result, err := s.conn.Exec(`DELETE FROM results WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge results: %w", err)
	}
	return result.RowsAffected()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
