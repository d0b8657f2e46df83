// Package historystore persists finished workflow executions and
// finance-ledger snapshots to sqlite for operator review. A finance snapshot
// is written only when RecordFinanceSnapshot is called; the runtime does not
// call it on a schedule.
// The Twin itself is never persisted here — that remains pure in-memory per
// this project's explicit Non-goals. Grounded on internal/infra/sqlite's
// WAL-mode-plus-migrations pattern, adapted to this domain's two tables.
package historystore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/greenhouse-network/sentinel/internal/finance"
	"github.com/greenhouse-network/sentinel/internal/orchestrator"
)

// Store wraps a SQLite connection holding workflow and finance history.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at dir/history.db, enabling WAL mode
// and a busy timeout, then runs migrations.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("historystore: create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "history.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("historystore: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("historystore: ping sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("historystore: migrate: %w", err)
	}
	return s, nil
}

// Close shuts down the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			workflow_id TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			status      TEXT NOT NULL,
			history     TEXT NOT NULL,
			errors      TEXT NOT NULL,
			started_at  INTEGER NOT NULL,
			ended_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_runs_started ON workflow_runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS finance_snapshots (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			taken_at         INTEGER NOT NULL,
			total_cost_usd   REAL NOT NULL,
			total_in_tokens  INTEGER NOT NULL,
			total_out_tokens INTEGER NOT NULL,
			stable           BOOLEAN NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// RecordWorkflow persists a finished WorkflowState.
func (s *Store) RecordWorkflow(state orchestrator.WorkflowState) error {
	history, err := json.Marshal(state.History)
	if err != nil {
		return fmt.Errorf("historystore: marshal history: %w", err)
	}
	errs, err := json.Marshal(state.Errors)
	if err != nil {
		return fmt.Errorf("historystore: marshal errors: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO workflow_runs (workflow_id, name, status, history, errors, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(workflow_id) DO UPDATE SET
			status=excluded.status, history=excluded.history, errors=excluded.errors,
			ended_at=excluded.ended_at`,
		state.WorkflowID, state.Name, string(state.Status), string(history), string(errs),
		state.StartedAt.Unix(), state.EndedAt.Unix(),
	)
	return err
}

// WorkflowRecord is the read projection returned by RecentWorkflows.
type WorkflowRecord struct {
	WorkflowID string    `json:"workflow_id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// RecentWorkflows returns the most recent limit workflow runs, newest first.
func (s *Store) RecentWorkflows(limit int) ([]WorkflowRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT workflow_id, name, status, started_at, ended_at
		 FROM workflow_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkflowRecord
	for rows.Next() {
		var rec WorkflowRecord
		var started, ended int64
		if err := rows.Scan(&rec.WorkflowID, &rec.Name, &rec.Status, &started, &ended); err != nil {
			return nil, err
		}
		rec.StartedAt = time.Unix(started, 0)
		rec.EndedAt = time.Unix(ended, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordFinanceSnapshot persists a point-in-time finance summary.
func (s *Store) RecordFinanceSnapshot(takenAt time.Time, summary finance.Summary) error {
	_, err := s.db.Exec(
		`INSERT INTO finance_snapshots (taken_at, total_cost_usd, total_in_tokens, total_out_tokens, stable)
		 VALUES (?, ?, ?, ?, ?)`,
		takenAt.Unix(), summary.TotalCostUSD, summary.TotalInTokens, summary.TotalOutTokens, summary.Stable,
	)
	return err
}
