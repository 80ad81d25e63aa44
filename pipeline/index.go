// ABOUTME: SQLite-backed run index for fast list and browse queries across process restarts.
// ABOUTME: A queryable projection of the run store, rebuildable from the per-run status documents.
package pipeline

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// RunSummary is one row of the run listing.
type RunSummary struct {
	RunID        string    `json:"run_id"`
	FlowKind     FlowKind  `json:"flow_kind"`
	OverallState RunState  `json:"overall_state"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	StepsTotal   int       `json:"steps_total"`
	StepsDone    int       `json:"steps_done"`
	Error        string    `json:"error,omitempty"`
}

// RunIndex mirrors run metadata in SQLite for fast enumeration without
// scanning every run directory. The per-run status.json remains the source
// of truth; the index is rebuildable from it.
type RunIndex struct {
	db *sql.DB
}

// OpenRunIndex opens or creates the index database at the given path.
func OpenRunIndex(path string) (*RunIndex, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open run index: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			flow_kind TEXT NOT NULL,
			overall_state TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			steps_total INTEGER NOT NULL,
			steps_done INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &RunIndex{db: db}, nil
}

// Close closes the database connection.
func (idx *RunIndex) Close() error {
	return idx.db.Close()
}

// Upsert inserts or replaces the index row for a run.
func (idx *RunIndex) Upsert(rec *RunRecord) error {
	done := 0
	for _, s := range rec.Steps {
		if s.State == StepSuccess || s.State == StepSkipped {
			done++
		}
	}
	_, err := idx.db.Exec(`
		INSERT INTO runs (run_id, flow_kind, overall_state, created_at, updated_at, steps_total, steps_done, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			overall_state = excluded.overall_state,
			updated_at = excluded.updated_at,
			steps_done = excluded.steps_done,
			error = excluded.error`,
		rec.RunID, string(rec.FlowKind), string(rec.OverallState),
		rec.CreatedAt.Format(time.RFC3339Nano), rec.UpdatedAt.Format(time.RFC3339Nano),
		len(rec.Steps), done, rec.Error)
	if err != nil {
		return fmt.Errorf("upsert run %q: %w", rec.RunID, err)
	}
	return nil
}

// List returns run summaries ordered newest first.
func (idx *RunIndex) List() ([]RunSummary, error) {
	rows, err := idx.db.Query(`
		SELECT run_id, flow_kind, overall_state, created_at, updated_at, steps_total, steps_done, error
		FROM runs ORDER BY run_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		var kind, state, created, updated string
		if err := rows.Scan(&s.RunID, &kind, &state, &created, &updated, &s.StepsTotal, &s.StepsDone, &s.Error); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		s.FlowKind = FlowKind(kind)
		s.OverallState = RunState(state)
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			s.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			s.UpdatedAt = t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes a run's index row, used when the store prunes its directory.
func (idx *RunIndex) Delete(runID string) error {
	if _, err := idx.db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete run %q: %w", runID, err)
	}
	return nil
}

// Rebuild repopulates the index from the run store's status documents,
// recovering from a lost or corrupt index file.
func (idx *RunIndex) Rebuild(store *RunStore) error {
	ids, err := store.ListRunIDs()
	if err != nil {
		return err
	}
	if _, err := idx.db.Exec(`DELETE FROM runs`); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	for _, id := range ids {
		rec, err := store.GetStatus(id)
		if err != nil {
			continue
		}
		if err := idx.Upsert(rec); err != nil {
			return err
		}
	}
	return nil
}
