// File: internal/run/store.go
// Brief: Durable sqlite run-history store.

package run

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const stateSQLiteRelPath = ".stackctl/state.sqlite"

// StateStore records deploy runs and their per-stack outcomes under the
// manifest root. Persistence is best-effort: callers treat store errors as
// warnings, never as deployment failures.
type StateStore struct {
	db   *sql.DB
	path string
}

func OpenStateStore(root string) (*StateStore, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(absRoot, stateSQLiteRelPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &StateStore{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *StateStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *StateStore) Path() string { return s.path }

func (s *StateStore) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA foreign_keys=ON;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS stackctl_runs (
  run_id TEXT PRIMARY KEY,
  root TEXT NOT NULL,
  status TEXT NOT NULL,
  planned INTEGER NOT NULL,
  succeeded INTEGER NOT NULL,
  failed INTEGER NOT NULL,
  skipped INTEGER NOT NULL,
  created_at_ns INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS stackctl_run_stacks (
  run_id TEXT NOT NULL,
  stack TEXT NOT NULL,
  position INTEGER NOT NULL,
  status TEXT NOT NULL,
  error TEXT NOT NULL,
  PRIMARY KEY (run_id, stack),
  FOREIGN KEY (run_id) REFERENCES stackctl_runs(run_id) ON DELETE CASCADE
);`,
		`CREATE INDEX IF NOT EXISTS idx_stackctl_run_stacks_run_id ON stackctl_run_stacks(run_id, position);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// NewRunID returns a sortable timestamp-based run identifier. Sub-second
// precision avoids collisions when runs start back to back.
func NewRunID() string {
	return time.Now().UTC().Format("2006-01-02T15-04-05.000000000Z")
}

// CreateRun records a new run with every planned stack in execution order.
func (s *StateStore) CreateRun(ctx context.Context, runID, root string, stacks []string) error {
	now := time.Now().UTC().UnixNano()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO stackctl_runs (run_id, root, status, planned, succeeded, failed, skipped, created_at_ns, updated_at_ns)
VALUES (?, ?, ?, ?, 0, 0, 0, ?, ?)
`, runID, root, "running", len(stacks), now, now)
	if err != nil {
		return err
	}
	for idx, stack := range stacks {
		_, err := tx.ExecContext(ctx, `
INSERT INTO stackctl_run_stacks (run_id, stack, position, status, error)
VALUES (?, ?, ?, ?, ?)
`, runID, stack, idx, "planned", "")
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateStack records a stack's terminal status within a run.
func (s *StateStore) UpdateStack(ctx context.Context, runID, stack string, status StackStatus, runErr error) error {
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE stackctl_run_stacks SET status = ?, error = ? WHERE run_id = ? AND stack = ?
`, string(status), errText, runID, stack)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE stackctl_runs SET updated_at_ns = ? WHERE run_id = ?`,
		time.Now().UTC().UnixNano(), runID)
	return err
}

// FinalizeRun stamps the run's terminal status and totals from a result.
func (s *StateStore) FinalizeRun(ctx context.Context, runID string, res *Result) error {
	status := "succeeded"
	if !res.Success() {
		status = "failed"
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE stackctl_runs
SET status = ?, succeeded = ?, failed = ?, skipped = ?, updated_at_ns = ?
WHERE run_id = ?
`, status, len(res.Succeeded), len(res.Failed), len(res.Skipped), time.Now().UTC().UnixNano(), runID)
	return err
}

// RunStackRecord is one stack's outcome within a recorded run.
type RunStackRecord struct {
	Stack  string
	Status string
	Error  string
}

// RunRecord is one recorded run with its stacks in execution order.
type RunRecord struct {
	RunID     string
	Root      string
	Status    string
	Planned   int
	Succeeded int
	Failed    int
	Skipped   int
	CreatedAt time.Time
	UpdatedAt time.Time
	Stacks    []RunStackRecord
}

func (s *StateStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	rec := &RunRecord{RunID: runID}
	var createdNS, updatedNS int64
	err := s.db.QueryRowContext(ctx, `
SELECT root, status, planned, succeeded, failed, skipped, created_at_ns, updated_at_ns
FROM stackctl_runs WHERE run_id = ?
`, runID).Scan(&rec.Root, &rec.Status, &rec.Planned, &rec.Succeeded, &rec.Failed, &rec.Skipped, &createdNS, &updatedNS)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, createdNS).UTC()
	rec.UpdatedAt = time.Unix(0, updatedNS).UTC()

	rows, err := s.db.QueryContext(ctx, `
SELECT stack, status, error FROM stackctl_run_stacks WHERE run_id = ? ORDER BY position
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var sr RunStackRecord
		if err := rows.Scan(&sr.Stack, &sr.Status, &sr.Error); err != nil {
			return nil, err
		}
		rec.Stacks = append(rec.Stacks, sr)
	}
	return rec, rows.Err()
}

func (s *StateStore) MostRecentRunID(ctx context.Context) (string, error) {
	var runID string
	err := s.db.QueryRowContext(ctx, `SELECT run_id FROM stackctl_runs ORDER BY created_at_ns DESC LIMIT 1`).Scan(&runID)
	return runID, err
}

func (s *StateStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, root, status, planned, succeeded, failed, skipped, created_at_ns, updated_at_ns
FROM stackctl_runs ORDER BY created_at_ns DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var createdNS, updatedNS int64
		if err := rows.Scan(&rec.RunID, &rec.Root, &rec.Status, &rec.Planned, &rec.Succeeded, &rec.Failed, &rec.Skipped, &createdNS, &updatedNS); err != nil {
			return nil, err
		}
		rec.CreatedAt = time.Unix(0, createdNS).UTC()
		rec.UpdatedAt = time.Unix(0, updatedNS).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// StoreObserver adapts a StateStore into a scheduler Observer for one run.
type StoreObserver struct {
	Store *StateStore
	RunID string
	Warn  func(error)
}

func (o *StoreObserver) ObserveStack(name string, status StackStatus, err error) {
	if o == nil || o.Store == nil {
		return
	}
	if uerr := o.Store.UpdateStack(context.Background(), o.RunID, name, status, err); uerr != nil && o.Warn != nil {
		o.Warn(uerr)
	}
}
