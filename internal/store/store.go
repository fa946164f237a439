// Package store provides the SQLite-backed run registry.
//
// The filesystem under runs/ stays the source of truth for artifacts; the
// registry is an index over it: which runs exist, their status, per-field
// extraction stats, and canonical digests of the artifacts each run
// produced. Deleting the database loses nothing that cannot be rebuilt from
// the run directories.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default registry location, relative to the runs root.
const DefaultDBPath = "runs/registry.db"

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one pipeline execution.
type Run struct {
	RunID        string
	CreatedAt    time.Time
	Status       string
	SchemaSource string
	LLMProvider  string
	LLMModel     string
}

// FieldStats mirrors the per-field stats block of candidates.json.
type FieldStats struct {
	RunID          string
	Field          string
	HeuristicCount int
	LLMUsed        bool
	AcceptedCount  int
	RejectedCount  int
}

// ArtifactRecord pins an artifact's canonical digest at write time.
type ArtifactRecord struct {
	RunID  string
	Name   string
	Digest string
}

// ListOpts controls pagination for ListRuns.
type ListOpts struct {
	Limit  int
	Offset int
}

// Store defines the registry interface.
type Store interface {
	CreateRun(ctx context.Context, r *Run) error
	SetRunStatus(ctx context.Context, runID, status string) error
	SetRunSchemaSource(ctx context.Context, runID, source string) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	PutFieldStats(ctx context.Context, stats []FieldStats) error
	GetFieldStats(ctx context.Context, runID string) ([]FieldStats, error)

	PutArtifact(ctx context.Context, rec *ArtifactRecord) error
	ListArtifacts(ctx context.Context, runID string) ([]ArtifactRecord, error)

	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (creating if needed) the registry at dbPath.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(dbPath string) (Store, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run in running state.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *Run) error {
	if r.Status == "" {
		r.Status = StatusRunning
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, created_at, status, schema_source, llm_provider, llm_model)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, r.CreatedAt.Format(time.RFC3339), r.Status, r.SchemaSource, r.LLMProvider, r.LLMModel)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", r.RunID, err)
	}
	return nil
}

// SetRunStatus transitions a run's status.
func (s *SQLiteStore) SetRunStatus(ctx context.Context, runID, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE run_id = ?`, status, runID)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// SetRunSchemaSource records which precedence level produced the run's
// resolved schema.
func (s *SQLiteStore) SetRunSchemaSource(ctx context.Context, runID, source string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET schema_source = ? WHERE run_id = ?`, source, runID)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// GetRun fetches one run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, created_at, status, schema_source, llm_provider, llm_model
		FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching run %s: %w", runID, err)
	}
	return r, nil
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, created_at, status, schema_source, llm_provider, llm_model
		FROM runs ORDER BY created_at DESC, run_id DESC LIMIT ? OFFSET ?`,
		limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var created string
	if err := row.Scan(&r.RunID, &created, &r.Status, &r.SchemaSource, &r.LLMProvider, &r.LLMModel); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, created)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at %q: %w", created, err)
	}
	r.CreatedAt = t
	return &r, nil
}

// PutFieldStats upserts the per-field stats for a run in one transaction.
func (s *SQLiteStore) PutFieldStats(ctx context.Context, stats []FieldStats) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, fs := range stats {
		llmUsed := 0
		if fs.LLMUsed {
			llmUsed = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_fields (run_id, field, heuristic_count, llm_used, accepted_count, rejected_count)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, field) DO UPDATE SET
				heuristic_count = excluded.heuristic_count,
				llm_used = excluded.llm_used,
				accepted_count = excluded.accepted_count,
				rejected_count = excluded.rejected_count`,
			fs.RunID, fs.Field, fs.HeuristicCount, llmUsed, fs.AcceptedCount, fs.RejectedCount); err != nil {
			return fmt.Errorf("upserting stats for %s/%s: %w", fs.RunID, fs.Field, err)
		}
	}
	return tx.Commit()
}

// GetFieldStats returns a run's field stats ordered by field.
func (s *SQLiteStore) GetFieldStats(ctx context.Context, runID string) ([]FieldStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, field, heuristic_count, llm_used, accepted_count, rejected_count
		FROM run_fields WHERE run_id = ? ORDER BY field`, runID)
	if err != nil {
		return nil, fmt.Errorf("fetching stats for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []FieldStats
	for rows.Next() {
		var fs FieldStats
		var llmUsed int
		if err := rows.Scan(&fs.RunID, &fs.Field, &fs.HeuristicCount, &llmUsed, &fs.AcceptedCount, &fs.RejectedCount); err != nil {
			return nil, fmt.Errorf("scanning stats: %w", err)
		}
		fs.LLMUsed = llmUsed != 0
		out = append(out, fs)
	}
	return out, rows.Err()
}

// PutArtifact upserts an artifact digest.
func (s *SQLiteStore) PutArtifact(ctx context.Context, rec *ArtifactRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (run_id, name, digest)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, name) DO UPDATE SET digest = excluded.digest`,
		rec.RunID, rec.Name, rec.Digest)
	if err != nil {
		return fmt.Errorf("upserting artifact %s/%s: %w", rec.RunID, rec.Name, err)
	}
	return nil
}

// ListArtifacts returns a run's artifacts ordered by name.
func (s *SQLiteStore) ListArtifacts(ctx context.Context, runID string) ([]ArtifactRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, name, digest FROM artifacts WHERE run_id = ? ORDER BY name`, runID)
	if err != nil {
		return nil, fmt.Errorf("fetching artifacts for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []ArtifactRecord
	for rows.Next() {
		var rec ArtifactRecord
		if err := rows.Scan(&rec.RunID, &rec.Name, &rec.Digest); err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
