package store

import "fmt"

// migrate creates all tables if they don't exist. DDL is idempotent; every
// statement uses IF NOT EXISTS so reopening an existing registry is a no-op.
func (s *SQLiteStore) migrate() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id        TEXT PRIMARY KEY,
			created_at    TEXT NOT NULL,
			status        TEXT NOT NULL,
			schema_source TEXT NOT NULL DEFAULT '',
			llm_provider  TEXT NOT NULL DEFAULT '',
			llm_model     TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS run_fields (
			run_id          TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			field           TEXT NOT NULL,
			heuristic_count INTEGER NOT NULL DEFAULT 0,
			llm_used        INTEGER NOT NULL DEFAULT 0,
			accepted_count  INTEGER NOT NULL DEFAULT 0,
			rejected_count  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, field)
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			name   TEXT NOT NULL,
			digest TEXT NOT NULL,
			PRIMARY KEY (run_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
	}

	for _, stmt := range ddl {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration DDL: %w", err)
		}
	}
	return nil
}
