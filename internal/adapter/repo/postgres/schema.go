package postgres

import (
	"context"
	"fmt"
)

// EnsureSchema creates the tasks table and its timestamp indexes if they do
// not exist yet. Called once at startup by both services.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id        UUID PRIMARY KEY,
			original_text  TEXT,
			processed_text TEXT,
			word_count     INTEGER,
			language       VARCHAR(2),
			type           VARCHAR(16),
			status         VARCHAR(16) NOT NULL DEFAULT 'pending',
			cause          TEXT,
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_updated_at ON tasks (updated_at)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("op=schema.ensure: %w", err)
		}
	}
	return nil
}
