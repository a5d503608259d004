// Package postgres implements the task store on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/texthub/text-processing/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for duplicate primary keys.
const uniqueViolation = "23505"

// PgxPool is a minimal subset of pgxpool used by the repo for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TaskRepo persists and loads task rows using a minimal pgx pool.
type TaskRepo struct{ Pool PgxPool }

// NewTaskRepo constructs a TaskRepo with the given pool.
func NewTaskRepo(p PgxPool) *TaskRepo { return &TaskRepo{Pool: p} }

// Create inserts a new task row. A duplicate primary key maps to
// domain.ErrAlreadyExists; every other error propagates unchanged.
func (r *TaskRepo) Create(ctx context.Context, id domain.TaskID, typ domain.TextType, status domain.TaskStatus) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Create")
	defer span.End()
	now := time.Now().UTC()
	q := `INSERT INTO tasks (task_id, type, status, created_at, updated_at) VALUES ($1,$2,$3,$4,$5)`
	_, err := r.Pool.Exec(ctx, q, uuid.UUID(id), typ, status, now, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("op=task.create: %w", domain.ErrAlreadyExists)
		}
		return fmt.Errorf("op=task.create: %w", err)
	}
	return nil
}

// Upsert inserts the row or merges the supplied fields into the existing one.
// Only fields set in the patch are written; updated_at is always stamped.
func (r *TaskRepo) Upsert(ctx context.Context, id domain.TaskID, patch domain.TaskPatch) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Upsert")
	defer span.End()

	now := time.Now().UTC()
	cols := []string{"task_id", "created_at", "updated_at"}
	args := []any{uuid.UUID(id), now, now}
	sets := []string{"updated_at=EXCLUDED.updated_at"}

	add := func(col string, v any) {
		cols = append(cols, col)
		args = append(args, v)
		sets = append(sets, col+"=EXCLUDED."+col)
	}
	if patch.OriginalText != nil {
		add("original_text", *patch.OriginalText)
	}
	if patch.ProcessedText != nil {
		add("processed_text", *patch.ProcessedText)
	}
	if patch.WordCount != nil {
		add("word_count", *patch.WordCount)
	}
	if patch.Language != nil {
		add("language", *patch.Language)
	}
	if patch.Type != nil {
		add("type", *patch.Type)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Cause != nil {
		add("cause", *patch.Cause)
	}

	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	q := fmt.Sprintf(
		`INSERT INTO tasks (%s) VALUES (%s) ON CONFLICT (task_id) DO UPDATE SET %s`,
		strings.Join(cols, ", "), strings.Join(ph, ","), strings.Join(sets, ", "),
	)
	if _, err := r.Pool.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("op=task.upsert: %w", err)
	}
	return nil
}

// Exists reports whether a row with the given primary key is present.
func (r *TaskRepo) Exists(ctx context.Context, id domain.TaskID) (bool, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Exists")
	defer span.End()
	q := `SELECT EXISTS (SELECT 1 FROM tasks WHERE task_id=$1)`
	var found bool
	if err := r.Pool.QueryRow(ctx, q, uuid.UUID(id)).Scan(&found); err != nil {
		return false, fmt.Errorf("op=task.exists: %w", err)
	}
	return found, nil
}

// Get loads a full task row by id.
func (r *TaskRepo) Get(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Get")
	defer span.End()
	q := `SELECT task_id, original_text, processed_text, word_count, language, type, status, cause, created_at, updated_at
	FROM tasks WHERE task_id=$1`
	row := r.Pool.QueryRow(ctx, q, uuid.UUID(id))

	var (
		t      domain.Task
		rawID  uuid.UUID
		typ    *string
		status string
	)
	err := row.Scan(&rawID, &t.OriginalText, &t.ProcessedText, &t.WordCount, &t.Language, &typ, &status, &t.Cause, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Task{}, fmt.Errorf("op=task.get: %w", domain.ErrNotFound)
		}
		return domain.Task{}, fmt.Errorf("op=task.get: %w", err)
	}
	t.ID = domain.TaskID(rawID)
	t.Status = domain.TaskStatus(status)
	if typ != nil {
		tt := domain.TextType(*typ)
		t.Type = &tt
	}
	return t, nil
}
