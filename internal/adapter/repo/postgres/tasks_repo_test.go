package postgres_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/texthub/text-processing/internal/adapter/repo/postgres"
	"github.com/texthub/text-processing/internal/domain"
)

func TestTaskRepo_Create_Success(t *testing.T) {
	t.Parallel()
	pool := &poolStub{}
	repo := postgres.NewTaskRepo(pool)
	id := domain.NewTaskID()

	err := repo.Create(context.Background(), id, domain.TextChatItem, domain.StatusPending)
	require.NoError(t, err)
	assert.Contains(t, pool.lastSQL, "INSERT INTO tasks")
	require.Len(t, pool.lastArgs, 5)
	assert.Equal(t, uuid.UUID(id), pool.lastArgs[0])
	assert.Equal(t, domain.TextChatItem, pool.lastArgs[1])
	assert.Equal(t, domain.StatusPending, pool.lastArgs[2])
	// updated_at defaults to created_at on insert
	assert.Equal(t, pool.lastArgs[3], pool.lastArgs[4])
}

func TestTaskRepo_Create_DuplicateKey(t *testing.T) {
	t.Parallel()
	pool := &poolStub{execErr: &pgconn.PgError{Code: "23505"}}
	repo := postgres.NewTaskRepo(pool)

	err := repo.Create(context.Background(), domain.NewTaskID(), domain.TextSummary, domain.StatusPending)
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestTaskRepo_Create_OtherErrorNotRemapped(t *testing.T) {
	t.Parallel()
	boom := errors.New("connection reset")
	pool := &poolStub{execErr: boom}
	repo := postgres.NewTaskRepo(pool)

	err := repo.Create(context.Background(), domain.NewTaskID(), domain.TextSummary, domain.StatusPending)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestTaskRepo_Upsert_PartialFields(t *testing.T) {
	t.Parallel()
	pool := &poolStub{}
	repo := postgres.NewTaskRepo(pool)
	id := domain.NewTaskID()

	patch := domain.PatchStatus(domain.StatusFailedFinal, "Invalid JSON")
	require.NoError(t, repo.Upsert(context.Background(), id, patch))

	assert.Contains(t, pool.lastSQL, "ON CONFLICT (task_id) DO UPDATE SET")
	assert.Contains(t, pool.lastSQL, "status=EXCLUDED.status")
	assert.Contains(t, pool.lastSQL, "cause=EXCLUDED.cause")
	assert.Contains(t, pool.lastSQL, "updated_at=EXCLUDED.updated_at")
	// unset columns stay untouched on update
	assert.NotContains(t, pool.lastSQL, "original_text=EXCLUDED")
	assert.NotContains(t, pool.lastSQL, "word_count=EXCLUDED")
	assert.NotContains(t, pool.lastSQL, "language=EXCLUDED")
}

func TestTaskRepo_Upsert_AllFields(t *testing.T) {
	t.Parallel()
	pool := &poolStub{}
	repo := postgres.NewTaskRepo(pool)
	id := domain.NewTaskID()

	patch := domain.TaskPatch{
		OriginalText:  domain.Ptr("Hello world"),
		ProcessedText: domain.Ptr("Hello world"),
		WordCount:     domain.Ptr(2),
		Language:      domain.Ptr("en"),
		Type:          domain.Ptr(domain.TextChatItem),
		Status:        domain.Ptr(domain.StatusCompleted),
	}
	require.NoError(t, repo.Upsert(context.Background(), id, patch))

	for _, col := range []string{"original_text", "processed_text", "word_count", "language", "type", "status"} {
		assert.Contains(t, pool.lastSQL, col+"=EXCLUDED."+col)
	}
	// placeholders line up with the column list
	assert.Equal(t, strings.Count(pool.lastSQL, "$"), len(pool.lastArgs))
}

func TestTaskRepo_Exists(t *testing.T) {
	t.Parallel()
	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*bool)) = true
		return nil
	}}}
	repo := postgres.NewTaskRepo(pool)

	found, err := repo.Exists(context.Background(), domain.NewTaskID())
	require.NoError(t, err)
	assert.True(t, found)
}

func TestTaskRepo_Get_NotFound(t *testing.T) {
	t.Parallel()
	pool := &poolStub{row: rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}}
	repo := postgres.NewTaskRepo(pool)

	_, err := repo.Get(context.Background(), domain.NewTaskID())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTaskRepo_Get_FullRow(t *testing.T) {
	t.Parallel()
	id := domain.NewTaskID()
	created := time.Now().UTC().Add(-time.Minute)
	updated := time.Now().UTC()
	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*uuid.UUID)) = uuid.UUID(id)
		*(dest[1].(**string)) = domain.Ptr("Hello world")
		*(dest[2].(**string)) = domain.Ptr("Hello world")
		*(dest[3].(**int)) = domain.Ptr(2)
		*(dest[4].(**string)) = domain.Ptr("en")
		*(dest[5].(**string)) = domain.Ptr("chat_item")
		*(dest[6].(*string)) = "completed"
		*(dest[7].(**string)) = nil
		*(dest[8].(*time.Time)) = created
		*(dest[9].(*time.Time)) = updated
		return nil
	}}}
	repo := postgres.NewTaskRepo(pool)

	task, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, task.ID)
	assert.Equal(t, domain.StatusCompleted, task.Status)
	require.NotNil(t, task.Type)
	assert.Equal(t, domain.TextChatItem, *task.Type)
	require.NotNil(t, task.WordCount)
	assert.Equal(t, 2, *task.WordCount)
	assert.Nil(t, task.Cause)
	assert.True(t, !task.UpdatedAt.Before(task.CreatedAt))
}
