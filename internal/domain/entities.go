// Package domain holds the task entity, its closed enumerations, and the
// ports implemented by the adapters.
package domain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrPublish         = errors.New("publish failed")
	// ErrDeterministic marks a failure that is guaranteed to recur on
	// reprocessing. The consumer rejects such deliveries without requeue.
	ErrDeterministic = errors.New("deterministic failure")
	ErrInternal      = errors.New("internal error")
)

// TaskID is a UUIDv4 task identifier. It serializes to JSON as 32-char
// lowercase hex and accepts both hex and canonical 8-4-4-4-12 forms.
type TaskID uuid.UUID

// NewTaskID mints a fresh random task id.
func NewTaskID() TaskID { return TaskID(uuid.New()) }

// ParseTaskID accepts canonical or 32-char hex UUID text.
func ParseTaskID(s string) (TaskID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TaskID{}, fmt.Errorf("%w: task_id must be a UUID: %v", ErrInvalidArgument, err)
	}
	return TaskID(u), nil
}

// Hex returns the 32-char lowercase hex form used on the wire.
func (id TaskID) Hex() string {
	u := uuid.UUID(id)
	return hex.EncodeToString(u[:])
}

// String returns the canonical 8-4-4-4-12 form used for storage and logs.
func (id TaskID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether the id is the zero UUID.
func (id TaskID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

// MarshalJSON emits the hex form.
func (id TaskID) MarshalJSON() ([]byte, error) { return json.Marshal(id.Hex()) }

// UnmarshalJSON accepts hex or canonical UUID text.
func (id *TaskID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTaskID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// TaskStatus is the closed set of task lifecycle states.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	// StatusFailedFinal is terminal: reprocessing would yield the same result.
	StatusFailedFinal TaskStatus = "failed_final"
)

// ParseTaskStatus rejects values outside the closed set.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case StatusPending, StatusCompleted, StatusFailed, StatusFailedFinal:
		return TaskStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown task status %q", ErrInvalidArgument, s)
}

// UnmarshalJSON rejects unknown status values.
func (st *TaskStatus) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTaskStatus(s)
	if err != nil {
		return err
	}
	*st = parsed
	return nil
}

// TextType is the closed set of submission kinds.
type TextType string

const (
	TextChatItem TextType = "chat_item"
	TextSummary  TextType = "summary"
	TextArticle  TextType = "article"
)

// ParseTextType rejects values outside the closed set.
func ParseTextType(s string) (TextType, error) {
	switch TextType(s) {
	case TextChatItem, TextSummary, TextArticle:
		return TextType(s), nil
	}
	return "", fmt.Errorf("%w: unknown text type %q", ErrInvalidArgument, s)
}

// UnmarshalJSON rejects unknown type values.
func (t *TextType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTextType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Task is the durable unit of work tracked in the store.
// Invariants: completed rows carry all analysis fields; failed_final is
// terminal; updated_at >= created_at.
type Task struct {
	ID            TaskID
	OriginalText  *string
	ProcessedText *string
	WordCount     *int
	Language      *string
	Type          *TextType
	Status        TaskStatus
	Cause         *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TaskPatch is the partial-update record applied by Upsert. A nil field
// leaves the column untouched on conflict; a set field overwrites it.
type TaskPatch struct {
	OriginalText  *string
	ProcessedText *string
	WordCount     *int
	Language      *string
	Type          *TextType
	Status        *TaskStatus
	Cause         *string
}

// TaskDTO is the message payload carried on the broker.
type TaskDTO struct {
	OriginalText string   `json:"original_text"`
	Type         TextType `json:"type"`
}

// Validate enforces the DTO schema: non-blank text and a known type.
func (d TaskDTO) Validate() error {
	if strings.TrimSpace(d.OriginalText) == "" {
		return fmt.Errorf("%w: original_text must contain at least one non-whitespace character", ErrInvalidArgument)
	}
	if _, err := ParseTextType(string(d.Type)); err != nil {
		return err
	}
	return nil
}

// TaskRepository is the Task Store port.
type TaskRepository interface {
	// Create inserts a new row; ErrAlreadyExists when the id is taken.
	Create(ctx context.Context, id TaskID, typ TextType, status TaskStatus) error
	// Upsert inserts or merges the supplied fields and stamps updated_at.
	Upsert(ctx context.Context, id TaskID, patch TaskPatch) error
	Exists(ctx context.Context, id TaskID) (bool, error)
	Get(ctx context.Context, id TaskID) (Task, error)
}

// Queue is the Producer port. A nil taskID mints a fresh UUIDv4.
// Send returns only after the broker has durably accepted the message.
type Queue interface {
	Send(ctx context.Context, data any, taskID *TaskID) (TaskID, error)
}

// Ptr lifts a value into an optional patch field.
func Ptr[T any](v T) *T { return &v }

// PatchStatus returns a patch that only moves the status and cause.
func PatchStatus(status TaskStatus, cause string) TaskPatch {
	return TaskPatch{Status: Ptr(status), Cause: Ptr(cause)}
}
