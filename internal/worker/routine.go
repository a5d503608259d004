// Package worker implements the routine the consumer pool runs for each
// task message: parse the payload, compute text analytics, upsert the
// result row.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/texthub/text-processing/internal/domain"
	"github.com/texthub/text-processing/pkg/textproc"
)

// Causes recorded on rows that end in failed_final.
const (
	causeInvalidJSON = "Invalid JSON"
	causeInvalidDTO  = "Invalid task DTO"
	causeLangDetect  = "lang detect error"
)

// Routine holds the dependencies of the per-message task function.
type Routine struct {
	repo   domain.TaskRepository
	logger *slog.Logger
}

// New builds a routine writing results through repo.
func New(repo domain.TaskRepository, logger *slog.Logger) *Routine {
	return &Routine{repo: repo, logger: logger}
}

// Handle processes one delivery. Errors wrapping domain.ErrDeterministic
// tell the consumer to discard the message; any other error requeues it.
func (r *Routine) Handle(ctx context.Context, taskID string, body []byte) error {
	id, err := domain.ParseTaskID(taskID)
	if err != nil {
		// Without a valid key there is no row to record the failure on.
		return fmt.Errorf("op=worker.handle: %w: task_id must be a UUID string: %v", domain.ErrDeterministic, err)
	}
	logger := r.logger.With(slog.String("task_id", id.Hex()))
	logger.Debug("task received")

	dto, cause, err := decodeDTO(body)
	if err != nil {
		if upErr := r.repo.Upsert(ctx, id, domain.PatchStatus(domain.StatusFailedFinal, cause)); upErr != nil {
			return fmt.Errorf("op=worker.handle: record %q failure: %w", cause, upErr)
		}
		logger.Error("task failed permanently", slog.String("cause", cause), slog.Any("error", err))
		return fmt.Errorf("op=worker.handle: %s: %w: %v", cause, domain.ErrDeterministic, err)
	}

	wordCount := textproc.CountWords(dto.OriginalText)
	language, err := textproc.DetectLanguage(dto.OriginalText)
	switch {
	case errors.Is(err, textproc.ErrLangDetect):
		patch := domain.PatchStatus(domain.StatusFailedFinal, causeLangDetect)
		patch.OriginalText = domain.Ptr(dto.OriginalText)
		patch.Type = domain.Ptr(dto.Type)
		if upErr := r.repo.Upsert(ctx, id, patch); upErr != nil {
			return fmt.Errorf("op=worker.handle: record %q failure: %w", causeLangDetect, upErr)
		}
		logger.Error("task failed permanently", slog.String("cause", causeLangDetect), slog.Any("error", err))
		return fmt.Errorf("op=worker.handle: %s: %w: %v", causeLangDetect, domain.ErrDeterministic, err)
	case err != nil:
		patch := domain.PatchStatus(domain.StatusFailed, err.Error())
		patch.OriginalText = domain.Ptr(dto.OriginalText)
		patch.Type = domain.Ptr(dto.Type)
		if upErr := r.repo.Upsert(ctx, id, patch); upErr != nil {
			return fmt.Errorf("op=worker.handle: record transient failure: %w", upErr)
		}
		logger.Error("task failed, will be retried", slog.Any("error", err))
		return fmt.Errorf("op=worker.handle: %w", err)
	}
	processed := textproc.CleanText(dto.OriginalText)

	patch := domain.TaskPatch{
		OriginalText:  domain.Ptr(dto.OriginalText),
		ProcessedText: domain.Ptr(processed),
		WordCount:     domain.Ptr(wordCount),
		Language:      domain.Ptr(language),
		Type:          domain.Ptr(dto.Type),
		Status:        domain.Ptr(domain.StatusCompleted),
	}
	if err := r.repo.Upsert(ctx, id, patch); err != nil {
		return fmt.Errorf("op=worker.handle: record completion: %w", err)
	}
	logger.Info("task completed",
		slog.Int("word_count", wordCount),
		slog.String("language", language))
	return nil
}

// decodeDTO splits payload failures the way the causes require: bodies
// that are not JSON at all report "Invalid JSON", bodies that are JSON
// but violate the DTO schema report "Invalid task DTO".
func decodeDTO(body []byte) (domain.TaskDTO, string, error) {
	if !json.Valid(body) {
		return domain.TaskDTO{}, causeInvalidJSON, errors.New("body is not valid JSON")
	}
	var raw struct {
		OriginalText string `json:"original_text"`
		Type         string `json:"type"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.TaskDTO{}, causeInvalidDTO, err
	}
	typ, err := domain.ParseTextType(raw.Type)
	if err != nil {
		return domain.TaskDTO{}, causeInvalidDTO, err
	}
	dto := domain.TaskDTO{OriginalText: raw.OriginalText, Type: typ}
	if err := dto.Validate(); err != nil {
		return domain.TaskDTO{}, causeInvalidDTO, err
	}
	return dto, "", nil
}
