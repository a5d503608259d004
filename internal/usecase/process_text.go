// Package usecase implements the ingress operations over the repository
// and queue ports.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/texthub/text-processing/internal/adapter/observability"
	"github.com/texthub/text-processing/internal/domain"
)

// ProcessTextService accepts text submissions: publish first, then
// persist the pending row, so a task row never exists without a message
// behind it.
type ProcessTextService struct {
	repo   domain.TaskRepository
	queue  domain.Queue
	logger *slog.Logger
}

// NewProcessTextService builds the submission service.
func NewProcessTextService(repo domain.TaskRepository, queue domain.Queue, logger *slog.Logger) ProcessTextService {
	return ProcessTextService{repo: repo, queue: queue, logger: logger}
}

// Submit enqueues the text under id. The returned flag reports whether a
// new task was created; false means the id was already known and nothing
// was published.
func (s ProcessTextService) Submit(ctx context.Context, id domain.TaskID, text string, typ domain.TextType) (created bool, err error) {
	logger := s.logger.With(slog.String("task_id", id.Hex()))

	exists, err := s.repo.Exists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("op=usecase.submit: %w", err)
	}
	if exists {
		logger.Warn("task already exists")
		return false, nil
	}

	dto := domain.TaskDTO{OriginalText: text, Type: typ}
	if _, err := s.queue.Send(ctx, dto, &id); err != nil {
		return false, fmt.Errorf("op=usecase.submit: %w", err)
	}
	observability.EnqueueTask(string(typ))

	if err := s.repo.Create(ctx, id, typ, domain.StatusPending); err != nil {
		// The message is already on the broker; a duplicate row only
		// means someone raced us, which the worker upsert absorbs.
		if errors.Is(err, domain.ErrAlreadyExists) {
			logger.Warn("task already exists")
			return false, nil
		}
		return false, fmt.Errorf("op=usecase.submit: %w", err)
	}
	logger.Info("task accepted", slog.String("type", string(typ)))
	return true, nil
}

// ResultService serves task rows for polling clients.
type ResultService struct {
	repo   domain.TaskRepository
	logger *slog.Logger
}

// NewResultService builds the polling service.
func NewResultService(repo domain.TaskRepository, logger *slog.Logger) ResultService {
	return ResultService{repo: repo, logger: logger}
}

// Get returns the task row; domain.ErrNotFound when the id is unknown.
func (s ResultService) Get(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	task, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Task{}, fmt.Errorf("op=usecase.result: %w", err)
	}
	return task, nil
}
