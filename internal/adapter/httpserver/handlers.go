package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/texthub/text-processing/internal/config"
	"github.com/texthub/text-processing/internal/domain"
	"github.com/texthub/text-processing/internal/usecase"
)

// Text length bounds per submission type. The article upper bound comes
// from configuration.
const (
	chatItemMaxLen = 300
	summaryMaxLen  = 3000
	articleMinLen  = 300_000
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.WebAPI
	Process    usecase.ProcessTextService
	Results    usecase.ResultService
	DBCheck    func(ctx context.Context) error
	QueueCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.WebAPI, process usecase.ProcessTextService, results usecase.ResultService, dbCheck, queueCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Process: process, Results: results, DBCheck: dbCheck, QueueCheck: queueCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type processTextRequest struct {
	// TaskID lets clients supply their own id for idempotent retries.
	TaskID *domain.TaskID `json:"task_id"`
	Type   string         `json:"type" validate:"required"`
	Text   string         `json:"text" validate:"required"`
}

type processTextResponse struct {
	TaskID domain.TaskID `json:"task_id"`
}

type taskResponse struct {
	TaskID        domain.TaskID     `json:"task_id"`
	OriginalText  *string           `json:"original_text"`
	ProcessedText *string           `json:"processed_text"`
	WordCount     *int              `json:"word_count"`
	Language      *string           `json:"language"`
	Type          *domain.TextType  `json:"type"`
	Status        domain.TaskStatus `json:"status"`
	Cause         *string           `json:"cause"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// validateTextLength enforces the per-type character bounds.
func (s *Server) validateTextLength(typ domain.TextType, text string) error {
	n := utf8.RuneCountInString(text)
	switch typ {
	case domain.TextChatItem:
		if n > chatItemMaxLen {
			return fmt.Errorf("%w: for %q, the text must be at most %d characters long", domain.ErrInvalidArgument, typ, chatItemMaxLen)
		}
	case domain.TextSummary:
		if n > summaryMaxLen {
			return fmt.Errorf("%w: for %q, the text must be at most %d characters long", domain.ErrInvalidArgument, typ, summaryMaxLen)
		}
	case domain.TextArticle:
		if n < articleMinLen || n > s.Cfg.ArticleMaxLength {
			return fmt.Errorf("%w: for %q, the text length must be at least %d characters but not exceed %d", domain.ErrInvalidArgument, typ, articleMinLen, s.Cfg.ArticleMaxLength)
		}
	}
	return nil
}

// ProcessTextHandler accepts a text submission and enqueues it: 201 on
// creation, 200 when the id was already known.
func (s *Server) ProcessTextHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req processTextRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if !errors.Is(err, domain.ErrInvalidArgument) {
				err = fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidArgument, err)
			}
			writeError(w, r, err, nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		typ, err := domain.ParseTextType(req.Type)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			writeError(w, r, fmt.Errorf("%w: the text must contain at least one non-whitespace character", domain.ErrInvalidArgument), nil)
			return
		}
		if err := s.validateTextLength(typ, req.Text); err != nil {
			writeError(w, r, err, nil)
			return
		}

		id := domain.NewTaskID()
		if req.TaskID != nil {
			id = *req.TaskID
		}
		created, err := s.Process.Submit(r.Context(), id, req.Text, typ)
		if err != nil {
			LoggerFrom(r).Error("submit failed", "task_id", id.Hex(), "error", err)
			writeError(w, r, err, nil)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, processTextResponse{TaskID: id})
	}
}

// ResultHandler serves the full task row for polling clients.
func (s *Server) ResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := domain.ParseTaskID(chi.URLParam(r, "task_id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		task, err := s.Results.Get(r.Context(), id)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				LoggerFrom(r).Error("result fetch failed", "task_id", id.Hex(), "error", err)
			}
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, taskResponse{
			TaskID:        task.ID,
			OriginalText:  task.OriginalText,
			ProcessedText: task.ProcessedText,
			WordCount:     task.WordCount,
			Language:      task.Language,
			Type:          task.Type,
			Status:        task.Status,
			Cause:         task.Cause,
			CreatedAt:     task.CreatedAt,
			UpdatedAt:     task.UpdatedAt,
		})
	}
}

// ReadyzHandler probes the task store and the broker connection.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 2)
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "db", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "db", OK: true})
			}
		}
		if s.QueueCheck != nil {
			if err := s.QueueCheck(ctx); err != nil {
				checks = append(checks, check{Name: "queue", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "queue", OK: true})
			}
		}
		st := http.StatusOK
		for _, c := range checks {
			if !c.OK {
				st = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
