package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/texthub/text-processing/internal/adapter/httpserver"
	"github.com/texthub/text-processing/internal/config"
	"github.com/texthub/text-processing/internal/domain"
	"github.com/texthub/text-processing/internal/usecase"
)

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, ParseOrigins(""))
	assert.Equal(t, []string{"*"}, ParseOrigins("*"))
	assert.Equal(t, []string{"https://a.example"}, ParseOrigins("https://a.example"))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, ParseOrigins(" https://a.example , https://b.example "))
	assert.Equal(t, []string{"*"}, ParseOrigins(" , "))
}

type nilRepo struct{}

func (nilRepo) Create(context.Context, domain.TaskID, domain.TextType, domain.TaskStatus) error {
	return nil
}
func (nilRepo) Upsert(context.Context, domain.TaskID, domain.TaskPatch) error { return nil }
func (nilRepo) Exists(context.Context, domain.TaskID) (bool, error)           { return false, nil }
func (nilRepo) Get(context.Context, domain.TaskID) (domain.Task, error) {
	return domain.Task{}, domain.ErrNotFound
}

type nilQueue struct{}

func (nilQueue) Send(_ context.Context, _ any, taskID *domain.TaskID) (domain.TaskID, error) {
	if taskID != nil {
		return *taskID, nil
	}
	return domain.NewTaskID(), nil
}

func testRouter(cfg config.WebAPI) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httpserver.NewServer(cfg,
		usecase.NewProcessTextService(nilRepo{}, nilQueue{}, logger),
		usecase.NewResultService(nilRepo{}, logger),
		nil, nil)
	return BuildRouter(cfg, srv)
}

func TestRouterHealthzIsOpen(t *testing.T) {
	h := testRouter(config.WebAPI{Username: "u", Password: "p", RateLimitPerMin: 100})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRouterMetricsIsOpen(t *testing.T) {
	h := testRouter(config.WebAPI{Username: "u", Password: "p", RateLimitPerMin: 100})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterTaskEndpointsRequireAuth(t *testing.T) {
	h := testRouter(config.WebAPI{Username: "u", Password: "p", RateLimitPerMin: 100})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process-text", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/results/"+domain.NewTaskID().Hex(), nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterAuthDisabled(t *testing.T) {
	h := testRouter(config.WebAPI{DisableAuth: true, RateLimitPerMin: 100, ArticleMaxLength: 1_000_000})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/results/"+domain.NewTaskID().Hex(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
