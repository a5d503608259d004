package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/texthub/text-processing/internal/config"
)

func jsonLogger(buf *bytes.Buffer, maxLen int) *slog.Logger {
	h := truncatingHandler{inner: slog.NewJSONHandler(buf, nil), maxLen: maxLen}
	return slog.New(h)
}

func TestTruncatingHandlerCapsLongMessages(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf, 10)

	logger.Info(strings.Repeat("x", 50), slog.String("task_id", "abc"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, strings.Repeat("x", 10)+"…", rec["msg"])
	assert.Equal(t, "abc", rec["task_id"], "attrs survive truncation")
}

func TestTruncatingHandlerLeavesShortMessages(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf, 100)

	logger.Info("short message")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "short message", rec["msg"])
}

func TestTruncatingHandlerCountsRunes(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf, 3)

	logger.Info("приветствие")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "при…", rec["msg"])
}

func TestSetupLoggerAddsServiceField(t *testing.T) {
	logger := SetupLogger("web_api", config.Shared{LogLevel: "info", LogRecordMaxLen: 1000})
	require.NotNil(t, logger)
	ctx := context.Background()
	assert.False(t, logger.Enabled(ctx, slog.LevelDebug))
	assert.True(t, logger.Enabled(ctx, slog.LevelInfo))
}
