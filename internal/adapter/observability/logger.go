package observability

import (
	"context"
	"log/slog"
	"os"
	"unicode/utf8"

	"github.com/texthub/text-processing/internal/config"
)

// truncatingHandler caps record messages at maxLen runes, appending "…" so
// oversized payload dumps cannot flood the log pipeline.
type truncatingHandler struct {
	inner  slog.Handler
	maxLen int
}

func (h truncatingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h truncatingHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.maxLen > 0 && utf8.RuneCountInString(r.Message) > h.maxLen {
		runes := []rune(r.Message)
		nr := slog.NewRecord(r.Time, r.Level, string(runes[:h.maxLen])+"…", r.PC)
		r.Attrs(func(a slog.Attr) bool {
			nr.AddAttrs(a)
			return true
		})
		r = nr
	}
	return h.inner.Handle(ctx, r)
}

func (h truncatingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return truncatingHandler{inner: h.inner.WithAttrs(attrs), maxLen: h.maxLen}
}

func (h truncatingHandler) WithGroup(name string) slog.Handler {
	return truncatingHandler{inner: h.inner.WithGroup(name), maxLen: h.maxLen}
}

// SetupLogger configures a length-capped slog logger with service fields.
// LOG_FMT selects the handler: "text" for logfmt-style output, JSON otherwise.
func SetupLogger(appName string, cfg config.Shared) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	if cfg.LogFmt == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	h = truncatingHandler{inner: h, maxLen: cfg.LogRecordMaxLen}
	return slog.New(h).With(slog.String("service", appName))
}
