package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"

	"basegraph.app/chorus/core/config"
)

// Setup installs the default logger:
//   - production with OTel: the otelslog bridge, which carries trace context natively
//   - production: JSON on stdout
//   - otherwise: text on stdout, debug level
func Setup(cfg config.Config) {
	slog.SetDefault(slog.New(newHandler(cfg, os.Stdout)))
}

func newHandler(cfg config.Config, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.IsDevelopment() || cfg.Debug {
		opts.Level = slog.LevelDebug
	}

	switch {
	case cfg.IsProduction() && cfg.OTel.Enabled():
		bridge := otelslog.NewHandler(cfg.OTel.ServiceName,
			otelslog.WithLoggerProvider(global.GetLoggerProvider()))
		return &ContextHandler{Handler: bridge}
	case cfg.IsProduction():
		return NewTraceHandler(slog.NewJSONHandler(w, opts))
	default:
		return NewTraceHandler(slog.NewTextHandler(w, opts))
	}
}

// ContextHandler adds the context's LogFields to each record. With traceIDs
// set it also adds the active span's trace and span ids.
type ContextHandler struct {
	slog.Handler
	traceIDs bool
}

func NewTraceHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h, traceIDs: true}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.traceIDs {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			r.AddAttrs(
				slog.String("trace_id", sc.TraceID().String()),
				slog.String("span_id", sc.SpanID().String()),
			)
		}
	}
	r.AddAttrs(GetLogFields(ctx).attrs()...)
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs), traceIDs: h.traceIDs}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name), traceIDs: h.traceIDs}
}
