package observability

import (
	"context"
	"log/slog"

	"github.com/geocoder89/rsvphub/internal/actorctx"
	"go.opentelemetry.io/otel/trace"
)

// TraceHandler stamps records logged with a request context: trace and span
// ids so logs join traces, and the acting user so coordinator and store logs
// can be attributed without threading ids through every call.
type TraceHandler struct {
	next slog.Handler
}

func NewTraceHandler(next slog.Handler) *TraceHandler {
	return &TraceHandler{next: next}
}

func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx == nil {
		return h.next.Handle(ctx, r)
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if a, ok := actorctx.From(ctx); ok {
		r.AddAttrs(slog.String("actor_id", a.UserID))
		if a.Role != "" {
			r.AddAttrs(slog.String("actor_role", a.Role))
		}
	}
	return h.next.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{next: h.next.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{next: h.next.WithGroup(name)}
}
