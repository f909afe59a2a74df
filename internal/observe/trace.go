package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/genie"

// Span names.
const (
	SpanCommandSession = "command.session"
	SpanPlaybackPlay   = "playback.play"
)

// Span attribute keys.
const (
	AttrSessionID      = attribute.Key("session.id")
	AttrCommand        = attribute.Key("command.name")
	AttrCommandLabel   = attribute.Key("command.label")
	AttrPlaybackID     = attribute.Key("playback.id")
	AttrPlaybackPath   = attribute.Key("playback.path")
	AttrPlaybackReason = attribute.Key("playback.reason")
)

// Tracer returns the genie tracer of the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartSessionSpan starts the span covering one armed command session.
func StartSessionSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanCommandSession,
		trace.WithAttributes(AttrSessionID.String(sessionID)))
}

// SetSessionResult tags the session span in ctx with the command it produced.
func SetSessionResult(ctx context.Context, command, label string) {
	trace.SpanFromContext(ctx).SetAttributes(
		AttrCommand.String(command),
		AttrCommandLabel.String(label),
	)
}

// StartPlaybackSpan starts the span covering playback id of path.
func StartPlaybackSpan(ctx context.Context, id uint64, path string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanPlaybackPlay,
		trace.WithAttributes(AttrPlaybackID.Int64(int64(id)), AttrPlaybackPath.String(path)))
}

// EndPlaybackSpan records how a playback finished and ends span. A non-nil
// err marks the span failed.
func EndPlaybackSpan(span trace.Span, reason string, err error) {
	span.SetAttributes(AttrPlaybackReason.String(reason))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// HTTP responses carry it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, tagged with trace_id and span_id when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
