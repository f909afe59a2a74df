package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordSpans installs a global tracer provider that keeps every finished
// span in memory. Tests using it must not run in parallel.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// spanAttrs flattens the attributes of s for lookups.
func spanAttrs(s tracetest.SpanStub) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(s.Attributes))
	for _, kv := range s.Attributes {
		m[kv.Key] = kv.Value
	}
	return m
}

// captureLog points the default logger at a buffer for the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartSessionSpan(t *testing.T) {
	exp := recordSpans(t)

	ctx, span := StartSessionSpan(context.Background(), "c0ffee")
	SetSessionResult(ctx, "SLEEP", "detected")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != SpanCommandSession {
		t.Errorf("name = %q, want %q", spans[0].Name, SpanCommandSession)
	}
	attrs := spanAttrs(spans[0])
	tests := []struct {
		key  attribute.Key
		want string
	}{
		{AttrSessionID, "c0ffee"},
		{AttrCommand, "SLEEP"},
		{AttrCommandLabel, "detected"},
	}
	for _, tt := range tests {
		if got := attrs[tt.key].AsString(); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestPlaybackSpan(t *testing.T) {
	exp := recordSpans(t)

	tests := []struct {
		name       string
		id         uint64
		reason     string
		err        error
		wantStatus codes.Code
	}{
		{"completed", 1, "ok", nil, codes.Unset},
		{"stopped", 2, "stopped", nil, codes.Unset},
		{"decode failure", 3, "error", errors.New("truncated dca packet"), codes.Error},
	}
	for _, tt := range tests {
		_, span := StartPlaybackSpan(context.Background(), tt.id, "/cues/wake.pcm")
		EndPlaybackSpan(span, tt.reason, tt.err)
	}

	spans := exp.GetSpans()
	if len(spans) != len(tests) {
		t.Fatalf("spans = %d, want %d", len(spans), len(tests))
	}
	for i, tt := range tests {
		s := spans[i]
		attrs := spanAttrs(s)
		if s.Name != SpanPlaybackPlay {
			t.Errorf("%s: name = %q, want %q", tt.name, s.Name, SpanPlaybackPlay)
		}
		if got := attrs[AttrPlaybackID].AsInt64(); got != int64(tt.id) {
			t.Errorf("%s: playback.id = %d, want %d", tt.name, got, tt.id)
		}
		if got := attrs[AttrPlaybackPath].AsString(); got != "/cues/wake.pcm" {
			t.Errorf("%s: playback.path = %q", tt.name, got)
		}
		if got := attrs[AttrPlaybackReason].AsString(); got != tt.reason {
			t.Errorf("%s: playback.reason = %q, want %q", tt.name, got, tt.reason)
		}
		if s.Status.Code != tt.wantStatus {
			t.Errorf("%s: status = %v, want %v", tt.name, s.Status.Code, tt.wantStatus)
		}
		if tt.err != nil && len(s.Events) == 0 {
			t.Errorf("%s: error not recorded as span event", tt.name)
		}
	}
}

func TestCorrelationID(t *testing.T) {
	recordSpans(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSessionSpan(context.Background(), "s")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("CorrelationID = %q, want 32 hex digits", cid)
		}
		if seen[cid] {
			t.Fatalf("CorrelationID %s repeated across sessions", cid)
		}
		seen[cid] = true
	}
}

func TestLogger(t *testing.T) {
	recordSpans(t)

	t.Run("inside session span", func(t *testing.T) {
		buf := captureLog(t)
		ctx, span := StartSessionSpan(context.Background(), "abc")
		defer span.End()

		Logger(ctx).Info("command: session result")
		out := buf.String()
		if !strings.Contains(out, "trace_id="+CorrelationID(ctx)) {
			t.Errorf("log = %q, want trace_id of the session", out)
		}
		if !strings.Contains(out, "span_id=") {
			t.Errorf("log = %q, want span_id", out)
		}
	})

	t.Run("without span", func(t *testing.T) {
		buf := captureLog(t)
		Logger(context.Background()).Info("audio capture started")
		if strings.Contains(buf.String(), "trace_id") {
			t.Errorf("log = %q, want no trace_id", buf.String())
		}
	})
}
