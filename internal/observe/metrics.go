// Package observe provides application-wide observability primitives for
// genie: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all genie metrics.
const meterName = "github.com/MrWong99/genie"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Audio capture ---

	// FramesCaptured counts frames pushed by the capture loop. Use with
	// attribute:
	//   attribute.Bool("padded", ...)
	FramesCaptured metric.Int64Counter

	// CaptureErrors counts failed or empty hardware reads.
	CaptureErrors metric.Int64Counter

	// RingDrops counts frames rejected by a full ring. Use with attribute:
	//   attribute.String("tap", ...)
	RingDrops metric.Int64Counter

	// --- Wake spotting ---

	// WakeTriggers counts positive spotter triggers. Use with attribute:
	//   attribute.String("outcome", "delivered"|"suppressed"|"dropped")
	WakeTriggers metric.Int64Counter

	// --- Command sessions ---

	// CommandSessions counts armed command sessions.
	CommandSessions metric.Int64Counter

	// CommandResults counts emitted results. Use with attributes:
	//   attribute.String("command", ...), attribute.String("label", ...)
	CommandResults metric.Int64Counter

	// ClassifyDuration tracks the latency of one classifier call.
	ClassifyDuration metric.Float64Histogram

	// SessionDuration tracks the time from arming to the result.
	SessionDuration metric.Float64Histogram

	// --- Playback and orchestration ---

	// PlaybackRequests counts play requests. Use with attribute:
	//   attribute.String("status", "started"|"busy"|"error")
	PlaybackRequests metric.Int64Counter

	// PlaybackCompleted counts finished playbacks. Use with attribute:
	//   attribute.String("reason", ...)
	PlaybackCompleted metric.Int64Counter

	// Transitions counts orchestrator state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	Transitions metric.Int64Counter

	// WakeSessionsExpired counts wake sessions that ended without a command.
	WakeSessionsExpired metric.Int64Counter

	// CtrlCommands counts control bus submissions. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	CtrlCommands metric.Int64Counter

	// --- Gauges ---

	// RemoteClients tracks the number of connected websocket clients.
	RemoteClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks remote request time, labelled by "route"
	// (mux pattern) and "status". Websocket requests last the whole session.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// classifier calls, which are much shorter than whole sessions.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// sessionBuckets covers the lifetime of a command session.
var sessionBuckets = []float64{
	0.25, 0.5, 1, 2, 3, 4, 6, 8, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Audio.
	if met.FramesCaptured, err = m.Int64Counter("genie.audio.frames",
		metric.WithDescription("Total audio frames captured."),
	); err != nil {
		return nil, err
	}
	if met.CaptureErrors, err = m.Int64Counter("genie.audio.capture_errors",
		metric.WithDescription("Total failed or empty hardware reads."),
	); err != nil {
		return nil, err
	}
	if met.RingDrops, err = m.Int64Counter("genie.audio.ring_drops",
		metric.WithDescription("Total frames dropped by a full ring, by tap."),
	); err != nil {
		return nil, err
	}

	// Wake.
	if met.WakeTriggers, err = m.Int64Counter("genie.wake.triggers",
		metric.WithDescription("Total positive wake-word triggers by outcome."),
	); err != nil {
		return nil, err
	}

	// Command sessions.
	if met.CommandSessions, err = m.Int64Counter("genie.command.sessions",
		metric.WithDescription("Total command sessions armed."),
	); err != nil {
		return nil, err
	}
	if met.CommandResults, err = m.Int64Counter("genie.command.results",
		metric.WithDescription("Total command results by command and label."),
	); err != nil {
		return nil, err
	}
	if met.ClassifyDuration, err = m.Float64Histogram("genie.command.classify.duration",
		metric.WithDescription("Latency of one classifier call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("genie.command.session.duration",
		metric.WithDescription("Time from arming a command session to its result."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Playback and orchestration.
	if met.PlaybackRequests, err = m.Int64Counter("genie.playback.requests",
		metric.WithDescription("Total cue play requests by status."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackCompleted, err = m.Int64Counter("genie.playback.completed",
		metric.WithDescription("Total finished cue playbacks by reason."),
	); err != nil {
		return nil, err
	}
	if met.Transitions, err = m.Int64Counter("genie.voice.transitions",
		metric.WithDescription("Total orchestrator state transitions."),
	); err != nil {
		return nil, err
	}
	if met.WakeSessionsExpired, err = m.Int64Counter("genie.voice.wake_sessions_expired",
		metric.WithDescription("Total wake sessions that expired without a command."),
	); err != nil {
		return nil, err
	}
	if met.CtrlCommands, err = m.Int64Counter("genie.ctrl.commands",
		metric.WithDescription("Total control bus submissions by kind and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.RemoteClients, err = m.Int64UpDownCounter("genie.remote.clients",
		metric.WithDescription("Number of connected remote-control websocket clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("genie.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordWakeTrigger records a positive trigger with its outcome.
func (m *Metrics) RecordWakeTrigger(ctx context.Context, outcome string) {
	m.WakeTriggers.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCommandResult records one emitted command result.
func (m *Metrics) RecordCommandResult(ctx context.Context, command, label string) {
	m.CommandResults.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("label", label),
		),
	)
}

// RecordPlaybackRequest records a play request with its status.
func (m *Metrics) RecordPlaybackRequest(ctx context.Context, status string) {
	m.PlaybackRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordPlaybackCompleted records a finished playback.
func (m *Metrics) RecordPlaybackCompleted(ctx context.Context, reason string) {
	m.PlaybackCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTransition records an orchestrator state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.Transitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordCtrlCommand records a control bus submission.
func (m *Metrics) RecordCtrlCommand(ctx context.Context, kind, status string) {
	m.CtrlCommands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}
