package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterValue returns the value of the data point whose attributes contain
// all of want, or -1 when none matches.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string, want ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		match := true
		for _, kv := range want {
			v, found := dp.Attributes.Value(kv.Key)
			if !found || v != kv.Value {
				match = false
				break
			}
		}
		if match {
			return dp.Value
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	tests := []struct {
		name string
		hist metric.Float64Histogram
		val  float64
	}{
		{"genie.command.classify.duration", m.ClassifyDuration, 0.004},
		{"genie.command.session.duration", m.SessionDuration, 1.5},
	}

	for _, tt := range tests {
		tt.hist.Record(ctx, tt.val)
	}

	rm := collect(t, reader)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			met := findMetric(rm, tt.name)
			if met == nil {
				t.Fatalf("metric %q not found", tt.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a float64 histogram", tt.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatal("no data points")
			}
			if got := hist.DataPoints[0].Count; got != 1 {
				t.Errorf("sample count = %d, want 1", got)
			}
			if got := hist.DataPoints[0].Sum; got != tt.val {
				t.Errorf("sample sum = %v, want %v", got, tt.val)
			}
		})
	}
}

func TestRecordWakeTrigger(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordWakeTrigger(ctx, "delivered")
	m.RecordWakeTrigger(ctx, "delivered")
	m.RecordWakeTrigger(ctx, "suppressed")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "genie.wake.triggers", Attr("outcome", "delivered")); got != 2 {
		t.Errorf("delivered = %d, want 2", got)
	}
	if got := counterValue(t, rm, "genie.wake.triggers", Attr("outcome", "suppressed")); got != 1 {
		t.Errorf("suppressed = %d, want 1", got)
	}
}

func TestRecordCommandResult(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCommandResult(ctx, "SLEEP", "detected")
	m.RecordCommandResult(ctx, "", "timeout")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "genie.command.results",
		Attr("command", "SLEEP"), Attr("label", "detected")); got != 1 {
		t.Errorf("SLEEP/detected = %d, want 1", got)
	}
	if got := counterValue(t, rm, "genie.command.results", Attr("label", "timeout")); got != 1 {
		t.Errorf("timeout = %d, want 1", got)
	}
}

func TestRecordPlaybackAndTransitions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPlaybackRequest(ctx, "started")
	m.RecordPlaybackRequest(ctx, "busy")
	m.RecordPlaybackCompleted(ctx, "finished")
	m.RecordTransition(ctx, "idle", "listening")
	m.RecordCtrlCommand(ctx, "play", "ok")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "genie.playback.requests", Attr("status", "busy")); got != 1 {
		t.Errorf("busy requests = %d, want 1", got)
	}
	if got := counterValue(t, rm, "genie.playback.completed", Attr("reason", "finished")); got != 1 {
		t.Errorf("finished = %d, want 1", got)
	}
	if got := counterValue(t, rm, "genie.voice.transitions",
		Attr("from", "idle"), Attr("to", "listening")); got != 1 {
		t.Errorf("idle->listening = %d, want 1", got)
	}
	if got := counterValue(t, rm, "genie.ctrl.commands", Attr("kind", "play")); got != 1 {
		t.Errorf("ctrl play = %d, want 1", got)
	}
}

func TestAudioObserver(t *testing.T) {
	m, reader := newTestMetrics(t)
	obs := m.AudioObserver()

	obs.FrameCaptured(false)
	obs.FrameCaptured(true)
	obs.FrameCaptured(false)
	obs.CaptureFailed(errors.New("i2s read failed"))
	obs.FrameDropped("command")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "genie.audio.frames", attribute.Bool("padded", false)); got != 2 {
		t.Errorf("unpadded frames = %d, want 2", got)
	}
	if got := counterValue(t, rm, "genie.audio.frames", attribute.Bool("padded", true)); got != 1 {
		t.Errorf("padded frames = %d, want 1", got)
	}
	if got := counterValue(t, rm, "genie.audio.capture_errors"); got != 1 {
		t.Errorf("capture errors = %d, want 1", got)
	}
	if got := counterValue(t, rm, "genie.audio.ring_drops", Attr("tap", "command")); got != 1 {
		t.Errorf("command drops = %d, want 1", got)
	}
}

func TestRemoteClientsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RemoteClients.Add(ctx, 3)
	m.RemoteClients.Add(ctx, -1)

	rm := collect(t, reader)
	if got := counterValue(t, rm, "genie.remote.clients"); got != 2 {
		t.Errorf("remote clients = %d, want 2", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("route", "GET /healthz"),
			attribute.Int("status", 200),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "genie.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
