package observe

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// hijackRecorder is a recorder whose connection can be taken over, as the
// websocket upgrade does.
type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

// remoteMux mirrors the remote server's routes with canned handlers.
func remoteMux() *http.ServeMux {
	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	mux.HandleFunc("GET /healthz", ok)
	mux.HandleFunc("GET /metrics", ok)
	mux.HandleFunc("GET /diagnostics", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "voice loop stopped", http.StatusInternalServerError)
	})
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, _ *http.Request) {
		if hj, ok := w.(http.Hijacker); ok {
			_, _, _ = hj.Hijack()
		}
	})
	return mux
}

func TestMiddleware_RouteLabels(t *testing.T) {
	exp := recordSpans(t)
	m, reader := newTestMetrics(t)
	handler := Middleware(m)(remoteMux())

	tests := []struct {
		path       string
		route      string
		status     int
		spanFailed bool
	}{
		{"/healthz", "GET /healthz", http.StatusOK, false},
		{"/diagnostics", "GET /diagnostics", http.StatusInternalServerError, true},
		{"/no-such-route", "unmatched", http.StatusNotFound, false},
	}
	for _, tt := range tests {
		exp.Reset()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

		spans := exp.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("%s: spans = %d, want 1", tt.path, len(spans))
		}
		s := spans[0]
		if s.Name != tt.route {
			t.Errorf("%s: span name = %q, want %q", tt.path, s.Name, tt.route)
		}
		attrs := spanAttrs(s)
		if got := attrs["http.route"].AsString(); got != tt.route {
			t.Errorf("%s: http.route = %q, want %q", tt.path, got, tt.route)
		}
		if got := attrs["http.response.status_code"].AsInt64(); got != int64(tt.status) {
			t.Errorf("%s: status attribute = %d, want %d", tt.path, got, tt.status)
		}
		if failed := s.Status.Code == codes.Error; failed != tt.spanFailed {
			t.Errorf("%s: span failed = %v, want %v", tt.path, failed, tt.spanFailed)
		}
	}

	met := findMetric(collect(t, reader), "genie.http.request.duration")
	if met == nil {
		t.Fatal("genie.http.request.duration not recorded")
	}
	counts := make(map[string]uint64)
	for _, dp := range met.Data.(metricdata.Histogram[float64]).DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("route"))
		counts[route.AsString()] += dp.Count
	}
	want := map[string]uint64{"GET /healthz": 1, "GET /diagnostics": 1, "unmatched": 1}
	for route, n := range want {
		if counts[route] != n {
			t.Errorf("route %q samples = %d, want %d (all: %v)", route, counts[route], n, counts)
		}
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	recordSpans(t)
	m, _ := newTestMetrics(t)

	var seen string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /diagnostics", func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	})
	handler := Middleware(m)(mux)

	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{"new trace", "", ""},
		{"caller trace", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", "4bf92f3577b34da6a3ce929d0e0e4736"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/diagnostics", nil)
		if tt.traceparent != "" {
			req.Header.Set("traceparent", tt.traceparent)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if len(seen) != 32 {
			t.Fatalf("%s: handler correlation id = %q, want 32 hex digits", tt.name, seen)
		}
		if tt.want != "" && seen != tt.want {
			t.Errorf("%s: correlation id = %q, want %q", tt.name, seen, tt.want)
		}
		if got := rec.Header().Get(CorrelationHeader); got != seen {
			t.Errorf("%s: %s = %q, want %q", tt.name, CorrelationHeader, got, seen)
		}
		if !strings.Contains(rec.Header().Get("traceparent"), seen) {
			t.Errorf("%s: traceparent = %q, want trace %s", tt.name, rec.Header().Get("traceparent"), seen)
		}
	}
}

func TestMiddleware_PollRoutesLogQuietly(t *testing.T) {
	recordSpans(t)
	m, _ := newTestMetrics(t)
	handler := Middleware(m)(remoteMux())

	tests := []struct {
		path   string
		logged bool
	}{
		{"/healthz", false},
		{"/metrics", false},
		{"/diagnostics", true},
	}
	for _, tt := range tests {
		buf := captureLog(t)
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))
		if got := strings.Contains(buf.String(), "remote: request served"); got != tt.logged {
			t.Errorf("%s: logged at info = %v, want %v (%q)", tt.path, got, tt.logged, buf.String())
		}
	}
}

func TestMiddleware_Websocket(t *testing.T) {
	exp := recordSpans(t)
	m, _ := newTestMetrics(t)
	buf := captureLog(t)

	rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	Middleware(m)(remoteMux()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	if !rec.hijacked {
		t.Fatal("Hijack was not passed through to the connection")
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if got := spanAttrs(spans[0])["http.response.status_code"].AsInt64(); got != http.StatusSwitchingProtocols {
		t.Errorf("status attribute = %d, want 101", got)
	}
	if !strings.Contains(buf.String(), "remote: websocket closed") {
		t.Errorf("log = %q, want websocket closed", buf.String())
	}
}

func TestMiddleware_HijackUnsupported(t *testing.T) {
	recordSpans(t)
	m, _ := newTestMetrics(t)

	var hijackErr error
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _, hijackErr = w.(http.Hijacker).Hijack()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws", nil))

	if hijackErr == nil {
		t.Error("Hijack error = nil on a writer that cannot hijack")
	}
}
