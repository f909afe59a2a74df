package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/genie/internal/command"
	"github.com/MrWong99/genie/internal/ctrl"
	"github.com/MrWong99/genie/internal/health"
	"github.com/MrWong99/genie/internal/voice"
)

type fakeVoice struct {
	mu    sync.Mutex
	wakes int
	full  bool
}

func (f *fakeVoice) OnWake() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.wakes++
	return true
}

func (f *fakeVoice) Diagnostics() voice.Diagnostics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return voice.Diagnostics{State: voice.StateSpeaking, WakeCount: uint64(f.wakes)}
}

type fakeSession struct {
	mu       sync.Mutex
	active   bool
	timeouts []time.Duration
	startErr error
}

func (f *fakeSession) StartSession(timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.active = true
	f.timeouts = append(f.timeouts, timeout)
	return nil
}

func (f *fakeSession) StopSession() {
	f.mu.Lock()
	f.active = false
	f.mu.Unlock()
}

func (f *fakeSession) Timeouts() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.timeouts...)
}

func (f *fakeSession) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

type fakeBus struct {
	mu   sync.Mutex
	cmds []ctrl.Command
	err  error
}

func (f *fakeBus) Submit(cmd ctrl.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cmds = append(f.cmds, cmd)
	return nil
}

func (f *fakeBus) State() ctrl.State {
	return ctrl.State{EffectID: 3, Brightness: 128, SpeedPct: 100}
}

type fixture struct {
	srv     *Server
	http    *httptest.Server
	voice   *fakeVoice
	session *fakeSession
	bus     *fakeBus
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{voice: &fakeVoice{}, session: &fakeSession{}, bus: &fakeBus{}}
	f.srv = New(f.voice, f.session, f.bus, opts...)
	f.http = httptest.NewServer(f.srv.Handler())
	t.Cleanup(f.http.Close)
	return f
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg ClientMessage) ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var reply ServerMessage
	if err := wsjson.Read(ctx, conn, &reply); err != nil {
		t.Fatalf("Read: %v", err)
	}
	return reply
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithHealth(health.New(health.Checker{
		Name:  "audio",
		Check: func(context.Context) error { return errors.New("no device") },
	})))

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		resp, err := http.Get(f.http.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s status = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestServer_Diagnostics(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.session.StartSession(0); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	resp, err := http.Get(f.http.URL + "/diagnostics")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var d struct {
		Voice struct {
			State string `json:"state"`
		} `json:"voice"`
		Ctrl          ctrl.State `json:"ctrl"`
		CommandActive bool       `json:"command_active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Voice.State != "speaking" {
		t.Errorf("voice.state = %q, want speaking", d.Voice.State)
	}
	if d.Ctrl.EffectID != 3 || d.Ctrl.Brightness != 128 {
		t.Errorf("ctrl = %+v, want effect 3 brightness 128", d.Ctrl)
	}
	if !d.CommandActive {
		t.Error("command_active = false, want true")
	}
}

func TestServer_MetricsHandler(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("genie_up 1\n"))
	})))

	resp, err := http.Get(f.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != "genie_up 1\n" {
		t.Fatalf("body = %q", body)
	}
}

func TestServer_WebsocketRequests(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	conn := f.dial(t)

	reply := roundTrip(t, conn, ClientMessage{Type: TypeWake, ID: "1"})
	if reply.Type != TypeAck || reply.ID != "1" {
		t.Fatalf("wake reply = %+v, want ack 1", reply)
	}

	reply = roundTrip(t, conn, ClientMessage{Type: TypeStartSession, TimeoutMS: 500})
	if reply.Type != TypeAck {
		t.Fatalf("start_session reply = %+v, want ack", reply)
	}
	if got := f.session.Timeouts(); !f.session.IsActive() || len(got) != 1 || got[0] != 500*time.Millisecond {
		t.Fatalf("session active, timeouts = %v, %v, want true, [500ms]", f.session.IsActive(), got)
	}

	reply = roundTrip(t, conn, ClientMessage{Type: TypeStopSession})
	if reply.Type != TypeAck || f.session.IsActive() {
		t.Fatalf("stop_session reply = %+v, active = %v", reply, f.session.IsActive())
	}

	reply = roundTrip(t, conn, ClientMessage{Type: TypeCtrl, Ctrl: &CtrlMessage{
		Kind:       "set_fields",
		Fields:     []string{"brightness", "paused"},
		Brightness: 200,
		Paused:     true,
	}})
	if reply.Type != TypeAck {
		t.Fatalf("ctrl reply = %+v, want ack", reply)
	}
	f.bus.mu.Lock()
	got := f.bus.cmds[0]
	f.bus.mu.Unlock()
	if got.Kind != ctrl.SetFields || got.Fields != ctrl.FieldBrightness|ctrl.FieldPaused || got.Brightness != 200 || !got.Paused {
		t.Fatalf("submitted %+v", got)
	}

	reply = roundTrip(t, conn, ClientMessage{Type: TypeDiagnostics})
	if reply.Type != TypeDiagnostics || reply.Diagnostics == nil {
		t.Fatalf("diagnostics reply = %+v", reply)
	}
	if reply.Diagnostics.Voice.WakeCount != 1 || reply.Diagnostics.Clients != 1 {
		t.Fatalf("diagnostics = %+v, want 1 wake and 1 client", reply.Diagnostics)
	}
}

func TestServer_SessionTimeoutAtBound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	conn := f.dial(t)

	reply := roundTrip(t, conn, ClientMessage{Type: TypeStartSession, TimeoutMS: MaxSessionTimeout.Milliseconds()})
	if reply.Type != TypeAck {
		t.Fatalf("start_session reply = %+v, want ack", reply)
	}
	if got := f.session.Timeouts(); len(got) != 1 || got[0] != MaxSessionTimeout {
		t.Fatalf("timeouts = %v, want [%v]", got, MaxSessionTimeout)
	}
}

func TestServer_WebsocketErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.voice.mu.Lock()
	f.voice.full = true
	f.voice.mu.Unlock()
	f.session.mu.Lock()
	f.session.startErr = command.ErrInvalidState
	f.session.mu.Unlock()
	f.bus.mu.Lock()
	f.bus.err = ctrl.ErrQueueFull
	f.bus.mu.Unlock()
	conn := f.dial(t)

	tests := []struct {
		name string
		msg  ClientMessage
		want string
	}{
		{"wake dropped", ClientMessage{Type: TypeWake}, "queue full"},
		{"session busy", ClientMessage{Type: TypeStartSession}, command.ErrInvalidState.Error()},
		{"negative timeout", ClientMessage{Type: TypeStartSession, TimeoutMS: -1}, "negative"},
		{"timeout above bound", ClientMessage{Type: TypeStartSession, TimeoutMS: MaxSessionTimeout.Milliseconds() + 1}, "exceeds"},
		{"timeout overflows duration", ClientMessage{Type: TypeStartSession, TimeoutMS: math.MaxInt64 / 1000}, "exceeds"},
		{"ctrl without payload", ClientMessage{Type: TypeCtrl}, "without payload"},
		{"ctrl unknown kind", ClientMessage{Type: TypeCtrl, Ctrl: &CtrlMessage{Kind: "explode"}}, "unknown ctrl kind"},
		{"ctrl queue full", ClientMessage{Type: TypeCtrl, Ctrl: &CtrlMessage{Kind: "next_effect"}}, ctrl.ErrQueueFull.Error()},
		{"unknown type", ClientMessage{Type: "reboot"}, "unknown message type"},
	}
	for _, tt := range tests {
		reply := roundTrip(t, conn, tt.msg)
		if reply.Type != TypeError || !strings.Contains(reply.Error, tt.want) {
			t.Errorf("%s: reply = %+v, want error containing %q", tt.name, reply, tt.want)
		}
	}
}

func TestServer_BroadcastResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	conn := f.dial(t)

	deadline := time.Now().Add(3 * time.Second)
	for f.srv.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.srv.Broadcast(command.Result{
		Command:     command.Sleep,
		PhraseID:    command.PhraseSleep,
		Probability: 0.9,
		Label:       "go to sleep",
		SessionID:   "abc",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var msg ServerMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if msg.Type != TypeResult || msg.Result == nil {
		t.Fatalf("push = %+v, want result", msg)
	}
	if msg.Result.Command != "SLEEP" || msg.Result.SessionID != "abc" || msg.Result.Label != "go to sleep" {
		t.Fatalf("result = %+v", msg.Result)
	}
}

func TestCtrlMessage_Command(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		msg     CtrlMessage
		want    ctrl.Command
		wantErr bool
	}{
		{"next", CtrlMessage{Kind: "next_effect"}, ctrl.Command{Kind: ctrl.NextEffect}, false},
		{"adjust speed", CtrlMessage{Kind: "adjust_speed", Delta: -20}, ctrl.Command{Kind: ctrl.AdjustSpeed, Delta: -20}, false},
		{"set effect", CtrlMessage{Kind: "set_fields", Fields: []string{"effect"}, EffectID: 7}, ctrl.Command{Kind: ctrl.SetFields, Fields: ctrl.FieldEffect, EffectID: 7}, false},
		{"set without fields", CtrlMessage{Kind: "set_fields"}, ctrl.Command{}, true},
		{"unknown field", CtrlMessage{Kind: "set_fields", Fields: []string{"colour"}}, ctrl.Command{}, true},
		{"unknown kind", CtrlMessage{Kind: "warp"}, ctrl.Command{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.msg.Command()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Command() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Fatalf("Command() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
