// Package remote serves the HTTP and websocket control surface: health
// checks, Prometheus metrics, diagnostics and a JSON websocket that can
// trigger wakes, arm or disarm command sessions and submit light commands.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/genie/internal/command"
	"github.com/MrWong99/genie/internal/ctrl"
	"github.com/MrWong99/genie/internal/health"
	"github.com/MrWong99/genie/internal/observe"
	"github.com/MrWong99/genie/internal/voice"
)

const (
	// clientQueue is the number of pending messages per websocket client.
	// Pushes to a client with a full queue are dropped.
	clientQueue = 16

	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second

	// MaxSessionTimeout bounds the timeout_ms of a start_session request.
	MaxSessionTimeout = 10 * time.Minute
)

// Voice is the orchestrator surface used by the server.
type Voice interface {
	OnWake() bool
	Diagnostics() voice.Diagnostics
}

// Session arms and disarms the command session.
type Session interface {
	StartSession(timeout time.Duration) error
	StopSession()
	IsActive() bool
}

// Bus accepts light commands.
type Bus interface {
	Submit(cmd ctrl.Command) error
	State() ctrl.State
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth serves /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics wraps the routes in [observe.Middleware] and tracks connected
// clients.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler overrides the /metrics handler. The default serves the
// default Prometheus registry, which the OTel exporter registers with.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithOriginPatterns allows cross-origin websocket clients matching the
// given host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = append(s.originPatterns, patterns...) }
}

// Server is the remote control endpoint. It is safe for concurrent use.
type Server struct {
	voice   Voice
	session Session
	bus     Bus

	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	originPatterns []string

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New creates a Server. All three collaborators must be non-nil.
func New(v Voice, session Session, bus Bus, opts ...Option) *Server {
	s := &Server{
		voice:          v,
		session:        session,
		bus:            bus,
		health:         health.New(),
		metricsHandler: promhttp.Handler(),
		clients:        make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.health.Register(mux)
	mux.Handle("GET /metrics", s.metricsHandler)
	mux.HandleFunc("GET /diagnostics", s.serveDiagnostics)
	mux.HandleFunc("GET /ws", s.serveWS)

	if s.metrics == nil {
		return mux
	}
	return observe.Middleware(s.metrics)(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts the
// server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("remote: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is like ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("remote: listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("remote: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("remote: shutdown: %w", err)
	}
	return nil
}

// Broadcast pushes a command result to every connected client.
func (s *Server) Broadcast(r command.Result) {
	msg := ServerMessage{Type: TypeResult, Result: newResult(r)}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if !c.enqueue(msg) {
			slog.Warn("remote: client queue full, result dropped", "remote_addr", c.addr)
		}
	}
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) diagnostics() Diagnostics {
	return Diagnostics{
		Voice:         s.voice.Diagnostics(),
		Ctrl:          s.bus.State(),
		CommandActive: s.session.IsActive(),
		Clients:       s.Clients(),
	}
}

func (s *Server) serveDiagnostics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(s.diagnostics()); err != nil {
		slog.Warn("remote: encode diagnostics", "err", err)
	}
}

// handle executes one client request and returns the reply.
func (s *Server) handle(msg ClientMessage) ServerMessage {
	reply := ServerMessage{Type: TypeAck, ID: msg.ID}
	fail := func(err error) ServerMessage {
		return ServerMessage{Type: TypeError, ID: msg.ID, Error: err.Error()}
	}

	switch msg.Type {
	case TypeWake:
		if !s.voice.OnWake() {
			return fail(errors.New("remote: wake dropped, event queue full"))
		}
	case TypeStartSession:
		if msg.TimeoutMS < 0 {
			return fail(fmt.Errorf("remote: negative timeout_ms %d", msg.TimeoutMS))
		}
		if msg.TimeoutMS > MaxSessionTimeout.Milliseconds() {
			return fail(fmt.Errorf("remote: timeout_ms %d exceeds %d", msg.TimeoutMS, MaxSessionTimeout.Milliseconds()))
		}
		if err := s.session.StartSession(time.Duration(msg.TimeoutMS) * time.Millisecond); err != nil {
			return fail(err)
		}
	case TypeStopSession:
		s.session.StopSession()
	case TypeCtrl:
		if msg.Ctrl == nil {
			return fail(errors.New("remote: ctrl message without payload"))
		}
		cmd, err := msg.Ctrl.Command()
		if err != nil {
			return fail(err)
		}
		if err := s.bus.Submit(cmd); err != nil {
			return fail(err)
		}
	case TypeDiagnostics:
		d := s.diagnostics()
		reply.Type = TypeDiagnostics
		reply.Diagnostics = &d
	default:
		return fail(fmt.Errorf("remote: unknown message type %q", msg.Type))
	}
	return reply
}

// ─── websocket ───────────────────────────────────────────────────────────────

type client struct {
	addr string
	send chan ServerMessage
}

func (c *client) enqueue(msg ServerMessage) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (s *Server) addClient(ctx context.Context, c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RemoteClients.Add(ctx, 1)
	}
}

func (s *Server) removeClient(ctx context.Context, c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RemoteClients.Add(context.WithoutCancel(ctx), -1)
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		slog.Warn("remote: websocket accept failed", "err", err, "remote_addr", r.RemoteAddr)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{addr: r.RemoteAddr, send: make(chan ServerMessage, clientQueue)}
	s.addClient(ctx, c)
	defer s.removeClient(ctx, c)
	slog.Info("remote: client connected", "remote_addr", c.addr)

	go func() {
		defer cancel()
		s.writeLoop(ctx, conn, c)
	}()

	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				slog.Info("remote: client disconnected", "remote_addr", c.addr)
			default:
				if ctx.Err() == nil {
					slog.Warn("remote: read failed", "err", err, "remote_addr", c.addr)
				}
			}
			return
		}
		reply := s.handle(msg)
		if reply.Type == TypeError {
			slog.Debug("remote: request rejected", "type", msg.Type, "err", reply.Error)
		}
		// Replies are never dropped; a stuck client stalls only itself.
		select {
		case c.send <- reply:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, msg)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("remote: write failed", "err", err, "remote_addr", c.addr)
				}
				return
			}
		}
	}
}
