// Package command runs the armed command-recognition session: it feeds
// fixed-size chunks from the command tap to a phrase classifier and reports
// exactly one [Result] per armed session.
package command

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/genie/internal/observe"
	"github.com/MrWong99/genie/pkg/audio"
	"github.com/MrWong99/genie/pkg/provider/classifier"
)

var (
	// ErrInvalidState is returned by StartSession when the classifier is not
	// loaded or a session is already armed.
	ErrInvalidState = errors.New("command: invalid session state")

	// ErrResourceExhausted is returned by StartSession when the accumulation
	// buffer for the classifier chunk cannot be provided.
	ErrResourceExhausted = errors.New("command: cannot allocate session buffer")
)

const (
	// DefaultDetectionWindow is the classifier's own listening window.
	DefaultDetectionWindow = 6 * time.Second

	// DefaultReadTimeout bounds one wait on the command tap.
	DefaultReadTimeout = 50 * time.Millisecond

	// MaxChunkSamples is the largest classifier chunk a session accepts.
	MaxChunkSamples = 4096

	// DefaultName is the handle name passed to the classifier model.
	DefaultName = "genie-commands"
)

// Tap is the audio input of a session. Enable flushes stale audio before
// the session starts reading; Disable stops buffering while idle.
// [audio.Tap] satisfies it.
type Tap interface {
	audio.Reader
	Enable()
	Disable()
}

// Option configures a [Session].
type Option func(*Session)

// WithDetectionWindow sets the window passed to [classifier.Model.Create].
func WithDetectionWindow(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithReadTimeout overrides [DefaultReadTimeout].
func WithReadTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithMaxChunkSamples lowers or raises the chunk-length limit.
func WithMaxChunkSamples(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxChunk = n
		}
	}
}

// WithPhrases replaces [DefaultPhrases].
func WithPhrases(p []classifier.Phrase) Option {
	return func(s *Session) {
		if len(p) > 0 {
			s.phrases = p
		}
	}
}

// WithName sets the classifier handle name.
func WithName(name string) Option {
	return func(s *Session) {
		if name != "" {
			s.name = name
		}
	}
}

// WithMetrics records sessions, results and latencies on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithClock replaces time.Now for deadline checks.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// armState is the externally visible arm flag and the parameters of the
// current session. Guarded by Session.mu.
type armState struct {
	armed    bool
	gen      uint64
	id       string
	deadline time.Time // zero means none
	started  time.Time
}

// Session is the command-recognition state machine. StartSession, StopSession
// and IsActive may be called from any goroutine; the accumulation buffer and
// the classifier handle are owned by the goroutine running [Session.Run].
type Session struct {
	handle classifier.Handle // nil when the model failed to load
	tap    Tap

	name        string
	window      time.Duration
	readTimeout time.Duration
	maxChunk    int
	phrases     []classifier.Phrase
	metrics     *observe.Metrics
	now         func() time.Time

	mu    sync.Mutex
	state armState
	onRes func(Result)

	wake chan struct{}
}

// New creates the classifier handle and registers the phrase list. A nil
// model or a failure leaves the session unloaded; StartSession then reports
// [ErrInvalidState].
func New(model classifier.Model, tap Tap, opts ...Option) *Session {
	s := &Session{
		tap:         tap,
		name:        DefaultName,
		window:      DefaultDetectionWindow,
		readTimeout: DefaultReadTimeout,
		maxChunk:    MaxChunkSamples,
		phrases:     DefaultPhrases(),
		now:         time.Now,
		wake:        make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}

	if model == nil {
		slog.Warn("command: no classifier configured, sessions unavailable")
		return s
	}
	h, err := model.Create(s.name, s.window)
	if err != nil {
		slog.Error("command: classifier create failed", "name", s.name, "err", err)
		return s
	}
	if err := h.SetPhrases(s.phrases); err != nil {
		slog.Error("command: phrase registration failed", "phrases", len(s.phrases), "err", err)
		_ = h.Close()
		return s
	}
	s.handle = h
	slog.Info("command: classifier ready",
		"name", s.name,
		"chunk_samples", h.ChunkLen(),
		"window", s.window,
		"phrases", len(s.phrases),
	)
	return s
}

// Loaded reports whether the classifier handle is available.
func (s *Session) Loaded() bool { return s.handle != nil }

// OnResult registers cb to receive session results. cb is called from the
// session goroutine and must not block. A later call replaces the callback.
func (s *Session) OnResult(cb func(Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRes = cb
}

// StartSession arms a session. A positive timeout sets an absolute deadline
// after which a [LabelTimeout] result is emitted; zero disables it.
func (s *Session) StartSession(timeout time.Duration) error {
	if s.handle == nil {
		return ErrInvalidState
	}
	s.mu.Lock()
	if s.state.armed {
		s.mu.Unlock()
		return ErrInvalidState
	}
	if n := s.handle.ChunkLen(); n <= 0 || n > s.maxChunk {
		s.mu.Unlock()
		return ErrResourceExhausted
	}
	now := s.now()
	st := armState{
		armed:   true,
		gen:     s.state.gen + 1,
		id:      uuid.NewString(),
		started: now,
	}
	if timeout > 0 {
		st.deadline = now.Add(timeout)
	}
	s.state = st
	s.tap.Enable()
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}

	if s.metrics != nil {
		s.metrics.CommandSessions.Add(context.Background(), 1)
	}
	slog.Info("command: session armed", "session_id", st.id, "timeout", timeout)
	return nil
}

// StopSession disarms the current session without a result. It is
// cooperative: a classification already running completes, but its verdict
// is discarded. Stopping an idle session is a no-op.
func (s *Session) StopSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.armed {
		return
	}
	s.state.armed = false
	s.tap.Disable()
	slog.Debug("command: session stopped", "session_id", s.state.id)
}

// IsActive reports whether a session is armed.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.armed
}

// Close releases the classifier handle. Call it after Run has returned.
func (s *Session) Close() error {
	s.StopSession()
	if s.handle == nil {
		return nil
	}
	return s.handle.Close()
}

// Run is the session goroutine. It idles until a session is armed, serves
// it to completion and idles again. It returns nil when ctx is cancelled or
// the tap is closed.
func (s *Session) Run(ctx context.Context) error {
	if s.handle == nil {
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		}

		s.mu.Lock()
		st := s.state
		s.mu.Unlock()
		if !st.armed {
			continue
		}
		if closed := s.serve(ctx, st); closed {
			return nil
		}
	}
}

// serve runs one armed session until it produces a result or is stopped.
// It reports whether the tap was closed.
func (s *Session) serve(ctx context.Context, st armState) bool {
	ctx, span := observe.StartSessionSpan(ctx, st.id)
	defer span.End()
	log := observe.Logger(ctx).With("session_id", st.id)

	chunkLen := s.handle.ChunkLen()
	buf := make([]int16, chunkLen)
	fill := 0
	s.handle.Reset()

	for {
		if ctx.Err() != nil {
			s.StopSession()
			return false
		}
		if !s.current(st.gen) {
			log.Debug("command: session ended without result")
			return false
		}
		if s.expired(st) {
			s.emit(ctx, st, Result{Command: None, PhraseID: NoPhrase, Label: LabelTimeout})
			return false
		}

		n, err := s.tap.Read(buf[fill:], s.readTimeout)
		if errors.Is(err, audio.ErrRingClosed) {
			s.StopSession()
			return true
		}
		if err != nil || n == 0 {
			continue
		}
		fill += n
		if fill < chunkLen {
			continue
		}
		fill = 0

		start := time.Now()
		verdict, err := s.handle.Classify(buf)
		if s.metrics != nil {
			s.metrics.ClassifyDuration.Record(ctx, time.Since(start).Seconds())
		}
		if err != nil {
			log.Warn("command: classify failed", "err", err)
			verdict = classifier.Detecting
		}

		// The wall-clock deadline takes precedence over the verdict.
		if s.expired(st) {
			s.emit(ctx, st, Result{Command: None, PhraseID: NoPhrase, Label: LabelTimeout})
			return false
		}

		switch verdict {
		case classifier.Detected:
			s.emit(ctx, st, detectedResult(s.handle.Results()))
			return false
		case classifier.TimedOut:
			s.emit(ctx, st, Result{Command: None, PhraseID: NoPhrase, Label: LabelModelTimeout})
			return false
		}
	}
}

func detectedResult(scores []classifier.Score) Result {
	if len(scores) == 0 {
		return Result{Command: None, PhraseID: NoPhrase, Label: LabelDetectedEmpty}
	}
	top := scores[0]
	return Result{
		Command:     ForPhrase(top.PhraseID),
		PhraseID:    top.PhraseID,
		Probability: top.Prob,
		Label:       top.Text,
	}
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.armed && s.state.gen == gen
}

func (s *Session) expired(st armState) bool {
	return !st.deadline.IsZero() && !s.now().Before(st.deadline)
}

// emit disarms the session identified by st and delivers r. Nothing is
// delivered when the session was stopped in the meantime.
func (s *Session) emit(ctx context.Context, st armState, r Result) {
	s.mu.Lock()
	if !s.state.armed || s.state.gen != st.gen {
		s.mu.Unlock()
		return
	}
	s.state.armed = false
	s.tap.Disable()
	cb := s.onRes
	s.mu.Unlock()

	r.SessionID = st.id
	observe.SetSessionResult(ctx, r.Command.String(), r.outcome())
	observe.Logger(ctx).Info("command: session result",
		"session_id", st.id,
		"command", r.Command.String(),
		"phrase_id", r.PhraseID,
		"prob", r.Probability,
		"label", r.Label,
	)
	if s.metrics != nil {
		s.metrics.RecordCommandResult(ctx, r.Command.String(), r.outcome())
		s.metrics.SessionDuration.Record(ctx, s.now().Sub(st.started).Seconds(),
			metric.WithAttributes(attribute.String("label", r.outcome())))
	}
	if cb != nil {
		cb(r)
	}
}
