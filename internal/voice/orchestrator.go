// Package voice implements the interaction state machine that reacts to wake
// words, spoken commands and playback completions.
//
// A single goroutine ([Orchestrator.Run]) owns all state. Other goroutines
// only post events to its FIFO queue and read [Diagnostics] snapshots.
package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/genie/internal/command"
	"github.com/MrWong99/genie/internal/cue"
	"github.com/MrWong99/genie/internal/indicator"
	"github.com/MrWong99/genie/internal/observe"
	"github.com/MrWong99/genie/internal/playback"
	"github.com/MrWong99/genie/internal/router"
)

const (
	// DefaultPostGuard is the quiet interval after every playback.
	DefaultPostGuard = 300 * time.Millisecond

	// DefaultWakeSession is how long a wake keeps the device listening for
	// a command.
	DefaultWakeSession = 8 * time.Second

	// DefaultQueueSize is the capacity of the event queue.
	DefaultQueueSize = 16
)

// State is the orchestrator's main state.
type State int

const (
	StateIdle State = iota
	StateSpeaking
	StatePostGuard
)

// String returns "idle", "speaking" or "post_guard".
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	case StatePostGuard:
		return "post_guard"
	default:
		return "unknown"
	}
}

// EventKind identifies a queued event.
type EventKind int

const (
	EventWake EventKind = iota
	EventPlaybackDone
	EventGuardTimeout
	EventCommand
)

// Event is one entry of the orchestrator queue.
type Event struct {
	Kind       EventKind
	Completion playback.Completion // EventPlaybackDone
	Result     command.Result      // EventCommand
}

// CuePlayer starts a spoken cue and returns the playback ID its completion
// will carry. An error means the cue did not start.
type CuePlayer interface {
	Play(ev cue.Event) (uint64, error)
}

// CommandSession is the part of [command.Session] the orchestrator drives.
type CommandSession interface {
	StartSession(timeout time.Duration) error
	StopSession()
}

// Dispatcher executes a recognised command.
type Dispatcher interface {
	Dispatch(ctx context.Context, r command.Result) router.Outcome
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithPostGuard overrides [DefaultPostGuard].
func WithPostGuard(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.postGuard = d
		}
	}
}

// WithWakeSession overrides [DefaultWakeSession].
func WithWakeSession(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.wakeSession = d
		}
	}
}

// WithQueueSize overrides [DefaultQueueSize].
func WithQueueSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.queue = make(chan Event, n)
		}
	}
}

// WithDispatcher routes recognised commands. Without one every command is
// acknowledged with CMD_OK.
func WithDispatcher(d Dispatcher) Option {
	return func(o *Orchestrator) { o.dispatcher = d }
}

// WithIndicator sets the listening indicator.
func WithIndicator(ind indicator.Indicator) Option {
	return func(o *Orchestrator) {
		if ind != nil {
			o.ind = ind
		}
	}
}

// WithMetrics records transitions and expiries on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTransitionHook calls fn after every state change, from the
// orchestrator goroutine. fn must not block.
func WithTransitionHook(fn func(from, to State, at time.Time)) Option {
	return func(o *Orchestrator) { o.onTransition = fn }
}

// Diagnostics is a consistent snapshot of the orchestrator.
type Diagnostics struct {
	State                State         `json:"state"`
	WakeCount            uint64        `json:"wake_count"`
	SpeakCount           uint64        `json:"speak_count"`
	CompletionCount      uint64        `json:"completion_count"`
	LastCompletionReason string        `json:"last_completion_reason"`
	WakeSessionActive    bool          `json:"wake_session_active"`
	WakeSessionRemaining time.Duration `json:"wake_session_remaining"`
	CommandCount         uint64        `json:"command_count"`
}

// MarshalText lets State appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// core is the state owned by the Run goroutine. Writes happen under
// Orchestrator.mu so Diagnostics can copy it.
type core struct {
	state         State
	playing       uint64 // ID of the completion Speaking waits for; 0 when none
	wakeActive    bool
	wakeDeadline  time.Time
	guardArmed    bool
	guardDeadline time.Time

	wakeCount       uint64
	speakCount      uint64
	completionCount uint64
	lastReason      string
	commandCount    uint64
}

// Orchestrator is the voice interaction state machine.
type Orchestrator struct {
	cues       CuePlayer
	session    CommandSession
	dispatcher Dispatcher
	ind        indicator.Indicator
	metrics    *observe.Metrics

	postGuard    time.Duration
	wakeSession  time.Duration
	onTransition func(from, to State, at time.Time)

	queue chan Event
	done  chan struct{}
	once  sync.Once

	mu sync.Mutex
	c  core
}

// New creates an Orchestrator in [StateIdle]. cues and session must not be
// nil.
func New(cues CuePlayer, session CommandSession, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cues:        cues,
		session:     session,
		ind:         &indicator.Log{},
		postGuard:   DefaultPostGuard,
		wakeSession: DefaultWakeSession,
		queue:       make(chan Event, DefaultQueueSize),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OnWake posts a wake event without blocking. It returns false when the
// queue is full and the wake was dropped.
func (o *Orchestrator) OnWake() bool {
	select {
	case o.queue <- Event{Kind: EventWake}:
		return true
	default:
		return false
	}
}

// OnPlaybackDone posts a playback completion. It blocks while the queue is
// full and returns once Run has exited.
func (o *Orchestrator) OnPlaybackDone(c playback.Completion) {
	o.post(Event{Kind: EventPlaybackDone, Completion: c})
}

// OnCommandResult posts a command session result.
func (o *Orchestrator) OnCommandResult(r command.Result) {
	o.post(Event{Kind: EventCommand, Result: r})
}

func (o *Orchestrator) post(ev Event) {
	select {
	case o.queue <- ev:
	case <-o.done:
	}
}

// Diagnostics returns a snapshot of the state and counters.
func (o *Orchestrator) Diagnostics() Diagnostics {
	o.mu.Lock()
	defer o.mu.Unlock()

	d := Diagnostics{
		State:                o.c.state,
		WakeCount:            o.c.wakeCount,
		SpeakCount:           o.c.speakCount,
		CompletionCount:      o.c.completionCount,
		LastCompletionReason: o.c.lastReason,
		WakeSessionActive:    o.c.wakeActive,
		CommandCount:         o.c.commandCount,
	}
	if o.c.wakeActive {
		d.WakeSessionRemaining = max(0, time.Until(o.c.wakeDeadline))
	}
	return d
}

// Run processes events until ctx is cancelled. The queue wait is bounded by
// the nearest pending deadline.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.once.Do(func() { close(o.done) })
	slog.Info("voice: orchestrator started",
		"post_guard", o.postGuard,
		"wake_session", o.wakeSession,
	)

	for {
		var expired <-chan time.Time
		var timer *time.Timer
		if wait, ok := o.nextWait(); ok {
			timer = time.NewTimer(wait)
			expired = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev := <-o.queue:
			if timer != nil {
				timer.Stop()
			}
			o.handle(ctx, ev)
		case <-expired:
		}
		o.checkDeadlines(ctx)
	}
}

// nextWait returns the time until the nearest deadline.
func (o *Orchestrator) nextWait() (time.Duration, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var next time.Time
	if o.c.wakeActive {
		next = o.c.wakeDeadline
	}
	if o.c.state == StatePostGuard && o.c.guardArmed {
		if next.IsZero() || o.c.guardDeadline.Before(next) {
			next = o.c.guardDeadline
		}
	}
	if next.IsZero() {
		return 0, false
	}
	return max(0, time.Until(next)), true
}

func (o *Orchestrator) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventWake:
		o.handleWake()
	case EventPlaybackDone:
		o.handlePlaybackDone(ev.Completion)
	case EventGuardTimeout:
		o.handleGuardTimeout()
	case EventCommand:
		o.handleCommand(ctx, ev.Result)
	default:
		slog.Warn("voice: unknown event", "kind", int(ev.Kind))
	}
}

func (o *Orchestrator) handleWake() {
	o.mu.Lock()
	o.c.wakeCount++
	o.c.wakeActive = true
	o.c.wakeDeadline = time.Now().Add(o.wakeSession)
	state := o.c.state
	o.mu.Unlock()

	o.ind.SetEnabled(true)

	if state != StateIdle {
		slog.Info("voice: wake ignored", "state", state.String())
		return
	}

	o.session.StopSession()
	id, err := o.cues.Play(cue.WakeDetected)
	if err != nil {
		slog.Warn("voice: wake reply skipped", "err", err)
		return
	}
	o.enterSpeaking(id)
}

func (o *Orchestrator) handlePlaybackDone(c playback.Completion) {
	o.mu.Lock()
	o.c.completionCount++
	o.c.lastReason = c.Reason.String()
	expected := o.c.state == StateSpeaking && o.c.playing != 0 && c.ID == o.c.playing
	if expected {
		o.c.playing = 0
	}
	state, want := o.c.state, o.c.playing
	o.mu.Unlock()

	if !expected {
		slog.Info("voice: unexpected playback completion ignored",
			"state", state.String(),
			"reason", c.Reason.String(),
			"path", c.Path,
			"id", c.ID,
			"waiting_for", want,
		)
		return
	}
	o.enterPostGuard()
}

func (o *Orchestrator) handleGuardTimeout() {
	o.mu.Lock()
	state := o.c.state
	o.mu.Unlock()

	if state != StatePostGuard {
		slog.Debug("voice: stale guard timeout ignored", "state", state.String())
		return
	}
	o.enterIdle()
}

func (o *Orchestrator) handleCommand(ctx context.Context, r command.Result) {
	o.mu.Lock()
	if !o.c.wakeActive {
		o.mu.Unlock()
		slog.Info("voice: command outside wake session ignored",
			"command", r.Command.String(),
			"session_id", r.SessionID,
		)
		return
	}
	o.c.commandCount++
	o.c.wakeActive = false
	o.mu.Unlock()

	o.session.StopSession()
	o.ind.SetEnabled(false)

	ev := cue.NoCmdTimeout
	if r.Command != command.None {
		ev = o.outcomeCue(ctx, r)
	}
	o.playFromAnyState(ev)
}

func (o *Orchestrator) outcomeCue(ctx context.Context, r command.Result) cue.Event {
	if o.dispatcher == nil {
		return cue.CmdOK
	}
	switch o.dispatcher.Dispatch(ctx, r) {
	case router.OutcomeOK:
		return cue.CmdOK
	case router.OutcomeCancelled:
		return cue.SessionCancelled
	case router.OutcomeUnsupported:
		return cue.CmdUnsupported
	case router.OutcomeNone:
		return cue.NoCmdTimeout
	default:
		return cue.CmdFail
	}
}

// checkDeadlines fires the guard timeout and wake session expiry once their
// deadlines have passed.
func (o *Orchestrator) checkDeadlines(ctx context.Context) {
	now := time.Now()

	o.mu.Lock()
	guardDue := o.c.state == StatePostGuard && o.c.guardArmed && !now.Before(o.c.guardDeadline)
	if guardDue {
		o.c.guardArmed = false
	}
	wakeDue := o.c.wakeActive && !now.Before(o.c.wakeDeadline)
	if wakeDue {
		o.c.wakeActive = false
	}
	o.mu.Unlock()

	if guardDue {
		select {
		case o.queue <- Event{Kind: EventGuardTimeout}:
		default:
			slog.Warn("voice: queue full, handling guard timeout inline")
			o.handleGuardTimeout()
		}
	}
	if wakeDue {
		o.expireWakeSession(ctx)
	}
}

func (o *Orchestrator) expireWakeSession(ctx context.Context) {
	slog.Info("voice: wake session expired without command")
	o.session.StopSession()
	o.ind.SetEnabled(false)
	if o.metrics != nil {
		o.metrics.WakeSessionsExpired.Add(ctx, 1)
	}
	o.playFromAnyState(cue.NoCmdTimeout)
}

// playFromAnyState plays ev and enters Speaking on success. On failure an
// idle orchestrator stays idle; any other state is kept.
func (o *Orchestrator) playFromAnyState(ev cue.Event) {
	id, err := o.cues.Play(ev)
	if err != nil {
		slog.Warn("voice: cue skipped", "event", ev.String(), "err", err)
		return
	}
	o.enterSpeaking(id)
}

// enterSpeaking waits for the completion of playback id. A completion of an
// earlier playback still in the queue no longer matches.
func (o *Orchestrator) enterSpeaking(id uint64) {
	o.mu.Lock()
	o.c.speakCount++
	o.c.playing = id
	o.c.guardArmed = false
	o.mu.Unlock()

	// Never listen to our own voice.
	o.session.StopSession()
	o.transition(StateSpeaking)
}

func (o *Orchestrator) enterPostGuard() {
	o.mu.Lock()
	o.c.guardArmed = true
	o.c.guardDeadline = time.Now().Add(o.postGuard)
	o.mu.Unlock()
	o.transition(StatePostGuard)
}

func (o *Orchestrator) enterIdle() {
	o.mu.Lock()
	o.c.playing = 0
	o.c.guardArmed = false
	wakeActive := o.c.wakeActive
	remaining := time.Until(o.c.wakeDeadline)
	o.mu.Unlock()

	o.transition(StateIdle)

	if !wakeActive {
		o.ind.SetEnabled(false)
		return
	}
	if remaining <= 0 {
		return
	}
	if err := o.session.StartSession(remaining); err != nil {
		slog.Warn("voice: command session not armed", "err", err)
		return
	}
	slog.Info("voice: listening for command", "remaining", remaining)
}

func (o *Orchestrator) transition(to State) {
	at := time.Now()
	o.mu.Lock()
	from := o.c.state
	o.c.state = to
	o.mu.Unlock()

	if from == to {
		return
	}
	slog.Debug("voice: transition", "from", from.String(), "to", to.String())
	if o.metrics != nil {
		o.metrics.RecordTransition(context.Background(), from.String(), to.String())
	}
	if o.onTransition != nil {
		o.onTransition(from, to, at)
	}
}
