// Package app wires all genie subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes every processing loop, and Shutdown tears
// everything down in order.
//
// Devices and models arrive in a [Providers] value built by main.go from the
// config registry. For testing, inject mocks there and use functional options
// (WithMetrics, WithHooks, WithListener) for the rest.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/genie/internal/command"
	"github.com/MrWong99/genie/internal/config"
	"github.com/MrWong99/genie/internal/ctrl"
	"github.com/MrWong99/genie/internal/cue"
	"github.com/MrWong99/genie/internal/health"
	"github.com/MrWong99/genie/internal/indicator"
	"github.com/MrWong99/genie/internal/observe"
	"github.com/MrWong99/genie/internal/playback"
	"github.com/MrWong99/genie/internal/remote"
	"github.com/MrWong99/genie/internal/resilience"
	"github.com/MrWong99/genie/internal/router"
	"github.com/MrWong99/genie/internal/voice"
	"github.com/MrWong99/genie/internal/wake"
	"github.com/MrWong99/genie/pkg/audio"
	"github.com/MrWong99/genie/pkg/provider/classifier"
	"github.com/MrWong99/genie/pkg/provider/kws"
)

// captureStallAfter is how long capture may go without a frame before
// /readyz fails.
const captureStallAfter = 2 * time.Second

// Providers holds the devices and models. Capture and Playback are
// required. A nil Spotter limits wakes to the remote API; a nil Classifier
// leaves command sessions unavailable; a nil Indicator logs only.
type Providers struct {
	Capture    audio.FrameSource
	Playback   audio.Sink
	Spotter    kws.Spotter
	Classifier classifier.Model
	Indicator  indicator.Indicator
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics  *observe.Metrics
	hooks    router.Hooks
	engine   ctrl.EffectEngine
	logLevel *slog.LevelVar
	listener net.Listener

	// Subsystems, initialised in New and torn down in Shutdown.
	fanout      *audio.Fanout
	capture     *audio.Capture
	spotter     *wake.Spotter
	wakeBreaker *resilience.Breaker
	session     *command.Session
	player      *playback.Player
	cues        *cue.Catalog
	bus         *ctrl.Bus
	router      *router.Router
	voice       *voice.Orchestrator
	health      *health.Handler
	remote      *remote.Server

	captureBeat *health.Heartbeat

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records every subsystem on m instead of the default
// instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithHooks sets the system command hooks (sleep, OTA, ask server).
func WithHooks(h router.Hooks) Option {
	return func(a *App) { a.hooks = h }
}

// WithEffectEngine renders light state. Defaults to [ctrl.LogEngine].
func WithEffectEngine(e ctrl.EffectEngine) Option {
	return func(a *App) { a.engine = e }
}

// WithLogLevel lets hot reload change the log level through lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithListener serves the remote API on ln instead of
// cfg.Server.ListenAddr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It performs no I/O
// beyond loading the classifier phrases and the cue state file.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Capture == nil || providers.Playback == nil {
		return nil, errors.New("app: capture and playback providers are required")
	}
	a := &App{
		cfg:         cfg,
		providers:   providers,
		engine:      ctrl.LogEngine{},
		captureBeat: health.NewHeartbeat(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.providers.Indicator == nil {
		a.providers.Indicator = &indicator.Log{}
	}

	// ── 1. Audio front end ───────────────────────────────────────────────
	a.initAudio()

	// ── 2. Playback and cues ─────────────────────────────────────────────
	a.initPlayback()

	// ── 3. Light control ─────────────────────────────────────────────────
	a.initCtrl()

	// ── 4. Command session, router and orchestrator ──────────────────────
	a.initVoice()

	// ── 5. Wake spotter ──────────────────────────────────────────────────
	a.initWake()

	// ── 6. Health and remote API ─────────────────────────────────────────
	a.initRemote()

	slog.Info("app initialised",
		"wake", a.spotter != nil,
		"commands", a.session.Loaded(),
		"effects", a.bus.Registry().Len(),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initAudio() {
	ac := a.cfg.Audio
	obs := beatObserver{Observer: a.metrics.AudioObserver(), beat: a.captureBeat}

	a.fanout = audio.NewFanout(ac.RingFrames, ac.FrameSamples, audio.WithFanoutObserver(obs))
	a.capture = audio.NewCapture(a.providers.Capture, a.fanout,
		audio.WithFrameSamples(ac.FrameSamples),
		audio.WithReadTimeout(ac.ReadTimeout),
		audio.WithRetryDelay(ac.RetryDelay),
		audio.WithCaptureObserver(obs),
	)
	a.closers = append(a.closers,
		func() error { a.fanout.Close(); return nil },
		a.providers.Capture.Close,
	)
}

func (a *App) initPlayback() {
	popts := []playback.Option{playback.WithMetrics(a.metrics)}
	if v := a.cfg.Audio.Volume; v != nil {
		popts = append(popts, playback.WithVolume(*v))
	}
	a.player = playback.New(a.providers.Playback, popts...)

	copts := []cue.Option{cue.WithExtension(a.cfg.Cues.Extension)}
	if a.cfg.Cues.StateFile != "" {
		copts = append(copts, cue.WithStateFile(a.cfg.Cues.StateFile))
	}
	a.cues = cue.New(a.cfg.Cues.Root, a.player, copts...)

	a.closers = append(a.closers, a.player.Close, a.providers.Playback.Close)
}

func (a *App) initCtrl() {
	d := a.cfg.Ctrl.Defaults
	initial := ctrl.State{EffectID: d.EffectID, Brightness: d.Brightness, SpeedPct: d.SpeedPct}
	a.bus = ctrl.NewBus(a.engine, ctrl.NewRegistry(a.cfg.Ctrl.Effects), initial, ctrl.WithMetrics(a.metrics))
}

func (a *App) initVoice() {
	cc := a.cfg.Command
	sopts := []command.Option{
		command.WithDetectionWindow(cc.DetectionWindow),
		command.WithReadTimeout(cc.ReadTimeout),
		command.WithMaxChunkSamples(cc.MaxChunkSamples),
		command.WithMetrics(a.metrics),
	}
	if len(cc.Phrases) > 0 {
		phrases := make([]classifier.Phrase, len(cc.Phrases))
		for i, p := range cc.Phrases {
			phrases[i] = classifier.Phrase{ID: p.ID, Text: p.Text}
		}
		sopts = append(sopts, command.WithPhrases(phrases))
	}
	a.session = command.New(a.providers.Classifier, a.fanout.Tap("command", false), sopts...)
	a.closers = append(a.closers, a.session.Close)

	a.router = router.New(a.bus, a.player, a.hooks)

	vc := a.cfg.Voice
	a.voice = voice.New(a.cues, a.session,
		voice.WithPostGuard(vc.PostGuard),
		voice.WithWakeSession(vc.WakeSession),
		voice.WithQueueSize(vc.QueueSize),
		voice.WithDispatcher(a.router),
		voice.WithIndicator(a.providers.Indicator),
		voice.WithMetrics(a.metrics),
	)
	a.player.OnComplete(a.voice.OnPlaybackDone)
	a.closers = append(a.closers, func() error {
		a.providers.Indicator.SetEnabled(false)
		return nil
	})
}

func (a *App) initWake() {
	if a.providers.Spotter == nil {
		slog.Warn("no keyword spotter configured; wakes only via remote API")
		return
	}
	a.wakeBreaker = resilience.NewBreaker(resilience.BreakerConfig{Name: "wake_model"})
	a.spotter = wake.New(a.providers.Spotter, a.fanout.Tap("wake", true), a.voice.OnWake,
		wake.WithBreaker(a.wakeBreaker),
		wake.WithReadTimeout(a.cfg.Wake.ReadTimeout),
		wake.WithDebounce(a.cfg.Wake.Debounce),
		wake.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, a.providers.Spotter.Close)
}

func (a *App) initRemote() {
	a.health = health.New(
		a.captureBeat.Checker("capture", captureStallAfter),
		health.Checker{
			Name: "command_model",
			Check: func(context.Context) error {
				if !a.session.Loaded() {
					return errors.New("classifier not loaded")
				}
				return nil
			},
		},
	)
	if a.wakeBreaker != nil {
		a.health.Add(a.wakeBreaker.Checker())
	}
	a.remote = remote.New(a.voice, a.session, a.bus,
		remote.WithHealth(a.health),
		remote.WithMetrics(a.metrics),
		remote.WithOriginPatterns(a.cfg.Server.OriginPatterns...),
	)
	// Results reach the orchestrator and every remote client.
	a.session.OnResult(func(r command.Result) {
		a.voice.OnCommandResult(r)
		a.remote.Broadcast(r)
	})
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Voice returns the orchestrator.
func (a *App) Voice() *voice.Orchestrator { return a.voice }

// Session returns the command session.
func (a *App) Session() *command.Session { return a.session }

// Bus returns the light control bus.
func (a *App) Bus() *ctrl.Bus { return a.bus }

// Health returns the readiness handler.
func (a *App) Health() *health.Handler { return a.health }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts every processing loop and blocks until ctx is cancelled or a
// loop fails. It returns nil after a clean cancellation.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.capture.Run(gctx) })
	g.Go(func() error { return a.bus.Run(gctx) })
	g.Go(func() error { return a.voice.Run(gctx) })
	g.Go(func() error { return a.session.Run(gctx) })
	if a.spotter != nil {
		g.Go(func() error { return a.spotter.Run(gctx) })
	}
	switch {
	case a.listener != nil:
		g.Go(func() error { return a.remote.Serve(gctx, a.listener) })
	case a.cfg.Server.ListenAddr != "":
		g.Go(func() error { return a.remote.ListenAndServe(gctx, a.cfg.Server.ListenAddr) })
	}

	slog.Info("app running")
	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// Greet plays the boot greeting. A busy or missing cue is logged only.
func (a *App) Greet() {
	if _, err := a.cues.Play(cue.BootHello); err != nil {
		slog.Warn("boot greeting skipped", "err", err)
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable fields of d. Changes listed in
// d.RestartRequired are only logged.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(LevelFor(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VolumeChanged {
		a.player.SetVolume(d.NewVolume)
		slog.Info("volume changed", "volume", d.NewVolume)
	}
	if d.DebounceChanged && a.spotter != nil {
		a.spotter.SetDebounce(d.NewDebounce)
		slog.Info("wake debounce changed", "debounce", d.NewDebounce)
	}
	if d.CueRootChanged {
		a.cues.SetRoot(d.NewCueRoot)
		slog.Info("cue root changed", "root", d.NewCueRoot)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// LevelFor maps a config log level to a slog level.
func LevelFor(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// beatObserver records capture progress on a heartbeat.
type beatObserver struct {
	audio.Observer
	beat *health.Heartbeat
}

func (o beatObserver) FrameCaptured(padded bool) {
	o.beat.Beat()
	o.Observer.FrameCaptured(padded)
}
