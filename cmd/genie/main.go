// Command genie runs the voice-interaction daemon: wake-word spotting,
// command recognition, spoken replies and the light-effect control bus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/MrWong99/genie/internal/app"
	"github.com/MrWong99/genie/internal/config"
	"github.com/MrWong99/genie/internal/indicator"
	"github.com/MrWong99/genie/internal/observe"
	"github.com/MrWong99/genie/internal/phonetic"
	"github.com/MrWong99/genie/pkg/audio"
	"github.com/MrWong99/genie/pkg/audio/miniaudio"
	"github.com/MrWong99/genie/pkg/provider/classifier"
	"github.com/MrWong99/genie/pkg/provider/classifier/whisper"
	"github.com/MrWong99/genie/pkg/provider/kws"
	"github.com/MrWong99/genie/pkg/provider/kws/onnx"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "genie.yaml", "path to the YAML configuration file")
	listen := flag.String("listen", "", "override server.listen_addr")
	watch := flag.Bool("watch", true, "reload hot settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "genie: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "genie: %v\n", err)
		}
		return 1
	}
	if *listen != "" {
		cfg.Server.ListenAddr = *listen
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(app.LevelFor(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("genie starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:  cfg.Telemetry.ServiceName,
		DeviceID:     cfg.Telemetry.DeviceID,
		SampleRate:   cfg.Audio.SampleRate,
		FrameSamples: cfg.Audio.FrameSamples,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	devices := &deviceContext{}
	defer devices.Close()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, devices)

	providers, closers, err := buildProviders(cfg, reg)
	defer closeAll(closers)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithLogLevel(logLevel),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	application.Greet()
	slog.Info("ready; press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, http.ErrServerClosed) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// deviceContext opens the miniaudio context on first use and shares it
// between the capture and playback devices.
type deviceContext struct {
	mu  sync.Mutex
	ctx *miniaudio.Context
}

func (d *deviceContext) get() (*miniaudio.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		return d.ctx, nil
	}
	c, err := miniaudio.NewContext()
	if err != nil {
		return nil, err
	}
	d.ctx = c
	return c, nil
}

// Close releases the context. Devices must already be closed.
func (d *deviceContext) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return
	}
	if err := d.ctx.Close(); err != nil {
		slog.Warn("audio context close error", "err", err)
	}
	d.ctx = nil
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry, devices *deviceContext) {
	// ── Audio devices ─────────────────────────────────────────────────────────

	reg.RegisterCapture("miniaudio", func(entry config.ProviderEntry, cfg *config.Config) (audio.FrameSource, error) {
		mctx, err := devices.get()
		if err != nil {
			return nil, err
		}
		return miniaudio.NewCapture(mctx, miniaudio.CaptureConfig{
			SampleRate:   cfg.Audio.SampleRate,
			FrameSamples: cfg.Audio.FrameSamples,
			BufferFrames: entry.OptionInt("buffer_frames", 0),
		})
	})

	reg.RegisterPlayback("miniaudio", func(entry config.ProviderEntry, cfg *config.Config) (audio.Sink, error) {
		mctx, err := devices.get()
		if err != nil {
			return nil, err
		}
		return miniaudio.NewPlayback(mctx, miniaudio.PlaybackConfig{
			SampleRate:  entry.OptionInt("sample_rate", cfg.Audio.SampleRate),
			MaxBuffered: entry.OptionDuration("max_buffered", 0),
		})
	})

	// ── Wake word ─────────────────────────────────────────────────────────────

	reg.RegisterSpotter("onnx", func(entry config.ProviderEntry, cfg *config.Config) (kws.Spotter, error) {
		return onnx.New(onnx.Config{
			ModelPath:  entry.Model,
			FrameLen:   entry.OptionInt("frame_len", cfg.Audio.FrameSamples),
			Threshold:  float32(entry.OptionFloat("threshold", 0)),
			InputName:  entry.OptionString("input_name", ""),
			OutputName: entry.OptionString("output_name", ""),
		})
	})

	// ── Command phrases ───────────────────────────────────────────────────────

	reg.RegisterClassifier("whisper", func(entry config.ProviderEntry, cfg *config.Config) (classifier.Model, error) {
		opts := []whisper.Option{
			whisper.WithLanguage(entry.OptionString("language", "en")),
			whisper.WithSampleRate(cfg.Audio.SampleRate),
			whisper.WithChunkLen(entry.OptionInt("chunk_len", 0)),
			whisper.WithEndSilence(entry.OptionDuration("end_silence", 0)),
			whisper.WithRMSThreshold(entry.OptionFloat("rms_threshold", 0)),
		}
		var mopts []phonetic.Option
		if v := entry.OptionFloat("phonetic_threshold", 0); v > 0 {
			mopts = append(mopts, phonetic.WithPhoneticThreshold(v))
		}
		if v := entry.OptionFloat("fuzzy_threshold", 0); v > 0 {
			mopts = append(mopts, phonetic.WithFuzzyThreshold(v))
		}
		if len(mopts) > 0 {
			opts = append(opts, whisper.WithMatcherOptions(mopts...))
		}
		return whisper.New(entry.Model, opts...)
	})

	// ── Indicator ─────────────────────────────────────────────────────────────

	reg.RegisterIndicator("sysfs", func(entry config.ProviderEntry, cfg *config.Config) (indicator.Indicator, error) {
		return indicator.NewLED(cfg.Indicator.Root, entry.Device)
	})

	for _, kind := range []string{config.KindCapture, config.KindPlayback, config.KindSpotter, config.KindClassifier, config.KindIndicator} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates all providers named in cfg. The returned
// closers release backends the application does not own and must run after
// [app.App.Shutdown].
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, []io.Closer, error) {
	ps := &app.Providers{}
	var closers []io.Closer

	capture, err := reg.CreateCapture(cfg.Audio.Capture, cfg)
	if err != nil {
		return nil, closers, fmt.Errorf("create capture provider %q: %w", cfg.Audio.Capture.Name, err)
	}
	ps.Capture = capture
	slog.Info("provider created", "kind", config.KindCapture, "name", cfg.Audio.Capture.Name)

	sink, err := reg.CreatePlayback(cfg.Audio.Playback, cfg)
	if err != nil {
		_ = capture.Close()
		return nil, closers, fmt.Errorf("create playback provider %q: %w", cfg.Audio.Playback.Name, err)
	}
	ps.Playback = sink
	slog.Info("provider created", "kind", config.KindPlayback, "name", cfg.Audio.Playback.Name)

	// Wake and command backends are optional; a missing native backend
	// degrades to remote-only operation.
	if name := cfg.Wake.Provider.Name; name != "" {
		s, err := reg.CreateSpotter(cfg.Wake.Provider, cfg)
		switch {
		case errors.Is(err, onnx.ErrNativeUnavailable):
			slog.Warn("wake spotter unavailable; wakes only via remote API", "name", name, "err", err)
		case err != nil:
			_ = capture.Close()
			_ = sink.Close()
			return nil, closers, fmt.Errorf("create kws provider %q: %w", name, err)
		default:
			ps.Spotter = s
			slog.Info("provider created", "kind", config.KindSpotter, "name", name)
		}
	}

	if name := cfg.Command.Provider.Name; name != "" {
		m, err := reg.CreateClassifier(cfg.Command.Provider, cfg)
		if err != nil {
			slog.Warn("command classifier unavailable; commands disabled", "name", name, "err", err)
		} else {
			ps.Classifier = m
			if c, ok := m.(io.Closer); ok {
				closers = append(closers, c)
			}
			slog.Info("provider created", "kind", config.KindClassifier, "name", name, "model", cfg.Command.Provider.Model)
		}
	}

	if cfg.Indicator.LED != "" {
		led, err := reg.CreateIndicator(config.ProviderEntry{Name: "sysfs", Device: cfg.Indicator.LED}, cfg)
		if err != nil {
			slog.Warn("led indicator unavailable; logging only", "led", cfg.Indicator.LED, "err", err)
		} else {
			ps.Indicator = indicator.Multi{led, &indicator.Log{}}
		}
	}

	return ps, closers, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			slog.Warn("provider close error", "err", err)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Genie: startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Capture", cfg.Audio.Capture.Name, cfg.Audio.Capture.Device)
	printProvider("Playback", cfg.Audio.Playback.Name, cfg.Audio.Playback.Device)
	printProvider("Wake", cfg.Wake.Provider.Name, cfg.Wake.Provider.Model)
	printProvider("Commands", cfg.Command.Provider.Name, cfg.Command.Provider.Model)
	printProvider("LED", cfg.Indicator.LED, "")
	fmt.Printf("║  Effects         : %-19d ║\n", len(cfg.Ctrl.Effects))
	fmt.Printf("║  Cue root        : %-19s ║\n", truncate(cfg.Cues.Root))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	} else {
		fmt.Printf("║  Listen addr     : %-19s ║\n", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value))
}

func truncate(s string) string {
	if len([]rune(s)) > 19 {
		return string([]rune(s)[:18]) + "…"
	}
	return s
}
