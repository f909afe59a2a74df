package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/genie/internal/command"
	"github.com/MrWong99/genie/internal/ctrl"
	"github.com/MrWong99/genie/internal/cue"
	"github.com/MrWong99/genie/internal/voice"
	"github.com/MrWong99/genie/internal/wake"
	"github.com/MrWong99/genie/pkg/audio"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	KindCapture:    {"miniaudio"},
	KindPlayback:   {"miniaudio"},
	KindSpotter:    {"onnx"},
	KindClassifier: {"whisper"},
}

// Default values applied by [ApplyDefaults].
const (
	DefaultCueRoot     = "cues"
	DefaultServiceName = "genie"
	DefaultBrightness  = 128
	DefaultSpeedPct    = 100
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Audio
	if a.SampleRate == 0 {
		a.SampleRate = audio.DefaultSampleRate
	}
	if a.FrameSamples == 0 {
		a.FrameSamples = audio.DefaultFrameSamples
	}
	if a.RingFrames == 0 {
		a.RingFrames = audio.DefaultRingFrames
	}
	if a.ReadTimeout == 0 {
		a.ReadTimeout = audio.DefaultReadTimeout
	}
	if a.RetryDelay == 0 {
		a.RetryDelay = audio.DefaultRetryDelay
	}

	if cfg.Wake.Debounce == 0 {
		cfg.Wake.Debounce = wake.DefaultDebounce
	}
	if cfg.Wake.ReadTimeout == 0 {
		cfg.Wake.ReadTimeout = wake.DefaultReadTimeout
	}

	c := &cfg.Command
	if c.DetectionWindow == 0 {
		c.DetectionWindow = command.DefaultDetectionWindow
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = command.DefaultReadTimeout
	}
	if c.MaxChunkSamples == 0 {
		c.MaxChunkSamples = command.MaxChunkSamples
	}

	v := &cfg.Voice
	if v.PostGuard == 0 {
		v.PostGuard = voice.DefaultPostGuard
	}
	if v.WakeSession == 0 {
		v.WakeSession = voice.DefaultWakeSession
	}
	if v.QueueSize == 0 {
		v.QueueSize = voice.DefaultQueueSize
	}

	if cfg.Cues.Root == "" {
		cfg.Cues.Root = DefaultCueRoot
	}
	if cfg.Cues.Extension == "" {
		cfg.Cues.Extension = cue.DefaultExtension
	}

	d := &cfg.Ctrl.Defaults
	if d.Brightness == 0 {
		d.Brightness = DefaultBrightness
	}
	if d.SpeedPct == 0 {
		d.SpeedPct = DefaultSpeedPct
	}
	if d.EffectID == 0 && len(cfg.Ctrl.Effects) > 0 {
		d.EffectID = cfg.Ctrl.Effects[0].ID
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	a := cfg.Audio
	if a.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", a.SampleRate))
	}
	if a.FrameSamples < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_samples %d must be positive", a.FrameSamples))
	}
	if a.RingFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.ring_frames %d must be positive", a.RingFrames))
	}
	if a.ReadTimeout < 0 || a.RetryDelay < 0 {
		errs = append(errs, errors.New("audio.read_timeout and audio.retry_delay must not be negative"))
	}
	if a.Volume != nil && (*a.Volume < 0 || *a.Volume > 100) {
		errs = append(errs, fmt.Errorf("audio.volume %d is out of range [0, 100]", *a.Volume))
	}
	validateProviderName(KindCapture, a.Capture.Name)
	validateProviderName(KindPlayback, a.Playback.Name)

	// Wake
	if cfg.Wake.Debounce < 0 || cfg.Wake.ReadTimeout < 0 {
		errs = append(errs, errors.New("wake.debounce and wake.read_timeout must not be negative"))
	}
	validateProviderName(KindSpotter, cfg.Wake.Provider.Name)
	if cfg.Wake.Provider.Name == "" {
		slog.Warn("wake.provider is not configured; only remote wakes will be accepted")
	}

	// Command
	c := cfg.Command
	if c.DetectionWindow < 0 || c.ReadTimeout < 0 {
		errs = append(errs, errors.New("command.detection_window and command.read_timeout must not be negative"))
	}
	if c.MaxChunkSamples < 0 || c.MaxChunkSamples > command.MaxChunkSamples {
		errs = append(errs, fmt.Errorf("command.max_chunk_samples %d is out of range [1, %d]", c.MaxChunkSamples, command.MaxChunkSamples))
	}
	validateProviderName(KindClassifier, c.Provider.Name)
	if c.Provider.Name == "" {
		slog.Warn("command.provider is not configured; command sessions cannot be armed")
	}
	for i, p := range c.Phrases {
		prefix := fmt.Sprintf("command.phrases[%d]", i)
		if p.Text == "" {
			errs = append(errs, fmt.Errorf("%s.text is required", prefix))
		}
		if command.ForPhrase(p.ID) == command.None {
			errs = append(errs, fmt.Errorf("%s.id %d does not map to a command", prefix, p.ID))
		}
	}

	// Voice
	v := cfg.Voice
	if v.PostGuard < 0 {
		errs = append(errs, fmt.Errorf("voice.post_guard %s must not be negative", v.PostGuard))
	}
	if v.WakeSession < 0 {
		errs = append(errs, fmt.Errorf("voice.wake_session %s must not be negative", v.WakeSession))
	}
	if v.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("voice.queue_size %d must be positive", v.QueueSize))
	}

	// Cues
	if cfg.Cues.Extension != "" && cfg.Cues.Extension[0] != '.' {
		errs = append(errs, fmt.Errorf("cues.extension %q must start with a dot", cfg.Cues.Extension))
	}

	// Ctrl
	seen := make(map[uint16]int, len(cfg.Ctrl.Effects))
	for i, e := range cfg.Ctrl.Effects {
		prefix := fmt.Sprintf("ctrl.effects[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if prev, ok := seen[e.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %d is a duplicate of ctrl.effects[%d]", prefix, e.ID, prev))
		}
		seen[e.ID] = i
	}
	d := cfg.Ctrl.Defaults
	if len(cfg.Ctrl.Effects) > 0 {
		if _, ok := seen[d.EffectID]; !ok {
			errs = append(errs, fmt.Errorf("ctrl.defaults.effect_id %d is not a configured effect", d.EffectID))
		}
	}
	if d.SpeedPct != 0 && (d.SpeedPct < ctrl.MinSpeedPct || d.SpeedPct > ctrl.MaxSpeedPct) {
		errs = append(errs, fmt.Errorf("ctrl.defaults.speed_pct %d is out of range [%d, %d]", d.SpeedPct, ctrl.MinSpeedPct, ctrl.MaxSpeedPct))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or an externally registered provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
