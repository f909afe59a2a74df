// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for the genie voice daemon.
package config

import (
	"time"

	"github.com/MrWong99/genie/internal/ctrl"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Wake      WakeConfig      `yaml:"wake"`
	Command   CommandConfig   `yaml:"command"`
	Voice     VoiceConfig     `yaml:"voice"`
	Cues      CuesConfig      `yaml:"cues"`
	Ctrl      CtrlConfig      `yaml:"ctrl"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds the remote control listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP/websocket server
	// (e.g., ":8080"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// OriginPatterns lists hosts allowed to open cross-origin websockets.
	OriginPatterns []string `yaml:"origin_patterns"`
}

// AudioConfig describes frame geometry and the audio devices.
type AudioConfig struct {
	// SampleRate of the capture device in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameSamples is the number of mono samples per frame.
	FrameSamples int `yaml:"frame_samples"`

	// RingFrames is the capacity of each consumer ring in frames.
	RingFrames int `yaml:"ring_frames"`

	// ReadTimeout bounds a single hardware read.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// RetryDelay is the pause after a failed or empty hardware read.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Volume is the playback volume in percent; nil keeps the player
	// default of 100. Hot-reloadable.
	Volume *int `yaml:"volume"`

	Capture  ProviderEntry `yaml:"capture"`
	Playback ProviderEntry `yaml:"playback"`
}

// WakeConfig configures the wake spotter.
type WakeConfig struct {
	Provider ProviderEntry `yaml:"provider"`

	// Debounce is the minimum gap between delivered triggers.
	// Hot-reloadable.
	Debounce time.Duration `yaml:"debounce"`

	// ReadTimeout bounds each ring read.
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// CommandConfig configures the command-phrase session.
type CommandConfig struct {
	Provider ProviderEntry `yaml:"provider"`

	// DetectionWindow is the classifier's own detection window.
	DetectionWindow time.Duration `yaml:"detection_window"`

	// ReadTimeout bounds each ring read.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// MaxChunkSamples is the largest classifier chunk accepted.
	MaxChunkSamples int `yaml:"max_chunk_samples"`

	// Phrases replaces the built-in phrase table when non-empty.
	Phrases []PhraseConfig `yaml:"phrases"`
}

// PhraseConfig is one registrable command phrase.
type PhraseConfig struct {
	ID   int    `yaml:"id"`
	Text string `yaml:"text"`
}

// VoiceConfig tunes the interaction state machine.
type VoiceConfig struct {
	// PostGuard is the quiet interval after each playback.
	PostGuard time.Duration `yaml:"post_guard"`

	// WakeSession is how long a wake keeps the device listening.
	WakeSession time.Duration `yaml:"wake_session"`

	// QueueSize is the orchestrator event queue capacity.
	QueueSize int `yaml:"queue_size"`
}

// CuesConfig locates the spoken cue files.
type CuesConfig struct {
	// Root is the cue directory. Hot-reloadable.
	Root string `yaml:"root"`

	// StateFile persists the no-repeat masks of lifecycle cues. Empty
	// disables persistence.
	StateFile string `yaml:"state_file"`

	// Extension of cue files, including the dot.
	Extension string `yaml:"extension"`
}

// CtrlConfig lists the light effects and the boot state.
type CtrlConfig struct {
	Effects  []ctrl.Effect `yaml:"effects"`
	Defaults CtrlDefaults  `yaml:"defaults"`
}

// CtrlDefaults is the state applied at startup.
type CtrlDefaults struct {
	EffectID   uint16 `yaml:"effect_id"`
	Brightness uint8  `yaml:"brightness"`
	SpeedPct   uint16 `yaml:"speed_pct"`
}

// IndicatorConfig selects the listening indicator.
type IndicatorConfig struct {
	// LED is the sysfs LED name. Empty logs indicator changes only.
	LED string `yaml:"led"`

	// Root overrides the sysfs LED class directory.
	Root string `yaml:"root"`
}

// TelemetryConfig names the service and device in exported telemetry.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// DeviceID identifies this unit. Empty uses the host name.
	DeviceID string `yaml:"device_id"`
}

// ProviderEntry selects a registered backend. The Name field is used to look
// up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "miniaudio", "onnx").
	Name string `yaml:"name"`

	// Model is the model file path for model-backed providers.
	Model string `yaml:"model"`

	// Device selects a specific audio device. Empty means the default.
	Device string `yaml:"device"`

	// Options holds provider-specific values not covered above. Values may
	// be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] when it is a string.
func (e ProviderEntry) OptionString(key, def string) string {
	if v, ok := e.Options[key].(string); ok {
		return v
	}
	return def
}

// OptionFloat returns Options[key] when it is a number.
func (e ProviderEntry) OptionFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// OptionInt returns Options[key] when it is an integer.
func (e ProviderEntry) OptionInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// OptionDuration returns Options[key] parsed as a duration string.
func (e ProviderEntry) OptionDuration(key string, def time.Duration) time.Duration {
	s, ok := e.Options[key].(string)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
