package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs. Hot-reloadable
// fields are reported individually; everything else is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VolumeChanged bool
	NewVolume     int

	DebounceChanged bool
	NewDebounce     time.Duration

	CueRootChanged bool
	NewCueRoot     string

	// RestartRequired names the changed sections that only take effect
	// after a restart.
	RestartRequired []string
}

// HasHotChanges reports whether any hot-reloadable field changed.
func (d ConfigDiff) HasHotChanges() bool {
	return d.LogLevelChanged || d.VolumeChanged || d.DebounceChanged || d.CueRootChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if volume(old.Audio.Volume) != volume(new.Audio.Volume) {
		d.VolumeChanged = true
		d.NewVolume = volume(new.Audio.Volume)
	}

	if old.Wake.Debounce != new.Wake.Debounce {
		d.DebounceChanged = true
		d.NewDebounce = new.Wake.Debounce
	}

	if old.Cues.Root != new.Cues.Root {
		d.CueRootChanged = true
		d.NewCueRoot = new.Cues.Root
	}

	// Compare the remaining fields with the hot ones masked out.
	o, n := *old, *new
	o.Server.LogLevel, n.Server.LogLevel = "", ""
	o.Audio.Volume, n.Audio.Volume = nil, nil
	o.Wake.Debounce, n.Wake.Debounce = 0, 0
	o.Cues.Root, n.Cues.Root = "", ""

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", o.Server, n.Server},
		{"audio", o.Audio, n.Audio},
		{"wake", o.Wake, n.Wake},
		{"command", o.Command, n.Command},
		{"voice", o.Voice, n.Voice},
		{"cues", o.Cues, n.Cues},
		{"ctrl", o.Ctrl, n.Ctrl},
		{"indicator", o.Indicator, n.Indicator},
		{"telemetry", o.Telemetry, n.Telemetry},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}

	return d
}

// volume resolves an optional volume to its effective value.
func volume(v *int) int {
	if v == nil {
		return 100
	}
	return *v
}
