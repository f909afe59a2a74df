package cue

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// stateFile is the YAML document holding persistent played masks.
type stateFile struct {
	Played map[string]uint8 `yaml:"played"`
}

// loadState reads the masks in path. A missing file yields no masks and no
// error.
func loadState(path string) (map[Event]uint8, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cue: read state: %w", err)
	}

	var sf stateFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("cue: parse state: %w", err)
	}
	out := make(map[Event]uint8, len(sf.Played))
	for name, mask := range sf.Played {
		if ev, ok := ParseEvent(name); ok {
			out[ev] = mask & 0x07
		}
	}
	return out, nil
}

// saveState writes masks to path via a temporary file and rename.
func saveState(path string, masks map[Event]uint8) error {
	sf := stateFile{Played: make(map[string]uint8, len(masks))}
	for ev, m := range masks {
		sf.Played[ev.String()] = m
	}
	data, err := yaml.Marshal(&sf)
	if err != nil {
		return fmt.Errorf("cue: encode state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cue: state dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cue: write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("cue: replace state: %w", err)
	}
	return nil
}
