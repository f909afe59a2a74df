// Package cue maps voice events to pre-rendered audio files and plays them
// without repeating a variant until every variant of the event was heard.
package cue

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrNoMapping is returned for events without a layout entry.
	ErrNoMapping = errors.New("cue: no mapping for event")

	// ErrNoVariant is returned when none of the event's files exist.
	ErrNoVariant = errors.New("cue: no variant file for event")
)

// DefaultExtension is the file extension of cue files.
const DefaultExtension = ".wav"

// maxVariants bounds the variants per event; masks are 3 bits wide.
const maxVariants = 3

// Player plays a single file. It returns an error (typically a busy error)
// when the file cannot be started.
type Player interface {
	Play(path string) (uint64, error)
}

// Option configures a [Catalog].
type Option func(*Catalog)

// WithExtension overrides [DefaultExtension]. The leading dot is optional.
func WithExtension(ext string) Option {
	return func(c *Catalog) {
		if ext == "" {
			return
		}
		if ext[0] != '.' {
			ext = "." + ext
		}
		c.ext = ext
	}
}

// WithStateFile persists the masks of lifecycle events in path.
func WithStateFile(path string) Option {
	return func(c *Catalog) { c.statePath = path }
}

// WithRand replaces the variant picker's random source.
func WithRand(r *rand.Rand) Option {
	return func(c *Catalog) {
		if r != nil {
			c.intN = r.IntN
		}
	}
}

// Catalog resolves events to files and tracks played variants. It is safe
// for concurrent use.
type Catalog struct {
	player    Player
	ext       string
	statePath string
	intN      func(int) int

	mu     sync.Mutex
	root   string
	played [eventCount]uint8
}

// New creates a Catalog rooted at root. Persistent masks are loaded from the
// state file when one is configured; a missing or unreadable file starts
// from empty masks.
func New(root string, player Player, opts ...Option) *Catalog {
	c := &Catalog{
		player: player,
		root:   root,
		ext:    DefaultExtension,
		intN:   rand.IntN,
	}
	for _, o := range opts {
		o(c)
	}
	if c.statePath != "" {
		masks, err := loadState(c.statePath)
		if err != nil {
			slog.Warn("cue: state file unreadable, starting fresh", "path", c.statePath, "err", err)
		}
		for ev, m := range masks {
			if persistent[ev] {
				c.played[ev] = m
			}
		}
	}
	return c
}

// SetRoot switches the cue directory. Played masks are kept.
func (c *Catalog) SetRoot(root string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.root = root
}

// Root returns the cue directory.
func (c *Catalog) Root() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root
}

// Path returns the file of variant v (1-based) of ev.
func (c *Catalog) Path(ev Event, v int) (string, error) {
	e, ok := layout[ev]
	if !ok {
		return "", fmt.Errorf("%w: %v", ErrNoMapping, ev)
	}
	c.mu.Lock()
	root := c.root
	c.mu.Unlock()
	return c.pathFor(root, e, v), nil
}

func (c *Catalog) pathFor(root string, e entry, v int) string {
	name := fmt.Sprintf("%s-%02d-%02d%s", e.group, e.index, v, c.ext)
	return filepath.Join(root, e.group, name)
}

// Pick selects the next variant of ev and marks it played. Only variants
// whose file exists are considered. Once all of them were played the mask
// resets.
func (c *Catalog) Pick(ev Event) (string, error) {
	e, ok := layout[ev]
	if !ok {
		return "", fmt.Errorf("%w: %v", ErrNoMapping, ev)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var avail uint8
	for v := range min(e.variants, maxVariants) {
		if _, err := os.Stat(c.pathFor(c.root, e, v+1)); err == nil {
			avail |= 1 << v
		}
	}
	if avail == 0 {
		return "", fmt.Errorf("%w: %v", ErrNoVariant, ev)
	}

	played := c.played[ev] & 0x07
	if played&avail == avail {
		played = 0
	}
	remaining := avail &^ played

	var candidates []int
	for v := range maxVariants {
		if remaining&(1<<v) != 0 {
			candidates = append(candidates, v)
		}
	}
	idx := candidates[c.intN(len(candidates))]
	c.played[ev] = played | 1<<idx

	if persistent[ev] && c.statePath != "" {
		if err := saveState(c.statePath, c.persistentMasksLocked()); err != nil {
			slog.Warn("cue: save state failed", "path", c.statePath, "err", err)
		}
	}
	return c.pathFor(c.root, e, idx+1), nil
}

// Play picks a variant of ev and hands it to the player, returning the
// player's playback ID. Player errors are returned unchanged so callers can
// test for busy.
func (c *Catalog) Play(ev Event) (uint64, error) {
	path, err := c.Pick(ev)
	if err != nil {
		slog.Warn("cue: no file", "event", ev.String(), "err", err)
		return 0, err
	}
	slog.Info("cue: play", "event", ev.String(), "path", path)
	return c.player.Play(path)
}

// Played returns the played mask of ev.
func (c *Catalog) Played(ev Event) uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev < 0 || ev >= eventCount {
		return 0
	}
	return c.played[ev]
}

func (c *Catalog) persistentMasksLocked() map[Event]uint8 {
	out := make(map[Event]uint8, len(persistent))
	for ev := range persistent {
		out[ev] = c.played[ev]
	}
	return out
}
