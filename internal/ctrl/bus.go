// Package ctrl owns the light-effect state and applies changes submitted by
// the command router, the remote API and local inputs, in submission order.
package ctrl

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/genie/internal/observe"
)

// ErrQueueFull is returned by Submit when the command queue has no room.
var ErrQueueFull = errors.New("ctrl: command queue full")

// ErrClosed is returned by Submit after Run has returned.
var ErrClosed = errors.New("ctrl: bus closed")

const (
	// QueueSize is the number of pending commands the bus accepts.
	QueueSize = 16

	MinSpeedPct = 10
	MaxSpeedPct = 300
)

// Field selects the fields written by a [SetFields] command.
type Field uint8

const (
	FieldEffect Field = 1 << iota
	FieldBrightness
	FieldSpeed
	FieldPaused
)

// Kind is the command type.
type Kind int

const (
	SetFields Kind = iota
	NextEffect
	PrevEffect
	PauseToggle
	AdjustBrightness
	AdjustSpeed
)

var kindNames = map[Kind]string{
	SetFields:        "set_fields",
	NextEffect:       "next_effect",
	PrevEffect:       "prev_effect",
	PauseToggle:      "pause_toggle",
	AdjustBrightness: "adjust_brightness",
	AdjustSpeed:      "adjust_speed",
}

// String returns the snake_case kind name.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind is the inverse of [Kind.String].
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Command is one state change request.
type Command struct {
	Kind Kind

	// SetFields payload.
	Fields     Field
	EffectID   uint16
	Brightness uint8
	SpeedPct   uint16
	Paused     bool

	// Delta is the adjustment for AdjustBrightness and AdjustSpeed.
	Delta int
}

// State is the applied effect state. Seq increases on every change.
type State struct {
	EffectID   uint16 `json:"effect_id"`
	Brightness uint8  `json:"brightness"`
	SpeedPct   uint16 `json:"speed_pct"`
	Paused     bool   `json:"paused"`
	Seq        uint32 `json:"seq"`
}

// EffectEngine renders the state.
type EffectEngine interface {
	Apply(State)
}

// LogEngine is an [EffectEngine] that only logs applied states.
type LogEngine struct{}

// Apply implements [EffectEngine].
func (LogEngine) Apply(s State) {
	slog.Info("ctrl: effect state",
		"effect_id", s.EffectID,
		"brightness", s.Brightness,
		"speed_pct", s.SpeedPct,
		"paused", s.Paused,
		"seq", s.Seq,
	)
}

// Option configures a [Bus].
type Option func(*Bus)

// WithMetrics records submissions on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// Bus serialises state changes through a bounded queue consumed by Run.
type Bus struct {
	engine   EffectEngine
	registry *Registry
	metrics  *observe.Metrics

	queue chan Command
	done  chan struct{}
	once  sync.Once

	mu    sync.Mutex
	state State
}

// NewBus creates a bus with the initial state. A zero EffectID is replaced
// by the registry's first effect.
func NewBus(engine EffectEngine, registry *Registry, initial State, opts ...Option) *Bus {
	if registry == nil {
		registry = &Registry{}
	}
	if initial.EffectID == 0 {
		initial.EffectID = registry.First()
	}
	initial.SpeedPct = clampSpeed(int(initial.SpeedPct))
	b := &Bus{
		engine:   engine,
		registry: registry,
		queue:    make(chan Command, QueueSize),
		done:     make(chan struct{}),
		state:    initial,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Submit queues cmd without blocking.
func (b *Bus) Submit(cmd Command) error {
	select {
	case <-b.done:
		b.record(cmd.Kind, "closed")
		return ErrClosed
	default:
	}
	select {
	case b.queue <- cmd:
		b.record(cmd.Kind, "queued")
		return nil
	default:
		b.record(cmd.Kind, "full")
		return ErrQueueFull
	}
}

// State returns a snapshot of the applied state.
func (b *Bus) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Registry returns the effect registry.
func (b *Bus) Registry() *Registry { return b.registry }

// Run applies the initial state and then every submitted command until ctx
// is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	defer b.once.Do(func() { close(b.done) })

	b.engine.Apply(b.State())
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-b.queue:
			if s, changed := b.apply(cmd); changed {
				b.engine.Apply(s)
			}
		}
	}
}

// apply mutates the state and reports whether anything changed.
func (b *Bus) apply(cmd Command) (State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &b.state
	changed := false
	switch cmd.Kind {
	case SetFields:
		if cmd.Fields&FieldEffect != 0 {
			s.EffectID = cmd.EffectID
			changed = true
		}
		if cmd.Fields&FieldBrightness != 0 {
			s.Brightness = cmd.Brightness
			changed = true
		}
		if cmd.Fields&FieldSpeed != 0 {
			s.SpeedPct = clampSpeed(int(cmd.SpeedPct))
			changed = true
		}
		if cmd.Fields&FieldPaused != 0 {
			s.Paused = cmd.Paused
			changed = true
		}
	case NextEffect:
		s.EffectID = b.registry.Next(s.EffectID)
		changed = true
	case PrevEffect:
		s.EffectID = b.registry.Prev(s.EffectID)
		changed = true
	case PauseToggle:
		s.Paused = !s.Paused
		changed = true
	case AdjustBrightness:
		s.Brightness = uint8(max(0, min(255, int(s.Brightness)+cmd.Delta)))
		changed = true
	case AdjustSpeed:
		s.SpeedPct = clampSpeed(int(s.SpeedPct) + cmd.Delta)
		changed = true
	default:
		slog.Warn("ctrl: unknown command", "kind", int(cmd.Kind))
	}
	if changed {
		s.Seq++
	}
	return *s, changed
}

func (b *Bus) record(k Kind, status string) {
	if b.metrics != nil {
		b.metrics.RecordCtrlCommand(context.Background(), k.String(), status)
	}
}

func clampSpeed(v int) uint16 {
	return uint16(max(MinSpeedPct, min(MaxSpeedPct, v)))
}
