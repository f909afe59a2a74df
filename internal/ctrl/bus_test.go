package ctrl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingEngine struct {
	mu     sync.Mutex
	states []State
}

func (e *recordingEngine) Apply(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = append(e.states, s)
}

func (e *recordingEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.states)
}

func (e *recordingEngine) last() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[len(e.states)-1]
}

var testEffects = []Effect{{0xCA01, "fire"}, {0x0101, "noise"}, {0x0201, "geo"}}

// runBus starts b and returns a function that submits cmd and waits until
// the engine has seen want applications.
func runBus(t *testing.T, b *Bus, eng *recordingEngine) func(cmd Command) State {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitApplied(t, eng, 1)
	return func(cmd Command) State {
		t.Helper()
		before := eng.count()
		if err := b.Submit(cmd); err != nil {
			t.Fatalf("Submit(%v): %v", cmd.Kind, err)
		}
		waitApplied(t, eng, before+1)
		return eng.last()
	}
}

func waitApplied(t *testing.T, eng *recordingEngine, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for eng.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("engine applied %d states, want %d", eng.count(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBus_Commands(t *testing.T) {
	t.Parallel()

	eng := &recordingEngine{}
	b := NewBus(eng, NewRegistry(testEffects), State{Brightness: 102, SpeedPct: 100})
	submit := runBus(t, b, eng)

	if got := eng.last(); got.EffectID != 0xCA01 || got.Seq != 0 {
		t.Fatalf("initial state = %+v, want first effect and seq 0", got)
	}

	s := submit(Command{Kind: NextEffect})
	if s.EffectID != 0x0101 || s.Seq != 1 {
		t.Errorf("after next = %+v", s)
	}
	s = submit(Command{Kind: PrevEffect})
	s = submit(Command{Kind: PrevEffect})
	if s.EffectID != 0x0201 {
		t.Errorf("prev wrap = %#x, want 0x201", s.EffectID)
	}
	s = submit(Command{Kind: PauseToggle})
	if !s.Paused {
		t.Error("pause toggle did not pause")
	}
	s = submit(Command{Kind: AdjustBrightness, Delta: 200})
	if s.Brightness != 255 {
		t.Errorf("brightness = %d, want 255", s.Brightness)
	}
	s = submit(Command{Kind: AdjustBrightness, Delta: -300})
	if s.Brightness != 0 {
		t.Errorf("brightness = %d, want 0", s.Brightness)
	}
	s = submit(Command{Kind: AdjustSpeed, Delta: 1000})
	if s.SpeedPct != MaxSpeedPct {
		t.Errorf("speed = %d, want %d", s.SpeedPct, MaxSpeedPct)
	}
	s = submit(Command{Kind: AdjustSpeed, Delta: -1000})
	if s.SpeedPct != MinSpeedPct {
		t.Errorf("speed = %d, want %d", s.SpeedPct, MinSpeedPct)
	}
	if s.Seq != 8 {
		t.Errorf("seq = %d, want 8", s.Seq)
	}
	if got := b.State(); got != s {
		t.Errorf("State() = %+v, want %+v", got, s)
	}
}

func TestBus_SetFieldsOnlyTouchesMaskedFields(t *testing.T) {
	t.Parallel()

	eng := &recordingEngine{}
	b := NewBus(eng, NewRegistry(testEffects), State{Brightness: 50, SpeedPct: 120})
	submit := runBus(t, b, eng)

	s := submit(Command{Kind: SetFields, Fields: FieldBrightness, Brightness: 200, SpeedPct: 999, EffectID: 7})
	if s.Brightness != 200 || s.SpeedPct != 120 || s.EffectID != 0xCA01 {
		t.Errorf("state = %+v, want only brightness changed", s)
	}
	s = submit(Command{Kind: SetFields, Fields: FieldSpeed | FieldPaused | FieldEffect, SpeedPct: 5, Paused: true, EffectID: 0x0201})
	if s.SpeedPct != MinSpeedPct || !s.Paused || s.EffectID != 0x0201 {
		t.Errorf("state = %+v", s)
	}
}

func TestBus_SubmitQueueFull(t *testing.T) {
	t.Parallel()

	b := NewBus(&recordingEngine{}, nil, State{})
	for i := range QueueSize {
		if err := b.Submit(Command{Kind: PauseToggle}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if err := b.Submit(Command{Kind: PauseToggle}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Submit on full queue = %v, want ErrQueueFull", err)
	}
}

func TestBus_SubmitAfterRunReturns(t *testing.T) {
	t.Parallel()

	b := NewBus(&recordingEngine{}, nil, State{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := b.Submit(Command{Kind: NextEffect}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit = %v, want ErrClosed", err)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry(append(testEffects, Effect{0xCA01, "dup"}))
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
	if got := r.Next(0x0201); got != 0xCA01 {
		t.Errorf("Next(last) = %#x, want first", got)
	}
	if got := r.Prev(0xCA01); got != 0x0201 {
		t.Errorf("Prev(first) = %#x, want last", got)
	}
	if got := r.Next(0xFFFF); got != 0xCA01 {
		t.Errorf("Next(unknown) = %#x, want first", got)
	}
	if e, ok := r.Lookup(0xCA01); !ok || e.Name != "fire" {
		t.Errorf("Lookup = %+v, %v", e, ok)
	}

	var empty Registry
	if got := empty.Next(5); got != 5 {
		t.Errorf("empty Next = %d, want 5", got)
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	for k := SetFields; k <= AdjustSpeed; k++ {
		if got, ok := ParseKind(k.String()); !ok || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, ok)
		}
	}
}
