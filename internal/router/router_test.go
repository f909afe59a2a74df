package router

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/genie/internal/command"
	"github.com/MrWong99/genie/internal/ctrl"
)

type fakeBus struct {
	cmds []ctrl.Command
	err  error
}

func (b *fakeBus) Submit(c ctrl.Command) error {
	if b.err != nil {
		return b.err
	}
	b.cmds = append(b.cmds, c)
	return nil
}

type fakeVolume struct {
	vol   int
	muted bool
}

func (v *fakeVolume) SetVolume(pct int) { v.vol = max(0, min(100, pct)) }
func (v *fakeVolume) Volume() int       { return v.vol }
func (v *fakeVolume) ToggleMute() bool  { v.muted = !v.muted; return v.muted }

func TestRouter_CtrlCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cmd  command.Command
		want ctrl.Command
	}{
		{command.NextEffect, ctrl.Command{Kind: ctrl.NextEffect}},
		{command.PrevEffect, ctrl.Command{Kind: ctrl.PrevEffect}},
		{command.PauseToggle, ctrl.Command{Kind: ctrl.PauseToggle}},
		{command.BrightnessUp, ctrl.Command{Kind: ctrl.AdjustBrightness, Delta: BrightnessStep}},
		{command.BrightnessDown, ctrl.Command{Kind: ctrl.AdjustBrightness, Delta: -BrightnessStep}},
		{command.SpeedUp, ctrl.Command{Kind: ctrl.AdjustSpeed, Delta: SpeedStep}},
		{command.SpeedDown, ctrl.Command{Kind: ctrl.AdjustSpeed, Delta: -SpeedStep}},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			t.Parallel()
			bus := &fakeBus{}
			rt := New(bus, nil, Hooks{})
			if got := rt.Dispatch(context.Background(), command.Result{Command: tt.cmd}); got != OutcomeOK {
				t.Fatalf("Dispatch = %v, want ok", got)
			}
			if len(bus.cmds) != 1 || bus.cmds[0] != tt.want {
				t.Errorf("submitted %+v, want [%+v]", bus.cmds, tt.want)
			}
		})
	}
}

func TestRouter_Volume(t *testing.T) {
	t.Parallel()

	vol := &fakeVolume{vol: 95}
	rt := New(nil, vol, Hooks{})
	ctx := context.Background()

	rt.Dispatch(ctx, command.Result{Command: command.VolumeUp})
	if vol.vol != 100 {
		t.Errorf("volume = %d, want 100", vol.vol)
	}
	rt.Dispatch(ctx, command.Result{Command: command.VolumeDown})
	if vol.vol != 90 {
		t.Errorf("volume = %d, want 90", vol.vol)
	}
	if got := rt.Dispatch(ctx, command.Result{Command: command.Mute}); got != OutcomeOK || !vol.muted {
		t.Errorf("mute outcome = %v muted = %v", got, vol.muted)
	}
}

func TestRouter_Outcomes(t *testing.T) {
	t.Parallel()

	hookErr := errors.New("ota partition missing")
	tests := []struct {
		name string
		rt   *Router
		cmd  command.Command
		want Outcome
	}{
		{"none", New(nil, nil, Hooks{}), command.None, OutcomeNone},
		{"cancel", New(nil, nil, Hooks{}), command.CancelSession, OutcomeCancelled},
		{"no bus", New(nil, nil, Hooks{}), command.NextEffect, OutcomeUnsupported},
		{"bus full", New(&fakeBus{err: ctrl.ErrQueueFull}, nil, Hooks{}), command.NextEffect, OutcomeFailed},
		{"no volume", New(nil, nil, Hooks{}), command.Mute, OutcomeUnsupported},
		{"no sleep hook", New(nil, nil, Hooks{}), command.Sleep, OutcomeUnsupported},
		{"sleep hook", New(nil, nil, Hooks{Sleep: func(context.Context) error { return nil }}), command.Sleep, OutcomeOK},
		{"ota hook fails", New(nil, nil, Hooks{EnterOTA: func(context.Context) error { return hookErr }}), command.OTAEnter, OutcomeFailed},
		{"hook declines", New(nil, nil, Hooks{EnterOTA: func(context.Context) error { return ErrNoHook }}), command.OTAEnter, OutcomeUnsupported},
		{"no server", New(nil, nil, Hooks{}), command.AskServer, OutcomeUnsupported},
		{"unknown", New(nil, nil, Hooks{}), command.Command(77), OutcomeUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.rt.Dispatch(context.Background(), command.Result{Command: tt.cmd}); got != tt.want {
				t.Errorf("Dispatch(%v) = %v, want %v", tt.cmd, got, tt.want)
			}
		})
	}
}

func TestRouter_AskServerReceivesResult(t *testing.T) {
	t.Parallel()

	var got command.Result
	rt := New(nil, nil, Hooks{AskServer: func(_ context.Context, r command.Result) error {
		got = r
		return nil
	}})
	in := command.Result{Command: command.AskServer, PhraseID: 4, SessionID: "abc"}
	if out := rt.Dispatch(context.Background(), in); out != OutcomeOK {
		t.Fatalf("Dispatch = %v, want ok", out)
	}
	if got != in {
		t.Errorf("hook got %+v, want %+v", got, in)
	}
}
