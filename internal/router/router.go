// Package router turns recognised commands into actions on the control bus,
// the player and optional system hooks.
package router

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/genie/internal/command"
	"github.com/MrWong99/genie/internal/ctrl"
)

// Outcome is the result of dispatching one command.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeFailed
	OutcomeUnsupported
	OutcomeCancelled
	// OutcomeNone is returned for results that carry no command.
	OutcomeNone
)

// String returns the lower-case outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeFailed:
		return "failed"
	case OutcomeUnsupported:
		return "unsupported"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeNone:
		return "none"
	default:
		return "unknown"
	}
}

// Step sizes of relative adjustments.
const (
	BrightnessStep = 25
	SpeedStep      = 20
	VolumeStep     = 10
)

// ErrNoHook is returned by hook helpers when a hook is not configured.
var ErrNoHook = errors.New("router: hook not configured")

// Bus is the subset of [ctrl.Bus] the router needs.
type Bus interface {
	Submit(ctrl.Command) error
}

// Volume is the subset of the player the router needs.
type Volume interface {
	SetVolume(pct int)
	Volume() int
	ToggleMute() bool
}

// Hooks handle system-level commands. Any field may be nil, in which case
// the command is reported as unsupported.
type Hooks struct {
	Sleep     func(ctx context.Context) error
	EnterOTA  func(ctx context.Context) error
	AskServer func(ctx context.Context, r command.Result) error
}

// Router dispatches command results. It is safe for concurrent use as long
// as its collaborators are.
type Router struct {
	bus    Bus
	volume Volume
	hooks  Hooks
}

// New creates a Router. bus and volume may be nil; commands needing them are
// then unsupported.
func New(bus Bus, volume Volume, hooks Hooks) *Router {
	return &Router{bus: bus, volume: volume, hooks: hooks}
}

// Dispatch performs the action bound to r.Command.
func (rt *Router) Dispatch(ctx context.Context, r command.Result) Outcome {
	out := rt.dispatch(ctx, r)
	slog.Info("router: dispatched",
		"command", r.Command.String(),
		"session_id", r.SessionID,
		"outcome", out.String(),
	)
	return out
}

func (rt *Router) dispatch(ctx context.Context, r command.Result) Outcome {
	switch r.Command {
	case command.None:
		return OutcomeNone
	case command.CancelSession:
		return OutcomeCancelled

	case command.NextEffect:
		return rt.submit(ctrl.Command{Kind: ctrl.NextEffect})
	case command.PrevEffect:
		return rt.submit(ctrl.Command{Kind: ctrl.PrevEffect})
	case command.PauseToggle:
		return rt.submit(ctrl.Command{Kind: ctrl.PauseToggle})
	case command.BrightnessUp:
		return rt.submit(ctrl.Command{Kind: ctrl.AdjustBrightness, Delta: BrightnessStep})
	case command.BrightnessDown:
		return rt.submit(ctrl.Command{Kind: ctrl.AdjustBrightness, Delta: -BrightnessStep})
	case command.SpeedUp:
		return rt.submit(ctrl.Command{Kind: ctrl.AdjustSpeed, Delta: SpeedStep})
	case command.SpeedDown:
		return rt.submit(ctrl.Command{Kind: ctrl.AdjustSpeed, Delta: -SpeedStep})

	case command.VolumeUp, command.VolumeDown, command.Mute:
		if rt.volume == nil {
			return OutcomeUnsupported
		}
		switch r.Command {
		case command.VolumeUp:
			rt.volume.SetVolume(rt.volume.Volume() + VolumeStep)
		case command.VolumeDown:
			rt.volume.SetVolume(rt.volume.Volume() - VolumeStep)
		default:
			rt.volume.ToggleMute()
		}
		return OutcomeOK

	case command.Sleep:
		return runHook(ctx, rt.hooks.Sleep)
	case command.OTAEnter:
		return runHook(ctx, rt.hooks.EnterOTA)
	case command.AskServer:
		if rt.hooks.AskServer == nil {
			return OutcomeUnsupported
		}
		return runHook(ctx, func(ctx context.Context) error { return rt.hooks.AskServer(ctx, r) })
	}
	return OutcomeUnsupported
}

func (rt *Router) submit(cmd ctrl.Command) Outcome {
	if rt.bus == nil {
		return OutcomeUnsupported
	}
	if err := rt.bus.Submit(cmd); err != nil {
		slog.Warn("router: ctrl submit failed", "kind", cmd.Kind.String(), "err", err)
		return OutcomeFailed
	}
	return OutcomeOK
}

func runHook(ctx context.Context, hook func(context.Context) error) Outcome {
	if hook == nil {
		return OutcomeUnsupported
	}
	if err := hook(ctx); err != nil {
		if errors.Is(err, ErrNoHook) {
			return OutcomeUnsupported
		}
		slog.Warn("router: hook failed", "err", err)
		return OutcomeFailed
	}
	return OutcomeOK
}
