package remote

import (
	"fmt"

	"github.com/MrWong99/genie/internal/command"
	"github.com/MrWong99/genie/internal/ctrl"
	"github.com/MrWong99/genie/internal/voice"
)

// Client message types.
const (
	TypeWake         = "wake"
	TypeStartSession = "start_session"
	TypeStopSession  = "stop_session"
	TypeCtrl         = "ctrl"
	TypeDiagnostics  = "diagnostics"
)

// Server message types.
const (
	TypeAck    = "ack"
	TypeError  = "error"
	TypeResult = "result"
)

// ClientMessage is a request received on the websocket.
type ClientMessage struct {
	Type string `json:"type"`

	// ID is echoed in the reply.
	ID string `json:"id,omitempty"`

	// TimeoutMS is the start_session deadline; zero means no deadline.
	TimeoutMS int64 `json:"timeout_ms,omitempty"`

	Ctrl *CtrlMessage `json:"ctrl,omitempty"`
}

// CtrlMessage is the payload of a ctrl request.
type CtrlMessage struct {
	Kind string `json:"kind"`

	// Fields lists the set_fields targets: effect, brightness, speed, paused.
	Fields     []string `json:"fields,omitempty"`
	EffectID   uint16   `json:"effect_id,omitempty"`
	Brightness uint8    `json:"brightness,omitempty"`
	SpeedPct   uint16   `json:"speed_pct,omitempty"`
	Paused     bool     `json:"paused,omitempty"`
	Delta      int      `json:"delta,omitempty"`
}

var fieldNames = map[string]ctrl.Field{
	"effect":     ctrl.FieldEffect,
	"brightness": ctrl.FieldBrightness,
	"speed":      ctrl.FieldSpeed,
	"paused":     ctrl.FieldPaused,
}

// Command converts the message into a bus command.
func (m CtrlMessage) Command() (ctrl.Command, error) {
	kind, ok := ctrl.ParseKind(m.Kind)
	if !ok {
		return ctrl.Command{}, fmt.Errorf("remote: unknown ctrl kind %q", m.Kind)
	}
	cmd := ctrl.Command{
		Kind:       kind,
		EffectID:   m.EffectID,
		Brightness: m.Brightness,
		SpeedPct:   m.SpeedPct,
		Paused:     m.Paused,
		Delta:      m.Delta,
	}
	for _, name := range m.Fields {
		f, ok := fieldNames[name]
		if !ok {
			return ctrl.Command{}, fmt.Errorf("remote: unknown ctrl field %q", name)
		}
		cmd.Fields |= f
	}
	if kind == ctrl.SetFields && cmd.Fields == 0 {
		return ctrl.Command{}, fmt.Errorf("remote: set_fields without fields")
	}
	return cmd, nil
}

// ServerMessage is a reply or push sent on the websocket.
type ServerMessage struct {
	Type        string       `json:"type"`
	ID          string       `json:"id,omitempty"`
	Error       string       `json:"error,omitempty"`
	Result      *Result      `json:"result,omitempty"`
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
}

// Result is a command session result pushed to every client.
type Result struct {
	Command     string  `json:"command"`
	PhraseID    int     `json:"phrase_id"`
	Probability float64 `json:"probability"`
	Label       string  `json:"label"`
	SessionID   string  `json:"session_id"`
}

func newResult(r command.Result) *Result {
	return &Result{
		Command:     r.Command.String(),
		PhraseID:    r.PhraseID,
		Probability: r.Probability,
		Label:       r.Label,
		SessionID:   r.SessionID,
	}
}

// Diagnostics is served on /diagnostics and in diagnostics replies.
type Diagnostics struct {
	Voice         voice.Diagnostics `json:"voice"`
	Ctrl          ctrl.State        `json:"ctrl"`
	CommandActive bool              `json:"command_active"`
	Clients       int               `json:"clients"`
}
