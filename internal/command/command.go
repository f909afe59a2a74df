package command

import (
	"strings"

	"github.com/MrWong99/genie/pkg/provider/classifier"
)

// Command is the abstract action recognised from a spoken phrase.
type Command int

const (
	// None means no actionable command; see [Result.Label] for why.
	None Command = iota

	CancelSession
	Sleep
	OTAEnter
	AskServer

	NextEffect
	PrevEffect
	PauseToggle

	BrightnessUp
	BrightnessDown
	SpeedUp
	SpeedDown
	VolumeUp
	VolumeDown
	Mute
)

var commandNames = map[Command]string{
	None:           "NONE",
	CancelSession:  "CANCEL_SESSION",
	Sleep:          "SLEEP",
	OTAEnter:       "OTA_ENTER",
	AskServer:      "ASK_SERVER",
	NextEffect:     "NEXT_EFFECT",
	PrevEffect:     "PREV_EFFECT",
	PauseToggle:    "PAUSE_TOGGLE",
	BrightnessUp:   "BRIGHTNESS_UP",
	BrightnessDown: "BRIGHTNESS_DOWN",
	SpeedUp:        "SPEED_UP",
	SpeedDown:      "SPEED_DOWN",
	VolumeUp:       "VOLUME_UP",
	VolumeDown:     "VOLUME_DOWN",
	Mute:           "MUTE",
}

// String returns the upper-case command name, e.g. "VOLUME_UP".
func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseCommand is the inverse of [Command.String]. It is case-insensitive.
func ParseCommand(s string) (Command, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for c, name := range commandNames {
		if name == s {
			return c, true
		}
	}
	return None, false
}

// Phrase identifiers shared with the classifier. Several phrases may map to
// one identifier.
const (
	PhraseCancelSession  = 1
	PhraseSleep          = 2
	PhraseOTAEnter       = 3
	PhraseAskServer      = 4
	PhraseNextEffect     = 10
	PhrasePrevEffect     = 11
	PhrasePauseToggle    = 12
	PhraseBrightnessUp   = 20
	PhraseBrightnessDown = 21
	PhraseSpeedUp        = 22
	PhraseSpeedDown      = 23
	PhraseVolumeUp       = 24
	PhraseVolumeDown     = 25
	PhraseMute           = 26
)

var phraseTable = map[int]Command{
	PhraseCancelSession:  CancelSession,
	PhraseSleep:          Sleep,
	PhraseOTAEnter:       OTAEnter,
	PhraseAskServer:      AskServer,
	PhraseNextEffect:     NextEffect,
	PhrasePrevEffect:     PrevEffect,
	PhrasePauseToggle:    PauseToggle,
	PhraseBrightnessUp:   BrightnessUp,
	PhraseBrightnessDown: BrightnessDown,
	PhraseSpeedUp:        SpeedUp,
	PhraseSpeedDown:      SpeedDown,
	PhraseVolumeUp:       VolumeUp,
	PhraseVolumeDown:     VolumeDown,
	PhraseMute:           Mute,
}

// ForPhrase maps a classifier phrase identifier to its command. Unknown
// identifiers yield [None].
func ForPhrase(id int) Command {
	return phraseTable[id]
}

// DefaultPhrases returns the phrase list registered when no phrases are
// configured. Phrases contain letters and spaces only.
func DefaultPhrases() []classifier.Phrase {
	return []classifier.Phrase{
		{ID: PhraseCancelSession, Text: "cancel session"},
		{ID: PhraseCancelSession, Text: "cancel"},
		{ID: PhraseSleep, Text: "sleep"},
		{ID: PhraseSleep, Text: "go to sleep"},
		{ID: PhraseOTAEnter, Text: "ota"},
		{ID: PhraseOTAEnter, Text: "update"},
		{ID: PhraseOTAEnter, Text: "firmware update"},
		{ID: PhraseAskServer, Text: "ask server"},
		{ID: PhraseAskServer, Text: "server"},
		{ID: PhraseNextEffect, Text: "forward"},
		{ID: PhraseNextEffect, Text: "go forward"},
		{ID: PhraseNextEffect, Text: "change"},
		{ID: PhrasePrevEffect, Text: "previous"},
		{ID: PhrasePrevEffect, Text: "go back"},
		{ID: PhrasePauseToggle, Text: "pause"},
		{ID: PhrasePauseToggle, Text: "resume"},
		{ID: PhrasePauseToggle, Text: "continue"},
		{ID: PhraseBrightnessUp, Text: "brighter"},
		{ID: PhraseBrightnessDown, Text: "dimmer"},
		{ID: PhraseSpeedUp, Text: "faster"},
		{ID: PhraseSpeedDown, Text: "slower"},
		{ID: PhraseVolumeUp, Text: "volume up"},
		{ID: PhraseVolumeDown, Text: "volume down"},
		{ID: PhraseMute, Text: "mute"},
	}
}

// Labels carried by results that are not a recognised phrase.
const (
	LabelTimeout       = "timeout"
	LabelModelTimeout  = "mn_timeout"
	LabelDetectedEmpty = "detected_empty"
)

// NoPhrase is the PhraseID of results that did not come from a phrase match.
const NoPhrase = -1

// Result is the single outcome of an armed command session.
type Result struct {
	Command  Command
	PhraseID int

	// Probability is the classifier confidence in [0, 1].
	Probability float64

	// Label is the matched phrase text for detections, or one of the Label*
	// constants otherwise.
	Label string

	// SessionID identifies the armed session that produced the result.
	SessionID string
}

// outcome returns the low-cardinality label used in metrics.
func (r Result) outcome() string {
	if r.PhraseID == NoPhrase {
		return r.Label
	}
	return "detected"
}
