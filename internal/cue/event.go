package cue

import "strings"

// Event identifies a spoken cue.
type Event int

const (
	// Lifecycle.
	BootHello Event = iota
	DeepWakeHello
	DeepSleepBye
	SoftOnHello
	SoftOffBye

	// Session.
	WakeDetected
	SessionCancelled
	NoCmdTimeout
	BusyAlreadyListening

	// Command outcomes.
	CmdOK
	CmdFail
	CmdUnsupported

	// Server flow.
	NeedThinkingServer
	ServerUnavailable
	ServerTimeout
	ServerError

	// OTA lifecycle.
	OTAEnter
	OTAOK
	OTAFail
	OTATimeout

	// Errors.
	ErrGeneric
	ErrStorage
	ErrAudio

	eventCount
)

var eventNames = [eventCount]string{
	"BOOT_HELLO", "DEEP_WAKE_HELLO", "DEEP_SLEEP_BYE", "SOFT_ON_HELLO", "SOFT_OFF_BYE",
	"WAKE_DETECTED", "SESSION_CANCELLED", "NO_CMD_TIMEOUT", "BUSY_ALREADY_LISTENING",
	"CMD_OK", "CMD_FAIL", "CMD_UNSUPPORTED",
	"NEED_THINKING_SERVER", "SERVER_UNAVAILABLE", "SERVER_TIMEOUT", "SERVER_ERROR",
	"OTA_ENTER", "OTA_OK", "OTA_FAIL", "OTA_TIMEOUT",
	"ERR_GENERIC", "ERR_STORAGE", "ERR_AUDIO",
}

// String returns the upper-case event name, e.g. "WAKE_DETECTED".
func (e Event) String() string {
	if e < 0 || e >= eventCount {
		return "UNKNOWN"
	}
	return eventNames[e]
}

// ParseEvent is the case-insensitive inverse of [Event.String].
func ParseEvent(s string) (Event, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range eventNames {
		if name == s {
			return Event(i), true
		}
	}
	return 0, false
}

// Events returns every known event in declaration order.
func Events() []Event {
	out := make([]Event, eventCount)
	for i := range out {
		out[i] = Event(i)
	}
	return out
}

// entry places an event in the on-disk layout: variant v of entry index i
// in group g lives at <root>/<g>/<g>-<ii>-<vv><ext>.
type entry struct {
	group    string
	index    int
	variants int
}

var layout = map[Event]entry{
	BootHello:     {"lc", 1, 3},
	DeepWakeHello: {"lc", 2, 3},
	DeepSleepBye:  {"lc", 3, 3},
	SoftOnHello:   {"lc", 4, 3},
	SoftOffBye:    {"lc", 5, 3},

	WakeDetected:         {"ss", 1, 3},
	SessionCancelled:     {"ss", 2, 3},
	NoCmdTimeout:         {"ss", 3, 3},
	BusyAlreadyListening: {"ss", 4, 3},

	CmdOK:          {"cmd", 1, 3},
	CmdFail:        {"cmd", 2, 3},
	CmdUnsupported: {"cmd", 3, 3},

	NeedThinkingServer: {"srv", 1, 3},
	ServerUnavailable:  {"srv", 2, 3},
	ServerTimeout:      {"srv", 3, 3},
	ServerError:        {"srv", 4, 1},

	OTAEnter:   {"ota", 1, 1},
	OTAOK:      {"ota", 2, 1},
	OTAFail:    {"ota", 3, 1},
	OTATimeout: {"ota", 4, 1},

	ErrGeneric: {"err", 1, 1},
	ErrStorage: {"err", 2, 1},
	ErrAudio:   {"err", 3, 1},
}

// persistent lists the events whose played masks survive restarts.
var persistent = map[Event]bool{
	BootHello:     true,
	DeepWakeHello: true,
	DeepSleepBye:  true,
}
