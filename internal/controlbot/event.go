package controlbot

import "time"

// Clock returns the current time. Tests inject a fake.
type Clock func() time.Time

// EventKind tags inbound notifications delivered by a transport.
type EventKind string

const (
	EventChat EventKind = "chat"
	EventGame EventKind = "game"
)

// GameMode is the kind of a presence notification.
// The numeric values match the game client's event codes.
type GameMode int

const (
	GameTimedOut      GameMode = 0
	GameDroppedErrors GameMode = 1
	GameJoined        GameMode = 2
	GameLeft          GameMode = 3
)

func (m GameMode) String() string {
	switch m {
	case GameTimedOut:
		return "timed_out"
	case GameDroppedErrors:
		return "dropped_errors"
	case GameJoined:
		return "joined"
	case GameLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Event is one inbound notification.
//
// Chat events carry Nick and Text; game events carry Mode, Nick and an
// optional Qualifier (account name shown on join).
type Event struct {
	Kind      EventKind
	Nick      string
	Text      string
	Mode      GameMode
	Qualifier string
}

// Bus event types published by the dispatcher.
const (
	TopicQueued    = "command.queued"
	TopicStarted   = "command.started"
	TopicFinished  = "command.finished"
	TopicDiscarded = "command.discarded"
	TopicBlocked   = "blocklist.added"
)

// CommandEvent is the Data payload for command.* bus events.
type CommandEvent struct {
	Keyword   string        `json:"keyword"`
	Requester string        `json:"requester"`
	Outcome   string        `json:"outcome,omitempty"`
	Error     string        `json:"error,omitempty"`
	Took      time.Duration `json:"took,omitempty"`
}

// Outcomes reported in CommandEvent.Outcome.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeUserError = "user_error"
	OutcomeInternal  = "internal_error"
	OutcomeFlood     = "flood"
	OutcomeUnknown   = "unknown"
	OutcomeCompleted = "completed"
	OutcomeHostile   = "hostile"
)
