// Package transport defines the contracts between the control bot core and
// the outside world: a chat channel that delivers events and carries replies,
// and a world that executes tasks on the controlled agent.
package transport

import (
	"context"
	"errors"

	"controlbot/internal/controlbot"
)

// ErrNotConnected is returned when the remote side is not attached.
var ErrNotConnected = errors.New("transport: not connected")

// Chat is the outgoing chat primitive. Delivery is fire-and-forget.
type Chat interface {
	Say(ctx context.Context, text string) error
	Whisper(ctx context.Context, to, text string) error
}

// Adapter is a chat channel the bot listens on.
type Adapter interface {
	Chat

	Name() string

	// Start begins delivering inbound chat and presence events to out.
	// It returns once the adapter is running.
	Start(ctx context.Context, out chan<- controlbot.Event) error
	Stop(ctx context.Context) error

	// Self is the bot's own name on this channel.
	Self() string
	// Lookup reports whether nick can currently be whispered.
	Lookup(nick string) bool
}

// LogSink is implemented by adapters that can forward operator log lines.
type LogSink interface {
	SendLog(ctx context.Context, text string) error
}

// Task is a unit of work for the controlled agent.
type Task struct {
	Action string          `json:"action"`
	Nick   string          `json:"nick"`
	Opts   map[string]bool `json:"opts,omitempty"`
}

// World is the agent side: world-state queries and task execution.
type World interface {
	// Hostiles lists players currently hostile to the agent.
	Hostiles() []string
	// IdleInTown reports whether the agent is standing idle in a safe area.
	IdleInTown() bool
	// Do runs task to completion. A *controlbot.UserError is returned for
	// failures the requester should see.
	Do(ctx context.Context, task Task) (bool, error)
}
