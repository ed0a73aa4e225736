package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only
}

// AuditEntry records the outcome of one command.
type AuditEntry struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Session   string    `json:"session"`
	Requester string    `json:"requester"`
	Keyword   string    `json:"keyword"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
}
