package controlbot

import "strings"

const blockedNotice = "No commands for the shitlisted."

// Verdict is the classifier's decision for one chat line.
type Verdict int

const (
	// Ignore is ordinary chat (or our own echo); nothing happens.
	Ignore Verdict = iota
	// Blocked is a recognized command from a blocked player.
	Blocked
	// Accept is a recognized command to be submitted.
	Accept
)

// PendingCommand is one queued request.
type PendingCommand struct {
	Keyword   string `json:"keyword"`
	Requester string `json:"requester"`
}

// Classifier turns raw chat lines into pending commands.
type Classifier struct {
	self     func() string
	registry *Registry
	blocks   *BlockList
}

// NewClassifier builds a classifier. self returns the agent's own name so its
// echoed lines are never treated as commands.
func NewClassifier(self func() string, registry *Registry, blocks *BlockList) *Classifier {
	return &Classifier{self: self, registry: registry, blocks: blocks}
}

func (c *Classifier) Classify(sender, text string) (PendingCommand, Verdict) {
	if sender == "" || text == "" {
		return PendingCommand{}, Ignore
	}
	if c.self != nil && sender == c.self() {
		return PendingCommand{}, Ignore
	}
	kw := NormalizeKeyword(text)
	if kw == "" || !c.registry.Has(kw) {
		return PendingCommand{}, Ignore
	}
	cmd := PendingCommand{Keyword: kw, Requester: sender}
	if c.blocks != nil && c.blocks.Has(sender) {
		return cmd, Blocked
	}
	return cmd, Accept
}

// NormalizeKeyword lower-cases and trims text and reduces "rush <target>"
// to "<target>". A bare "rush" has no keyword.
func NormalizeKeyword(text string) string {
	msg := strings.ToLower(strings.TrimSpace(text))
	fields := strings.Fields(msg)
	if len(fields) > 0 && fields[0] == "rush" {
		if len(fields) < 2 {
			return ""
		}
		return fields[1]
	}
	return msg
}
