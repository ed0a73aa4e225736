package controlbot

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// DefaultMaxChatLength is the longest line the game chat accepts.
const DefaultMaxChatLength = 180

// Request is what an action handler gets to work with.
type Request struct {
	Keyword   string
	Requester string

	// Present reports whether the requester is still in the game.
	// Long-running handlers poll it to decide whether to give up.
	Present func() bool
}

// Handler executes one action for a requester. Returning a *UserError shows
// its message to players; any other error is logged as an internal failure.
type Handler func(ctx context.Context, req Request) (bool, error)

// Action is the static description of a command keyword.
type Action struct {
	Keyword     string
	Description string // empty hides the action from help (aliases)

	ThreatCheck bool // refuse to start while hostiles are around
	OneShot     bool // may succeed at most once per session

	Handler Handler
}

// Descriptor is a point-in-time view of a registered action.
type Descriptor struct {
	Action
	Completed bool
}

type registryEntry struct {
	action    Action
	completed bool
}

// Registry maps keywords to actions. The key set is fixed at construction;
// only the completed flag of one-shot actions changes afterwards.
type Registry struct {
	maxLen int

	mu      sync.RWMutex
	order   []string
	entries map[string]*registryEntry
}

// NewRegistry builds the immutable keyword table. Keywords are normalized to
// lower case; duplicates are rejected.
func NewRegistry(maxLen int, actions ...Action) (*Registry, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxChatLength
	}
	r := &Registry{maxLen: maxLen, entries: make(map[string]*registryEntry, len(actions))}
	for _, a := range actions {
		kw := strings.ToLower(strings.TrimSpace(a.Keyword))
		if kw == "" {
			return nil, fmt.Errorf("registry: empty keyword")
		}
		if a.Handler == nil {
			return nil, fmt.Errorf("registry: %s: nil handler", kw)
		}
		if _, dup := r.entries[kw]; dup {
			return nil, fmt.Errorf("registry: duplicate keyword %q", kw)
		}
		a.Keyword = kw
		r.entries[kw] = &registryEntry{action: a}
		r.order = append(r.order, kw)
	}
	return r, nil
}

func (r *Registry) Has(keyword string) bool {
	_, ok := r.entries[keyword]
	return ok
}

func (r *Registry) Lookup(keyword string) (Descriptor, bool) {
	e, ok := r.entries[keyword]
	if !ok {
		return Descriptor{}, false
	}
	r.mu.RLock()
	d := Descriptor{Action: e.action, Completed: e.completed}
	r.mu.RUnlock()
	return d, true
}

// MarkComplete flags a one-shot action as done. It reports whether the flag
// flipped; repeated calls and repeatable actions are no-ops.
func (r *Registry) MarkComplete(keyword string) bool {
	e, ok := r.entries[keyword]
	if !ok || !e.action.OneShot {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.completed {
		return false
	}
	e.completed = true
	return true
}

// Keywords lists registered keywords in registration order.
func (r *Registry) Keywords() []string {
	return append([]string(nil), r.order...)
}

// Help renders the command listing as whisper-sized chunks for requester.
// Repeatable actions come first as "key (desc), "; one-shot actions follow
// under a rush header. Hidden aliases and completed one-shots are left out.
func (r *Registry) Help(requester string) []string {
	limit := r.maxLen - (len(requester) + 2)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var chunks []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			chunks = append(chunks, b.String())
			b.Reset()
		}
	}
	add := func(item string) {
		if b.Len()+len(item) > limit {
			flush()
		}
		b.WriteString(item)
	}

	for _, kw := range r.order {
		e := r.entries[kw]
		if e.action.Description == "" || e.completed || e.action.OneShot {
			continue
		}
		add(kw + " (" + e.action.Description + "), ")
	}
	flush()

	rush := false
	for _, kw := range r.order {
		e := r.entries[kw]
		if e.action.Description == "" || e.completed || !e.action.OneShot {
			continue
		}
		if !rush {
			b.WriteString("Rush commands (example: rush andy): ")
			rush = true
		}
		add(kw + ", ")
	}
	flush()
	return chunks
}
