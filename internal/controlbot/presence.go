package controlbot

import "sync"

// Presence tracks who is currently in the game and the qualifier (account
// name) to use when whispering them. It is not authoritative for liveness:
// handlers re-validate reachability themselves.
type Presence struct {
	mu      sync.Mutex
	players map[string]string
	greet   []string

	// idle reports whether the agent is standing idle in a safe spot;
	// only then are newcomers greeted.
	idle func() bool
}

func NewPresence(idle func() bool) *Presence {
	return &Presence{players: map[string]string{}, idle: idle}
}

// OnGameEvent applies a join/leave notification.
func (p *Presence) OnGameEvent(mode GameMode, name, qualifier string) {
	if name == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch mode {
	case GameJoined:
		if p.idle != nil && p.idle() {
			p.greet = append(p.greet, name)
		}
		q := ""
		if qualifier != "" {
			q = "*" + qualifier
		}
		p.players[name] = q
	case GameTimedOut, GameDroppedErrors, GameLeft:
		delete(p.players, name)
	}
}

func (p *Presence) Has(name string) bool {
	p.mu.Lock()
	_, ok := p.players[name]
	p.mu.Unlock()
	return ok
}

// Qualifier returns the whisper address for name, if one was announced.
func (p *Presence) Qualifier(name string) (string, bool) {
	p.mu.Lock()
	q, ok := p.players[name]
	p.mu.Unlock()
	if !ok || q == "" {
		return "", false
	}
	return q, true
}

func (p *Presence) Len() int {
	p.mu.Lock()
	n := len(p.players)
	p.mu.Unlock()
	return n
}

// TakeGreetings drains the greeting queue in arrival order.
func (p *Presence) TakeGreetings() []string {
	p.mu.Lock()
	out := p.greet
	p.greet = nil
	p.mu.Unlock()
	return out
}
