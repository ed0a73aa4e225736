package controlbot

import (
	"bufio"
	"io"
	"sort"
	"strings"
	"sync"
)

// BlockList is the append-only set of players that may not issue commands.
type BlockList struct {
	mu    sync.RWMutex
	names map[string]struct{}

	// onAdd is called (without the lock held) for every newly added name.
	onAdd func(name string)
}

func NewBlockList(names ...string) *BlockList {
	b := &BlockList{names: map[string]struct{}{}}
	for _, n := range names {
		b.insert(n)
	}
	return b
}

// OnAdd installs a hook invoked for runtime additions (used for persistence).
func (b *BlockList) OnAdd(fn func(name string)) {
	b.mu.Lock()
	b.onAdd = fn
	b.mu.Unlock()
}

func (b *BlockList) Has(name string) bool {
	b.mu.RLock()
	_, ok := b.names[name]
	b.mu.RUnlock()
	return ok
}

// Add inserts name and reports whether it was new.
func (b *BlockList) Add(name string) bool {
	b.mu.Lock()
	added := b.insertLocked(name)
	hook := b.onAdd
	b.mu.Unlock()
	if added && hook != nil {
		hook(strings.TrimSpace(name))
	}
	return added
}

// Seed merges a newline-delimited list. Blank lines and lines starting with
// '#' are skipped. Seeding never fires the OnAdd hook.
func (b *BlockList) Seed(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if b.insert(line) {
			n++
		}
	}
	return n, sc.Err()
}

func (b *BlockList) Names() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.names))
	for n := range b.names {
		out = append(out, n)
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (b *BlockList) Len() int {
	b.mu.RLock()
	n := len(b.names)
	b.mu.RUnlock()
	return n
}

func (b *BlockList) insert(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.insertLocked(name)
}

func (b *BlockList) insertLocked(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	if _, ok := b.names[name]; ok {
		return false
	}
	b.names[name] = struct{}{}
	return true
}

// HostileSource reports players currently flagged hostile against the agent.
type HostileSource interface {
	Hostiles() []string
}

// ThreatCheck reports whether a hostile condition is active. It is called
// from the dispatch step without dispatcher locks held and should return
// promptly; a slow check delays the queue.
type ThreatCheck func() bool

// HostileWatch builds the threat predicate from src. When block is non-nil,
// every reported hostile is added to it.
func HostileWatch(src HostileSource, block *BlockList) ThreatCheck {
	return func() bool {
		if src == nil {
			return false
		}
		hostiles := src.Hostiles()
		if block != nil {
			for _, h := range hostiles {
				block.Add(h)
			}
		}
		return len(hostiles) > 0
	}
}
