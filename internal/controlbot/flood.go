package controlbot

import (
	"sync"
	"time"
)

const floodNotice = "You are being ignored for 60 seconds because of flooding."

// FloodConfig bounds how many commands a player may run per window.
type FloodConfig struct {
	Window    time.Duration // default 10s
	Threshold int           // default 5
	Cooldown  time.Duration // default 60s
}

func (c FloodConfig) withDefaults() FloodConfig {
	if c.Window <= 0 {
		c.Window = 10 * time.Second
	}
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = time.Minute
	}
	return c
}

type rateTracker struct {
	windowStart  time.Time
	count        int
	ignoredSince time.Time // zero when not ignored
}

// FloodController keeps a sliding-window counter per player.
// It is consulted once per dequeued command, not per chat line.
type FloodController struct {
	mu       sync.Mutex
	cfg      FloodConfig
	now      Clock
	notify   Notifier
	trackers map[string]*rateTracker
}

func NewFloodController(cfg FloodConfig, notify Notifier, now Clock) *FloodController {
	if now == nil {
		now = time.Now
	}
	return &FloodController{
		cfg:      cfg.withDefaults(),
		now:      now,
		notify:   notify,
		trackers: map[string]*rateTracker{},
	}
}

// Apply swaps the limits at runtime; existing trackers are kept.
func (f *FloodController) Apply(cfg FloodConfig) {
	f.mu.Lock()
	f.cfg = cfg.withDefaults()
	f.mu.Unlock()
}

// Reject records a command attempt by identity and reports whether it must
// be dropped. The first attempt over the threshold starts the cool-down and
// whispers a single notice; attempts during the cool-down are dropped silently.
func (f *FloodController) Reject(identity string) bool {
	now := f.now()

	f.mu.Lock()
	cfg := f.cfg
	t := f.trackers[identity]
	if t == nil {
		t = &rateTracker{windowStart: now}
		f.trackers[identity] = t
	}

	if !t.ignoredSince.IsZero() {
		if now.Sub(t.ignoredSince) < cfg.Cooldown {
			f.mu.Unlock()
			return true
		}
		t.ignoredSince = time.Time{}
		t.count = 0
	}

	t.count++
	if now.Sub(t.windowStart) >= cfg.Window {
		t.windowStart = now
		t.count = 1
		f.mu.Unlock()
		return false
	}
	if t.count <= cfg.Threshold {
		f.mu.Unlock()
		return false
	}
	t.ignoredSince = now
	f.mu.Unlock()

	if f.notify != nil {
		f.notify.Whisper(identity, floodNotice)
	}
	return true
}

// Ignored reports whether identity is inside its cool-down.
func (f *FloodController) Ignored(identity string) bool {
	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.trackers[identity]
	return t != nil && !t.ignoredSince.IsZero() && now.Sub(t.ignoredSince) < f.cfg.Cooldown
}
