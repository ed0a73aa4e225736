package controlbot

import (
	"context"
	"math/rand"
	"sync"
	"time"
	"unicode/utf8"

	logx "controlbot/pkg/logx"
)

// Notifier queues outgoing chat. Implementations must not block.
type Notifier interface {
	Say(msg string)
	Whisper(to, msg string)
}

// Sender is the transport primitive the Throttler drains into.
// Delivery is fire-and-forget.
type Sender interface {
	Say(ctx context.Context, text string) error
	Whisper(ctx context.Context, to, text string) error
}

// ThrottleConfig paces outgoing chat.
type ThrottleConfig struct {
	MaxLength int           // default 180
	Spacing   time.Duration // default 1s
	JitterMin time.Duration // default 250ms
	JitterMax time.Duration // default 750ms
}

func (c ThrottleConfig) withDefaults() ThrottleConfig {
	if c.MaxLength <= 0 {
		c.MaxLength = DefaultMaxChatLength
	}
	if c.Spacing <= 0 {
		c.Spacing = time.Second
	}
	if c.JitterMin < 0 {
		c.JitterMin = 0
	}
	if c.JitterMin == 0 && c.JitterMax == 0 {
		c.JitterMin, c.JitterMax = 250*time.Millisecond, 750*time.Millisecond
	}
	if c.JitterMax < c.JitterMin {
		c.JitterMax = c.JitterMin
	}
	return c
}

type outbound struct {
	to   string // empty for a broadcast
	text string
}

// Throttler is the single FIFO for outgoing chat. Drain sends at most one
// message per call and keeps a randomized gap between sends.
type Throttler struct {
	cfg    ThrottleConfig
	sender Sender
	log    logx.Logger
	now    Clock

	presence *Presence
	lookup   func(name string) bool

	mu    sync.Mutex
	queue []outbound
	next  time.Time
	rng   *rand.Rand
}

// NewThrottler wires the outbound queue. lookup is the live fallback used to
// validate whisper targets missing from presence; it may be nil.
func NewThrottler(cfg ThrottleConfig, sender Sender, presence *Presence, lookup func(string) bool, log logx.Logger, now Clock) *Throttler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &Throttler{
		cfg:      cfg.withDefaults(),
		sender:   sender,
		log:      log,
		now:      now,
		presence: presence,
		lookup:   lookup,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (t *Throttler) Say(msg string) {
	if msg == "" {
		return
	}
	t.mu.Lock()
	t.queue = append(t.queue, outbound{text: msg})
	t.mu.Unlock()
}

// Whisper queues a private message. Targets that are neither tracked in
// presence nor found by the live lookup are dropped.
func (t *Throttler) Whisper(to, msg string) {
	if to == "" || msg == "" {
		return
	}
	known := t.presence != nil && t.presence.Has(to)
	if !known && (t.lookup == nil || !t.lookup(to)) {
		t.log.Debug("whisper dropped: player not found", logx.String("to", to))
		return
	}
	if t.presence != nil {
		if q, ok := t.presence.Qualifier(to); ok {
			to = q
		}
	}
	t.mu.Lock()
	t.queue = append(t.queue, outbound{to: to, text: msg})
	t.mu.Unlock()
}

func (t *Throttler) Len() int {
	t.mu.Lock()
	n := len(t.queue)
	t.mu.Unlock()
	return n
}

// Drain sends the queue head if the pacing gap has elapsed.
// It reports whether a message was sent.
func (t *Throttler) Drain(ctx context.Context) bool {
	now := t.now()

	t.mu.Lock()
	if len(t.queue) == 0 || now.Before(t.next) {
		t.mu.Unlock()
		return false
	}
	m := t.queue[0]
	t.queue[0] = outbound{}
	t.queue = t.queue[1:]
	t.next = now.Add(t.cfg.Spacing + t.jitterLocked())
	t.mu.Unlock()

	if len(m.text) > t.cfg.MaxLength {
		t.log.Debug("message too long, truncating", logx.Int("len", len(m.text)))
		m.text = truncateRunes(m.text, t.cfg.MaxLength)
	}
	if t.sender == nil {
		return true
	}

	var err error
	if m.to == "" {
		err = t.sender.Say(ctx, m.text)
	} else {
		err = t.sender.Whisper(ctx, m.to, m.text)
	}
	if err != nil {
		t.log.Warn("chat send failed", logx.String("to", m.to), logx.Err(err))
	}
	return true
}

func (t *Throttler) jitterLocked() time.Duration {
	span := t.cfg.JitterMax - t.cfg.JitterMin
	if span <= 0 {
		return t.cfg.JitterMin
	}
	return t.cfg.JitterMin + time.Duration(t.rng.Int63n(int64(span)))
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
