package controlbot

import (
	"context"
	"fmt"
	"sync"
	"time"

	logx "controlbot/pkg/logx"
)

const (
	defaultTickInterval = 200 * time.Millisecond
	endWarning          = "Next game in 30 seconds."
	endWarningLead      = 30 * time.Second
	endFlushTimeout     = 10 * time.Second
)

// SessionConfig controls one game session.
type SessionConfig struct {
	// Length of the session; zero means unbounded.
	Length       time.Duration
	EndMessage   string
	TickInterval time.Duration
}

// SessionDeps are the per-session structures, created by the caller so tests
// and the app can share them with action handlers.
type SessionDeps struct {
	Classifier *Classifier
	Dispatcher *Dispatcher
	Throttler  *Throttler
	Presence   *Presence
	Blocks     *BlockList
	Log        logx.Logger
	Now        Clock
}

type idleJob struct {
	name string
	fn   func(ctx context.Context)
}

// Session drives the cooperative tick loop: drain one outgoing message,
// greet newcomers, perform one dispatch step, and run idle jobs while the
// queue is empty.
type Session struct {
	cfg SessionConfig
	SessionDeps

	started time.Time

	mu      sync.Mutex
	idle    []idleJob
	warned  bool
	stopped bool
}

func NewSession(cfg SessionConfig, deps SessionDeps) *Session {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Session{cfg: cfg, SessionDeps: deps, started: deps.Now()}
}

// HandleEvent routes one inbound notification. It never executes a handler.
func (s *Session) HandleEvent(ev Event) {
	switch ev.Kind {
	case EventChat:
		s.HandleChat(ev.Nick, ev.Text)
	case EventGame:
		s.Presence.OnGameEvent(ev.Mode, ev.Nick, ev.Qualifier)
	}
}

// HandleChat classifies a chat line and submits recognized commands.
func (s *Session) HandleChat(nick, text string) {
	cmd, verdict := s.Classifier.Classify(nick, text)
	switch verdict {
	case Blocked:
		s.Throttler.Say(blockedNotice)
	case Accept:
		res := s.Dispatcher.Submit(cmd.Keyword, cmd.Requester)
		s.Log.Debug("command submitted",
			logx.String("cmd", cmd.Keyword),
			logx.String("nick", cmd.Requester),
			logx.String("result", res.String()),
		)
	}
}

// QueueIdle schedules fn to run on the tick goroutine the next time the
// dispatcher is idle. A job with the same name already pending is not queued
// twice.
func (s *Session) QueueIdle(name string, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.idle {
		if j.name == name {
			return
		}
	}
	s.idle = append(s.idle, idleJob{name: name, fn: fn})
}

// TimeLeft reports the remaining session time (zero for unbounded sessions).
func (s *Session) TimeLeft() time.Duration {
	if s.cfg.Length <= 0 {
		return 0
	}
	left := s.cfg.Length - s.Now().Sub(s.started)
	if left < 0 {
		return 0
	}
	return left
}

// Tick performs one scheduling step. It returns ErrSessionOver once the
// session length has elapsed.
func (s *Session) Tick(ctx context.Context) error {
	s.Throttler.Drain(ctx)

	for _, nick := range s.Presence.TakeGreetings() {
		if s.Blocks != nil && s.Blocks.Has(nick) {
			continue
		}
		s.Throttler.Say(fmt.Sprintf("Welcome, %s! For a list of commands say 'help'", nick))
	}

	if !s.Dispatcher.Pump(ctx) && s.Dispatcher.Idle() {
		s.runIdleJob(ctx)
	}

	return s.checkClock()
}

func (s *Session) runIdleJob(ctx context.Context) {
	s.mu.Lock()
	if len(s.idle) == 0 {
		s.mu.Unlock()
		return
	}
	job := s.idle[0]
	s.idle = s.idle[1:]
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.Log.Error("panic in idle job", logx.String("job", job.name), logx.Any("panic", r))
		}
	}()
	job.fn(ctx)
}

func (s *Session) checkClock() error {
	if s.cfg.Length <= 0 {
		return nil
	}
	elapsed := s.Now().Sub(s.started)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSessionOver
	}
	if elapsed >= s.cfg.Length {
		s.stopped = true
		if s.cfg.EndMessage != "" {
			s.Throttler.Say(s.cfg.EndMessage)
		}
		return ErrSessionOver
	}
	if !s.warned && elapsed >= s.cfg.Length-endWarningLead {
		s.warned = true
		s.Throttler.Say(endWarning)
	}
	return nil
}

// Run applies events and ticks until ctx ends or the session is over.
// Events are consumed on a separate goroutine so players keep being queued
// while a long handler holds the tick loop.
func (s *Session) Run(ctx context.Context, events <-chan Event) error {
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				s.HandleEvent(ev)
			}
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	s.Log.Info("session started", logx.Duration("length", s.cfg.Length))
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.flush(ctx)
				s.Log.Info("session over")
				return err
			}
		}
	}
}

// flush drains pending outgoing chat so the farewell lines are delivered.
func (s *Session) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, endFlushTimeout)
	defer cancel()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for s.Throttler.Len() > 0 {
		s.Throttler.Drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
