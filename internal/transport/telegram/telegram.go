// Package telegram is a chat adapter that runs the bot in a Telegram group.
// Group messages become chat events, member joins and leaves become presence
// events, and whispers are sent as direct messages.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"controlbot/internal/controlbot"
	rtsup "controlbot/internal/runtime/supervisor"
	"controlbot/internal/transport"
	logx "controlbot/pkg/logx"
)

type Config struct {
	Token       string
	ChatID      int64
	LogChatID   int64 // defaults to ChatID
	PollTimeout time.Duration
	RatePerSec  float64 // outgoing messages per second, default 1

	// Offline skips the getMe call; used by tests.
	Offline bool
}

type Adapter struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	limiter *rate.Limiter

	out     atomic.Value // chan<- controlbot.Event
	dropped atomic.Uint64

	runMu sync.Mutex
	sup   *rtsup.Supervisor

	mu    sync.RWMutex
	users map[string]*tele.User
}

var (
	_ transport.Adapter = (*Adapter)(nil)
	_ transport.LogSink = (*Adapter)(nil)
)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		users:   map[string]*tele.User{},
	}
	var nilOut chan<- controlbot.Event
	a.out.Store(nilOut)

	b.Handle(tele.OnText, a.onText)
	b.Handle(tele.OnUserJoined, a.onJoined)
	b.Handle(tele.OnUserLeft, a.onLeft)
	return a, nil
}

func (a *Adapter) Name() string { return "telegram" }

func (a *Adapter) Self() string {
	if a.bot.Me == nil {
		return ""
	}
	return nick(a.bot.Me)
}

func (a *Adapter) Lookup(name string) bool {
	a.mu.RLock()
	_, ok := a.users[name]
	a.mu.RUnlock()
	return ok
}

// nick is the name players are addressed by: the username when set,
// otherwise the first name.
func nick(u *tele.User) string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName)
}

func (a *Adapter) remember(u *tele.User) string {
	n := nick(u)
	if n == "" || u.IsBot {
		return ""
	}
	a.mu.Lock()
	a.users[n] = u
	a.mu.Unlock()
	return n
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil || m.Chat.ID != a.cfg.ChatID {
		return nil
	}
	n := a.remember(m.Sender)
	if n == "" {
		return nil
	}
	a.emit(controlbot.Event{Kind: controlbot.EventChat, Nick: n, Text: m.Text})
	return nil
}

func (a *Adapter) onJoined(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil || m.Chat.ID != a.cfg.ChatID {
		return nil
	}
	u := m.UserJoined
	if u == nil {
		u = m.Sender
	}
	if n := a.remember(u); n != "" {
		a.emit(controlbot.Event{Kind: controlbot.EventGame, Mode: controlbot.GameJoined, Nick: n})
	}
	return nil
}

func (a *Adapter) onLeft(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil || m.Chat.ID != a.cfg.ChatID || m.UserLeft == nil {
		return nil
	}
	n := nick(m.UserLeft)
	a.mu.Lock()
	delete(a.users, n)
	a.mu.Unlock()
	a.emit(controlbot.Event{Kind: controlbot.EventGame, Mode: controlbot.GameLeft, Nick: n})
	return nil
}

func (a *Adapter) emit(ev controlbot.Event) {
	out, _ := a.out.Load().(chan<- controlbot.Event)
	if out == nil {
		return
	}
	select {
	case out <- ev:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- controlbot.Event) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "telegram"))))
	sup := a.sup

	sup.Go0("telegram.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-ticker.C:
				if n := a.dropped.Swap(0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})
	sup.Go0("telegram.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// Start blocks until Stop; restart it if it returns while still running.
	sup.GoRestart("telegram.poll", func(context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	var nilOut chan<- controlbot.Event
	a.out.Store(nilOut)
	a.runMu.Unlock()
	if sup == nil {
		return nil
	}

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Stop(wctx); err != nil {
		a.log.Warn("telegram stop", logx.Err(err))
	}
	return nil
}

func (a *Adapter) Say(ctx context.Context, text string) error {
	return a.send(ctx, &tele.Chat{ID: a.cfg.ChatID}, text)
}

func (a *Adapter) Whisper(ctx context.Context, to, text string) error {
	a.mu.RLock()
	u := a.users[strings.TrimPrefix(to, "*")]
	a.mu.RUnlock()
	if u == nil {
		return fmt.Errorf("telegram: unknown user %q", to)
	}
	return a.send(ctx, u, text)
}

// SendLog forwards an operator log line to the log chat.
func (a *Adapter) SendLog(ctx context.Context, text string) error {
	id := a.cfg.LogChatID
	if id == 0 {
		id = a.cfg.ChatID
	}
	return a.send(ctx, &tele.Chat{ID: id}, text)
}

func (a *Adapter) send(ctx context.Context, to tele.Recipient, text string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := a.bot.Send(to, text, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
