// Package app wires the control bot together: config, logging, storage,
// transports, the block list and the session loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"controlbot/internal/config"
	"controlbot/internal/controlbot"
	"controlbot/internal/eventbus"
	"controlbot/internal/runtime/supervisor"
	"controlbot/internal/schedule"
	"controlbot/internal/storage"
	"controlbot/internal/transport"
	"controlbot/internal/transport/bridge"
	"controlbot/internal/transport/telegram"
	logx "controlbot/pkg/logx"
	"controlbot/pkg/systemd"
)

const eventBuffer = 256

type App struct {
	cfgm *config.ConfigManager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	bridge *bridge.Server
	chat   transport.Adapter
	tg     *telegram.Adapter // nil unless chat.transport is telegram

	sched  *schedule.Scheduler
	blocks *controlbot.BlockList
	keeper *blockKeeper

	sup    *supervisor.Supervisor
	events chan controlbot.Event

	// current session state, replaced on every restart
	mu        sync.Mutex
	session   *controlbot.Session
	dispatch  *controlbot.Dispatcher
	flood     *controlbot.FloodController
	sessionID atomic.Value // string
	sessions  atomic.Int64
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    eventbus.New(),
		events: make(chan controlbot.Event, eventBuffer),
	}
	a.sessionID.Store("")

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	bc, err := mapBridgeConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.bridge, err = bridge.New(bc, root.With(logx.String("comp", "bridge")))
	if err != nil {
		return nil, err
	}
	a.bridge.SetHealth(a.health)
	a.chat = a.bridge

	if cfg.Transport() == config.TransportTelegram {
		tc, err := mapTelegramConfig(cfg)
		if err != nil {
			return nil, err
		}
		a.tg, err = telegram.New(tc, root.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		a.chat = a.tg
		logSvc.SetChatSender(a.tg)
	}

	a.sched = schedule.New(root.With(logx.String("comp", "schedule")), schedulerLocation(cfg))

	a.blocks = controlbot.NewBlockList()
	a.keeper = &blockKeeper{
		list:  a.blocks,
		file:  cfg.ControlBot.ShitListFile,
		store: a.store,
		bus:   a.bus,
		log:   root.With(logx.String("comp", "blocklist")),
	}
	return a, nil
}

// Done is closed once the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()
	cfg := a.cfgm.Get()

	if cfg.ControlBot.ShitList {
		if n, err := a.keeper.seedFile(); err != nil {
			a.log.Warn("block list file unreadable", logx.String("path", a.keeper.file), logx.Err(err))
		} else if n > 0 {
			a.log.Info("block list seeded from file", logx.Int("names", n))
		}
		if n, err := a.keeper.seedStore(runCtx); err != nil {
			a.log.Warn("block list store unreadable", logx.Err(err))
		} else if n > 0 {
			a.log.Info("block list seeded from storage", logx.Int("names", n))
		}
		a.keeper.install(runCtx)
		a.sup.Go("blocklist.watch", a.keeper.watch)
	}

	bridgeEvents := make(chan controlbot.Event, eventBuffer)
	if err := a.bridge.Start(runCtx, bridgeEvents); err != nil {
		return err
	}
	a.sup.Go("bridge.http", a.bridge.ListenAndServe)
	a.sup.Go0("bridge.events", func(c context.Context) { a.forwardBridge(c, bridgeEvents) })

	if a.tg != nil {
		if err := a.tg.Start(runCtx, a.events); err != nil {
			return err
		}
	}

	events, unsub := a.bus.Subscribe(128)
	rec := &auditRecorder{
		store:   a.store,
		log:     a.log.With(logx.String("comp", "audit")),
		session: func() string { s, _ := a.sessionID.Load().(string); return s },
	}
	a.sup.Go0("audit", func(c context.Context) {
		defer unsub()
		rec.run(c, events)
	})

	a.sched.Start()
	a.sup.Go("sessions", a.runSessions)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	if d := systemd.WatchdogInterval(); d > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			systemd.Watchdog(c, d, func() bool { return a.sup.Err() == nil })
		})
	}
	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started",
		logx.String("transport", a.chat.Name()),
		logx.String("bridge", cfg.Bridge.Addr),
	)
	return nil
}

// forwardBridge passes bridge events to the session. With a separate chat
// transport, in-game chat lines are not commands.
func (a *App) forwardBridge(ctx context.Context, in <-chan controlbot.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-in:
			if a.tg != nil && ev.Kind == controlbot.EventChat {
				continue
			}
			select {
			case a.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// runSessions starts a fresh session each time the previous one ends.
func (a *App) runSessions(ctx context.Context) error {
	for ctx.Err() == nil {
		sess, err := a.newSession(a.cfgm.Get())
		if err != nil {
			return err
		}
		err = sess.Run(ctx, a.events)
		a.sched.RemoveAll()
		switch {
		case errors.Is(err, controlbot.ErrSessionOver):
			a.log.Info("session ended; starting next", logx.Int64("sessions", a.sessions.Load()))
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return err
		}
	}
	return nil
}

// reloadLoop applies hot-reloadable sections. Everything under controlbot
// other than flood limits takes effect with the next session.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	a.logs.Apply(mapLogConfig(next))

	if fc, err := mapFloodConfig(next.ControlBot); err != nil {
		a.log.Warn("invalid flood config; keeping previous", logx.Err(err))
	} else {
		a.mu.Lock()
		flood := a.flood
		a.mu.Unlock()
		if flood != nil {
			flood.Apply(fc)
		}
	}

	for _, s := range sections {
		if !config.LiveSections[s] {
			a.log.Warn("config section changed; restart required", logx.String("section", s))
		}
	}
}

// Stop shuts everything down within ctx. Each step is bounded so one slow
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		start := time.Now()
		if err := fn(sctx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("schedule", 2*time.Second, a.sched.Stop)
	step("bridge", 2*time.Second, a.bridge.Stop)
	if a.tg != nil {
		step("telegram", 3*time.Second, a.tg.Stop)
	}
	step("supervisor", 3*time.Second, a.sup.Wait)
	if a.store != nil {
		step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	}

	a.log.Info("stopped")
	return a.logs.Close()
}

// sessionHandles returns the live session objects (nil before the first).
func (a *App) sessionHandles() (*controlbot.Session, *controlbot.Dispatcher) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session, a.dispatch
}

func newSessionID() string { return uuid.NewString() }
