package app

import (
	"fmt"
	"time"

	"controlbot/internal/actions"
	"controlbot/internal/config"
	"controlbot/internal/controlbot"
	logx "controlbot/pkg/logx"
)

// newSession builds a session with fresh queue, trackers and presence. The
// block list is shared across sessions.
func (a *App) newSession(cfg *config.Config) (*controlbot.Session, error) {
	cb := cfg.ControlBot
	id := newSessionID()
	n := a.sessions.Add(1)
	log := a.log.With(logx.String("comp", "session"), logx.Int64("session", n))

	scfg, err := mapSessionConfig(cb)
	if err != nil {
		return nil, err
	}
	fcfg, err := mapFloodConfig(cb)
	if err != nil {
		return nil, err
	}

	var blocks *controlbot.BlockList
	if cb.ShitList {
		blocks = a.blocks
	}

	presence := controlbot.NewPresence(a.bridge.IdleInTown)
	throttler := controlbot.NewThrottler(
		controlbot.ThrottleConfig{MaxLength: cb.MaxChatLength},
		a.chat, presence, a.chat.Lookup, log.With(logx.String("comp", "throttle")), nil,
	)
	flood := controlbot.NewFloodController(fcfg, throttler, nil)

	var sess *controlbot.Session
	registry, err := actions.NewRegistry(mapActionsConfig(cb), cb.MaxChatLength, actions.Deps{
		World:    a.bridge,
		Notifier: throttler,
		TimeLeft: func() time.Duration { return sess.TimeLeft() },
		Log:      log.With(logx.String("comp", "actions")),
	})
	if err != nil {
		return nil, err
	}

	dispatcher := controlbot.NewDispatcher(controlbot.DispatcherDeps{
		Registry: registry,
		Flood:    flood,
		Threat:   controlbot.HostileWatch(a.bridge, blocks),
		Notifier: throttler,
		Presence: presence,
		Log:      log.With(logx.String("comp", "dispatch")),
		Bus:      a.bus,
	})

	sess = controlbot.NewSession(scfg, controlbot.SessionDeps{
		Classifier: controlbot.NewClassifier(a.chat.Self, registry, blocks),
		Dispatcher: dispatcher,
		Throttler:  throttler,
		Presence:   presence,
		Blocks:     blocks,
		Log:        log,
	})

	if err := a.scheduleJobs(cb, sess, throttler, log); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.session, a.dispatch, a.flood = sess, dispatcher, flood
	a.mu.Unlock()
	a.sessionID.Store(id)
	log.Info("session ready", logx.String("id", id), logx.Strings("commands", registry.Keywords()))
	return sess, nil
}

// scheduleJobs registers the periodic jobs of one session. They are removed
// when the session ends.
func (a *App) scheduleJobs(cb config.ControlBotConfig, sess *controlbot.Session, out controlbot.Notifier, log logx.Logger) error {
	if cb.Chant.Enabled && cb.Chant.AutoEnchant {
		job := actions.AutoEnchant(a.bridge, log)
		if err := a.sched.Add("autochant", autoEnchantSpec(cb), func() {
			sess.QueueIdle("autochant", job)
		}); err != nil {
			return fmt.Errorf("schedule autochant: %w", err)
		}
	}
	for i, ad := range cb.Adverts {
		text := ad.Text
		if err := a.sched.Add(fmt.Sprintf("advert.%d", i), ad.Schedule, func() { out.Say(text) }); err != nil {
			return fmt.Errorf("schedule advert %d: %w", i, err)
		}
	}
	return nil
}

// Health is the JSON document served on /healthz.
type Health struct {
	Transport string                 `json:"transport"`
	Agent     bool                   `json:"agent_connected"`
	Session   int64                  `json:"session"`
	TimeLeft  string                 `json:"time_left"`
	Running   controlbot.RunningSlot `json:"running"`
	Queued    int                    `json:"queued"`
	Blocked   int                    `json:"blocked"`
	Jobs      []string               `json:"jobs,omitempty"`
	Tasks     any                    `json:"tasks,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

func (a *App) health() any {
	h := Health{
		Transport: a.chat.Name(),
		Agent:     a.bridge.Connected(),
		Session:   a.sessions.Load(),
		Blocked:   a.blocks.Len(),
		Jobs:      a.sched.Names(),
	}
	if sess, d := a.sessionHandles(); sess != nil {
		h.TimeLeft = sess.TimeLeft().Round(time.Second).String()
		snap := d.Snapshot()
		h.Running = snap.Running
		h.Queued = len(snap.Queue)
	}
	if a.sup != nil {
		h.Tasks = a.sup.Snapshot()
		if err := a.sup.Err(); err != nil {
			h.Error = err.Error()
		}
	}
	return h
}
