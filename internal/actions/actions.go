// Package actions builds the keyword table the control bot serves. The table
// is declarative: every entry names its keyword, help text and flags, and is
// kept or dropped by configuration before the registry is built.
package actions

import (
	"context"
	"fmt"
	"time"

	"controlbot/internal/controlbot"
	"controlbot/internal/transport"
	logx "controlbot/pkg/logx"
)

// Config selects which actions are offered.
type Config struct {
	Chant ChantConfig
	Cows  CowsConfig
	Wps   WpsConfig
	Bo    bool
	Rush  map[string]bool // keyed by rush keyword
}

type ChantConfig struct {
	Enabled     bool
	AutoEnchant bool
}

type CowsConfig struct {
	Enabled bool
	GetLeg  bool
}

type WpsConfig struct {
	Enabled      bool
	SecurePortal bool
}

// Deps are the collaborators handlers call into.
type Deps struct {
	World    transport.World
	Notifier controlbot.Notifier
	TimeLeft func() time.Duration
	Log      logx.Logger
	Now      controlbot.Clock
}

// Rush lists the one-shot quest actions in help order.
var Rush = []struct {
	Keyword     string
	Description string
}{
	{"andy", "Rush Andariel"},
	{"cube", "Rush Cube"},
	{"rada", "Rush Radament"},
	{"staff", "Rush Staff"},
	{"amu", "Rush Amulet"},
	{"summoner", "Rush Summoner"},
	{"duri", "Rush Duriel"},
	{"lamesen", "Rush Lamesen"},
	{"eye", "Rush eye"},
	{"brain", "Rush brain"},
	{"heart", "Rush heart"},
	{"trav", "Rush Travincal"},
	{"meph", "Rush Mephisto"},
	{"izzy", "Rush Izual"},
	{"diablo", "Rush Diablo"},
	{"shenk", "Rush Shenk"},
	{"anya", "Rush Anya"},
	{"ancients", "Rush Ancients"},
	{"baal", "Rush Baal"},
}

// NewRegistry filters the action table by cfg and loads it into a registry.
func NewRegistry(cfg Config, maxLen int, deps Deps) (*controlbot.Registry, error) {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	var reg *controlbot.Registry
	table := []controlbot.Action{
		{
			Keyword:     "help",
			Description: "Display commands",
			Handler: func(_ context.Context, req controlbot.Request) (bool, error) {
				for _, chunk := range reg.Help(req.Requester) {
					deps.Notifier.Whisper(req.Requester, chunk)
				}
				return true, nil
			},
		},
		{
			Keyword:     "timeleft",
			Description: "Remaining time for this game",
			Handler: func(context.Context, controlbot.Request) (bool, error) {
				var left time.Duration
				if deps.TimeLeft != nil {
					left = deps.TimeLeft()
				}
				deps.Notifier.Say(FormatTimeLeft(left))
				return true, nil
			},
		},
	}

	if cfg.Chant.Enabled {
		h := worldTask(deps.World, "chant", nil)
		table = append(table,
			controlbot.Action{Keyword: "chant", Description: "Give enchant", Handler: h},
			controlbot.Action{Keyword: "enchant", Handler: h},
		)
	}
	if cfg.Cows.Enabled {
		table = append(table, controlbot.Action{
			Keyword:     "cows",
			Description: "Open cow level",
			ThreatCheck: true,
			Handler:     worldTask(deps.World, "cows", map[string]bool{"get_leg": cfg.Cows.GetLeg}),
		})
	}
	if cfg.Wps.Enabled {
		quota := NewWpQuota(deps.Now)
		table = append(table, controlbot.Action{
			Keyword:     "wps",
			Description: "Give wps in act",
			ThreatCheck: true,
			Handler:     quota.Guard(worldTask(deps.World, "wps", map[string]bool{"secure_portal": cfg.Wps.SecurePortal})),
		})
	}
	if cfg.Bo {
		table = append(table, controlbot.Action{
			Keyword:     "bo",
			Description: "Bo at wp",
			ThreatCheck: true,
			Handler:     worldTask(deps.World, "bo", nil),
		})
	}
	for _, r := range Rush {
		if !cfg.Rush[r.Keyword] {
			continue
		}
		table = append(table, controlbot.Action{
			Keyword:     r.Keyword,
			Description: r.Description,
			ThreatCheck: true,
			OneShot:     true,
			Handler:     worldTask(deps.World, "rush."+r.Keyword, nil),
		})
	}

	r, err := controlbot.NewRegistry(maxLen, table...)
	if err != nil {
		return nil, fmt.Errorf("actions: %w", err)
	}
	reg = r
	deps.Log.Info("action table built", logx.Strings("keywords", reg.Keywords()))
	return reg, nil
}

// worldTask delegates an action to the agent.
func worldTask(w transport.World, action string, opts map[string]bool) controlbot.Handler {
	return func(ctx context.Context, req controlbot.Request) (bool, error) {
		if w == nil {
			return false, transport.ErrNotConnected
		}
		return w.Do(ctx, transport.Task{Action: action, Nick: req.Requester, Opts: opts})
	}
}

// AutoEnchant is the idle job that re-buffs nearby players.
func AutoEnchant(w transport.World, log logx.Logger) func(ctx context.Context) {
	return func(ctx context.Context) {
		if w == nil {
			return
		}
		if _, err := w.Do(ctx, transport.Task{Action: "autochant"}); err != nil {
			log.Debug("auto enchant failed", logx.Err(err))
		}
	}
}

// FormatTimeLeft renders "Time left: M minute(s), S second(s)."; the minute
// part is omitted below one minute.
func FormatTimeLeft(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	m := int(d / time.Minute)
	s := int(d/time.Second) % 60

	out := "Time left: "
	if m > 0 {
		out += fmt.Sprintf("%d minute", m)
		if m > 1 {
			out += "s"
		}
		out += ", "
	}
	out += fmt.Sprintf("%d second", s)
	if s > 1 {
		out += "s."
	} else {
		out += "."
	}
	return out
}
