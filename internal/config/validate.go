package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"controlbot/internal/actions"
	"controlbot/internal/schedule"
)

const DefaultGameLength = 20 * time.Minute

// Validate checks every field that would otherwise fail at wiring time.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	switch cfg.Transport() {
	case TransportBridge:
	case TransportTelegram:
		tg := cfg.Telegram
		if tg == nil {
			add(errors.New("telegram: section required when chat.transport is telegram"))
			break
		}
		if strings.TrimSpace(tg.Token) == "" {
			add(errors.New("telegram.token is required"))
		}
		if tg.ChatID == 0 {
			add(errors.New("telegram.chat_id is required"))
		}
		if tg.RatePerSec < 0 {
			add(errors.New("telegram.rate_per_sec must be >= 0"))
		}
		dur("telegram.poll_timeout", tg.PollTimeout)
	default:
		add(fmt.Errorf("chat.transport: unknown transport %q", cfg.Chat.Transport))
	}

	if strings.TrimSpace(cfg.Bridge.Addr) == "" {
		add(errors.New("bridge.addr is required"))
	}
	if p := strings.TrimSpace(cfg.Bridge.Path); p != "" && !strings.HasPrefix(p, "/") {
		add(fmt.Errorf("bridge.path must start with '/': %q", p))
	}
	for path, raw := range map[string]string{
		"bridge.handshake_timeout": cfg.Bridge.HandshakeTimeout,
		"bridge.ping_interval":     cfg.Bridge.PingInterval,
		"bridge.write_timeout":     cfg.Bridge.WriteTimeout,
	} {
		_, err := ParseDurationAtLeast(path, raw, MinBridgeInterval)
		add(err)
	}

	if cfg.Logging.Chat.Enabled && cfg.Transport() != TransportTelegram {
		add(errors.New("logging.chat requires chat.transport telegram"))
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				add(errors.New("storage.path is required"))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		dur("storage.busy_timeout", st.BusyTimeout)
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	add(validateControlBot(&cfg.ControlBot))
	return errors.Join(errs...)
}

func validateControlBot(cb *ControlBotConfig) error {
	var errs []error
	if d, err := ParseDurationField("controlbot.game_length", cb.GameLength); err != nil {
		errs = append(errs, err)
	} else if d > 0 && d <= time.Minute {
		errs = append(errs, fmt.Errorf("controlbot.game_length must be longer than 1m, got %s", d))
	}
	for path, raw := range map[string]string{
		"controlbot.tick_interval":  cb.TickInterval,
		"controlbot.flood.window":   cb.Flood.Window,
		"controlbot.flood.cooldown": cb.Flood.Cooldown,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if cb.MaxChatLength < 0 {
		errs = append(errs, errors.New("controlbot.max_chat_length must be >= 0"))
	}
	if cb.Flood.Threshold < 0 {
		errs = append(errs, errors.New("controlbot.flood.threshold must be >= 0"))
	}
	if raw := strings.TrimSpace(cb.Chant.AutoEnchantEvery); raw != "" {
		if _, err := schedule.Parse(raw); err != nil {
			errs = append(errs, fmt.Errorf("controlbot.chant.auto_enchant_every: %w", err))
		}
	}

	known := make(map[string]bool, len(actions.Rush))
	for _, r := range actions.Rush {
		known[r.Keyword] = true
	}
	for kw := range cb.Rush {
		if !known[kw] {
			errs = append(errs, fmt.Errorf("controlbot.rush: unknown quest %q", kw))
		}
	}

	for i, ad := range cb.Adverts {
		if strings.TrimSpace(ad.Text) == "" {
			errs = append(errs, fmt.Errorf("controlbot.adverts[%d].text is empty", i))
		}
		if _, err := schedule.Parse(ad.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("controlbot.adverts[%d].schedule: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Transport returns the normalised chat transport name.
func (c *Config) Transport() string {
	t := strings.ToLower(strings.TrimSpace(c.Chat.Transport))
	if t == "" {
		return TransportBridge
	}
	return t
}
