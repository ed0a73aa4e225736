package app

import (
	"strings"
	"time"

	"controlbot/internal/actions"
	"controlbot/internal/config"
	"controlbot/internal/controlbot"
	"controlbot/internal/storage"
	"controlbot/internal/transport/bridge"
	"controlbot/internal/transport/telegram"
	logx "controlbot/pkg/logx"
)

const defaultAutoEnchantEvery = "every:30s"

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func mapBridgeConfig(cfg *config.Config) (bridge.Config, error) {
	b := cfg.Bridge
	hs, err := config.ParseDurationAtLeast("bridge.handshake_timeout", b.HandshakeTimeout, config.MinBridgeInterval)
	if err != nil {
		return bridge.Config{}, err
	}
	ping, err := config.ParseDurationAtLeast("bridge.ping_interval", b.PingInterval, config.MinBridgeInterval)
	if err != nil {
		return bridge.Config{}, err
	}
	wt, err := config.ParseDurationAtLeast("bridge.write_timeout", b.WriteTimeout, config.MinBridgeInterval)
	if err != nil {
		return bridge.Config{}, err
	}
	return bridge.Config{
		Addr:             strings.TrimSpace(b.Addr),
		Path:             strings.TrimSpace(b.Path),
		Pprof:            b.Pprof,
		HandshakeTimeout: hs,
		PingInterval:     ping,
		WriteTimeout:     wt,
		SendBuffer:       b.SendBuffer,
		AllowedOrigins:   b.AllowedOrigins,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	tg := cfg.Telegram
	if tg == nil {
		return telegram.Config{}, nil
	}
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", tg.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       strings.TrimSpace(tg.Token),
		ChatID:      tg.ChatID,
		LogChatID:   tg.LogChatID,
		PollTimeout: poll,
		RatePerSec:  tg.RatePerSec,
	}, nil
}

// mapStorageConfig reports enabled=false when storage is omitted or "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(cfg.Storage.Path), BusyTimeout: busy}, true, nil
}

func mapFloodConfig(cb config.ControlBotConfig) (controlbot.FloodConfig, error) {
	window, err := config.ParseDurationField("controlbot.flood.window", cb.Flood.Window)
	if err != nil {
		return controlbot.FloodConfig{}, err
	}
	cooldown, err := config.ParseDurationField("controlbot.flood.cooldown", cb.Flood.Cooldown)
	if err != nil {
		return controlbot.FloodConfig{}, err
	}
	return controlbot.FloodConfig{Window: window, Threshold: cb.Flood.Threshold, Cooldown: cooldown}, nil
}

func mapSessionConfig(cb config.ControlBotConfig) (controlbot.SessionConfig, error) {
	length, err := config.ParseDurationOrDefault("controlbot.game_length", cb.GameLength, config.DefaultGameLength)
	if err != nil {
		return controlbot.SessionConfig{}, err
	}
	tick, err := config.ParseDurationField("controlbot.tick_interval", cb.TickInterval)
	if err != nil {
		return controlbot.SessionConfig{}, err
	}
	return controlbot.SessionConfig{Length: length, EndMessage: cb.EndMessage, TickInterval: tick}, nil
}

func mapActionsConfig(cb config.ControlBotConfig) actions.Config {
	rush := make(map[string]bool, len(cb.Rush))
	for k, v := range cb.Rush {
		rush[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return actions.Config{
		Chant: actions.ChantConfig{Enabled: cb.Chant.Enabled, AutoEnchant: cb.Chant.AutoEnchant},
		Cows:  actions.CowsConfig{Enabled: cb.Cows.Enabled, GetLeg: cb.Cows.GetLeg},
		Wps:   actions.WpsConfig{Enabled: cb.Wps.Enabled, SecurePortal: cb.Wps.SecurePortal},
		Bo:    cb.Bo,
		Rush:  rush,
	}
}

func autoEnchantSpec(cb config.ControlBotConfig) string {
	if s := strings.TrimSpace(cb.Chant.AutoEnchantEvery); s != "" {
		return s
	}
	return defaultAutoEnchantEvery
}

func schedulerLocation(cfg *config.Config) *time.Location {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}
