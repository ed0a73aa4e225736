package config

import (
	"reflect"
	"sort"
	"strings"

	logx "controlbot/pkg/logx"
)

// SummarizeConfigChange lists the top-level sections that differ and a set
// of log fields describing the new values. Secrets (tokens) are never
// included, only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Transport() != newCfg.Transport() {
		changed = append(changed, "chat")
		attrs = append(attrs, logx.String("chat.transport", newCfg.Transport()))
	}

	if !reflect.DeepEqual(oldCfg.Bridge, newCfg.Bridge) {
		changed = append(changed, "bridge")
		attrs = append(attrs,
			logx.String("bridge.addr", newCfg.Bridge.Addr),
			logx.Bool("bridge.pprof", newCfg.Bridge.Pprof),
		)
	}

	if !reflect.DeepEqual(derefTelegram(oldCfg.Telegram), derefTelegram(newCfg.Telegram)) {
		tg := derefTelegram(newCfg.Telegram)
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(tg.Token) != ""),
			logx.Int64("telegram.chat_id", tg.ChatID),
			logx.String("telegram.poll_timeout", tg.PollTimeout),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	if derefStorage(oldCfg.Storage) != derefStorage(newCfg.Storage) {
		st := derefStorage(newCfg.Storage)
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", st.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(st.Path) != ""),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}

	if !reflect.DeepEqual(oldCfg.ControlBot, newCfg.ControlBot) {
		cb := newCfg.ControlBot
		changed = append(changed, "controlbot")
		attrs = append(attrs,
			logx.String("controlbot.game_length", cb.GameLength),
			logx.Bool("controlbot.shitlist", cb.ShitList),
			logx.Int("controlbot.flood.threshold", cb.Flood.Threshold),
			logx.Int("controlbot.adverts", len(cb.Adverts)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// LiveSections are applied without a restart; the rest take effect with
// the next session or process start.
var LiveSections = map[string]bool{"logging": true, "controlbot": true}

func derefTelegram(t *TelegramConfig) TelegramConfig {
	if t == nil {
		return TelegramConfig{}
	}
	return *t
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
