package config

// Config is the on-disk configuration (JSON or YAML).
// Durations are Go duration strings ("500ms", "30s", "20m").
type Config struct {
	Chat       ChatConfig       `json:"chat"`
	Bridge     BridgeConfig     `json:"bridge"`
	Telegram   *TelegramConfig  `json:"telegram,omitempty"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	ControlBot ControlBotConfig `json:"controlbot"`
}

const (
	TransportBridge   = "bridge"
	TransportTelegram = "telegram"
)

// ChatConfig selects where players talk to the bot. The bridge always
// executes tasks; with "telegram" only chat moves to a Telegram group.
type ChatConfig struct {
	Transport string `json:"transport"`
}

// BridgeConfig configures the websocket server the game agent dials.
//
// Example:
//
//	"bridge": { "addr": "127.0.0.1:8765", "path": "/bridge" }
type BridgeConfig struct {
	Addr  string `json:"addr"`
	Path  string `json:"path,omitempty"`
	Pprof bool   `json:"pprof,omitempty"`

	HandshakeTimeout string `json:"handshake_timeout,omitempty"`
	PingInterval     string `json:"ping_interval,omitempty"`
	WriteTimeout     string `json:"write_timeout,omitempty"`
	SendBuffer       int    `json:"send_buffer,omitempty"`

	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

type TelegramConfig struct {
	Token     string `json:"token"`
	ChatID    int64  `json:"chat_id"`
	LogChatID int64  `json:"log_chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string  `json:"poll_timeout,omitempty"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards WARN+ lines to the operator chat (telegram only).
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/controlbot" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"`
}

// ControlBotConfig holds the per-session behaviour.
type ControlBotConfig struct {
	GameLength    string `json:"game_length"`
	EndMessage    string `json:"end_message,omitempty"`
	TickInterval  string `json:"tick_interval,omitempty"`
	MaxChatLength int    `json:"max_chat_length,omitempty"`

	// ShitList enables the hostile block list; ShitListFile seeds it and is
	// watched for edits.
	ShitList     bool   `json:"shitlist"`
	ShitListFile string `json:"shitlist_file,omitempty"`

	Flood FloodConfig `json:"flood"`

	Chant ChantConfig     `json:"chant"`
	Cows  CowsConfig      `json:"cows"`
	Wps   WpsConfig       `json:"wps"`
	Bo    bool            `json:"bo"`
	Rush  map[string]bool `json:"rush,omitempty"`

	Adverts []AdvertConfig `json:"adverts,omitempty"`
}

type FloodConfig struct {
	Window    string `json:"window,omitempty"`
	Threshold int    `json:"threshold,omitempty"`
	Cooldown  string `json:"cooldown,omitempty"`
}

type ChantConfig struct {
	Enabled     bool `json:"enabled"`
	AutoEnchant bool `json:"auto_enchant"`
	// AutoEnchantEvery is a schedule spec ("every:30s", "@every 1m", cron).
	AutoEnchantEvery string `json:"auto_enchant_every,omitempty"`
}

type CowsConfig struct {
	Enabled bool `json:"enabled"`
	GetLeg  bool `json:"get_leg"`
}

type WpsConfig struct {
	Enabled      bool `json:"enabled"`
	SecurePortal bool `json:"secure_portal"`
}

// AdvertConfig broadcasts Text on Schedule while a session runs.
type AdvertConfig struct {
	Schedule string `json:"schedule"`
	Text     string `json:"text"`
}
