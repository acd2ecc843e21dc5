package config

// Config is the on-disk document. Durations are Go duration strings
// ("500ms", "10s", "1m") parsed with ParseDurationField.
type Config struct {
	Discord      DiscordConfig      `json:"discord"`
	HTTP         HTTPConfig         `json:"http"`
	History      HistoryConfig      `json:"history"`
	Dispatch     DispatchConfig     `json:"dispatch,omitempty"`
	Scheduler    SchedulerConfig    `json:"scheduler,omitempty"`
	Alerts       AlertsConfig       `json:"alerts,omitempty"`
	Housekeeping HousekeepingConfig `json:"housekeeping,omitempty"`
	Logging      LoggingConfig      `json:"logging"`
}

// DiscordConfig holds the bot credentials. The token may also come from
// HERALD_DISCORD_TOKEN.
type DiscordConfig struct {
	Token          string `json:"token"`
	GuildID        string `json:"guild_id"`
	RequiredRoleID string `json:"required_role_id,omitempty"`
	// VerifyToken calls the API once on startup to check the token.
	VerifyToken bool `json:"verify_token,omitempty"`
}

// HTTPConfig controls the web API.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - With no tokens the API is open; a warning is logged on non-loopback addrs.
type HTTPConfig struct {
	Addr   string   `json:"addr,omitempty"`
	Tokens []string `json:"tokens,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	UploadDir      string `json:"upload_dir,omitempty"`       // default: "data/uploads"
	MaxUploadBytes int64  `json:"max_upload_bytes,omitempty"` // per file; default 10 MiB

	// Pprof mounts /debug/pprof behind the same bearer tokens.
	Pprof bool `json:"pprof,omitempty"`
}

// HistoryConfig selects the announcement store.
//
// Example:
//
//	"history": { "driver": "sqlite", "path": "./data/history.db" }
type HistoryConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type DispatchConfig struct {
	SendTimeout string `json:"send_timeout,omitempty"`
}

type SchedulerConfig struct {
	// Timezone for the housekeeping cron. Empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

// AlertsConfig controls operator alerts over Telegram.
//
// Defaults (when fields are omitted/zero):
//   - queue_size: 256
//   - rate_per_sec: 1
//   - retry_max: 3
//   - retry_base: "500ms"
//   - retry_max_delay: "10s"
type AlertsConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramTarget `json:"telegram"`

	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// TelegramTarget is the bot and chat alerts go to. The token may also come
// from HERALD_TELEGRAM_TOKEN.
type TelegramTarget struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// HousekeepingConfig controls periodic maintenance jobs.
//
// Enabled is a pointer so we can distinguish "omitted" (default true) from an
// explicit false.
type HousekeepingConfig struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	StaleSweep string `json:"stale_sweep,omitempty"` // cron spec; default "@every 15m"
}

// IsEnabled reports the effective enabled flag.
func (h HousekeepingConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards log records at or above MinLevel to the alert chat.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}
