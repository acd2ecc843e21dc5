package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"herald/internal/housekeeping"
)

var snowflakeRe = regexp.MustCompile(`^[0-9]{15,21}$`)

// Validate checks cfg without touching the network. Reloads that fail
// validation are rejected and the previous config stays in effect.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	// discord
	if strings.TrimSpace(cfg.Discord.Token) == "" {
		return fmt.Errorf("discord.token is required (or set %s)", EnvDiscordToken)
	}
	if id := strings.TrimSpace(cfg.Discord.GuildID); id != "" && !snowflakeRe.MatchString(id) {
		return fmt.Errorf("discord.guild_id: invalid id %q", id)
	}
	if id := strings.TrimSpace(cfg.Discord.RequiredRoleID); id != "" && !snowflakeRe.MatchString(id) {
		return fmt.Errorf("discord.required_role_id: invalid id %q", id)
	}

	// http
	for k, v := range map[string]string{
		"http.read_timeout":  cfg.HTTP.ReadTimeout,
		"http.write_timeout": cfg.HTTP.WriteTimeout,
		"http.idle_timeout":  cfg.HTTP.IdleTimeout,
	} {
		if _, err := ParseDurationField(k, v); err != nil {
			return err
		}
	}
	if cfg.HTTP.MaxUploadBytes < 0 {
		return fmt.Errorf("http.max_upload_bytes must be >= 0")
	}

	// history
	switch strings.ToLower(strings.TrimSpace(cfg.History.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("history.driver: unknown driver %q", cfg.History.Driver)
	}
	if _, err := ParseDurationField("history.busy_timeout", cfg.History.BusyTimeout); err != nil {
		return err
	}

	if _, err := ParseDurationField("dispatch.send_timeout", cfg.Dispatch.SendTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}

	// alerts
	a := cfg.Alerts
	if a.QueueSize < 0 || a.RatePerSec < 0 || a.RetryMax < 0 {
		return fmt.Errorf("alerts.queue_size, alerts.rate_per_sec and alerts.retry_max must be >= 0")
	}
	if _, err := ParseDurationField("alerts.retry_base", a.RetryBase); err != nil {
		return err
	}
	if _, err := ParseDurationField("alerts.retry_max_delay", a.RetryMaxDelay); err != nil {
		return err
	}
	if a.Enabled {
		if strings.TrimSpace(a.Telegram.Token) == "" {
			return fmt.Errorf("alerts.telegram.token is required when alerts are enabled (or set %s)", EnvTelegramToken)
		}
		if a.Telegram.ChatID == 0 {
			return fmt.Errorf("alerts.telegram.chat_id is required when alerts are enabled")
		}
	}

	if err := housekeeping.ValidateSpec(cfg.Housekeeping.StaleSweep); err != nil {
		return fmt.Errorf("housekeeping.%w", err)
	}

	// logging
	for k, v := range map[string]string{
		"logging.level":            cfg.Logging.Level,
		"logging.alerts.min_level": cfg.Logging.Alerts.MinLevel,
	} {
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "", "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
		default:
			return fmt.Errorf("%s: unknown level %q", k, v)
		}
	}
	if cfg.Logging.Alerts.RatePerSec < 0 {
		return fmt.Errorf("logging.alerts.rate_per_sec must be >= 0")
	}
	if cfg.Logging.Alerts.Enabled && !a.Enabled {
		return fmt.Errorf("logging.alerts.enabled requires alerts.enabled")
	}
	return nil
}
