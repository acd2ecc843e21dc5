package config

import (
	"os"
	"strings"
)

const (
	EnvDiscordToken  = "HERALD_DISCORD_TOKEN"
	EnvTelegramToken = "HERALD_TELEGRAM_TOKEN"
)

// applyEnv fills secrets the file leaves empty.
func applyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if strings.TrimSpace(cfg.Discord.Token) == "" {
		cfg.Discord.Token = strings.TrimSpace(getenv(EnvDiscordToken))
	}
	if strings.TrimSpace(cfg.Alerts.Telegram.Token) == "" {
		cfg.Alerts.Telegram.Token = strings.TrimSpace(getenv(EnvTelegramToken))
	}
}
