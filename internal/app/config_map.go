package app

import (
	"strings"
	"time"

	"herald/internal/api"
	"herald/internal/config"
	"herald/internal/history"
	"herald/internal/housekeeping"
	"herald/internal/notifier"
	"herald/internal/transport"
	logx "herald/pkg/logx"
)

const (
	defaultHistoryFile   = "data/history.json"
	defaultHistorySQLite = "data/history.db"
)

func mapHistoryConfig(cfg *config.Config) (history.Config, error) {
	hc := cfg.History
	driver := strings.ToLower(strings.TrimSpace(hc.Driver))
	if driver == "" {
		driver = "file"
	}
	path := strings.TrimSpace(hc.Path)
	busy, err := config.ParseDurationOrDefault("history.busy_timeout", hc.BusyTimeout, time.Second)
	if err != nil {
		return history.Config{}, err
	}
	switch driver {
	case "sqlite", "sqlite3":
		if path == "" {
			path = defaultHistorySQLite
		}
	default:
		if path == "" {
			path = defaultHistoryFile
		}
	}
	return history.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

func mapServerConfig(cfg *config.Config) (api.ServerConfig, error) {
	h := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 30*time.Second)
	if err != nil {
		return api.ServerConfig{}, err
	}
	// Multipart uploads can be slow; 0 keeps writes unbounded unless set.
	write, err := config.ParseDurationField("http.write_timeout", h.WriteTimeout)
	if err != nil {
		return api.ServerConfig{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 2*time.Minute)
	if err != nil {
		return api.ServerConfig{}, err
	}
	addr := strings.TrimSpace(h.Addr)
	if addr == "" {
		addr = api.DefaultAddr
	}
	return api.ServerConfig{Addr: addr, ReadTimeout: read, WriteTimeout: write, IdleTimeout: idle}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	a := cfg.Alerts
	base, err := config.ParseDurationField("alerts.retry_base", a.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("alerts.retry_max_delay", a.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMax := a.RetryMax
	if retryMax == 0 {
		retryMax = 3
	}
	// Zero values fall back to the notifier's own defaults.
	return notifier.Config{
		Enabled:       a.Enabled,
		Target:        alertTarget(cfg),
		QueueSize:     a.QueueSize,
		RatePerSec:    a.RatePerSec,
		RetryMax:      retryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

func alertTarget(cfg *config.Config) transport.Target {
	return transport.Target{ChatID: cfg.Alerts.Telegram.ChatID, ThreadID: cfg.Alerts.Telegram.ThreadID}
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alerts: logx.AlertsConfig{
			Enabled:    l.Alerts.Enabled && cfg.Alerts.Enabled,
			MinLevel:   l.Alerts.MinLevel,
			RatePerSec: l.Alerts.RatePerSec,
		},
	}
}

func mapHousekeepingConfig(cfg *config.Config) housekeeping.Config {
	return housekeeping.Config{
		Enabled:    cfg.Housekeeping.IsEnabled(),
		StaleSweep: cfg.Housekeeping.StaleSweep,
		Timezone:   cfg.Scheduler.Timezone,
	}
}

func uploadLimits(cfg *config.Config) (string, int64) {
	dir := strings.TrimSpace(cfg.HTTP.UploadDir)
	if dir == "" {
		dir = api.DefaultUploadDir
	}
	limit := cfg.HTTP.MaxUploadBytes
	if limit <= 0 {
		limit = api.DefaultMaxUploadBytes
	}
	return dir, limit
}
