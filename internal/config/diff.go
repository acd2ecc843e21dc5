package config

import (
	"reflect"
	"sort"
	"strings"

	logx "herald/pkg/logx"
)

// Change summarizes a reload.
type Change struct {
	// Sections lists changed top-level sections, sorted.
	Sections []string
	// Attrs are safe to log; secrets are reduced to "is set" flags.
	Attrs []logx.Field
	// RestartRequired lists changed settings that only take effect after a
	// restart.
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Diff compares two configs. Hot-reloadable: logging, alerts, http.tokens
// and housekeeping. Everything else is reported as restart-required.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart []string, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.RestartRequired = append(ch.RestartRequired, restart...)
		ch.Attrs = append(ch.Attrs, attrs...)
	}

	// Discord (never log token)
	if od, nd := oldCfg.Discord, newCfg.Discord; od != nd {
		var restart []string
		if od.Token != nd.Token {
			restart = append(restart, "discord.token")
		}
		if od.GuildID != nd.GuildID {
			restart = append(restart, "discord.guild_id")
		}
		if od.RequiredRoleID != nd.RequiredRoleID {
			restart = append(restart, "discord.required_role_id")
		}
		if od.VerifyToken != nd.VerifyToken {
			restart = append(restart, "discord.verify_token")
		}
		mark("discord", restart,
			logx.Bool("discord.token_set", strings.TrimSpace(nd.Token) != ""),
			logx.String("discord.guild_id", nd.GuildID),
		)
	}

	// HTTP: tokens apply live, the listener does not.
	if oh, nh := oldCfg.HTTP, newCfg.HTTP; !reflect.DeepEqual(oh, nh) {
		oTok, nTok := oh.Tokens, nh.Tokens
		oh.Tokens, nh.Tokens = nil, nil
		var restart []string
		if !reflect.DeepEqual(oh, nh) {
			restart = append(restart, "http")
		}
		mark("http", restart,
			logx.String("http.addr", strings.TrimSpace(nh.Addr)),
			logx.Int("http.token_count", len(nTok)),
			logx.Bool("http.tokens_changed", !reflect.DeepEqual(oTok, nTok)),
		)
	}

	if oldCfg.History != newCfg.History {
		mark("history", []string{"history"},
			logx.String("history.driver", newCfg.History.Driver),
			logx.Bool("history.path_set", strings.TrimSpace(newCfg.History.Path) != ""),
		)
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		mark("dispatch", []string{"dispatch"}, logx.String("dispatch.send_timeout", newCfg.Dispatch.SendTimeout))
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		// The timezone only drives the housekeeping cron, which restarts on apply.
		mark("scheduler", nil, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}

	// Alerts (never log token)
	if oa, na := oldCfg.Alerts, newCfg.Alerts; oa != na {
		var restart []string
		if oa.Telegram.Token != na.Telegram.Token {
			restart = append(restart, "alerts.telegram.token")
		}
		mark("alerts", restart,
			logx.Bool("alerts.enabled", na.Enabled),
			logx.Bool("alerts.token_set", strings.TrimSpace(na.Telegram.Token) != ""),
			logx.Int64("alerts.chat_id", na.Telegram.ChatID),
			logx.Int("alerts.rate_per_sec", na.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Housekeeping, newCfg.Housekeeping) {
		mark("housekeeping", nil,
			logx.Bool("housekeeping.enabled", newCfg.Housekeeping.IsEnabled()),
			logx.String("housekeeping.stale_sweep", newCfg.Housekeeping.StaleSweep),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		mark("logging", nil,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
		)
	}

	sort.Strings(ch.Sections)
	sort.Strings(ch.RestartRequired)
	return ch
}
