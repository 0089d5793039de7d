package config

import (
	logx "remindbot/pkg/logx"
	"sort"
	"strings"
)

// Change summarizes a reload.
type Change struct {
	// Sections lists every changed top-level section, sorted.
	Sections []string
	// RestartRequired lists the changed sections that only take effect after a restart.
	RestartRequired []string
	// Attrs are safe log fields; secrets such as the token or DSN are never included.
	Attrs []logx.Field
}

// Empty reports whether nothing changed.
func (c Change) Empty() bool { return len(c.Sections) == 0 }

// liveSections are applied at runtime; everything else needs a restart.
var liveSections = map[string]bool{"logging": true}

func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if trim(ot.PollTimeout) != trim(nt.PollTimeout) ||
		ot.ConnectRetries != nt.ConnectRetries ||
		trim(ot.ConnectRetryDelay) != trim(nt.ConnectRetryDelay) ||
		trim(ot.Token) != trim(nt.Token) {
		mark("telegram",
			logx.String("telegram.poll_timeout", trim(nt.PollTimeout)),
			logx.Int("telegram.connect_retries", nt.ConnectRetries),
			logx.Bool("telegram.token_changed", trim(ot.Token) != trim(nt.Token)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oldS, newS := oldCfg.Storage, newCfg.Storage
	if trim(oldS.Driver) != trim(newS.Driver) || trim(oldS.Path) != trim(newS.Path) ||
		trim(oldS.DSN) != trim(newS.DSN) || trim(oldS.BusyTimeout) != trim(newS.BusyTimeout) {
		mark("storage",
			logx.String("storage.driver", trim(newS.Driver)),
			logx.Bool("storage.path_set", trim(newS.Path) != ""),
			logx.Bool("storage.dsn_set", trim(newS.DSN) != ""),
		)
	}

	if oldCfg.Reminders != newCfg.Reminders {
		r := newCfg.Reminders
		mark("reminders",
			logx.Int("reminders.recover_limit", r.RecoverLimit),
			logx.Int("reminders.rate_per_sec", r.RatePerSec),
			logx.Int("reminders.retry_max", r.RetryMax),
		)
	}

	if oldCfg.LogRetention != newCfg.LogRetention {
		lr := newCfg.LogRetention
		mark("log_retention",
			logx.Bool("log_retention.enabled", lr.Enabled),
			logx.String("log_retention.schedule", lr.Schedule),
			logx.Int("log_retention.days_to_keep", lr.DaysToKeep),
		)
	}

	if oldCfg.Ops != newCfg.Ops {
		mark("ops", logx.Bool("ops.enabled", newCfg.Ops.Enabled), logx.String("ops.addr", newCfg.Ops.Addr))
	}

	sort.Strings(ch.Sections)
	for _, s := range ch.Sections {
		if !liveSections[s] {
			ch.RestartRequired = append(ch.RestartRequired, s)
		}
	}
	return ch
}

func trim(s string) string { return strings.TrimSpace(s) }
