package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Storage      StorageConfig      `json:"storage"`
	Reminders    RemindersConfig    `json:"reminders"`
	LogRetention LogRetentionConfig `json:"log_retention"`
	Ops          OpsConfig          `json:"ops"`
}

type TelegramConfig struct {
	// Token is normally supplied via BOT_TOKEN, which wins over the file.
	Token string `json:"token,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout       string `json:"poll_timeout"`
	ConnectRetries    int    `json:"connect_retries"`
	ConnectRetryDelay string `json:"connect_retry_delay"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the reminder store.
//
// Example:
//
//	storage: { driver: sqlite, path: ./remindbot.db }
//	storage: { driver: postgres, dsn: "postgres://bot@localhost/remindbot" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// RemindersConfig tunes recovery and delivery.
//
// Defaults: recover_limit 1000, delivery_timeout "60s", send_timeout "10s",
// rate_per_sec 20, retry_max 2 (flood-wait retries only).
type RemindersConfig struct {
	RecoverLimit    int    `json:"recover_limit"`
	DeliveryTimeout string `json:"delivery_timeout"`
	SendTimeout     string `json:"send_timeout"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
}

// LogRetentionConfig prunes old lines from the log file on a cron schedule.
type LogRetentionConfig struct {
	Enabled    bool   `json:"enabled"`
	Schedule   string `json:"schedule"`
	DaysToKeep int    `json:"days_to_keep"`
}

// OpsConfig controls the health/stats/pprof HTTP listener.
// Prefer a loopback address; the endpoints are unauthenticated.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// Defaults returns the configuration used for every omitted key.
func Defaults() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeout:       "10s",
			ConnectRetries:    5,
			ConnectRetryDelay: "3s",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFile{Enabled: true, Path: "bot.log"},
		},
		Storage: StorageConfig{
			Driver:      "sqlite",
			Path:        "./remindbot.db",
			BusyTimeout: "5s",
		},
		Reminders: RemindersConfig{
			RecoverLimit:    1000,
			DeliveryTimeout: "60s",
			SendTimeout:     "10s",
			RatePerSec:      20,
			RetryMax:        2,
		},
		LogRetention: LogRetentionConfig{
			Enabled:    true,
			Schedule:   "@midnight",
			DaysToKeep: 7,
		},
		Ops: OpsConfig{
			Addr: "127.0.0.1:8089",
		},
	}
}

// Durations holds every duration field parsed.
type Durations struct {
	PollTimeout       time.Duration
	ConnectRetryDelay time.Duration
	BusyTimeout       time.Duration
	DeliveryTimeout   time.Duration
	SendTimeout       time.Duration
}

// Durations parses the duration strings; empty values become the defaults.
func (c *Config) Durations() (Durations, error) {
	var (
		d    Durations
		errs []error
	)
	parse := func(dst *time.Duration, path, raw string, def time.Duration) {
		v, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}
	parse(&d.PollTimeout, "telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
	parse(&d.ConnectRetryDelay, "telegram.connect_retry_delay", c.Telegram.ConnectRetryDelay, 3*time.Second)
	parse(&d.BusyTimeout, "storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second)
	parse(&d.DeliveryTimeout, "reminders.delivery_timeout", c.Reminders.DeliveryTimeout, 60*time.Second)
	parse(&d.SendTimeout, "reminders.send_timeout", c.Reminders.SendTimeout, 10*time.Second)
	return d, errors.Join(errs...)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := c.Durations(); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path: required for this driver"))
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn: required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path: required when file logging is enabled"))
	}

	if c.Telegram.ConnectRetries < 0 {
		errs = append(errs, errors.New("telegram.connect_retries: must be >= 0"))
	}
	if c.Reminders.RecoverLimit < 0 {
		errs = append(errs, errors.New("reminders.recover_limit: must be >= 0"))
	}
	if c.Reminders.RatePerSec < 0 {
		errs = append(errs, errors.New("reminders.rate_per_sec: must be >= 0"))
	}
	if c.LogRetention.Enabled {
		if c.LogRetention.DaysToKeep < 1 {
			errs = append(errs, errors.New("log_retention.days_to_keep: must be >= 1"))
		}
		if strings.TrimSpace(c.LogRetention.Schedule) == "" {
			errs = append(errs, errors.New("log_retention.schedule: required when enabled"))
		}
	}
	if c.Ops.Enabled && strings.TrimSpace(c.Ops.Addr) == "" {
		errs = append(errs, errors.New("ops.addr: required when enabled"))
	}
	return errors.Join(errs...)
}
