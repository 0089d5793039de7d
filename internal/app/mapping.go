package app

import (
	"remindbot/internal/config"
	"remindbot/internal/delivery"
	"remindbot/internal/logretention"
	"remindbot/internal/observability/ops"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config, d config.Durations) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: d.BusyTimeout,
	}
}

func mapTelegramConfig(cfg *config.Config, d config.Durations) telegram.Config {
	return telegram.Config{
		Token:             cfg.Telegram.Token,
		PollTimeout:       d.PollTimeout,
		ConnectRetries:    cfg.Telegram.ConnectRetries,
		ConnectRetryDelay: d.ConnectRetryDelay,
	}
}

func mapDeliveryConfig(cfg *config.Config, d config.Durations) delivery.Config {
	return delivery.Config{
		RatePerSec:  cfg.Reminders.RatePerSec,
		SendTimeout: d.SendTimeout,
		RetryMax:    cfg.Reminders.RetryMax,
	}
}

func mapSchedulerConfig(cfg *config.Config, d config.Durations) scheduler.Config {
	return scheduler.Config{
		RecoverLimit:    cfg.Reminders.RecoverLimit,
		DeliveryTimeout: d.DeliveryTimeout,
	}
}

func mapRetentionConfig(cfg *config.Config) logretention.Config {
	return logretention.Config{
		Schedule:   cfg.LogRetention.Schedule,
		DaysToKeep: cfg.LogRetention.DaysToKeep,
	}
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	return ops.Config{Addr: cfg.Ops.Addr}
}
