package app

import (
	"streakbot/internal/config"
	"streakbot/internal/notifier"
	"streakbot/internal/observability/debug"
	"streakbot/internal/storage"
	"streakbot/internal/task/engine"
	"streakbot/internal/task/scheduler"
	kit "streakbot/internal/transport"
	logx "streakbot/pkg/logx"
)

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.LogChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func storageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeout.Std(),
		RunHistory:  cfg.Storage.RunHistory,
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Workers:        cfg.Engine.Workers,
		QueueSize:      cfg.Engine.QueueSize,
		DefaultTimeout: cfg.Engine.DefaultTimeout.Std(),
		MaxQueueDelay:  cfg.Engine.MaxQueueDelay.Std(),
		HistorySize:    cfg.Engine.HistorySize,
	}
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.IsEnabled(), Timezone: cfg.Scheduler.Timezone}
}

func notifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		Workers:     cfg.Notifier.Workers,
		QueueSize:   cfg.Notifier.QueueSize,
		RatePerSec:  cfg.Notifier.RatePerSec,
		RetryMax:    cfg.Notifier.RetryMax,
		DedupWindow: cfg.Notifier.DedupWindow.Std(),
		Default:     kit.ChatTarget{ChatID: cfg.Telegram.NotifyChatID},
	}
}

func debugConfig(cfg *config.Config) debug.Config {
	return debug.Config{
		Enabled: cfg.Debug.Enabled,
		Addr:    cfg.Debug.Addr,
		Pprof:   cfg.Debug.Pprof,
		Token:   cfg.Debug.Token,
	}
}
