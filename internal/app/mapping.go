package app

import (
	"strings"
	"time"

	"reminderbot/internal/config"
	"reminderbot/internal/opsserver"
	"reminderbot/internal/reminder"
	"reminderbot/internal/storage"
	"reminderbot/internal/transport/telegram"
	"reminderbot/pkg/logx"
)

func mapLogConfig(env *config.Env, s *config.Settings) logx.Config {
	level := env.LogLevel
	if lv := strings.TrimSpace(s.Logging.Level); lv != "" {
		level = lv
	}
	return logx.Config{
		Level:   level,
		Console: s.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: s.Logging.File.Enabled,
			Path:    s.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			ChatID:     env.LogChatID,
			MinLevel:   s.Logging.Telegram.MinLevel,
			RatePerSec: s.Logging.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(env *config.Env, s *config.Settings) (telegram.Config, error) {
	poll, err := config.ParseDuration("telegram.poll_timeout", s.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       env.BotToken,
		PollTimeout: poll,
		APIURL:      s.Telegram.APIURL,
	}, nil
}

func mapDeliveryOptions(s *config.Settings) (reminder.Options, error) {
	timeout, err := config.ParseDuration("delivery.send_timeout", s.Delivery.SendTimeout, 0)
	if err != nil {
		return reminder.Options{}, err
	}
	return reminder.Options{Workers: s.Delivery.Workers, SendTimeout: timeout}, nil
}

// mapStorageConfig reports enabled=false when no registry is configured.
func mapStorageConfig(s *config.Settings) (storage.Config, bool, error) {
	if s == nil || s.Storage == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(s.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDuration("storage.busy_timeout", s.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(s.Storage.Path), BusyTimeout: busy}, true, nil
}

func mapOpsConfig(s *config.Settings) (opsserver.Config, error) {
	read, err := config.ParseDuration("ops.read_timeout", s.Ops.ReadTimeout, 10*time.Second)
	if err != nil {
		return opsserver.Config{}, err
	}
	idle, err := config.ParseDuration("ops.idle_timeout", s.Ops.IdleTimeout, 60*time.Second)
	if err != nil {
		return opsserver.Config{}, err
	}
	return opsserver.Config{
		Enabled:       s.Ops.Enabled,
		Addr:          s.Ops.Addr,
		PprofPrefix:   s.Ops.PprofPrefix,
		Token:         s.Ops.Token,
		AllowInsecure: s.Ops.AllowInsecure,
		ReadTimeout:   read,
		IdleTimeout:   idle,
	}, nil
}
