// Package app wires configuration, logging, the platform session and the
// components for each run mode.
package app

import (
	"io"
	"os"

	"reminderbot/internal/apperr"
	"reminderbot/internal/config"
	"reminderbot/internal/transport"
	"reminderbot/internal/transport/telegram"
	"reminderbot/pkg/logx"
)

// SessionFactory opens a platform session. Tests substitute a fake.
type SessionFactory func(cfg telegram.Config, log logx.Logger) (transport.Adapter, error)

// Options are shared by every run mode.
type Options struct {
	Env config.EnvOptions
	// SettingsPath overrides SETTINGS_FILE.
	SettingsPath string
	NewSession   SessionFactory
	// Stdout receives -list-chats output.
	Stdout io.Writer
}

func (o Options) withDefaults() Options {
	if o.NewSession == nil {
		o.NewSession = openTelegram
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	return o
}

func openTelegram(cfg telegram.Config, log logx.Logger) (transport.Adapter, error) {
	a, err := telegram.New(cfg, log)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// boot is what every mode needs before it touches the platform.
type boot struct {
	env      *config.Env
	settings *config.Settings
	mgr      *config.Manager
	logs     *logx.Service
	log      logx.Logger
}

// bootstrap loads the environment (credential first), then the settings file,
// then builds the logging service. Nothing here talks to the network.
func bootstrap(opts Options) (*boot, error) {
	env, err := config.LoadEnv(opts.Env)
	if err != nil {
		return nil, err
	}
	path, err := config.SettingsPath(opts.Env, opts.SettingsPath)
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = env.SettingsFile
	}

	mgr := config.NewManager(path, logx.NewConsole(env.LogLevel).With(logx.String("comp", "config")))
	settings, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(env, settings))
	if p := mgr.Path(); p != "" {
		log.Debug("settings loaded", logx.String("comp", "config"), logx.String("path", p))
	}
	return &boot{env: env, settings: settings, mgr: mgr, logs: logs, log: log}, nil
}

func (b *boot) openSession(opts Options, onDrop func()) (transport.Adapter, error) {
	cfg, err := mapTelegramConfig(b.env, b.settings)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfigInvalid, "app.session", err)
	}
	cfg.OnDrop = onDrop
	ad, err := opts.NewSession(cfg, b.log.With(logx.String("comp", "telegram")))
	if err != nil {
		if apperr.KindOf(err) == "" {
			err = apperr.Wrap(apperr.KindSessionFailed, "app.session", err)
		}
		return nil, err
	}
	// The log sink can now reach LOG_CHAT_ID.
	b.logs.SetSender(ad)
	return ad, nil
}

// closeSession flushes the log sink while the session still works, then releases it.
func (b *boot) closeSession(ad transport.Adapter) {
	_ = b.logs.Close()
	if err := ad.Close(); err != nil {
		b.log.Warn("session close failed", logx.Err(err))
	}
}
