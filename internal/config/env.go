package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"reminderbot/internal/apperr"
	"reminderbot/pkg/logx"
)

// DefaultReminderText is delivered when REMINDER_TEXT is unset or blank.
const DefaultReminderText = "Please review and cancel any unverified withdrawals. " +
	"Don’t forget to follow up on pending documents and send the necessary emails."

const (
	msgMissingToken = "Missing BOT_TOKEN in environment."
	msgEmptyChatIDs = "CHAT_IDS is empty. Set one or more numeric IDs (comma-separated)."
)

// Env is the process environment surface.
type Env struct {
	BotToken     string `env:"BOT_TOKEN"`
	ChatIDs      string `env:"CHAT_IDS"`
	ReminderText string `env:"REMINDER_TEXT"`

	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogChatID    int64  `env:"LOG_CHAT_ID"`
	SettingsFile string `env:"SETTINGS_FILE"`
}

// EnvOptions controls where LoadEnv reads from.
type EnvOptions struct {
	// DotEnvPath is loaded into the process environment first (missing file is fine).
	// Variables already present in the environment are not overridden.
	DotEnvPath string
	// Environ replaces the process environment entirely (tests).
	Environ map[string]string
}

// LoadEnv reads the environment and checks the credential. The recipient list is
// not inspected here; a missing token fails before CHAT_IDS is ever looked at.
func LoadEnv(opts EnvOptions) (*Env, error) {
	if opts.Environ == nil && opts.DotEnvPath != "" {
		if err := godotenv.Load(opts.DotEnvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.Wrap(apperr.KindConfigInvalid, "config.dotenv", err)
		}
	}

	// The credential is checked before any other variable is decoded.
	var cred struct {
		Token string `env:"BOT_TOKEN"`
	}
	if err := env.Parse(&cred, env.Options{Environment: opts.Environ}); err != nil {
		return nil, apperr.Wrap(apperr.KindConfigInvalid, "config.env", err)
	}
	if strings.TrimSpace(cred.Token) == "" {
		return nil, apperr.New(apperr.KindConfigMissing, "", msgMissingToken)
	}

	var e Env
	if err := env.Parse(&e, env.Options{Environment: opts.Environ}); err != nil {
		return nil, apperr.Wrap(apperr.KindConfigInvalid, "config.env", err)
	}

	e.BotToken = strings.TrimSpace(e.BotToken)
	return &e, nil
}

// SettingsPath resolves the settings file path without requiring the credential.
// A non-empty override (the -settings flag) wins over SETTINGS_FILE.
func SettingsPath(opts EnvOptions, override string) (string, error) {
	if p := strings.TrimSpace(override); p != "" {
		return p, nil
	}
	if opts.Environ == nil && opts.DotEnvPath != "" {
		if err := godotenv.Load(opts.DotEnvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", apperr.Wrap(apperr.KindConfigInvalid, "config.dotenv", err)
		}
	}
	var s struct {
		Path string `env:"SETTINGS_FILE"`
	}
	if err := env.Parse(&s, env.Options{Environment: opts.Environ}); err != nil {
		return "", apperr.Wrap(apperr.KindConfigInvalid, "config.env", err)
	}
	return strings.TrimSpace(s.Path), nil
}

// Message returns the reminder text to deliver.
func (e *Env) Message() string {
	if strings.TrimSpace(e.ReminderText) == "" {
		return DefaultReminderText
	}
	return e.ReminderText
}

// Recipients parses CHAT_IDS, logging one warning per dropped token.
// An empty result is a fatal KindConfigEmpty error.
func (e *Env) Recipients(log logx.Logger) ([]int64, error) {
	ids, skipped := ParseRecipients(e.ChatIDs)
	for _, tok := range skipped {
		log.Warn("Skipping non-numeric CHAT_ID",
			logx.String("token", tok),
			logx.String("kind", string(apperr.KindRecipientParseSkipped)),
		)
	}
	if len(ids) == 0 {
		return nil, apperr.New(apperr.KindConfigEmpty, "", msgEmptyChatIDs)
	}
	return ids, nil
}
