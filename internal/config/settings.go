package config

import (
	"errors"
	"fmt"
	"strings"
)

// Settings is the optional settings file (JSON, or YAML by extension).
//
// Every section may be omitted; the zero value is a working configuration.
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Settings struct {
	Logging  LoggingSettings  `json:"logging"`
	Telegram TelegramSettings `json:"telegram"`
	Delivery DeliverySettings `json:"delivery"`
	Storage  *StorageSettings `json:"storage,omitempty"`
	Ops      OpsSettings      `json:"ops"`
	Metrics  MetricsSettings  `json:"metrics"`
}

type LoggingSettings struct {
	// Level overrides LOG_LEVEL when set.
	Level string `json:"level,omitempty"`
	// Console defaults to true when omitted.
	Console  *bool                   `json:"console,omitempty"`
	File     LoggingFileSettings     `json:"file"`
	Telegram LoggingTelegramSettings `json:"telegram"`
}

type LoggingFileSettings struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingTelegramSettings tunes the log sink enabled by LOG_CHAT_ID.
type LoggingTelegramSettings struct {
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type TelegramSettings struct {
	// PollTimeout is the long-poll timeout (default 10s).
	PollTimeout string `json:"poll_timeout,omitempty"`
	// APIURL points at a self-hosted Bot API server (default https://api.telegram.org).
	APIURL string `json:"api_url,omitempty"`
}

// DeliverySettings controls the reminder fan-out.
//
// Defaults:
//   - workers: 1 (sequential, list order)
//   - send_timeout: "0s" (no per-send timeout beyond the HTTP client's)
type DeliverySettings struct {
	Workers     int    `json:"workers,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

// StorageSettings enables the chat registry filled by the responder.
//
// Example:
//
//	storage: { driver: sqlite, path: ./data/chats.db }
type StorageSettings struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// OpsSettings controls the optional HTTP server (healthz, metrics, pprof) in poll mode.
//
// Prefer binding to localhost. A non-loopback address needs a token or allow_insecure.
type OpsSettings struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`         // default: "127.0.0.1:9464"
	PprofPrefix   string `json:"pprof_prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`        // bearer token (never logged)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

// MetricsSettings controls pushing send-mode metrics to a Prometheus Pushgateway.
type MetricsSettings struct {
	PushURL string `json:"push_url,omitempty"`
	Job     string `json:"job,omitempty"` // default: "reminderbot"
}

// ConsoleEnabled reports the effective console flag.
func (l LoggingSettings) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

// Validate reports every invalid field at once.
func (s *Settings) Validate() error {
	var errs []error
	check := func(path, raw string) {
		if _, err := ParseDuration(path, raw, 0); err != nil {
			errs = append(errs, err)
		}
	}
	check("telegram.poll_timeout", s.Telegram.PollTimeout)
	check("delivery.send_timeout", s.Delivery.SendTimeout)
	check("ops.read_timeout", s.Ops.ReadTimeout)
	check("ops.idle_timeout", s.Ops.IdleTimeout)

	if s.Delivery.Workers < 0 {
		errs = append(errs, errors.New("delivery.workers must be >= 0"))
	}
	if s.Logging.Telegram.RatePerSec < 0 {
		errs = append(errs, errors.New("logging.telegram.rate_per_sec must be >= 0"))
	}
	if st := s.Storage; st != nil {
		check("storage.busy_timeout", st.BusyTimeout)
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path is required for driver %q", st.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
	}
	return errors.Join(errs...)
}
