package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"reminderbot/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig forwards lines at or above MinLevel to ChatID (0 disables).
// Lines over the RatePerSec budget are dropped.
type TelegramConfig struct {
	ChatID     int64
	MinLevel   string
	RatePerSec int
}

const defaultLogFile = "./reminderbot.log"

// Service owns the log sinks. Loggers derived from it pick up Apply changes.
type Service struct {
	root atomic.Pointer[zerolog.Logger]
	chat *chatSink

	mu   sync.Mutex
	file *os.File
}

// New builds the service and applies cfg. The Telegram sink stays silent until
// SetSender is called.
func New(cfg Config) (*Service, Logger) {
	setGlobals()
	s := &Service{chat: newChatSink()}
	s.swap(newRoot(newConsoleWriter(stderr), cfg.Level))
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) swap(zl zerolog.Logger) { s.root.Store(&zl) }

// SetSender attaches the transport used by the Telegram sink.
func (s *Service) SetSender(sender transport.Sender) { s.chat.setSender(sender) }

// Apply rebuilds the sink set from cfg. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, newConsoleWriter(stderr))
	}
	if f := s.reopenFile(cfg.File); f != nil {
		writers = append(writers, zerolog.SyncWriter(f))
	}
	s.chat.configure(cfg.Telegram)
	if cfg.Telegram.ChatID != 0 {
		s.chat.start()
		writers = append(writers, s.chat)
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(stderr))
	}
	s.swap(newRoot(zerolog.MultiLevelWriter(writers...), cfg.Level))
}

// reopenFile closes the current log file and opens the configured one.
// Must hold s.mu.
func (s *Service) reopenFile(fc FileConfig) *os.File {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if !fc.Enabled {
		return nil
	}
	path := strings.TrimSpace(fc.Path)
	if path == "" {
		path = defaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(stderr, "logx: cannot open log file %q: %v\n", path, err)
		return nil
	}
	s.file = f
	return f
}

// Close flushes pending Telegram lines (bounded) and closes the log file.
// Calling it again is a no-op.
func (s *Service) Close() error {
	s.chat.close()

	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}
