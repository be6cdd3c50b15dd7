package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"reminderbot/internal/apperr"
	"reminderbot/pkg/logx"
)

// Manager owns the optional settings file. With an empty path Load returns
// zero Settings and Watch returns immediately.
type Manager struct {
	path string
	log  logx.Logger

	mu   sync.RWMutex
	cur  *Settings
	sig  []byte // canonical JSON of cur
	subs []chan *Settings
}

func NewManager(path string, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{path: strings.TrimSpace(path), log: log}
}

func (m *Manager) Path() string { return m.path }

// Load reads, validates and commits the settings file.
func (m *Manager) Load() (*Settings, error) {
	s, err := m.Parse()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfigInvalid, "config.settings", err).With("path", m.path)
	}
	m.commit(s)
	return s, nil
}

// Parse reads and validates the settings file without committing it.
func (m *Manager) Parse() (*Settings, error) {
	if m.path == "" {
		return &Settings{}, nil
	}
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return decodeSettings(m.path, b)
}

// decodeSettings decodes YAML or JSON strictly: unknown keys and trailing
// documents are errors.
func decodeSettings(path string, b []byte) (*Settings, error) {
	if isYAMLPath(path) {
		j, err := yamlToJSON(b)
		if err != nil {
			return nil, err
		}
		b = j
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()

	var s Settings
	if err := dec.Decode(&s); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("settings: unexpected data after the first document")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// commit stores s and reports whether it differs from the current settings.
func (m *Manager) commit(s *Settings) bool {
	sig, _ := json.Marshal(s)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil && bytes.Equal(sig, m.sig) {
		return false
	}
	m.cur, m.sig = s, sig
	return true
}

// Subscribe returns a channel receiving committed reloads. A slow subscriber
// skips intermediate versions but always gets the latest.
func (m *Manager) Subscribe(buffer int) <-chan *Settings {
	ch := make(chan *Settings, max(buffer, 1))
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) publish(s *Settings) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		// full: discard the oldest pending version
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

// reload re-reads the file. An invalid file is logged and the current settings stay.
func (m *Manager) reload() {
	s, err := m.Parse()
	if err != nil {
		m.log.Warn("settings rejected", logx.String("path", m.path), logx.Err(err))
		return
	}
	if !m.commit(s) {
		m.log.Debug("settings unchanged", logx.String("path", m.path))
		return
	}
	m.publish(s)
	m.log.Info("settings reloaded", logx.String("path", m.path))
}
