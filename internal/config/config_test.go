package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminderbot/internal/apperr"
	"reminderbot/pkg/logx"
)

func TestParseRecipients(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		ids     []int64
		skipped []string
	}{
		{name: "mixed", raw: "1, 2,,abc, 3", ids: []int64{1, 2, 3}, skipped: []string{"abc"}},
		{name: "empty", raw: "", ids: nil},
		{name: "whitespace only", raw: "   \t ", ids: nil},
		{name: "only commas", raw: " , ,, ", ids: nil},
		{name: "negative group ids", raw: "-1001234567890,42", ids: []int64{-1001234567890, 42}},
		{name: "duplicates kept", raw: "7,7, 7", ids: []int64{7, 7, 7}},
		{name: "order kept", raw: "30,10,20", ids: []int64{30, 10, 20}},
		{name: "all invalid", raw: "x, 1.5, 0x10", ids: nil, skipped: []string{"x", "1.5", "0x10"}},
		{name: "overflow skipped", raw: "99999999999999999999,5", ids: []int64{5}, skipped: []string{"99999999999999999999"}},
		{name: "plus sign", raw: "+12", ids: []int64{12}},
		{name: "digit separators", raw: "1_000, -100_123_4", ids: []int64{1000, -1001234}},
		{
			name:    "misplaced separators",
			raw:     "_1,1_,1__0,-_5,1_a",
			ids:     nil,
			skipped: []string{"_1", "1_", "1__0", "-_5", "1_a"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ids, skipped := ParseRecipients(tt.raw)
			assert.Equal(t, tt.ids, ids)
			assert.Equal(t, tt.skipped, skipped)
		})
	}
}

func TestLoadEnvMissingTokenFailsFirst(t *testing.T) {
	t.Parallel()
	// CHAT_IDS is garbage on purpose: the token check must fire before it matters.
	_, err := LoadEnv(EnvOptions{Environ: map[string]string{"CHAT_IDS": "nope"}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfigMissing, apperr.KindOf(err))
	assert.True(t, apperr.IsFatal(err))
	assert.Equal(t, "Missing BOT_TOKEN in environment.", err.Error())

	_, err = LoadEnv(EnvOptions{Environ: map[string]string{"BOT_TOKEN": "   "}})
	assert.Equal(t, apperr.KindConfigMissing, apperr.KindOf(err))

	// A malformed optional variable does not hide the missing credential.
	_, err = LoadEnv(EnvOptions{Environ: map[string]string{"LOG_CHAT_ID": "oops"}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfigMissing, apperr.KindOf(err))
	assert.Equal(t, "Missing BOT_TOKEN in environment.", err.Error())

	_, err = LoadEnv(EnvOptions{Environ: map[string]string{"BOT_TOKEN": "t", "LOG_CHAT_ID": "oops"}})
	assert.Equal(t, apperr.KindConfigInvalid, apperr.KindOf(err))
}

func TestLoadEnvAndRecipients(t *testing.T) {
	t.Parallel()
	e, err := LoadEnv(EnvOptions{Environ: map[string]string{
		"BOT_TOKEN":   "123:abc",
		"CHAT_IDS":    "1, 2,,abc, 3",
		"LOG_CHAT_ID": "-100500",
	}})
	require.NoError(t, err)
	assert.Equal(t, "123:abc", e.BotToken)
	assert.Equal(t, "info", e.LogLevel)
	assert.Equal(t, int64(-100500), e.LogChatID)
	assert.Equal(t, DefaultReminderText, e.Message())

	var buf bytes.Buffer
	ids, err := e.Recipients(logx.NewJSON(&buf, "debug"))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"level":"warn"`)
	assert.Contains(t, lines[0], `"token":"abc"`)
	assert.Contains(t, lines[0], string(apperr.KindRecipientParseSkipped))
}

func TestRecipientsEmptyIsFatal(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "  ", "a,b"} {
		e := &Env{BotToken: "t", ChatIDs: raw}
		ids, err := e.Recipients(logx.Nop())
		require.Error(t, err, "raw=%q", raw)
		assert.Nil(t, ids)
		assert.Equal(t, apperr.KindConfigEmpty, apperr.KindOf(err))
		assert.True(t, apperr.IsFatal(err))
	}
}

func TestMessageOverride(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ping", (&Env{ReminderText: "ping"}).Message())
	assert.Equal(t, DefaultReminderText, (&Env{ReminderText: " \n"}).Message())
	assert.Equal(t,
		"Please review and cancel any unverified withdrawals. Don’t forget to follow up on pending documents and send the necessary emails.",
		DefaultReminderText)
}

func TestLoadEnvReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("BOT_TOKEN=from-dotenv\nREMINDER_TEXT=hello\n"), 0o600))

	t.Setenv("BOT_TOKEN", "")
	os.Unsetenv("BOT_TOKEN")
	t.Setenv("REMINDER_TEXT", "from-process")

	e, err := LoadEnv(EnvOptions{DotEnvPath: path})
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", e.BotToken)
	// Existing process variables win over the file.
	assert.Equal(t, "from-process", e.Message())
	os.Unsetenv("BOT_TOKEN")
}

func TestLoadEnvMissingDotEnvIsFine(t *testing.T) {
	t.Setenv("BOT_TOKEN", "tok")
	e, err := LoadEnv(EnvOptions{DotEnvPath: filepath.Join(t.TempDir(), "absent.env")})
	require.NoError(t, err)
	assert.Equal(t, "tok", e.BotToken)
}

func TestDecodeSettings(t *testing.T) {
	t.Parallel()

	yml := []byte(`
logging:
  level: debug
  console: false
telegram:
  poll_timeout: 30s
delivery:
  workers: 4
  send_timeout: 5s
storage:
  driver: sqlite
  path: ./chats.db
ops:
  enabled: true
  addr: 127.0.0.1:9464
`)
	s, err := decodeSettings("settings.yaml", yml)
	require.NoError(t, err)
	assert.Equal(t, "debug", s.Logging.Level)
	assert.False(t, s.Logging.ConsoleEnabled())
	assert.Equal(t, 4, s.Delivery.Workers)
	require.NotNil(t, s.Storage)
	assert.Equal(t, "sqlite", s.Storage.Driver)
	assert.True(t, s.Ops.Enabled)

	s, err = decodeSettings("settings.json", []byte(`{"delivery":{"workers":2}}`))
	require.NoError(t, err)
	assert.True(t, s.Logging.ConsoleEnabled())
	assert.Equal(t, 2, s.Delivery.Workers)

	s, err = decodeSettings("empty.yml", []byte(""))
	require.NoError(t, err)
	assert.Equal(t, Settings{}, *s)
}

func TestDecodeSettingsRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		path string
		body string
	}{
		{"unknown field", "s.json", `{"delivery":{"wrokers":2}}`},
		{"trailing data", "s.json", `{} {}`},
		{"bad duration", "s.yaml", "telegram:\n  poll_timeout: soon\n"},
		{"negative workers", "s.json", `{"delivery":{"workers":-1}}`},
		{"unknown storage driver", "s.json", `{"storage":{"driver":"redis","path":"x"}}`},
		{"storage without path", "s.json", `{"storage":{"driver":"file"}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := decodeSettings(tt.path, []byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestManagerWithoutPath(t *testing.T) {
	t.Parallel()
	m := NewManager("", logx.Nop())
	s, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, &Settings{}, s)
	assert.NoError(t, m.Watch(context.Background()))
}

func TestManagerLoadInvalidIsFatalKind(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"nope":1}`), 0o600))

	_, err := NewManager(path, logx.Nop()).Load()
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfigInvalid, apperr.KindOf(err))
}

func TestManagerWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))

	m := NewManager(path, logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)
	updates := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))

	select {
	case s := <-updates:
		assert.Equal(t, "debug", s.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no settings update published")
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		def     time.Duration
		want    time.Duration
		wantErr bool
	}{
		{"", 10 * time.Second, 10 * time.Second, false},
		{"  ", 0, 0, false},
		{"0s", time.Second, time.Second, false},
		{"1m30s", time.Second, 90 * time.Second, false},
		{"soon", time.Second, 0, true},
		{"-5s", time.Second, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDuration("ops.read_timeout", tt.raw, tt.def)
		if tt.wantErr {
			require.Error(t, err, "raw=%q", tt.raw)
			assert.Contains(t, err.Error(), "ops.read_timeout")
			continue
		}
		require.NoError(t, err, "raw=%q", tt.raw)
		assert.Equal(t, tt.want, got, "raw=%q", tt.raw)
	}
}

func TestManagerReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	write := func(body string) {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	write("logging:\n  level: info\n")
	m := NewManager(path, logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)
	updates := m.Subscribe(1)

	write("logging:\n  level: debug\n")
	m.reload()
	write("logging:\n  level: warn\n")
	m.reload()
	require.Len(t, updates, 1, "slow subscriber keeps only the latest")
	assert.Equal(t, "warn", (<-updates).Logging.Level)

	m.reload()
	assert.Empty(t, updates, "unchanged file is not republished")

	write("logging:\n  level: [oops\n")
	m.reload()
	assert.Empty(t, updates)

	// The rejected file never replaced the committed one.
	write("logging:\n  level: warn\n")
	m.reload()
	assert.Empty(t, updates, "invalid file keeps current settings")
}
