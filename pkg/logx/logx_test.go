package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminderbot/internal/transport"
)

type captureSender struct {
	mu   sync.Mutex
	msgs map[int64][]string
}

func (c *captureSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.msgs == nil {
		c.msgs = map[int64][]string{}
	}
	c.msgs[to.ChatID] = append(c.msgs[to.ChatID], text)
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (c *captureSender) get(id int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs[id]...)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{" Debug ", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.WarnLevel},
		{"loud", zerolog.WarnLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in, zerolog.WarnLevel), "in=%q", tt.in)
	}
}

func TestNewJSONFieldsAndLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewJSON(&buf, "info").With(String("comp", "sender"))
	log.Debug("hidden")
	log.Info("Sent reminder", Int64("chat_id", -1001))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &m))
	assert.Equal(t, "Sent reminder", m["message"])
	assert.Equal(t, "sender", m["comp"])
	assert.EqualValues(t, -1001, m["chat_id"])
}

func TestNopLogger(t *testing.T) {
	t.Parallel()
	var zero Logger
	assert.True(t, zero.IsZero())
	zero.Error("dropped")
	Nop().Warn("dropped", Err(nil))
}

func TestRenderLine(t *testing.T) {
	t.Parallel()
	got := renderLine([]byte(`{"level":"warn","time":"x","caller":"a.go:1","message":"Failed to send","chat_id":20,"err":"Forbidden"}`))
	assert.Equal(t, "[WARN] Failed to send\n- chat_id=20\n- err=Forbidden", got)

	assert.Equal(t, "not json", renderLine([]byte("  not json \n")))
}

func TestClip(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "abcd", clip("abcdefgh", 4))
	assert.Equal(t, "abcdefg...", clip("abcdefghijklmnop", 10))
	assert.Equal(t, "keep", clip("keep", 0))

	// Two-byte runes: the cut backs up to a rune boundary.
	long := strings.Repeat("ж", 10)
	got := clip(long, 12)
	assert.True(t, utf8.ValidString(got), "%q", got)
	assert.Equal(t, strings.Repeat("ж", 4)+"...", got)
	assert.Equal(t, "жж", clip(long, 5))
	assert.True(t, utf8.ValidString(clip(strings.Repeat("ж", 2000), chatLineMax)))
}

func TestTelegramSinkForwardsWarnings(t *testing.T) {
	t.Parallel()
	sender := &captureSender{}
	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{ChatID: 42, MinLevel: "warn", RatePerSec: 100},
	})
	svc.SetSender(sender)

	log.Info("quiet")
	log.Warn("disk low", String("path", "/var"))
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	got := sender.get(42)
	require.Len(t, got, 1)
	assert.True(t, strings.HasPrefix(got[0], "[WARN] disk low"), got[0])
	assert.Contains(t, got[0], "- path=/var")
}

func TestTelegramSinkWithoutSenderDrops(t *testing.T) {
	t.Parallel()
	svc, log := New(Config{Level: "info", Telegram: TelegramConfig{ChatID: 42}})
	log.Error("nobody listening")
	assert.NoError(t, svc.Close())
}
