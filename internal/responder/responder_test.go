package responder

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminderbot/internal/metrics"
	"reminderbot/internal/storage"
	"reminderbot/internal/transport"
	"reminderbot/pkg/logx"
)

type sent struct {
	to   transport.ChatTarget
	text string
	opt  *transport.SendOptions
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{to: to, text: text, opt: opt})
	return transport.MessageRef{ChatID: to.ChatID}, f.err
}

func (f *fakeSender) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func msg(chatID, fromID int64, text string) transport.Update {
	return transport.Update{Message: &transport.Message{ID: 9, ChatID: chatID, FromID: fromID, Text: text}}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		bot  string
		want string
		ok   bool
	}{
		{"/start", "", "start", true},
		{"  /id  ", "", "id", true},
		{"/start payload here", "", "start", true},
		{"/START", "", "start", true},
		{"/start@ReminderBot", "reminderbot", "start", true},
		{"/start@other_bot", "reminderbot", "", false},
		{"/start@any", "", "start", true},
		{"/", "", "", false},
		{"/@bot", "", "", false},
		{"hello /start", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseCommand(tt.text, tt.bot)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func TestStartReply(t *testing.T) {
	t.Parallel()
	tx := &fakeSender{}
	m := metrics.New(false)
	var buf bytes.Buffer
	r := New(tx, logx.NewJSON(&buf, "info"), Options{Metrics: m})

	require.True(t, r.Handle(context.Background(), msg(555, 7, "/start")))

	got := tx.all()
	require.Len(t, got, 1)
	assert.Equal(t, int64(555), got[0].to.ChatID)
	assert.Equal(t,
		"Hi! I'll send a daily reminder via Heroku Scheduler.\n\nYour chat id is: 555.\nAdd it to the CHAT_IDS env var (comma-separated for multiple).",
		got[0].text)
	assert.Zero(t, got[0].opt.ReplyTo, "private chats are not quoted")
	assert.Contains(t, buf.String(), `"user_id":7`)
	assert.Contains(t, buf.String(), `"chat_id":555`)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues(CmdStart)))
}

func TestIDReplyInGroup(t *testing.T) {
	t.Parallel()
	tx := &fakeSender{}
	r := New(tx, logx.Nop(), Options{BotUsername: "@reminderbot"})

	up := msg(-100123, 7, "/id@reminderbot")
	up.Message.IsGroup = true
	up.Message.ThreadID = 4
	require.True(t, r.Handle(context.Background(), up))

	got := tx.all()
	require.Len(t, got, 1)
	assert.Equal(t, "Your chat id: -100123", got[0].text)
	assert.Equal(t, 4, got[0].to.ThreadID)
	assert.Equal(t, 9, got[0].opt.ReplyTo)
}

func TestIgnoresOtherMessages(t *testing.T) {
	t.Parallel()
	tx := &fakeSender{}
	r := New(tx, logx.Nop(), Options{BotUsername: "reminderbot"})

	for _, text := range []string{"hello", "/help", "/stop", "/id@someone_else"} {
		assert.False(t, r.Handle(context.Background(), msg(1, 1, text)), text)
	}
	assert.False(t, r.Handle(context.Background(), transport.Update{}))
	assert.Empty(t, tx.all())
}

func TestReplyFailureIsLoggedNotFatal(t *testing.T) {
	t.Parallel()
	tx := &fakeSender{err: errors.New("network down")}
	var buf bytes.Buffer
	r := New(tx, logx.NewJSON(&buf, "info"), Options{})

	assert.True(t, r.Handle(context.Background(), msg(1, 1, "/id")))
	assert.Contains(t, buf.String(), "reply failed")
	assert.Contains(t, buf.String(), "network down")
}

func TestRecordsChatsInRegistry(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "chats.jsonl")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	r := New(&fakeSender{}, logx.Nop(), Options{Store: st})
	up := msg(42, 7, "/start")
	up.Message.FromUsername = "ana"
	up.ReceivedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.Handle(context.Background(), up)
	r.Handle(context.Background(), msg(42, 7, "/id"))
	r.Handle(context.Background(), msg(43, 8, "not a command"))

	chats, err := st.ListChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, int64(42), chats[0].ChatID)
	assert.Equal(t, "ana", chats[0].Username)
	assert.Equal(t, CmdID, chats[0].LastCommand)
	assert.Equal(t, 2, chats[0].SeenCount)
}

func TestRunStopsOnCloseAndCancel(t *testing.T) {
	t.Parallel()
	tx := &fakeSender{}
	r := New(tx, logx.Nop(), Options{})

	updates := make(chan transport.Update, 2)
	updates <- msg(1, 1, "/id")
	updates <- msg(2, 2, "/start")
	close(updates)
	require.NoError(t, r.Run(context.Background(), updates))
	assert.Len(t, tx.all(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, make(chan transport.Update)) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCommandsMenu(t *testing.T) {
	t.Parallel()
	cmds := Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, CmdStart, cmds[0].Command)
	assert.Equal(t, CmdID, cmds[1].Command)
}
