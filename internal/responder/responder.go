// Package responder answers the interactive commands users send to the bot.
package responder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reminderbot/internal/metrics"
	"reminderbot/internal/storage"
	"reminderbot/internal/transport"
	"reminderbot/pkg/logx"
)

const (
	CmdStart = "start"
	CmdID    = "id"

	startReply = "Hi! I'll send a daily reminder via Heroku Scheduler.\n\n" +
		"Your chat id is: %d.\n" +
		"Add it to the CHAT_IDS env var (comma-separated for multiple)."
	idReply = "Your chat id: %d"
)

type Options struct {
	// BotUsername filters "/cmd@name" addressed to another bot. Empty accepts any.
	BotUsername string
	// Store records who asked; nil disables it.
	Store   storage.Store
	Metrics *metrics.Metrics
	// ReplyTimeout bounds one reply (default 15s).
	ReplyTimeout time.Duration
}

type Responder struct {
	tx   transport.Sender
	log  logx.Logger
	opts Options
}

func New(tx transport.Sender, log logx.Logger, opts Options) *Responder {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = 15 * time.Second
	}
	opts.BotUsername = strings.TrimPrefix(strings.TrimSpace(opts.BotUsername), "@")
	return &Responder{tx: tx, log: log, opts: opts}
}

// Commands is the menu published to the platform.
func Commands() []transport.BotCommand {
	return []transport.BotCommand{
		{Command: CmdStart, Description: "Show setup instructions and your chat id"},
		{Command: CmdID, Description: "Show this chat's id"},
	}
}

// Run handles updates until the channel is closed or ctx is done.
// Updates already queued when ctx ends are not handled.
func (r *Responder) Run(ctx context.Context, updates <-chan transport.Update) error {
	r.log.Info("Polling started. Press Ctrl+C to stop.")
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Handle(ctx, up)
		}
	}
}

// Handle dispatches one update. It reports whether the update was a known command.
func (r *Responder) Handle(ctx context.Context, up transport.Update) bool {
	m := up.Message
	if m == nil {
		return false
	}
	cmd, ok := ParseCommand(m.Text, r.opts.BotUsername)
	if !ok {
		return false
	}

	var text string
	switch cmd {
	case CmdStart:
		text = fmt.Sprintf(startReply, m.ChatID)
		r.log.Info("START", logx.Int64("user_id", m.FromID), logx.Int64("chat_id", m.ChatID))
	case CmdID:
		text = fmt.Sprintf(idReply, m.ChatID)
		r.log.Info("/id", logx.Int64("chat_id", m.ChatID))
	default:
		return false
	}
	r.opts.Metrics.Command(cmd)

	rctx, cancel := context.WithTimeout(ctx, r.opts.ReplyTimeout)
	defer cancel()

	opt := &transport.SendOptions{}
	if m.IsGroup {
		opt.ReplyTo = m.ID
	}
	if _, err := r.tx.SendText(rctx, transport.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}, text, opt); err != nil {
		r.log.Warn("reply failed", logx.String("command", cmd), logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}

	if r.opts.Store != nil {
		seen := up.ReceivedAt
		if seen.IsZero() {
			seen = time.Now()
		}
		rec := storage.ChatRecord{
			ChatID:      m.ChatID,
			UserID:      m.FromID,
			Username:    m.FromUsername,
			LastCommand: cmd,
			IsGroup:     m.IsGroup,
			LastSeen:    seen,
		}
		if err := r.opts.Store.RecordChat(rctx, rec); err != nil {
			r.log.Warn("chat registry write failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
		}
	}
	return true
}

// ParseCommand extracts the lower-cased command name from "/cmd", "/cmd args" or
// "/cmd@bot". A command addressed to another bot is rejected.
func ParseCommand(text, botUsername string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	head := strings.Fields(text)[0][1:]
	name, target, addressed := strings.Cut(head, "@")
	if name == "" {
		return "", false
	}
	if addressed && botUsername != "" && !strings.EqualFold(target, botUsername) {
		return "", false
	}
	return strings.ToLower(name), true
}
