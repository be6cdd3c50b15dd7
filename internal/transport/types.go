package transport

import (
	"context"
	"time"
)

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

// Update is one inbound event from the platform. Only text messages are forwarded.
type Update struct {
	Message    *Message
	ReceivedAt time.Time
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int // message id to reply to (0 for none)
}

// BotCommand is a single entry of the platform's command menu.
type BotCommand struct {
	Command     string
	Description string
}

// Sender delivers one text message to one chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is a scoped client session with the messaging platform.
//
// Start begins receiving updates into out; Stop stops receiving (new events are
// no longer accepted) and Close releases the session. Close is idempotent.
type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	SetCommands(ctx context.Context, cmds []BotCommand) error
	Close() error
}
