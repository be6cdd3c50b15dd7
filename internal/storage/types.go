package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage. Driver "" or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means driver default
}

// ChatRecord is one chat that sent a command to the bot.
type ChatRecord struct {
	ChatID      int64     `json:"chat_id"`
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username,omitempty"`
	LastCommand string    `json:"last_command"`
	IsGroup     bool      `json:"is_group,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	SeenCount   int       `json:"seen_count"`
}

// Store is the chat registry.
type Store interface {
	// RecordChat upserts a sighting: FirstSeen is kept, LastSeen and SeenCount advance.
	// Only ChatID, UserID, Username, LastCommand, IsGroup and LastSeen are read from rec.
	RecordChat(ctx context.Context, rec ChatRecord) error
	// ListChats returns every known chat, most recently seen first.
	ListChats(ctx context.Context) ([]ChatRecord, error)
	Close() error
}

// merge applies a new sighting to an existing record (prev may be zero).
func merge(prev, rec ChatRecord) ChatRecord {
	if rec.LastSeen.IsZero() {
		rec.LastSeen = time.Now()
	}
	out := rec
	out.FirstSeen = rec.LastSeen
	out.SeenCount = 1
	if prev.ChatID != 0 {
		out.FirstSeen = prev.FirstSeen
		out.SeenCount = prev.SeenCount + 1
		if out.Username == "" {
			out.Username = prev.Username
		}
	}
	return out
}
