package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"reminderbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

// tsLayout is fixed-width so text ordering matches time ordering.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteStore struct {
	log logx.Logger

	// mu is held for reading around every query and for writing by Close.
	mu sync.RWMutex
	db *sql.DB
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("chat registry opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) RecordChat(ctx context.Context, rec ChatRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}
	if rec.ChatID == 0 {
		return nil
	}
	if rec.LastSeen.IsZero() {
		rec.LastSeen = time.Now()
	}
	seen := rec.LastSeen.UTC().Format(tsLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats(chat_id, user_id, username, last_command, is_group, first_seen, last_seen, seen_count)
		 VALUES(?,?,?,?,?,?,?,1)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   user_id=excluded.user_id,
		   username=COALESCE(excluded.username, chats.username),
		   last_command=excluded.last_command,
		   is_group=excluded.is_group,
		   last_seen=excluded.last_seen,
		   seen_count=chats.seen_count+1`,
		rec.ChatID, rec.UserID, nullStr(rec.Username), rec.LastCommand, rec.IsGroup, seen, seen,
	)
	return err
}

func (s *sqliteStore) ListChats(ctx context.Context) ([]ChatRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, user_id, COALESCE(username, ''), last_command, is_group, first_seen, last_seen, seen_count
		 FROM chats ORDER BY last_seen DESC, chat_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatRecord
	for rows.Next() {
		var (
			r           ChatRecord
			first, last string
		)
		if err := rows.Scan(&r.ChatID, &r.UserID, &r.Username, &r.LastCommand, &r.IsGroup, &first, &last, &r.SeenCount); err != nil {
			return nil, err
		}
		r.FirstSeen, _ = time.Parse(tsLayout, first)
		r.LastSeen, _ = time.Parse(tsLayout, last)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
