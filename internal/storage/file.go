package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"reminderbot/pkg/logx"
)

// compactEvery rewrites the journal after this many appends.
const compactEvery = 500

// fileStore is a dependency-free backend: an append-only JSON Lines journal,
// replayed into memory on open and periodically compacted.
type fileStore struct {
	log  logx.Logger
	path string

	mu      sync.Mutex
	journal *os.File
	chats   map[int64]ChatRecord
	writes  int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	chats := map[int64]ChatRecord{}
	if err := replayJournal(path, chats); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("chat registry opened", logx.String("path", path), logx.Int("chats", len(chats)))
	return &fileStore{log: log, path: path, journal: f, chats: chats}, nil
}

func replayJournal(path string, out map[int64]ChatRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r ChatRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ChatID == 0 {
			// A torn last line after a crash is expected; skip it.
			continue
		}
		out[r.ChatID] = r
	}
	return sc.Err()
}

func (s *fileStore) RecordChat(ctx context.Context, rec ChatRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ChatID == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	merged := merge(s.chats[rec.ChatID], rec)
	if err := json.NewEncoder(s.journal).Encode(merged); err != nil {
		return err
	}
	s.chats[rec.ChatID] = merged
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("chat registry compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) ListChats(ctx context.Context) ([]ChatRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	return sortedChats(s.chats), nil
}

// compactLocked rewrites the journal with one line per chat.
func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range sortedChats(s.chats) {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	nf, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_ = s.journal.Close()
	s.journal = nf
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func sortedChats(m map[int64]ChatRecord) []ChatRecord {
	out := make([]ChatRecord, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].ChatID < out[j].ChatID
	})
	return out
}
