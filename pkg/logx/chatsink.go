package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"reminderbot/internal/transport"
)

const (
	chatQueueSize    = 128
	chatDrainTimeout = 3 * time.Second
	chatLineMax      = 3500
	chatValueMax     = 600
)

type chatLine struct {
	chatID int64
	text   string
}

// chatSink is a zerolog.LevelWriter that forwards rendered lines to a chat.
// Writes never block: lines are dropped when the limiter or the queue is full.
type chatSink struct {
	queue chan chatLine

	mu       sync.Mutex
	sender   transport.Sender
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter
	stop     context.CancelFunc
	done     chan struct{}
	started  bool
}

func newChatSink() *chatSink {
	return &chatSink{queue: make(chan chatLine, chatQueueSize), minLevel: zerolog.WarnLevel}
}

func (c *chatSink) configure(tc TelegramConfig) {
	rps := max(tc.RatePerSec, 1)
	c.mu.Lock()
	c.chatID = tc.ChatID
	c.minLevel = ParseLevel(tc.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()
}

func (c *chatSink) setSender(sender transport.Sender) {
	c.mu.Lock()
	c.sender = sender
	c.mu.Unlock()
}

// start launches the delivery goroutine once.
func (c *chatSink) start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	ctx, cancel := context.WithCancel(context.Background())
	c.stop = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// close stops the goroutine after it drained the queue.
func (c *chatSink) close() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop = nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

func (c *chatSink) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case line := <-c.queue:
			c.deliver(ctx, line)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *chatSink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), chatDrainTimeout)
	defer cancel()
	for ctx.Err() == nil {
		select {
		case line := <-c.queue:
			c.deliver(ctx, line)
		default:
			return
		}
	}
}

func (c *chatSink) deliver(ctx context.Context, line chatLine) {
	c.mu.Lock()
	sender := c.sender
	c.mu.Unlock()
	if sender == nil {
		return
	}
	_, _ = sender.SendText(ctx, transport.ChatTarget{ChatID: line.chatID}, line.text, &transport.SendOptions{DisablePreview: true})
}

func (c *chatSink) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.InfoLevel, p)
}

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	chatID, minLevel, lim := c.chatID, c.minLevel, c.limiter
	c.mu.Unlock()

	if chatID == 0 || level < minLevel || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	if text := renderLine(p); text != "" {
		select {
		case c.queue <- chatLine{chatID: chatID, text: text}:
		default:
		}
	}
	return len(p), nil
}

// renderLine turns one JSON log line into "[LEVEL] message" followed by
// "- key=value" lines in key order.
func renderLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(strings.TrimSpace(string(p)), chatLineMax)
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	for _, k := range []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.CallerFieldName} {
		delete(m, k)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), chatValueMax))
	}
	return clip(b.String(), chatLineMax)
}

// clip shortens s to at most n bytes without splitting a rune, marking the
// cut with "..." when there is room.
func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut, tail := n, ""
	if n >= 10 {
		cut, tail = n-3, "..."
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + tail
}
