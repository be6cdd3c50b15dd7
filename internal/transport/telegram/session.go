// Package telegram implements transport.Adapter on the Telegram Bot API.
package telegram

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"reminderbot/internal/apperr"
	rtsup "reminderbot/internal/runtime/supervisor"
	kit "reminderbot/internal/transport"
	"reminderbot/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	// added on top of the poll timeout so a long poll never hits the client deadline
	httpSlack   = 30 * time.Second
	stopGrace   = 2 * time.Second
	maxCommands = 100
	maxDescLen  = 256
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// APIURL overrides the Bot API endpoint (self-hosted server or tests).
	APIURL string
	// Offline skips the getMe round-trip in New.
	Offline bool
	// OnDrop is called for every update dropped because the consumer lagged.
	OnDrop func()
}

type state int

const (
	stateIdle state = iota
	statePolling
	stateClosed
)

// Adapter is one Bot API session.
type Adapter struct {
	cfg    Config
	log    logx.Logger
	bot    *tele.Bot
	client *http.Client

	mu      sync.Mutex
	state   state
	updates chan<- kit.Update
	sup     *rtsup.Supervisor // set while polling

	menuMu sync.Mutex
	menu   string // last published command menu

	dropped atomic.Uint64
}

var _ kit.Adapter = (*Adapter)(nil)

// New opens a session. Unless cfg.Offline is set the token is checked with getMe,
// so a bad credential fails here with KindSessionFailed.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	const op = "telegram.New"
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, apperr.New(apperr.KindConfigMissing, op, "telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	client := &http.Client{Timeout: cfg.PollTimeout + httpSlack}

	bot, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Token:   token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Client:  client,
		Offline: cfg.Offline,
		OnError: func(err error, _ tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSessionFailed, op, err)
	}

	a := &Adapter{cfg: cfg, log: log, bot: bot, client: client}
	bot.Handle(tele.OnText, a.onText)
	log.Debug("telegram session opened", logx.String("bot", a.Username()))
	return a, nil
}

// Username is the bot's @username, empty for offline sessions.
func (a *Adapter) Username() string {
	if a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == stateClosed
}

// Close stops polling if needed and releases the session. Safe to call more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	prev := a.state
	a.mu.Unlock()
	if prev == stateClosed {
		return nil
	}
	if prev == statePolling {
		ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
		_ = a.Stop(ctx)
		cancel()
	}
	a.mu.Lock()
	a.state = stateClosed
	a.mu.Unlock()

	a.client.CloseIdleConnections()
	a.log.Debug("telegram session closed")
	return nil
}

// SendText delivers text to one chat. Text over the platform limit goes out as
// several messages; the returned ref is the first one.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if a.isClosed() {
		return kit.MessageRef{}, apperr.New(apperr.KindSessionFailed, "telegram.SendText", "session closed")
	}

	chat := &tele.Chat{ID: to.ChatID}
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}
	for i, part := range splitText(text, textLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return ref, err
		}
		so := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		if i == 0 && opt.ReplyTo != 0 {
			so.ReplyTo = &tele.Message{ID: opt.ReplyTo}
		}
		msg, err := a.send(ctx, chat, part, so)
		if err != nil {
			return ref, err
		}
		if i == 0 {
			ref.MessageID = msg.ID
		}
	}
	return ref, nil
}

// send runs bot.Send but returns as soon as ctx ends. telebot takes no context,
// so an abandoned request finishes in the background within the client timeout.
func (a *Adapter) send(ctx context.Context, chat *tele.Chat, text string, so *tele.SendOptions) (*tele.Message, error) {
	if ctx.Done() == nil {
		return a.bot.Send(chat, text, so)
	}
	type result struct {
		msg *tele.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := a.bot.Send(chat, text, so)
		ch <- result{msg, err}
	}()
	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SetCommands publishes the command menu, skipping the call when it is unchanged.
func (a *Adapter) SetCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	list, key := menuOf(cmds)

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if key == a.menu {
		return nil
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menu = key
	a.log.Info("command menu published", logx.Int("count", len(list)))
	return nil
}

// menuOf normalizes cmds to the platform's rules and returns them with a key
// identifying the menu's content.
func menuOf(cmds []kit.BotCommand) ([]tele.Command, string) {
	list := make([]tele.Command, 0, len(cmds))
	var key strings.Builder
	for _, c := range cmds {
		if len(list) == maxCommands {
			break
		}
		name := strings.TrimPrefix(strings.TrimSpace(c.Command), "/")
		if name == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = name
		}
		if len(desc) > maxDescLen {
			desc = desc[:maxDescLen]
		}
		list = append(list, tele.Command{Text: name, Description: desc})
		key.WriteString(name + "\x00" + desc + "\x00")
	}
	return list, key.String()
}
