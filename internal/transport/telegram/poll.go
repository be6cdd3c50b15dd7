package telegram

import (
	"context"
	"errors"
	"time"

	tele "gopkg.in/telebot.v4"

	"reminderbot/internal/apperr"
	rtsup "reminderbot/internal/runtime/supervisor"
	kit "reminderbot/internal/transport"
	"reminderbot/pkg/logx"
)

const dropReportEvery = 5 * time.Second

// Start begins long polling and forwards text messages into out. Calling it
// while already polling is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	switch a.state {
	case stateClosed:
		a.mu.Unlock()
		return apperr.New(apperr.KindSessionFailed, "telegram.Start", "session closed")
	case statePolling:
		a.mu.Unlock()
		return nil
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "telegram"))))
	a.state = statePolling
	a.updates = out
	a.sup = sup
	a.mu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		t := time.NewTicker(dropReportEvery)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				a.reportDrops(cap(out))
			case <-c.Done():
				a.reportDrops(cap(out))
				return
			}
		}
	})
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until bot.Stop; an early return is restarted.
	sup.GoRestart("telebot.poll", func(context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop stops receiving updates, waiting at most a short grace window.
func (a *Adapter) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.updates = nil
	if a.state == statePolling {
		a.state = stateIdle
	}
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	a.log.Info("stopping polling")
	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	if err := sup.Wait(wctx); errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		a.log.Warn("telegram stop timed out", logx.Err(err))
	}
	return nil
}

// onText receives every text message. Commands without their own handler
// (here: all of them) land here too.
func (a *Adapter) onText(c tele.Context) error {
	if msg := toMessage(c.Message()); msg != nil {
		received := time.Now()
		if c.Message().Unixtime > 0 {
			received = c.Message().Time()
		}
		a.forward(kit.Update{Message: msg, ReceivedAt: received})
	}
	return nil
}

func toMessage(m *tele.Message) *kit.Message {
	if m == nil || m.Chat == nil {
		return nil
	}
	msg := &kit.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
		IsGroup:  m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
	}
	return msg
}

// forward hands up to the consumer without blocking the poller.
func (a *Adapter) forward(up kit.Update) {
	a.mu.Lock()
	out := a.updates
	a.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
		if a.cfg.OnDrop != nil {
			a.cfg.OnDrop()
		}
	}
}

func (a *Adapter) reportDrops(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (consumer too slow)", logx.Uint64("count", n), logx.Int("queue_cap", capacity))
	}
}
