// Package reminder delivers one message to a list of chats, one attempt each.
package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"reminderbot/internal/apperr"
	"reminderbot/internal/metrics"
	"reminderbot/internal/transport"
	"reminderbot/pkg/logx"
)

type Options struct {
	// Workers > 1 sends concurrently; the default is strictly sequential in list order.
	Workers int
	// SendTimeout bounds each attempt; 0 leaves it to the transport.
	SendTimeout time.Duration
	Metrics     *metrics.Metrics
}

type Sender struct {
	tx   transport.Sender
	log  logx.Logger
	opts Options
}

func New(tx transport.Sender, log logx.Logger, opts Options) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Sender{tx: tx, log: log, opts: opts}
}

// Send makes exactly one attempt per recipient, duplicates included.
// A failed attempt is logged and recorded; it never stops the run.
func (s *Sender) Send(ctx context.Context, recipients []int64, text string) Report {
	start := time.Now()
	rep := Report{
		RunID:    uuid.NewString(),
		Attempts: len(recipients),
		Outcomes: make([]Outcome, len(recipients)),
	}
	log := s.log.With(logx.String("run_id", rep.RunID))
	log.Debug("reminder run started", logx.Int("recipients", len(recipients)), logx.Int("workers", s.opts.Workers))

	if s.opts.Workers == 1 || len(recipients) < 2 {
		for i, id := range recipients {
			rep.Outcomes[i] = s.sendOne(ctx, log, id, text)
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(s.opts.Workers)
		for i, id := range recipients {
			g.Go(func() error {
				// Each goroutine owns its slot.
				rep.Outcomes[i] = s.sendOne(ctx, log, id, text)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, o := range rep.Outcomes {
		if !o.OK() {
			rep.Failures++
		}
	}
	rep.Duration = time.Since(start)
	s.opts.Metrics.ObserveRun(rep.Duration.Seconds())
	log.Info("reminder run finished",
		logx.Int("attempts", rep.Attempts),
		logx.Int("sent", rep.Sent()),
		logx.Int("failures", rep.Failures),
		logx.Duration("took", rep.Duration),
	)
	return rep
}

func (s *Sender) sendOne(ctx context.Context, log logx.Logger, chatID int64, text string) Outcome {
	sctx := ctx
	if s.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, s.opts.SendTimeout)
		defer cancel()
	}

	_, err := s.tx.SendText(sctx, transport.ChatTarget{ChatID: chatID}, text, nil)
	if err != nil {
		werr := apperr.Wrap(apperr.KindDeliveryFailed, "reminder.send", err).With("chat_id", chatID)
		s.opts.Metrics.Delivery(false)
		log.Error("Failed to send",
			logx.Int64("chat_id", chatID),
			logx.String("kind", string(apperr.KindDeliveryFailed)),
			logx.Err(err),
		)
		return Outcome{ChatID: chatID, Err: werr}
	}
	s.opts.Metrics.Delivery(true)
	log.Info("Sent reminder", logx.Int64("chat_id", chatID))
	return Outcome{ChatID: chatID}
}
