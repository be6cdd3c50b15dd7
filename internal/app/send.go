package app

import (
	"context"
	"time"

	"reminderbot/internal/apperr"
	"reminderbot/internal/config"
	"reminderbot/internal/metrics"
	"reminderbot/internal/reminder"
	"reminderbot/pkg/logx"
)

const pushTimeout = 10 * time.Second

// SendOnce delivers the reminder to every configured chat and returns.
//
// Configuration is fully validated before a session is opened, and the session
// is released on every path. Individual delivery failures are logged and
// reported but do not make SendOnce fail. A run is never interrupted: once
// the session is open, cancelling ctx does not stop the fan-out.
func SendOnce(ctx context.Context, opts Options) (reminder.Report, error) {
	opts = opts.withDefaults()

	b, err := bootstrap(opts)
	if err != nil {
		return reminder.Report{}, err
	}
	defer b.logs.Close()
	log := b.log.With(logx.String("comp", "app"), logx.String("mode", "send"))

	m := metrics.New(false)
	_, skipped := config.ParseRecipients(b.env.ChatIDs)
	m.Skipped(len(skipped))

	ids, err := b.env.Recipients(log)
	if err != nil {
		return reminder.Report{}, err
	}
	delivery, err := mapDeliveryOptions(b.settings)
	if err != nil {
		return reminder.Report{}, apperr.Wrap(apperr.KindConfigInvalid, "app.delivery", err)
	}
	delivery.Metrics = m

	ad, err := b.openSession(opts, nil)
	if err != nil {
		return reminder.Report{}, err
	}
	defer b.closeSession(ad)

	// Every recipient gets its single attempt even if a signal arrives mid-run.
	rep := reminder.New(ad, b.log.With(logx.String("comp", "reminder")), delivery).
		Send(context.WithoutCancel(ctx), ids, b.env.Message())
	if ctx.Err() != nil {
		log.Info("signal received during run; finished delivery first")
	}

	if url := b.settings.Metrics.PushURL; url != "" {
		pctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		if err := m.Push(pctx, url, b.settings.Metrics.Job); err != nil {
			log.Warn("metrics push failed", logx.String("url", url), logx.Err(err))
		}
	}
	if failed := rep.Failed(); len(failed) > 0 {
		chats := make([]int64, 0, len(failed))
		for _, o := range failed {
			chats = append(chats, o.ChatID)
		}
		log.Warn("some reminders were not delivered",
			logx.Int("sent", rep.Sent()),
			logx.Int("attempts", rep.Attempts),
			logx.Any("failed_chats", chats),
		)
	}
	return rep, nil
}
