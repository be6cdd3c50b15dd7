package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"reminderbot/internal/config"
	"reminderbot/internal/metrics"
	"reminderbot/internal/opsserver"
	"reminderbot/internal/responder"
	rtsup "reminderbot/internal/runtime/supervisor"
	"reminderbot/internal/storage"
	"reminderbot/internal/transport"
	"reminderbot/pkg/logx"
)

// StopReason is logged when poll mode shuts down.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

const updateQueue = 256

// RunPoll answers /start and /id until ctx is cancelled.
//
// Shutdown is two-phase: the session stops receiving updates first, then the
// responder, ops server, chat registry and session are released in that order.
func RunPoll(ctx context.Context, opts Options) error {
	opts = opts.withDefaults()

	b, err := bootstrap(opts)
	if err != nil {
		return err
	}
	defer b.logs.Close()
	log := b.log.With(logx.String("comp", "app"), logx.String("mode", "poll"))

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(b.settings); err != nil {
		return err
	} else if enabled {
		if store, err = storage.Open(sc, b.log); err != nil {
			return fmt.Errorf("open chat registry: %w", err)
		}
		log.Info("chat registry enabled", logx.String("driver", sc.Driver))
	}
	closeStore := func() {
		if store != nil {
			_ = store.Close()
		}
	}

	opsCfg, err := mapOpsConfig(b.settings)
	if err != nil {
		closeStore()
		return err
	}

	m := metrics.New(true)
	ad, err := b.openSession(opts, m.UpdateDropped)
	if err != nil {
		closeStore()
		return err
	}

	sup := rtsup.New(ctx, rtsup.WithLogger(log), rtsup.WithCancelOnError(true))
	updates := make(chan transport.Update, updateQueue)
	if err := ad.Start(sup.Context(), updates); err != nil {
		sup.Cancel()
		closeStore()
		b.closeSession(ad)
		return err
	}

	if err := ad.SetCommands(ctx, responder.Commands()); err != nil {
		log.Warn("failed to publish command menu", logx.Err(err))
	}

	var botName string
	if u, ok := ad.(interface{ Username() string }); ok {
		botName = u.Username()
	}
	r := responder.New(ad, b.log.With(logx.String("comp", "responder")), responder.Options{
		BotUsername: botName,
		Store:       store,
		Metrics:     m,
	})
	sup.Go("responder", func(c context.Context) error {
		return r.Run(c, updates)
	})

	ops := opsserver.New(opsCfg, m.Handler(), func() error {
		if sup.Context().Err() != nil {
			return errors.New("shutting down")
		}
		return nil
	}, b.log.With(logx.String("comp", "opsserver")))
	ops.Start(sup.Context())

	reloads := b.mgr.Subscribe(4)
	sup.Go0("settings.reload", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case s := <-reloads:
				applySettings(c, log, b, ops, s)
			}
		}
	})
	sup.Go("settings.watch", b.mgr.Watch)

	notify(log, daemon.SdNotifyReady)
	log.Info("app started", logx.Bool("registry", store != nil), logx.String("bot", botName))

	<-sup.Context().Done()

	reason := StopSignal
	if sup.Err() != nil {
		reason = StopFatalError
	}
	notify(log, daemon.SdNotifyStopping)
	log.Info("stopping", logx.String("reason", string(reason)))

	step := stepper(log)
	// Phase one: no new events.
	step("session.stop", 2*time.Second, ad.Stop)
	// Phase two: release.
	sup.Cancel()
	step("supervisor", 2*time.Second, sup.Wait)
	step("opsserver", time.Second, func(c context.Context) error { ops.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { closeStore(); return nil })
	step("session.close", 2*time.Second, func(context.Context) error { b.closeSession(ad); return nil })

	log.Info("stopped")
	if err := sup.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// applySettings re-applies what can change at runtime: logging and the ops server.
func applySettings(ctx context.Context, log logx.Logger, b *boot, ops *opsserver.Server, s *config.Settings) {
	if s == nil {
		return
	}
	prev := b.settings
	b.logs.Apply(mapLogConfig(b.env, s))
	if opsCfg, err := mapOpsConfig(s); err != nil {
		log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		ops.Reconfigure(ctx, opsCfg)
	}
	if restartNeeded(prev, s) {
		log.Warn("telegram, delivery or storage settings changed; restart required for them to take effect")
	}
	b.settings = s
	log.Info("settings applied")
}

func restartNeeded(prev, next *config.Settings) bool {
	if prev == nil || next == nil {
		return false
	}
	if prev.Telegram != next.Telegram || prev.Delivery != next.Delivery {
		return true
	}
	switch {
	case prev.Storage == nil && next.Storage == nil:
		return false
	case prev.Storage == nil || next.Storage == nil:
		return true
	default:
		return *prev.Storage != *next.Storage
	}
}

// stepper runs one shutdown step with an upper bound so a stuck component
// cannot stall the whole stop.
func stepper(log logx.Logger) func(name string, max time.Duration, fn func(context.Context) error) {
	return func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(ctx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-ctx.Done():
			log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}
}

// notify tells systemd about state changes; outside systemd it is a no-op.
func notify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
