package config

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	rtsup "reminderbot/internal/runtime/supervisor"
	"reminderbot/pkg/logx"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the settings file on change until ctx ends. It watches the
// parent directory so editors that replace the file are seen, and recreates
// a failed watcher with backoff.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	d := &debouncer{wait: reloadDebounce, fn: m.reload}
	defer d.stop()

	sup := rtsup.New(ctx, rtsup.WithLogger(m.log))
	sup.GoRestart("settings.fsnotify", func(c context.Context) error {
		return m.watchDir(c, d.trigger)
	}, rtsup.WithRestartBackoff(250*time.Millisecond, 5*time.Second))
	<-ctx.Done()
	return sup.Wait(context.Background())
}

func (m *Manager) watchDir(ctx context.Context, onChange func()) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	log := m.log.With(logx.String("dir", dir))
	log.Debug("settings watcher started", logx.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("fsnotify events closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				onChange()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("fsnotify errors closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				log.Warn("settings watch overflow; reloading")
				onChange()
				continue
			}
			log.Warn("settings watch error", logx.Err(err))
		}
	}
}

// debouncer runs fn once after trigger calls stop arriving for wait.
type debouncer struct {
	wait time.Duration
	fn   func()

	mu    sync.Mutex
	timer *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
