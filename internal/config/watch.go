package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settle is how long the file must stay quiet before it is reloaded. Editors
// and shell redirects emit several writes per save.
const settle = 250 * time.Millisecond

// RunFunc runs one job with a freshly loaded Config. ctx is cancelled when a
// newer valid config arrives or the watch ends.
type RunFunc func(ctx context.Context, cfg *Config)

// Watch reloads path after each burst of writes and hands the new Config to
// run on its own goroutine. At most one run is active: a newer valid config
// cancels the current run and waits for it to return before starting the
// next. Watch returns once ctx is cancelled and the active run has returned.
//
// A config that fails to load or validate is logged and skipped; the active
// run is left alone.
func Watch(ctx context.Context, path string, run RunFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	slog.Info("config: watching for changes", "path", path, "settle", settle)

	j := &job{}
	defer j.stop()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(settle)
			} else {
				timer.Reset(settle)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			// Re-add the file in case an atomic save replaced the inode.
			_ = watcher.Add(path)

			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, keeping current run",
					"path", path, "err", err)
				continue
			}
			slog.Info("config: reloaded", "path", path)
			j.replace(ctx, cfg, run)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// job is the single in-flight run started by Watch.
type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (j *job) stop() {
	if j.cancel == nil {
		return
	}
	j.cancel()
	<-j.done
	j.cancel, j.done = nil, nil
}

func (j *job) replace(ctx context.Context, cfg *Config, run RunFunc) {
	if j.cancel != nil {
		slog.Info("config: cancelling run for newer config")
	}
	j.stop()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	j.cancel, j.done = cancel, done
	go func() {
		defer close(done)
		run(runCtx, cfg)
	}()
}
