package session

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/starford/paperlens/internal/storage"
)

const watchDebounce = 150 * time.Millisecond

// Watch re-runs auth.Rehydrate whenever another process changes the session
// files under dir, until ctx is cancelled. Bursts of events are debounced
// into one reload. onChange (if non-nil) is called after each reload.
func Watch(ctx context.Context, dir string, auth *AuthStore, logger *slog.Logger, onChange func(AuthState)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}
	logger.Info("session watcher: started", slog.String("dir", dir))

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(watchDebounce)
			fire = timer.C
		} else {
			timer.Reset(watchDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("session watcher: stopped")
			return nil

		case <-fire:
			before := auth.Snapshot()
			if err := auth.Rehydrate(); err != nil {
				logger.Warn("session watcher: rehydrate failed", slog.String("error", err.Error()))
				continue
			}
			after := auth.Snapshot()
			if before != after {
				logger.Info("session watcher: session changed",
					slog.Bool("logged_in", after.IsLoggedIn),
					slog.String("username", after.Username))
			}
			if onChange != nil {
				onChange(after)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if isSessionFile(ev.Name) {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("session watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func isSessionFile(path string) bool {
	if storage.IsTemp(path) {
		return false
	}
	name := filepath.Base(path)
	return name == TokenKey || name == StateKey || strings.HasPrefix(name, storage.SQLiteFile)
}
