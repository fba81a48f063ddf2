package cache

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ghostly/internal/notify"
)

// externalDebounce is both the debounce window for file events and how long
// after a local commit file events are attributed to ourselves.
const externalDebounce = 200 * time.Millisecond

// Watch publishes a cache.external event when another process writes the
// database (for example a CLI sync while serve is running), so live queries
// re-run. It blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(s.path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	watched := map[string]struct{}{abs: {}, abs + "-wal": {}}

	s.logger.Info("cache watcher: started", slog.String("path", abs))

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			s.logger.Info("cache watcher: stopped")
			return nil

		case <-fire:
			fire = nil
			last := time.Unix(0, s.lastWrite.Load())
			if time.Since(last) < 2*externalDebounce {
				continue
			}
			s.logger.Debug("cache watcher: external write")
			s.broker.Publish(notify.Event{Type: notify.TypeCacheExternal})

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if _, ok := watched[ev.Name]; !ok {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(externalDebounce)
			} else {
				timer.Reset(externalDebounce)
			}
			fire = timer.C

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("cache watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
