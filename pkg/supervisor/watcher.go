package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches one configuration file and reports changes
// after a quiet period. Editors and deployment tools usually replace
// the file rather than writing in place, so the parent directory is
// watched and events are filtered by name.
type ConfigWatcher struct {
	path     string // absolute
	debounce time.Duration
	fs       *fsnotify.Watcher
}

// NewConfigWatcher creates a watcher for the file at path. A zero
// debounce defaults to 500ms.
func NewConfigWatcher(path string, debounce time.Duration) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		fs.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &ConfigWatcher{path: abs, debounce: debounce, fs: fs}, nil
}

// Watch blocks until ctx is done, invoking onChange once per burst of
// file events.
func (w *ConfigWatcher) Watch(ctx context.Context, onChange func()) error {
	defer w.fs.Close()

	slog.Info("watching configuration file", "path", w.path)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return errors.New("config watcher event channel closed")
			}
			if !w.matches(ev) {
				continue
			}
			slog.Debug("config file event", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-fire:
			timer, fire = nil, nil
			slog.Info("configuration file changed", "path", w.path)
			onChange()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return errors.New("config watcher error channel closed")
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}

// matches keeps events about the watched file, ignoring chmod noise.
func (w *ConfigWatcher) matches(ev fsnotify.Event) bool {
	if ev.Op&fsnotify.Chmod == fsnotify.Chmod {
		return false
	}
	name, err := filepath.Abs(ev.Name)
	if err != nil {
		return false
	}
	return name == w.path
}
