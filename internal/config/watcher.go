package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the delay between the last file event and the reload.
const DefaultDebounce = 200 * time.Millisecond

// ChangeFunc receives the ids of servers whose configuration changed or was
// removed by a reload.
type ChangeFunc func(ids []string)

// Watcher reloads a FileStore when its file changes and reports the
// affected server ids.
//
// The parent directory is watched rather than the file itself so that
// editors which replace the file by rename are still observed.
type Watcher struct {
	log      *slog.Logger
	store    *FileStore
	onChange ChangeFunc
	debounce time.Duration

	fsWatcher *fsnotify.Watcher
	target    string

	mu    sync.Mutex
	timer *time.Timer

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewWatcher starts watching the file behind store. A zero debounce uses
// DefaultDebounce.
func NewWatcher(log *slog.Logger, store *FileStore, debounce time.Duration, onChange ChangeFunc) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	target, err := filepath.Abs(store.Path())
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	if err := fsWatcher.Add(filepath.Dir(target)); err != nil {
		_ = fsWatcher.Close()

		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	w := &Watcher{
		log:       log.With("component", "config_watcher", "path", target),
		store:     store,
		onChange:  onChange,
		debounce:  debounce,
		fsWatcher: fsWatcher,
		target:    target,
		done:      make(chan struct{}),
	}

	w.wg.Go(w.processEvents)

	w.log.Info("Watching server configuration")

	return w, nil
}

// Run blocks until ctx is cancelled and then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-w.done:
	}

	return w.Close()
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error

	w.closeOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		err = w.fsWatcher.Close()
		w.wg.Wait()
	})

	return err
}

func (w *Watcher) processEvents() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if !w.relevant(event) {
				continue
			}

			w.log.Debug("Config file event", "op", event.Op.String())
			w.schedule()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}

			w.log.Warn("File watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}

	name, err := filepath.Abs(event.Name)

	return err == nil && name == w.target
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	changed, err := w.store.Reload()
	if err != nil {
		w.log.Error("Failed to reload server configuration, keeping previous snapshot", "error", err)

		return
	}

	w.log.Info("Server configuration reloaded", "changed", changed)

	if len(changed) > 0 && w.onChange != nil {
		w.onChange(changed)
	}
}
