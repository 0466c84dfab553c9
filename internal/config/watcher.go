package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"gamepilot/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives a freshly loaded and validated configuration.
type ReloadFunc func(*Config)

// Watcher reloads the config file when it changes on disk.
// The parent directory is watched so editors that replace the file
// (write temp + rename) are picked up.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	path        string
	onReload    ReloadFunc
	debounceDur time.Duration
	pendingAt   time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	reloads int
	errors  int
}

// NewWatcher creates a watcher for path. onReload is called from the
// watcher goroutine after every successful reload.
func NewWatcher(path string, onReload ReloadFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	return &Watcher{
		watcher:     fw,
		path:        abs,
		onReload:    onReload,
		debounceDur: 200 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// SetDebounce changes the quiet period before a reload. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if d > 0 {
		w.debounceDur = d
	}
}

// Start begins watching. It is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logging.Config("config watcher: watching %s", w.path)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.ConfigWarn("config watcher: error closing: %v", err)
	}
	logging.Config("config watcher: stopped")
}

// Stats returns the number of successful reloads and failed reload attempts.
func (w *Watcher) Stats() (reloads, errors int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads, w.errors
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.ConfigWarn("config watcher error: %v", err)
			w.mu.Lock()
			w.errors++
			w.mu.Unlock()

		case <-ticker.C:
			w.processPending()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	w.mu.Lock()
	w.pendingAt = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processPending() {
	w.mu.Lock()
	if w.pendingAt.IsZero() || time.Since(w.pendingAt) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.pendingAt = time.Time{}
	w.mu.Unlock()

	cfg, err := Load(w.path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		logging.ConfigWarn("config watcher: reload rejected: %v", err)
		w.mu.Lock()
		w.errors++
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()

	logging.Config("config watcher: reloaded %s", w.path)
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
