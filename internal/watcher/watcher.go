// Package watcher reloads rule files (triggers, stage thresholds, prompts)
// when they change on disk.
//
// Directories are watched rather than files so that editors which save by
// rename keep firing. Events are debounced per file: a handler runs once the
// file has been quiet for the debounce window.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"grove/internal/logging"
)

// DefaultDebounce is used when New is given a non-positive window.
const DefaultDebounce = 250 * time.Millisecond

// Handler reloads one file. Returned errors are logged and counted; the
// previous configuration stays in effect.
type Handler func(ctx context.Context, path string) error

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Reloads       int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
	LastEventType string
}

// Watcher dispatches debounced file changes to per-file handlers.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	handlers    map[string]Handler // keyed by cleaned absolute path
	debounceMap map[string]time.Time
	debounceDur time.Duration
	tick        time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       Stats
}

// New creates an idle watcher.
func New(debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	tick := debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	return &Watcher{
		watcher:     fw,
		handlers:    make(map[string]Handler),
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
		tick:        tick,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Handle registers fn for path. Registering after Start is not supported.
func (w *Watcher) Handle(path string, fn Handler) error {
	if path == "" {
		return errors.New("watcher: empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("watcher: already started")
	}
	w.handlers[filepath.Clean(abs)] = fn
	return nil
}

// Start begins watching the parent directory of every registered file. It
// is non-blocking; events are processed on a background goroutine until ctx
// is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	dirs := w.dirsLocked()
	w.mu.Unlock()

	for _, dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			logging.Get(logging.CategoryWatcher).Warn("cannot watch %s: %v", dir, err)
			continue
		}
		logging.Watcher("watching directory: %s", dir)
	}

	go w.run(ctx)
	return nil
}

// Stop ends the event loop, waits for it and releases the fsnotify handle.
// Stop on a watcher that was never started just closes it.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		select {
		case <-w.stopCh:
		default:
			close(w.stopCh)
		}
		<-w.doneCh
	}

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWatcher).Error("error closing watcher: %v", err)
	}
	logging.Watcher("stopped")
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// Files returns the registered paths, sorted.
func (w *Watcher) Files() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.handlers))
	for p := range w.handlers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ReloadAll runs every handler whose file exists, as if each had changed.
func (w *Watcher) ReloadAll(ctx context.Context) {
	for _, path := range w.Files() {
		w.reload(ctx, path)
	}
}

func (w *Watcher) dirsLocked() []string {
	seen := make(map[string]bool)
	var dirs []string
	for p := range w.handlers {
		dir := filepath.Dir(p)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Watcher("context cancelled")
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
			logging.Get(logging.CategoryWatcher).Error("fsnotify: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			w.processDebounced(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return
	}

	path := filepath.Clean(event.Name)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.handlers[path]; !ok {
		return
	}
	w.stats.Events++
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = path
	w.stats.LastEventType = eventType
	w.debounceMap[path] = time.Now()
}

func (w *Watcher) processDebounced(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			ready = append(ready, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		w.reload(ctx, path)
	}
}

// reload runs the handler for path. A file that no longer exists is skipped:
// deleting a rule file keeps the last good configuration.
func (w *Watcher) reload(ctx context.Context, path string) {
	w.mu.RLock()
	fn := w.handlers[path]
	w.mu.RUnlock()
	if fn == nil {
		return
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			w.countError()
		}
		logging.Watcher("skipping %s: %v", filepath.Base(path), err)
		return
	}

	if err := fn(ctx, path); err != nil {
		logging.Get(logging.CategoryWatcher).Warn("reload %s failed: %v", filepath.Base(path), err)
		w.countError()
		return
	}

	w.mu.Lock()
	w.stats.Reloads++
	w.mu.Unlock()
	logging.Watcher("reloaded %s", filepath.Base(path))
}

func (w *Watcher) countError() {
	w.mu.Lock()
	w.stats.Errors++
	w.mu.Unlock()
}
