// Package watcher reports template definition files appearing, changing
// and disappearing in a directory.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 300 * time.Millisecond

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	}
	return "unknown"
}

type pendingEvent struct {
	kind  EventType
	timer *time.Timer
}

// DirWatcher watches a single directory, non-recursively. Bursts of events
// for one file are coalesced into a single callback after the debounce
// delay.
type DirWatcher struct {
	logger   *slog.Logger
	debounce time.Duration
	filter   func(path string) bool

	mu       sync.Mutex
	callback func(path string, event EventType)
	pending  map[string]*pendingEvent
	fsw      *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewDirWatcher returns a watcher that reports only files accepted by
// filter. A nil filter accepts everything.
func NewDirWatcher(filter func(path string) bool, debounce time.Duration, logger *slog.Logger) *DirWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if filter == nil {
		filter = func(string) bool { return true }
	}
	return &DirWatcher{
		logger:   logger,
		debounce: debounce,
		filter:   filter,
		pending:  make(map[string]*pendingEvent),
	}
}

func (w *DirWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Watch reports every existing matching file as EventCreate, then follows
// changes until ctx is done or Stop is called.
func (w *DirWatcher) Watch(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.mu.Lock()
	if w.fsw != nil {
		w.mu.Unlock()
		fsw.Close()
		return fmt.Errorf("watcher already running")
	}
	w.fsw = fsw
	w.done = make(chan struct{})
	w.mu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.Stop()
		return fmt.Errorf("scan %s: %w", dir, err)
	}
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if !e.IsDir() && w.filter(p) {
			w.emit(p, EventCreate)
		}
	}

	w.logger.Info("watching template directory", "path", dir, "existing", len(entries))

	w.wg.Add(1)
	go w.loop(ctx, fsw, w.done)
	return nil
}

func (w *DirWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)
		}
	}
}

func (w *DirWatcher) handle(event fsnotify.Event) {
	if !w.filter(event.Name) {
		return
	}
	var kind EventType
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		kind = EventDelete
	case event.Has(fsnotify.Create):
		kind = EventCreate
	case event.Has(fsnotify.Write):
		kind = EventModify
	default:
		return
	}
	w.logger.Debug("template file event", "path", event.Name, "op", event.Op.String())
	w.schedule(event.Name, kind)
}

func (w *DirWatcher) schedule(path string, kind EventType) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		// Writes right after a create are part of the create.
		if p.kind == EventCreate && kind == EventModify {
			kind = EventCreate
		}
	}
	pe := &pendingEvent{kind: kind}
	pe.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.pending[path] == pe {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		if _, err := os.Stat(path); err != nil {
			kind = EventDelete
		}
		w.emit(path, kind)
	})
	w.pending[path] = pe
}

func (w *DirWatcher) emit(path string, kind EventType) {
	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()
	if cb != nil {
		cb(path, kind)
	}
}

func (w *DirWatcher) Stop() error {
	w.mu.Lock()
	fsw, done := w.fsw, w.done
	w.fsw, w.done = nil, nil
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	close(done)
	err := fsw.Close()
	w.wg.Wait()
	return err
}
