// Package watcher provides a debounced filesystem change source.
package watcher

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventKind classifies a change notification.
type EventKind int

const (
	// Modify means the file at Path was created or written.
	Modify EventKind = iota
	// Delete means the file at Path was removed or renamed away.
	Delete
)

// Event is one debounced filesystem change.
type Event struct {
	Kind EventKind
	Path string
}

const debounceWindow = 100 * time.Millisecond

// FsWatcher watches a set of paths and emits a debounced stream of Modify
// and Delete events. Watch/Unwatch are idempotent and reference-counted so
// multiple cache entries on the same path share one fsnotify registration.
type FsWatcher struct {
	log    *slog.Logger
	fsw    *fsnotify.Watcher
	events chan Event

	mu       sync.Mutex
	refcount map[string]int // watched directory -> number of watched paths within it
	pending  map[string]*time.Timer

	closeOnce sync.Once
	done      chan struct{}
}

// New creates an FsWatcher and starts its background dispatch goroutine.
// Callers must range over Events() concurrently with normal operation and
// call Close when done.
func New(log *slog.Logger) (*FsWatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &FsWatcher{
		log:      log,
		fsw:      fsw,
		events:   make(chan Event, 256),
		refcount: make(map[string]int),
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	go w.dispatch()
	return w, nil
}

// Events returns the stream of debounced change events. The stream never
// closes while the watcher is alive; callers must drain it concurrently
// with serving requests.
func (w *FsWatcher) Events() <-chan Event {
	return w.events
}

// Watch idempotently registers path for change notification. fsnotify
// watches directories, not files, so we watch path's parent directory;
// events for every entry of that directory are emitted, not only for path.
func (w *FsWatcher) Watch(path string) {
	dir := filepath.Dir(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.refcount[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			w.log.Warn("watch failed", "dir", dir, "error", err)
			return
		}
	}
	w.refcount[dir]++
}

// Unwatch idempotently removes path's watch registration, dropping the
// underlying fsnotify watch on its parent directory once no watched path
// within it remains.
func (w *FsWatcher) Unwatch(path string) {
	dir := filepath.Dir(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.refcount[dir] == 0 {
		return
	}
	w.refcount[dir]--
	if w.refcount[dir] <= 0 {
		delete(w.refcount, dir)
		if err := w.fsw.Remove(dir); err != nil {
			w.log.Warn("unwatch failed", "dir", dir, "error", err)
		}
	}
}

// Close stops the watcher and releases its fsnotify handle. The Events
// channel is not closed; pending timers are stopped.
func (w *FsWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.mu.Lock()
		for path, t := range w.pending {
			t.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()
	})
	return err
}

func (w *FsWatcher) dispatch() {
	for {
		select {
		case <-w.done:
			return
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Individual path errors are reported but never terminate the
			// stream.
			w.log.Error("fswatcher error", "error", err)
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.debounce(ev)
		}
	}
}

func (w *FsWatcher) debounce(ev fsnotify.Event) {
	kind := Modify
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		kind = Delete
	}
	path := filepath.Clean(ev.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.events <- Event{Kind: kind, Path: path}:
		case <-w.done:
		}
	})
}
