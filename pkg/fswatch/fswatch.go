// Package fswatch calls a handler when watched files change.
//
// The core is fsnotify/fsnotify, with some state wrapped around it.
//
// fsnotify reports changes per directory, and tags each one with an operation that is not always
// accurate since the filesystem coalesces changes that are close in time. So the Watcher ignores
// the operation: every event just means "this file may have changed", and the file is stat'ed
// when the event is delivered to tell an update from a delete.
//
// Editors and config management tools rarely write a file in one go; they create it, write it,
// rename over it. Events for a file are therefore held back until no further events arrived for
// Settle, and delivered once.
package fswatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/datawire/dlib/dlog"
)

type Op string

const (
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

type Event struct {
	// Path is the cleaned, absolute path of the file that changed.
	Path string
	Op   Op
	// Time is the file's modification time, or when the delete was noticed.
	Time time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s", e.Op, e.Path)
}

type Handler func(ctx context.Context, event Event)

type ErrorHandler func(ctx context.Context, err error)

const DefaultSettle = 500 * time.Millisecond

type Watcher struct {
	// Settle is how long a file has to be quiet before its events are delivered.
	Settle time.Duration

	fsw *fsnotify.Watcher

	mu          sync.Mutex
	handlers    map[string]Handler // by file
	dirs        map[string]bool
	handleError ErrorHandler
	pending     map[string]bool
	timer       *time.Timer
	fire        chan struct{}
}

// New returns a Watcher that watches nothing yet.
func New(ctx context.Context) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "fswatch")
	}
	dlog.Debugf(ctx, "fswatch: initialized")
	w := &Watcher{
		Settle:   DefaultSettle,
		fsw:      fsw,
		handlers: make(map[string]Handler),
		dirs:     make(map[string]bool),
		pending:  make(map[string]bool),
		fire:     make(chan struct{}, 1),
	}
	w.handleError = func(ctx context.Context, err error) {
		dlog.Errorf(ctx, "fswatch: %v", err)
	}
	return w, nil
}

func (w *Watcher) SetErrorHandler(handler ErrorHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handleError = handler
}

// WatchFile calls handler whenever the file at path changes. The file does not need to exist
// yet, but its directory does. The directory is what gets watched, so the watch survives the
// file being replaced.
func (w *Watcher) WatchFile(ctx context.Context, path string, handler Handler) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.dirs[dir] {
		if err := w.fsw.Add(dir); err != nil {
			return errors.Wrapf(err, "watching %s", dir)
		}
		w.dirs[dir] = true
	}
	w.handlers[path] = handler
	dlog.Infof(ctx, "fswatch: watching %s", path)
	return nil
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run delivers events until ctx is done, and then closes the Watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		_ = w.fsw.Close()
	}()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.note(ctx, event)
		case <-w.fire:
			w.deliver(ctx)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.mu.Lock()
			handleError := w.handleError
			w.mu.Unlock()
			handleError(ctx, err)
		case <-ctx.Done():
			dlog.Debugf(ctx, "fswatch: shutting down")
			return nil
		}
	}
}

// note records that a watched file changed and (re)starts the settle timer.
func (w *Watcher) note(ctx context.Context, event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.handlers[path]; !ok {
		return
	}
	dlog.Debugf(ctx, "fswatch: raw event %s", event)
	w.pending[path] = true

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.Settle, func() {
		select {
		case w.fire <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) deliver(ctx context.Context) {
	w.mu.Lock()
	w.timer = nil
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]bool)
	handlers := make(map[string]Handler, len(paths))
	for _, path := range paths {
		handlers[path] = w.handlers[path]
	}
	w.mu.Unlock()

	sort.Strings(paths)
	for _, path := range paths {
		event := Event{Path: path, Op: OpUpdate, Time: time.Now()}
		if info, err := os.Stat(path); err != nil {
			event.Op = OpDelete
		} else {
			event.Time = info.ModTime()
		}
		dlog.Debugf(ctx, "fswatch: handling %s", event)
		handlers[path](ctx, event)
	}
}
