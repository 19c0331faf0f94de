// Package watcher maintains the kernel watch set over registered files and
// converts on-disk modifications into rescan requests.
package watcher

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/symdex/symdex/internal/logging"
)

// DefaultWaitTimeout bounds each wait for kernel events. It is also the
// upper bound on cancellation latency: the loop re-checks its context at
// least this often.
const DefaultWaitTimeout = time.Second

// FileLister provides the current set of paths that must be watched.
// Implemented by storage.Store.
type FileLister interface {
	ListFiles(ctx context.Context) ([]string, error)
}

// Notifier receives one rescan request per batch of detected modifications.
// Implemented by sched.Scheduler.
type Notifier interface {
	RequestRescan()
}

// Watcher owns one fsnotify watcher and the watch table. All loop state is
// confined to the Run goroutine; Update is the only cross-goroutine entry
// point.
type Watcher struct {
	fsw         *fsnotify.Watcher
	table       *Table
	files       FileLister
	notifier    Notifier
	logger      *slog.Logger
	waitTimeout time.Duration

	// refresh is the "recompute the watch set" flag. Writers coalesce:
	// any number of Update calls before the next loop pass produce one
	// refresh.
	refresh atomic.Bool
}

// New opens the kernel watch channel. An error here is fatal to daemon
// startup: without it the index would go silently stale.
func New(files FileLister, notifier Notifier, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	w := &Watcher{
		fsw:         fsw,
		table:       NewTable(),
		files:       files,
		notifier:    notifier,
		logger:      logger.With(slog.String("component", "watcher")),
		waitTimeout: DefaultWaitTimeout,
	}
	w.refresh.Store(true) // first loop pass builds the watch set
	return w, nil
}

// SetWaitTimeout overrides the bounded wait; it must be called before Run.
func (w *Watcher) SetWaitTimeout(d time.Duration) {
	if d > 0 {
		w.waitTimeout = d
	}
}

// Update requests a watch-set refresh on the next loop pass. Non-blocking,
// safe from any goroutine, idempotent until the flag is consumed.
func (w *Watcher) Update() {
	w.refresh.Store(true)
}

// Close releases the kernel watch channel and every watch registered on it.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run executes the watch loop until ctx is cancelled. Cancellation is the
// normal shutdown path and returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	timer := time.NewTimer(w.waitTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if w.refresh.Load() {
			w.refreshWatches(ctx)
			w.refresh.Store(false)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.waitTimeout)

		select {
		case <-ctx.Done():
			return nil

		case <-timer.C:
			// No events within the bounded wait; loop around to
			// re-check cancellation and the refresh flag.

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if n := w.drain(event); n > 0 {
				w.notifier.RequestRescan()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", logging.Error(err))
		}
	}
}

// refreshWatches registers a kernel watch for every listed path not already
// in the table. Registration failures are logged and skipped; the path is
// still recorded so it is not retried on every pass. Stale entries are never
// removed.
func (w *Watcher) refreshWatches(ctx context.Context) {
	w.logger.Debug("updating watch set")

	paths, err := w.files.ListFiles(ctx)
	if err != nil {
		w.logger.Warn("failed to list files", logging.Error(err))
		return
	}

	for _, path := range paths {
		if w.table.Contains(path) {
			continue
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("failed to watch file", slog.String("file", path), logging.Error(err))
		} else {
			w.logger.Debug("watching file", slog.String("file", path))
		}
		w.table.Add(path)
	}
}

// drain consumes every event pending on the kernel channel, starting with
// the one already received, and returns the number of modifications that
// resolved to watched paths.
func (w *Watcher) drain(first fsnotify.Event) int {
	n := 0
	event := first
	for {
		if w.resolve(event) {
			n++
		}
		select {
		case next, ok := <-w.fsw.Events:
			if !ok {
				return n
			}
			event = next
		default:
			return n
		}
	}
}

// resolve maps one event record back to a watched file. Events for paths
// missing from the table are logged and dropped, the moral equivalent of a
// short read on the kernel buffer.
func (w *Watcher) resolve(event fsnotify.Event) bool {
	wd, ok := w.table.Handle(event.Name)
	if !ok {
		w.logger.Debug("event for unwatched path", slog.String("path", event.Name))
		return false
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	w.logger.Debug("detected modification",
		slog.String("file", event.Name),
		slog.Int("handle", wd))
	return true
}
