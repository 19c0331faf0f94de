// Package sched turns rescan requests into index rebuilds on a single
// background goroutine.
package sched

import (
	"context"
	"log/slog"
	"sync"

	"github.com/symdex/symdex/internal/logging"
)

// Rescanner rebuilds the index once. Implemented by indexer.Indexer.
type Rescanner interface {
	Rescan(ctx context.Context) error
}

// Refresher is poked after every rescan so newly registered files get
// watched. Implemented by watcher.Watcher.
type Refresher interface {
	Update()
}

// RescanFunc adapts a function to the Rescanner interface.
type RescanFunc func(ctx context.Context) error

func (f RescanFunc) Rescan(ctx context.Context) error { return f(ctx) }

// Scheduler coalesces rescan requests: any number of requests arriving while
// a pass is pending or running collapse into at most one extra pass.
// Delivery to the index is at-least-once per request.
type Scheduler struct {
	rescanner Rescanner
	logger    *slog.Logger

	requests chan struct{}

	mu        sync.Mutex
	requested uint64        // rescan requests made so far
	served    uint64        // requests covered by completed passes
	done      chan struct{} // closed when a pass completes, then replaced
	watcher   Refresher
}

func New(rescanner Rescanner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		rescanner: rescanner,
		logger:    logger.With(slog.String("component", "sched")),
		requests:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// BindWatcher late-binds the file watcher. The supervisor calls this after
// constructing the watcher, which itself needs the scheduler.
func (s *Scheduler) BindWatcher(w Refresher) {
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
}

// RequestRescan schedules an index rebuild. Non-blocking; safe from any
// goroutine.
func (s *Scheduler) RequestRescan() {
	s.mu.Lock()
	s.requested++
	s.mu.Unlock()

	select {
	case s.requests <- struct{}{}:
	default:
	}
}

// WaitForRescan blocks until every rescan requested before the call has been
// covered by a completed pass, or until ctx is done. Callers request first,
// then wait. A pass covers exactly the requests made before it started, so a
// request issued while a pass is running is only satisfied by the next one.
func (s *Scheduler) WaitForRescan(ctx context.Context) error {
	s.mu.Lock()
	target := s.requested
	for s.served < target {
		ch := s.done
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	s.mu.Unlock()
	return nil
}

// Run processes rescan requests until ctx is cancelled. Cancellation is the
// normal shutdown path and returns nil. Rescan failures are absorbed and
// logged; waiters are always released.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.requests:
		}

		// This pass covers every request made up to this point.
		s.mu.Lock()
		serving := s.requested
		s.mu.Unlock()

		if err := s.rescanner.Rescan(ctx); err != nil {
			if ctx.Err() != nil {
				s.release(serving)
				return nil
			}
			s.logger.Warn("rescan failed", logging.Error(err))
		}

		// Poke the watcher before releasing waiters so a caller observing
		// "rescan done" also observes the refreshed watch request.
		s.mu.Lock()
		w := s.watcher
		s.mu.Unlock()
		if w != nil {
			w.Update()
		}
		s.release(serving)
	}
}

func (s *Scheduler) release(serving uint64) {
	s.mu.Lock()
	if serving > s.served {
		s.served = serving
	}
	close(s.done)
	s.done = make(chan struct{})
	s.mu.Unlock()
}
