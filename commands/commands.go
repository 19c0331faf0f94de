// Package commands defines the daemon's client-facing commands and binds
// them to the shared collaborators at startup.
package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/symdex/symdex/cache"
	"github.com/symdex/symdex/config"
	"github.com/symdex/symdex/indexer"
	"github.com/symdex/symdex/request"
	"github.com/symdex/symdex/storage"
)

// RescanScheduler is the slice of the scheduler the commands need.
type RescanScheduler interface {
	RequestRescan()
	WaitForRescan(ctx context.Context) error
}

// Deps carries the shared collaborators every command may bind to. All of
// them live for the process lifetime; nothing here is request-scoped.
type Deps struct {
	Store     storage.Store
	Cache     *cache.Cache
	Scheduler RescanScheduler
	Extractor *indexer.Extractor
	Config    *config.Config
}

// Register builds the full command set in its canonical order.
func Register(reg *request.Registry, deps Deps) *request.Registry {
	return reg.
		Add(NewLoad(deps)).
		Add(NewConfig(deps)).
		Add(NewIndex(deps)).
		Add(NewFind(deps)).
		Add(NewGrep(deps)).
		Add(NewComplete(deps)).
		Add(NewExit())
}

// NewIndex triggers an index rebuild and waits for it to finish.
func NewIndex(deps Deps) *request.Command {
	return request.NewCommand("index", "Update the source code index", "index> ",
		func(ctx context.Context, out io.Writer) error {
			deps.Scheduler.RequestRescan()
			fmt.Fprintln(out, "Waiting for the index to be rebuilt...")
			if err := deps.Scheduler.WaitForRescan(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "Done.")
			return nil
		})
}

// NewExit shuts down the serving front end. Its terminate outcome is the
// only in-protocol shutdown path.
func NewExit() *request.Command {
	return request.NewCommand("exit", "Shutdown server", "exit> ",
		func(ctx context.Context, out io.Writer) error {
			fmt.Fprintln(out, "Exiting...")
			return request.ErrTerminateServing
		})
}
