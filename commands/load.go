package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/symdex/symdex/indexer"
	"github.com/symdex/symdex/request"
	"github.com/symdex/symdex/storage"
)

// compileCommand is one entry of a JSON compilation database
// (compile_commands.json).
type compileCommand struct {
	Directory string   `json:"directory"`
	File      string   `json:"file"`
	Command   string   `json:"command,omitempty"`
	Arguments []string `json:"arguments,omitempty"`
}

// NewLoad registers source files for indexing, either from a compilation
// database or by scanning a directory tree.
func NewLoad(deps Deps) *request.Command {
	var args struct {
		Database string
		Dir      string
	}

	cmd := request.NewCommand("load", "Read a compilation database", "load> ",
		func(ctx context.Context, out io.Writer) error {
			if args.Dir != "" {
				return loadDir(ctx, deps, args.Dir, out)
			}
			return loadDatabase(ctx, deps, args.Database, out)
		})

	cmd.Add(request.Key("database", &args.Database).
		Metavar("FILEPATH").
		Description("Load compilation commands from a JSON compilation database").
		Default("compile_commands.json"))
	cmd.Add(request.Key("dir", &args.Dir).
		Metavar("DIRPATH").
		Description("Register every supported source file under a directory instead"))
	return cmd
}

func loadDatabase(ctx context.Context, deps Deps, database string, out io.Writer) error {
	data, err := os.ReadFile(database)
	if err != nil {
		return fmt.Errorf("failed to read compilation database: %w", err)
	}

	var entries []compileCommand
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse compilation database: %w", err)
	}

	count := 0
	for _, entry := range entries {
		path := entry.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(entry.Directory, path)
		}
		buildArgs := entry.Arguments
		if len(buildArgs) == 0 && entry.Command != "" {
			buildArgs = []string{entry.Command}
		}
		err := deps.Store.RegisterFile(ctx, storage.FileEntry{
			Path:      path,
			Directory: entry.Directory,
			Args:      buildArgs,
		})
		if err != nil {
			return err
		}
		count++
	}

	fmt.Fprintf(out, "Loaded %d compilation entries from %s\n", count, database)
	deps.Scheduler.RequestRescan()
	return nil
}

func loadDir(ctx context.Context, deps Deps, dir string, out io.Writer) error {
	paths, err := indexer.DiscoverSources(dir, deps.Extractor, deps.Config.Ignore)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	for _, path := range paths {
		if err := deps.Store.RegisterFile(ctx, storage.FileEntry{Path: path}); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Registered %d source files from %s\n", len(paths), dir)
	deps.Scheduler.RequestRescan()
	return nil
}
