// Package storage persists the project file list, configuration options and
// the symbol index behind a backend-neutral interface.
package storage

import (
	"context"
	"fmt"

	"github.com/symdex/symdex/config"
)

// Symbol is one definition found in a source file.
type Symbol struct {
	USR       string `json:"usr"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Col       int    `json:"col"`
	EndLine   int    `json:"end_line"`
	StartByte int    `json:"start_byte"`
	EndByte   int    `json:"end_byte"`
	Signature string `json:"signature,omitempty"`
	Language  string `json:"language,omitempty"`
}

// Reference is one occurrence of a symbol name in a source file.
type Reference struct {
	USR       string `json:"usr"`
	Name      string `json:"name"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Col       int    `json:"col"`
	StartByte int    `json:"start_byte"`
	EndByte   int    `json:"end_byte"`
}

// FileEntry is one source file registered for indexing, typically taken from
// a compilation database.
type FileEntry struct {
	Path      string   `json:"file"`
	Directory string   `json:"directory,omitempty"`
	Args      []string `json:"arguments,omitempty"`
}

// Store is the persistence contract shared by every backend.
type Store interface {
	// RegisterFile inserts or updates a file entry.
	RegisterFile(ctx context.Context, entry FileEntry) error

	// ListFiles returns every registered path in stable (path) order.
	ListFiles(ctx context.Context) ([]string, error)

	// FileHash returns the recorded content hash for a path, or "" when
	// the file has never been indexed.
	FileHash(ctx context.Context, path string) (string, error)

	// SetFileHash records the content hash for a path.
	SetFileHash(ctx context.Context, path, hash string) error

	// ReplaceFileSymbols atomically replaces all symbols and references
	// recorded for a file.
	ReplaceFileSymbols(ctx context.Context, path string, symbols []Symbol, refs []Reference) error

	// FindDefinitions returns the definitions recorded for a USR.
	FindDefinitions(ctx context.Context, usr string) ([]Symbol, error)

	// ReferencesAt returns the references covering the given byte offset
	// in a file, narrowest span first.
	ReferencesAt(ctx context.Context, file string, offset int) ([]Reference, error)

	// References returns every recorded occurrence of a USR.
	References(ctx context.Context, usr string) ([]Reference, error)

	// SymbolsByPrefix returns up to limit definitions whose name starts
	// with prefix, in name order.
	SymbolsByPrefix(ctx context.Context, prefix string, limit int) ([]Symbol, error)

	// GetOption returns an option value and whether it is set.
	GetOption(ctx context.Context, name string) (string, bool, error)

	// SetOption stores an option value.
	SetOption(ctx context.Context, name, value string) error

	Close() error
}

// NewStore opens the backend selected by the configuration.
func NewStore(ctx context.Context, cfg *config.Config, projectRoot string) (Store, error) {
	switch cfg.Storage.Backend {
	case "", "sqlite":
		path := cfg.Storage.SQLite.Path
		if path == "" {
			path = config.GetIndexPath(projectRoot)
		}
		return OpenSQLite(ctx, path)
	case "postgres":
		return OpenPostgres(ctx, cfg.Storage.Postgres.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
