// Package indexer rebuilds the symbol index from the registered file list.
package indexer

import (
	"context"
	"log/slog"
	"time"

	"github.com/symdex/symdex/cache"
	"github.com/symdex/symdex/internal/logging"
	"github.com/symdex/symdex/storage"
)

type Indexer struct {
	store     storage.Store
	cache     *cache.Cache
	extractor *Extractor
	logger    *slog.Logger
}

// Stats summarizes one rescan pass.
type Stats struct {
	Indexed   int
	Unchanged int
	Skipped   int
	Duration  time.Duration
}

func New(st storage.Store, c *cache.Cache, extractor *Extractor, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Indexer{
		store:     st,
		cache:     c,
		extractor: extractor,
		logger:    logger.With(slog.String("component", "indexer")),
	}
}

// Rescan re-extracts symbols for every registered file whose content hash
// changed since the last pass. Per-file failures are logged and skipped; the
// pass only aborts on cancellation or when the file list cannot be read.
func (idx *Indexer) Rescan(ctx context.Context) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}

	paths, err := idx.store.ListFiles(ctx)
	if err != nil {
		return stats, err
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if !idx.extractor.Supported(path) {
			stats.Skipped++
			continue
		}

		content, hash, err := idx.cache.Load(path)
		if err != nil {
			idx.logger.Warn("skipping unreadable file", slog.String("file", path), logging.Error(err))
			stats.Skipped++
			continue
		}

		prev, err := idx.store.FileHash(ctx, path)
		if err != nil {
			idx.logger.Warn("failed to read file hash", slog.String("file", path), logging.Error(err))
			stats.Skipped++
			continue
		}
		if prev == hash {
			stats.Unchanged++
			continue
		}

		symbols, refs, err := idx.extractor.Extract(ctx, path, content)
		if err != nil {
			idx.logger.Warn("failed to extract symbols", slog.String("file", path), logging.Error(err))
			stats.Skipped++
			continue
		}

		if err := idx.store.ReplaceFileSymbols(ctx, path, symbols, refs); err != nil {
			idx.logger.Warn("failed to store symbols", slog.String("file", path), logging.Error(err))
			stats.Skipped++
			continue
		}
		if err := idx.store.SetFileHash(ctx, path, hash); err != nil {
			idx.logger.Warn("failed to record file hash", slog.String("file", path), logging.Error(err))
		}
		stats.Indexed++
	}

	stats.Duration = time.Since(start)
	idx.logger.Debug("rescan complete",
		slog.Int("indexed", stats.Indexed),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("skipped", stats.Skipped),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}
