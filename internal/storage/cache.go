package storage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/tgdscott/DoneCast-sub003/internal/logging"
)

// CleanupCache removes cache files no longer referenced by any job in a
// non-terminal state and returns how many files it deleted. An errored job
// retried later still needs its inputs, so error counts as active here; only
// processed jobs release their cached media.
func (r *Resolver) CleanupCache(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	protected, err := r.store.LocalPathsForActiveJobs(ctx)
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(r.cfg.Paths.MediaCacheDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(r.cfg.Paths.MediaCacheDir, entry.Name())
		if _, active := protected[path]; active {
			continue
		}
		if err := os.Remove(path); err != nil {
			r.logger.Warn("cache cleanup failed for file",
				logging.String("path", path),
				logging.Error(err),
			)
			continue
		}
		removed++
	}

	if removed > 0 {
		r.logger.Info("cleaned media cache", logging.Int("removed", removed))
	}
	return removed, nil
}
