package media

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// CleanupService periodically prunes thumbnail cache entries that have not
// been touched for maxAge. Cache files are regenerated on demand, so
// pruning is always safe.
type CleanupService struct {
	cacheDir string
	interval time.Duration
	maxAge   time.Duration
	done     chan struct{}
}

// NewCleanupService creates a cleanup service for the given cache directory.
func NewCleanupService(cacheDir string, interval, maxAge time.Duration) *CleanupService {
	return &CleanupService{
		cacheDir: cacheDir,
		interval: interval,
		maxAge:   maxAge,
		done:     make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
func (cs *CleanupService) Start(ctx context.Context) {
	slog.Info("thumbnail cleanup started", "interval", cs.interval, "max_age", cs.maxAge)

	go func() {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		cs.runCleanup()

		for {
			select {
			case <-ticker.C:
				cs.runCleanup()
			case <-ctx.Done():
				slog.Info("thumbnail cleanup stopping")
				close(cs.done)
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

func (cs *CleanupService) runCleanup() {
	cutoff := time.Now().Add(-cs.maxAge)

	ents, err := os.ReadDir(cs.cacheDir)
	if err != nil {
		slog.Error("failed to read thumbnail cache", "error", err)
		return
	}

	var pruned int
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(cs.cacheDir, e.Name())); err != nil {
				slog.Error("failed to prune cached thumbnail", "name", e.Name(), "error", err)
				continue
			}
			pruned++
		}
	}
	if pruned > 0 {
		slog.Info("pruned thumbnail cache", "removed", pruned)
	}
}
