package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// Pruner deletes terminal runs older than a retention window
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int, error)
}

// Cleaner periodically prunes finished runs from the run history
type Cleaner struct {
	pruner    Pruner
	interval  time.Duration
	retention time.Duration
	done      chan struct{}
}

// NewCleaner creates a new retention worker
func NewCleaner(pruner Pruner, interval, retention time.Duration) *Cleaner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	return &Cleaner{
		pruner:    pruner,
		interval:  interval,
		retention: retention,
		done:      make(chan struct{}),
	}
}

// Start runs the worker in a goroutine until ctx is cancelled
func (c *Cleaner) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the worker has stopped
func (c *Cleaner) Done() <-chan struct{} {
	return c.done
}

func (c *Cleaner) run(ctx context.Context) {
	defer close(c.done)
	slog.Info("cleanup worker started", "interval", c.interval, "retention", c.retention)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pruning cycle and returns how many runs it removed
func (c *Cleaner) RunOnce(ctx context.Context) int {
	deleted, err := c.pruner.Prune(ctx, c.retention)
	if err != nil {
		slog.Error("failed to prune finished runs", "error", err)
		return 0
	}

	if deleted > 0 {
		slog.Info("pruned finished runs", "count", deleted)
	} else {
		slog.Debug("no finished runs to prune")
	}
	return deleted
}
