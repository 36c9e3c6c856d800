package index

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/pagesearch/internal/extract"
	"github.com/Aman-CERP/pagesearch/internal/watcher"
)

// CoordinatorConfig contains configuration for the Coordinator.
type CoordinatorConfig struct {
	// Indexer applies the changes.
	Indexer *Indexer

	// DebounceWindow coalesces bursts of writes to one file (default: 500ms).
	DebounceWindow time.Duration

	// OnReport, when set, receives the report of every handled batch.
	OnReport func(*Report)
}

// Coordinator keeps the index in step with files changing on disk.
type Coordinator struct {
	config CoordinatorConfig
	mu     sync.Mutex
}

// NewCoordinator creates a new index coordinator.
func NewCoordinator(config CoordinatorConfig) *Coordinator {
	return &Coordinator{config: config}
}

// HandleEvents applies one batch of file events: created and modified
// files are (re-)indexed, deleted files are removed from both stores.
func (c *Coordinator) HandleEvents(ctx context.Context, events []watcher.FileEvent) *Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changed []string
	for _, event := range events {
		slog.Debug("processing file event",
			slog.String("path", event.Path),
			slog.String("operation", event.Operation.String()))

		if event.Operation != watcher.OpDelete {
			changed = append(changed, event.Path)
			continue
		}
		if _, err := c.config.Indexer.RemoveDocument(ctx, event.Path); err != nil {
			// Keep going with the rest of the batch.
			slog.Warn("failed to remove document",
				slog.String("path", event.Path),
				slog.String("error", err.Error()))
		}
	}

	report := &Report{}
	if len(changed) > 0 {
		report = c.config.Indexer.Reindex(ctx, changed)
	}
	if c.config.OnReport != nil {
		c.config.OnReport(report)
	}
	return report
}

// Watch indexes supported files created or written under dirs until ctx is
// cancelled.
func (c *Coordinator) Watch(ctx context.Context, dirs ...string) error {
	w, err := watcher.New(watcher.Options{
		DebounceWindow: c.config.DebounceWindow,
		Filter:         extract.Supported,
	})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Start(gctx, dirs...)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case batch, ok := <-w.Events():
				if !ok {
					return nil
				}
				c.HandleEvents(gctx, batch)
			}
		}
	})

	slog.Info("watching for changes", slog.Any("dirs", dirs))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
