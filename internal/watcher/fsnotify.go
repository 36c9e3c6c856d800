package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches directory trees with fsnotify.
type Watcher struct {
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	opts      Options

	mu      sync.Mutex
	stopped bool
}

// New creates a watcher. Call Start to begin watching.
func New(opts Options) (*Watcher, error) {
	opts = opts.WithDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsw:       fsw,
		debouncer: NewDebouncer(opts.DebounceWindow, opts.EventBufferSize),
		opts:      opts,
	}, nil
}

// Start watches roots recursively and blocks until ctx is done or Stop is
// called. Directories created later are watched as they appear.
func (w *Watcher) Start(ctx context.Context, roots ...string) error {
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("resolve absolute path: %w", err)
		}
		if err := w.addRecursive(abs); err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

// handle converts and filters one fsnotify event.
func (w *Watcher) handle(event fsnotify.Event) {
	var op Operation
	switch {
	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				slog.Warn("failed to watch new directory",
					slog.String("path", event.Name),
					slog.String("error", err.Error()))
			}
			return
		}
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}

	if w.opts.Filter != nil && !w.opts.Filter(event.Name) {
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      event.Name,
		Operation: op,
		Timestamp: time.Now(),
	})
}

// addRecursive adds root and every directory below it.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil // Skip what we can't access
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && len(d.Name()) > 1 && d.Name()[0] == '.' {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// Events returns the channel of debounced event batches. It is closed by Stop.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Stop stops the watcher and releases resources.
// Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true

	w.debouncer.Stop()
	return w.fsw.Close()
}
