package intake

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/poiesic/docindex/core"
)

// DefaultSettle is how long a file must go without writes before it is submitted.
const DefaultSettle = time.Second

// Watcher submits files created in a directory.
type Watcher struct {
	intake       *Intake
	dir          string
	collectionID core.CollectionID
	settle       time.Duration
	submitted    func(*core.Document)
	logger       *slog.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithSettle sets the quiet period before a new file is submitted.
func WithSettle(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithWatcherLogger sets a custom logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// OnSubmitted registers a callback run after each successful submit.
func OnSubmitted(fn func(*core.Document)) WatcherOption {
	return func(w *Watcher) {
		w.submitted = fn
	}
}

// NewWatcher creates a watcher that submits files in dir to collectionID.
func NewWatcher(in *Intake, dir string, collectionID core.CollectionID, opts ...WatcherOption) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch path %s is not a directory", dir)
	}
	if same, err := sameDir(dir, in.Dir()); err != nil {
		return nil, err
	} else if same {
		return nil, fmt.Errorf("watch path %s is the uploads directory", dir)
	}

	w := &Watcher{
		intake:       in,
		dir:          dir,
		collectionID: collectionID,
		settle:       DefaultSettle,
		submitted:    func(*core.Document) {},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "watcher", "dir", dir)
	return w, nil
}

// Run watches until ctx is cancelled. Files are submitted once they have
// gone DefaultSettle (or the configured settle period) without events.
// Hidden files and files already in the directory at start are ignored.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.logger.Info("watching for new documents")

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(max(w.settle/4, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return core.Cancelled(ctx.Err())

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				pending[event.Name] = time.Now()
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				delete(pending, event.Name)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "err", err)

		case now := <-ticker.C:
			for path, seen := range pending {
				if now.Sub(seen) < w.settle {
					continue
				}
				delete(pending, path)
				w.submit(ctx, path)
			}
		}
	}
}

func (w *Watcher) submit(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	doc, err := w.intake.Submit(ctx, path, w.collectionID)
	if err != nil {
		w.logger.Warn("submit failed", "file", path, "err", err)
		return
	}
	w.submitted(doc)
}

func sameDir(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return absA == absB, nil
}
