package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/buildgate/internal/logfields"
)

// skipDirs never feed rebuilds and are not descended into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".hg":          true,
	".svn":         true,
}

// Watcher feeds filesystem changes under the configured roots into a
// notify callback. Directories created while watching are added on the
// fly, so new packages join the watch without a restart.
type Watcher struct {
	roots  []string
	notify func(path string)
	log    *slog.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

// NewWatcher creates a watcher over roots. Each change under a root is
// passed to notify, typically a Debouncer's Notify.
func NewWatcher(roots []string, notify func(path string), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		roots:  roots,
		notify: notify,
		log:    logger,
		ready:  make(chan struct{}),
	}
}

// Ready is closed once all roots are being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fsw.Close()

	for _, root := range w.roots {
		if err := addRecursive(fsw, root); err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
	}
	w.log.Info("Watching for file changes", slog.Int("roots", len(w.roots)))
	w.readyOnce.Do(func() { close(w.ready) })

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fsw, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("File watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	// Chmod-only events carry no content change.
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if skipDirs[filepath.Base(event.Name)] {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := addRecursive(fsw, event.Name); err != nil {
				w.log.Warn("Failed to watch new directory",
					logfields.Path(event.Name), logfields.Error(err))
			}
		}
	}

	w.log.Debug("File change detected",
		logfields.Path(event.Name), slog.String("op", event.Op.String()))
	if w.notify != nil {
		w.notify(event.Name)
	}
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDirs[d.Name()] {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
