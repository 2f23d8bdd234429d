package catalog

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"malloy-publisher/internal/domain"
)

// debounceWindow coalesces bursts of filesystem events into one reload.
const debounceWindow = 200 * time.Millisecond

// Watcher mirrors filesystem changes of one project into the catalog. At
// most one project is watched at a time; starting a new watch replaces the
// previous one.
type Watcher struct {
	store  *Store
	logger *slog.Logger

	mu      sync.Mutex
	project string
	path    string
	cancel  context.CancelFunc
	done    chan struct{}
}

func newWatcher(store *Store, logger *slog.Logger) *Watcher {
	return &Watcher{store: store, logger: logger.With("component", "watcher")}
}

// Start begins watching the named project's directory tree. Any previous
// watch stops first.
func (w *Watcher) Start(ctx context.Context, projectName string) error {
	project, err := w.store.GetProject(ctx, projectName, false)
	if err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return domain.ErrConfig("start watcher: %v", err)
	}
	if err := addRecursive(fsw, project.Root()); err != nil {
		fsw.Close() //nolint:errcheck
		return domain.ErrConfig("watch %s: %v", project.Root(), err)
	}

	w.Stop()

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	w.mu.Lock()
	w.project = projectName
	w.path = project.Root()
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	go w.run(runCtx, fsw, projectName, done)
	w.logger.Info("watching project", "project", projectName, "path", project.Root())
	return nil
}

// Stop halts the active watch, if any, and waits for its loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.project, w.path, w.cancel, w.done = "", "", nil, nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// stopIfProject stops the watch only when it targets the given project.
func (w *Watcher) stopIfProject(name string) {
	w.mu.Lock()
	active := w.project == name
	w.mu.Unlock()
	if active {
		w.Stop()
	}
}

// Status reports the current watch state.
func (w *Watcher) Status() domain.WatchStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return domain.WatchStatus{
		Enabled:      w.project != "",
		WatchingPath: w.path,
		ProjectName:  w.project,
	}
}

// run is the event loop: relevant events mark the project dirty, and a
// ticker flushes one coalesced reload per debounce window.
func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher, projectName string, done chan struct{}) {
	defer close(done)
	defer fsw.Close() //nolint:errcheck

	ticker := time.NewTicker(debounceWindow)
	defer ticker.Stop()

	dirty := false
	var lastEvent time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			// New directories join the watch so nested files are seen.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = addRecursive(fsw, event.Name)
				}
			}
			if !relevantChange(event.Name) {
				continue
			}
			dirty = true
			lastEvent = time.Now()

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "project", projectName, "error", err)

		case <-ticker.C:
			if !dirty || time.Since(lastEvent) < debounceWindow {
				continue
			}
			dirty = false
			w.reload(ctx, projectName)
		}
	}
}

func (w *Watcher) reload(ctx context.Context, projectName string) {
	project, err := w.store.GetProject(ctx, projectName, false)
	if err != nil {
		w.logger.Warn("watched project vanished", "project", projectName)
		return
	}
	start := time.Now()
	if err := project.Reload(ctx); err != nil {
		w.logger.Warn("watch reload failed", "project", projectName, "error", err)
		return
	}
	w.logger.Info("reloaded project", "project", projectName, "elapsed", time.Since(start))
}

// relevantChange filters events down to files that affect the catalog.
func relevantChange(path string) bool {
	switch {
	case strings.HasSuffix(path, ".malloy"), strings.HasSuffix(path, ".malloynb"),
		strings.HasSuffix(path, ".md"):
		return true
	}
	base := filepath.Base(path)
	return base == ManifestName || base == SchedulesManifestName || base == ConnectionsFileName
}

// addRecursive registers a directory and all its subdirectories.
func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
