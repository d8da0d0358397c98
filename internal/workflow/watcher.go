package workflow

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ael/pkg/logging"
)

// defaultDebounce coalesces the burst of events editors emit per save.
const defaultDebounce = 500 * time.Millisecond

// Watcher keeps a catalog in sync with a workflow directory: file
// writes re-register the definition, deletes remove it. Events are
// debounced per path.
type Watcher struct {
	catalog  *Catalog
	dir      string
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	pending map[string]*time.Timer
	running bool
}

func NewWatcher(catalog *Catalog, dir string) *Watcher {
	return &Watcher{
		catalog:  catalog,
		dir:      dir,
		debounce: defaultDebounce,
		pending:  make(map[string]*time.Timer),
	}
}

// Start begins watching. It returns once the watch is installed; event
// handling runs until the context is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.running = true
	w.mu.Unlock()

	go w.loop(ctx)
	logging.Info("Watcher", "Watching %s for workflow changes", w.dir)
	return nil
}

// Stop ends watching and cancels pending debounced reloads.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	w.watcher.Close()
	for _, timer := range w.pending {
		timer.Stop()
	}
	w.pending = make(map[string]*time.Timer)
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("Watcher", "Watch error on %s: %v", w.dir, err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !isWorkflowFile(event.Name) {
		return
	}

	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.schedule(event.Name, func() {
			if err := w.catalog.LoadFile(event.Name); err != nil {
				logging.Warn("Watcher", "Reload of %s failed: %v", event.Name, err)
				return
			}
			logging.Info("Watcher", "Reloaded workflow file %s", event.Name)
		})
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// The workflow name is not recoverable from a deleted file, so
		// drop by the name convention: file stem == workflow name.
		name := stem(event.Name)
		w.schedule(event.Name, func() {
			w.catalog.Remove(name)
			logging.Info("Watcher", "Removed workflow %s", name)
		})
	}
}

// schedule runs fn after the debounce window, resetting the window when
// the same path fires again.
func (w *Watcher) schedule(path string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		fn()
	})
}

func stem(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}
