package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/memevault/memevault/internal/bundle"
	"github.com/memevault/memevault/internal/importer"
	"github.com/memevault/memevault/internal/metadata"
	"github.com/memevault/memevault/internal/utils"
)

// settleDelay is how long a file must stay quiet after its last write event
// before it is picked up. Downloads and copies fire many write events; acting
// on the first one would import a half-written file.
const settleDelay = 2 * time.Second

// DropFolderWatcher imports images and bundles placed into a watched
// directory. Files are removed from the drop folder after a successful
// import; failures leave the file in place for inspection.
type DropFolderWatcher struct {
	pipeline *importer.Pipeline
	dir      string
	opts     importer.BatchOptions

	mu        sync.Mutex
	isRunning bool
	timers    map[string]*time.Timer
	watcher   *fsnotify.Watcher
	done      chan struct{}
}

func NewDropFolderWatcher(pipeline *importer.Pipeline, dir string, opts importer.BatchOptions) *DropFolderWatcher {
	return &DropFolderWatcher{
		pipeline: pipeline,
		dir:      dir,
		opts:     opts,
		timers:   make(map[string]*time.Timer),
	}
}

// Start begins watching the drop folder. Existing files are imported once at
// startup so that drops made while the process was down are not lost.
func (w *DropFolderWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return nil
	}
	if w.dir == "" {
		log.Printf("Drop folder watcher: no directory configured, disabled")
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create drop folder %s: %w", w.dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	w.isRunning = true

	log.Printf("Drop folder watcher: watching %s", w.dir)

	go w.loop(ctx)
	go w.sweepExisting(ctx)

	return nil
}

// Stop shuts the watcher down and cancels pending settle timers.
func (w *DropFolderWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning {
		return
	}

	close(w.done)
	w.watcher.Close()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	w.isRunning = false

	log.Printf("Drop folder watcher: stopped")
}

// IsRunning returns whether the watcher is active
func (w *DropFolderWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isRunning
}

func (w *DropFolderWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Drop folder watcher: %v", err)
		}
	}
}

// schedule (re)arms the settle timer for a path. Every new write pushes the
// import further out until the file goes quiet.
func (w *DropFolderWatcher) schedule(ctx context.Context, path string) {
	if !w.eligible(path) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.isRunning {
		return
	}

	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(settleDelay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.handle(ctx, path)
	})
}

// eligible filters events down to importable payloads: known image
// extensions and bundle archives. Sidecars ride along with their image.
func (w *DropFolderWatcher) eligible(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	if utils.HasImageExtension(name) {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".zip" || ext == ".memebundle"
}

// sweepExisting imports whatever is already sitting in the drop folder.
func (w *DropFolderWatcher) sweepExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Printf("Drop folder watcher: failed to scan %s: %v", w.dir, err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if w.eligible(path) {
			w.handle(ctx, path)
		}
	}
}

func (w *DropFolderWatcher) handle(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".zip" || ext == ".memebundle" || bundle.IsBundle(path) {
		w.handleBundle(ctx, path)
		return
	}
	w.handleImage(ctx, path)
}

func (w *DropFolderWatcher) handleBundle(ctx context.Context, path string) {
	result, err := w.pipeline.ImportBundle(ctx, path, w.opts)
	if err != nil {
		log.Printf("Drop folder watcher: bundle %s failed: %v", filepath.Base(path), err)
		return
	}

	log.Printf("Drop folder watcher: bundle %s: %d imported, %d skipped, %d failed",
		filepath.Base(path), result.Succeeded, result.SkippedDuplicates, result.Failed)
	if result.Failed == 0 {
		w.remove(path)
	}
}

func (w *DropFolderWatcher) handleImage(ctx context.Context, path string) {
	result, err := w.pipeline.ImportFiles(ctx, []string{path}, w.opts)
	if err != nil {
		log.Printf("Drop folder watcher: import of %s interrupted: %v", filepath.Base(path), err)
		return
	}

	if result.Failed > 0 {
		log.Printf("Drop folder watcher: failed to import %s: %s",
			filepath.Base(path), result.Errors[filepath.Base(path)])
		return
	}

	if result.SkippedDuplicates > 0 {
		log.Printf("Drop folder watcher: %s already in library, removing", filepath.Base(path))
	} else {
		log.Printf("Drop folder watcher: imported %s", filepath.Base(path))
	}
	w.remove(path)
}

// remove deletes a handled drop file and its sidecar if one exists.
func (w *DropFolderWatcher) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("Drop folder watcher: failed to remove %s: %v", path, err)
		return
	}
	sidecar := path + metadata.SidecarSuffix
	if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
		log.Printf("Drop folder watcher: failed to remove sidecar %s: %v", sidecar, err)
	}
}
