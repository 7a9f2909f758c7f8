package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	debounceInterval = 500 * time.Millisecond
	settleDelay      = 150 * time.Millisecond
)

// excludedDirs are directories excluded from file counting and change tracking.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
	"__pycache__":  true,
}

// CountCallback is called when the number of files in the workspace changes.
type CountCallback func(fileCount int)

// Watcher monitors the claude working directory and records which files
// change while a command runs.
type Watcher struct {
	workDir   string
	fsWatcher *fsnotify.Watcher
	callback  CountCallback
	logger    *slog.Logger
	cancel    chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	lastCount  int
	recordings map[*Recording]struct{}

	// settle is how long Stop waits for in-flight filesystem events.
	settle time.Duration
}

// Recording collects changed paths between Begin and Stop.
type Recording struct {
	w     *Watcher
	paths map[string]struct{}
}

// New starts watching workDir recursively. callback may be nil.
func New(workDir string, callback CountCallback, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(workDir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", workDir)
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := addDirsRecursive(fsW, workDir); err != nil {
		fsW.Close()
		return nil, err
	}

	w := &Watcher{
		workDir:    workDir,
		fsWatcher:  fsW,
		callback:   callback,
		logger:     logger,
		cancel:     make(chan struct{}),
		lastCount:  CountFiles(workDir),
		recordings: make(map[*Recording]struct{}),
		settle:     settleDelay,
	}

	go w.watchLoop()
	return w, nil
}

// FileCount returns the most recent file count.
func (w *Watcher) FileCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastCount
}

// Begin starts recording changed paths.
func (w *Watcher) Begin() *Recording {
	r := &Recording{w: w, paths: make(map[string]struct{})}
	w.mu.Lock()
	w.recordings[r] = struct{}{}
	w.mu.Unlock()
	return r
}

// Stop ends the recording and returns the changed paths relative to the
// working directory, sorted.
func (r *Recording) Stop() []string {
	if r.w.settle > 0 {
		time.Sleep(r.w.settle)
	}

	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	delete(r.w.recordings, r)

	paths := make([]string, 0, len(r.paths))
	for p := range r.paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Close stops watching.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.cancel)
		err = w.fsWatcher.Close()
	})
	return err
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop() {
	var timer *time.Timer

	for {
		select {
		case <-w.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			// If a new directory is created, watch it too.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					base := filepath.Base(event.Name)
					if !excludedDirs[base] && !isHidden(base) {
						if err := addDirsRecursive(w.fsWatcher, event.Name); err != nil {
							w.logger.Debug("watch new directory", "path", event.Name, "error", err)
						}
					}
				}
			}

			if event.Op != fsnotify.Chmod {
				w.record(event.Name)
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, w.recount)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "workDir", w.workDir, "error", err)
		}
	}
}

// record adds a path to every active recording, skipping ignored files.
func (w *Watcher) record(path string) {
	rel, err := filepath.Rel(w.workDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	if ignored(rel) {
		return
	}
	rel = filepath.ToSlash(rel)

	w.mu.Lock()
	defer w.mu.Unlock()
	for r := range w.recordings {
		r.paths[rel] = struct{}{}
	}
}

// recount recalculates the file count and notifies if it changed.
func (w *Watcher) recount() {
	count := CountFiles(w.workDir)

	w.mu.Lock()
	changed := count != w.lastCount
	w.lastCount = count
	w.mu.Unlock()

	if changed && w.callback != nil {
		w.callback(count)
	}
}

// CountFiles counts all non-excluded files in a directory.
func CountFiles(dir string) int {
	count := 0
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip inaccessible paths.
		}

		name := d.Name()

		if d.IsDir() {
			if excludedDirs[name] {
				return filepath.SkipDir
			}
			// Skip hidden dirs except .claude.
			if isHidden(name) && name != ".claude" && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		// Skip hidden files (except inside .claude).
		rel, _ := filepath.Rel(dir, path)
		if isHidden(name) && !strings.HasPrefix(rel, ".claude") {
			return nil
		}

		count++
		return nil
	})
	return count
}

// ignored reports whether a workspace-relative path falls in an excluded or
// hidden location. Files under .claude are tracked.
func ignored(rel string) bool {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for i, part := range parts {
		if excludedDirs[part] {
			return true
		}
		if isHidden(part) && !(i == 0 && part == ".claude") {
			return true
		}
	}
	return false
}

// addDirsRecursive adds a directory and its subdirectories to an fsnotify watcher.
func addDirsRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		name := d.Name()
		if excludedDirs[name] && path != dir {
			return filepath.SkipDir
		}
		if isHidden(name) && name != ".claude" && path != dir {
			return filepath.SkipDir
		}

		return w.Add(path)
	})
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
