package trigger

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ardiex/ardiex/internal/scanner"
)

const debounceWindow = 300 * time.Millisecond

type watchedSource struct {
	dirs            []string // every directory under the source currently added to fsw
	excludePatterns []string
	backupDirs      []string
}

// Watcher is a single recursive fsnotify subscriber shared across every
// source with event-driven backups enabled, debouncing bursts of events
// per source into one trigger message (spec §4.8).
type Watcher struct {
	Fires chan string

	fsw *fsnotify.Watcher
	mu  sync.Mutex

	sources map[string]*watchedSource // source dir -> watch state

	debounceMu sync.Mutex
	timers     map[string]*time.Timer // source dir -> pending debounce timer
}

func NewWatcher() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		Fires:   make(chan string, 64),
		fsw:     fsw,
		sources: make(map[string]*watchedSource),
		timers:  make(map[string]*time.Timer),
	}
	go w.loop()
	return w, nil
}

// AddSource starts watching every directory under sourceDir, skipping
// excluded subtrees and the source's own backup directories.
func (w *Watcher) AddSource(sourceDir string, excludePatterns, backupDirs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.sources[sourceDir]; ok {
		w.removeLocked(sourceDir)
	}

	ws := &watchedSource{excludePatterns: excludePatterns, backupDirs: backupDirs}
	err := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != sourceDir && isBackupDir(path, backupDirs) {
			return filepath.SkipDir
		}
		rel, relErr := filepath.Rel(sourceDir, path)
		if relErr == nil && rel != "." && scanner.IsExcluded(rel, excludePatterns) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		ws.dirs = append(ws.dirs, path)
		return nil
	})
	if err != nil {
		return err
	}
	w.sources[sourceDir] = ws
	return nil
}

// RemoveSource stops watching sourceDir's tree.
func (w *Watcher) RemoveSource(sourceDir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(sourceDir)
}

func (w *Watcher) removeLocked(sourceDir string) {
	ws, ok := w.sources[sourceDir]
	if !ok {
		return
	}
	for _, d := range ws.dirs {
		_ = w.fsw.Remove(d)
	}
	delete(w.sources, sourceDir)
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("trigger: watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	sourceDir, ws := w.ownerLocked(event.Name)
	if sourceDir == "" {
		w.mu.Unlock()
		return
	}
	if isBackupDir(event.Name, ws.backupDirs) {
		w.mu.Unlock()
		return
	}
	rel, err := filepath.Rel(sourceDir, event.Name)
	excluded := err == nil && scanner.IsExcluded(rel, ws.excludePatterns)
	if event.Op&fsnotify.Create != 0 {
		w.maybeWatchNewDir(sourceDir, ws, event.Name)
	}
	w.mu.Unlock()
	if excluded {
		return
	}

	w.debounce(sourceDir)
}

// ownerLocked finds which watched source's tree event path falls under.
// Callers must hold w.mu.
func (w *Watcher) ownerLocked(path string) (string, *watchedSource) {
	for dir, ws := range w.sources {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return dir, ws
		}
	}
	return "", nil
}

// maybeWatchNewDir extends the watch set when a new subdirectory appears,
// so later events inside it are still observed. Callers must hold w.mu.
func (w *Watcher) maybeWatchNewDir(sourceDir string, ws *watchedSource, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if isBackupDir(path, ws.backupDirs) {
		return
	}
	rel, relErr := filepath.Rel(sourceDir, path)
	if relErr == nil && scanner.IsExcluded(rel, ws.excludePatterns) {
		return
	}
	if err := w.fsw.Add(path); err == nil {
		ws.dirs = append(ws.dirs, path)
	}
}

func (w *Watcher) debounce(sourceDir string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.timers[sourceDir]; ok {
		t.Stop()
	}
	w.timers[sourceDir] = time.AfterFunc(debounceWindow, func() {
		w.debounceMu.Lock()
		delete(w.timers, sourceDir)
		w.debounceMu.Unlock()

		select {
		case w.Fires <- sourceDir:
		default:
			log.Printf("trigger: watcher fire for %s dropped, channel full", sourceDir)
		}
	})
}

func isBackupDir(path string, backupDirs []string) bool {
	for _, b := range backupDirs {
		if path == b || strings.HasPrefix(path, b+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
