package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ritzau/deps-validator/pkg/logging"
)

var log = logging.New("watcher")

// Op is what happened to a watched file
type Op int

const (
	OpChanged Op = iota // Created or written
	OpRemoved           // Removed or renamed away
)

func (o Op) String() string {
	if o == OpRemoved {
		return "removed"
	}
	return "changed"
}

// FileEvent is a change to one source file
type FileEvent struct {
	Path      string // Workspace-relative, forward slashes
	Op        Op
	Timestamp time.Time
}

// Filter decides which directories are watched and which files reported
type Filter interface {
	SkipDir(rel string) bool
	Accepts(rel string) bool
}

// FileWatcher watches every directory of a workspace for source file changes
type FileWatcher struct {
	watcher *fsnotify.Watcher
	root    string
	filter  Filter
	events  chan FileEvent
}

// NewFileWatcher creates a new file system watcher for a workspace
func NewFileWatcher(root string, filter Filter) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		root:    root,
		filter:  filter,
		events:  make(chan FileEvent, 256),
	}, nil
}

// Start adds the directory tree and begins processing events. The events
// channel is closed once ctx is cancelled.
func (fw *FileWatcher) Start(ctx context.Context) error {
	count, err := fw.watchTree(fw.root)
	if err != nil {
		fw.watcher.Close()
		return err
	}
	log.Info("Started watching workspace", "path", fw.root, "dirs", count)

	go fw.processEvents(ctx)
	return nil
}

// watchTree adds dir and every non-skipped directory below it.
// fsnotify is not recursive, so new directories are added as they appear.
func (fw *FileWatcher) watchTree(dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != fw.root && fw.filter.SkipDir(fw.rel(path)) {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			log.Warn("Failed to watch directory", "path", path, "error", err)
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return count, nil
}

func (fw *FileWatcher) rel(path string) string {
	rel, err := filepath.Rel(fw.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	defer close(fw.events)
	defer fw.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fe, ok := fw.translate(event)
			if !ok {
				continue
			}
			select {
			case fw.events <- fe:
			case <-ctx.Done():
				return
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Error("Watcher error", "error", err)
		}
	}
}

// translate maps a raw event to a FileEvent, adding new directories to the
// watch set on the way
func (fw *FileWatcher) translate(event fsnotify.Event) (FileEvent, bool) {
	rel := fw.rel(event.Name)

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !fw.filter.SkipDir(rel) {
				if n, err := fw.watchTree(event.Name); err != nil {
					log.Warn("Failed to watch new directory", "path", rel, "error", err)
				} else {
					log.Debug("Watching new directory", "path", rel, "dirs", n)
				}
			}
			return FileEvent{}, false
		}
	}

	if !fw.filter.Accepts(rel) {
		return FileEvent{}, false
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return FileEvent{Path: rel, Op: OpRemoved, Timestamp: time.Now()}, true
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		return FileEvent{Path: rel, Op: OpChanged, Timestamp: time.Now()}, true
	default:
		// Chmod only
		return FileEvent{}, false
	}
}

// Events returns the channel of file events
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}
