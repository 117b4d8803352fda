// Package watch invalidates cached definitions as soon as their files change
// on disk, instead of waiting for the next staleness check.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/manydesigns/portofino/internal/store"
)

// ErrNotOSBacked is returned for stores without an operating system directory.
var ErrNotOSBacked = errors.New("store is not backed by an OS directory")

// Invalidator drops the cached entry of a file.
type Invalidator interface {
	Invalidate(loc store.Location)
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(loc store.Location)

func (f InvalidatorFunc) Invalidate(loc store.Location) { f(loc) }

// Watcher maps file system events under a store to cache invalidations.
type Watcher struct {
	store   *store.Store
	base    string
	watcher *fsnotify.Watcher
	log     *zap.Logger

	mu      sync.RWMutex
	targets map[string][]Invalidator
}

// New watches every directory below the store's base directory.
func New(s *store.Store, log *zap.Logger) (*Watcher, error) {
	base := s.BaseDir()
	if base == "" {
		return nil, ErrNotOSBacked
	}
	if log == nil {
		log = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		store:   s,
		base:    base,
		watcher: fw,
		log:     log.Named("watch"),
		targets: make(map[string][]Invalidator),
	}
	if err := w.addTree(base, false); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("could not watch %s: %w", base, err)
	}
	return w, nil
}

// Handle routes changes to files named name to inv.
func (w *Watcher) Handle(name string, inv Invalidator) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.targets[name] = append(w.targets[name], inv)
}

// Run processes events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) handle(event fsnotify.Event) {
	w.log.Debug("file system event", zap.String("name", event.Name), zap.Stringer("op", event.Op))
	if event.Has(fsnotify.Create) {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			// Files may land in a new directory before it is watched.
			if err := w.addTree(event.Name, true); err != nil {
				w.log.Warn("could not watch directory", zap.String("dir", event.Name), zap.Error(err))
			}
			return
		}
	}
	w.invalidate(event.Name)
}

func (w *Watcher) invalidate(osPath string) {
	w.mu.RLock()
	targets := w.targets[filepath.Base(osPath)]
	w.mu.RUnlock()
	if len(targets) == 0 {
		return
	}
	rel, err := filepath.Rel(w.base, osPath)
	if err != nil {
		return
	}
	loc := w.store.Locate(filepath.ToSlash(rel))
	for _, inv := range targets {
		inv.Invalidate(loc)
	}
	w.log.Debug("invalidated", zap.String("location", loc.Path()))
}

func (w *Watcher) addTree(root string, invalidateFiles bool) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			if invalidateFiles {
				w.invalidate(p)
			}
			return nil
		}
		return w.watcher.Add(p)
	})
}
