package config

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadCallback receives the freshly loaded config after the file changes
type ReloadCallback func(cfg *Config)

// Watcher reloads the config file when it changes on disk
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	callback ReloadCallback
	debounce time.Duration

	timer *time.Timer
	mu    sync.Mutex
}

// NewWatcher creates a watcher for the given config file. The parent
// directory is watched so editors that replace the file are picked up.
func NewWatcher(path string, callback ReloadCallback) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}
	return &Watcher{
		path:     path,
		watcher:  watcher,
		callback: callback,
		debounce: 200 * time.Millisecond,
	}, nil
}

// Run blocks until ctx is cancelled, reloading on writes to the file
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[config] watch error: %v", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.Printf("[config] reload %s: %v", w.path, err)
		return
	}
	log.Printf("[config] reloaded %s", w.path)
	w.callback(cfg)
}
