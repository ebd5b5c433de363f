package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk and hands the
// fresh Config to a callback. Editors often replace files via rename, so
// the parent directory is watched rather than the file itself.
type Watcher struct {
	path    string
	logger  *log.Logger
	watcher *fsnotify.Watcher

	OnReload func(*Config)

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewWatcher(path string, logger *log.Logger) (*Watcher, error) {
	if path == "" {
		path = DefaultPath()
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[config] ", log.LstdFlags)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return &Watcher{
		path:    abs,
		logger:  logger,
		watcher: fw,
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching. The config directory must already exist.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.running = true
	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				// Keep running with the previous config.
				w.logger.Printf("reload failed, keeping current config: %v", err)
				continue
			}
			w.logger.Printf("config reloaded from %s", w.path)
			if w.OnReload != nil {
				w.OnReload(cfg)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watch error: %v", err)
		}
	}
}
