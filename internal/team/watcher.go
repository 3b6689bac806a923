package team

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces editor write bursts into one reload.
const reloadDebounce = 250 * time.Millisecond

// Watcher reloads team definitions when files in the definitions
// directory change.
type Watcher struct {
	dir      string
	onReload func([]Definition, error)

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	mu      sync.Mutex
	pending *time.Timer
}

// NewWatcher creates a watcher over the definitions directory. onReload
// receives the freshly loaded definitions (and any per-file errors) after
// each change burst.
func NewWatcher(dir string, onReload func([]Definition, error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch definitions dir: %w", err)
	}
	return &Watcher{
		dir:      dir,
		onReload: onReload,
		watcher:  fw,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	go w.watchLoop()
}

// Stop ends the watch loop and releases the underlying watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
	_ = w.watcher.Close()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".md") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// scheduleReload arms the debounce timer; bursts collapse to one reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Reset(reloadDebounce)
		return
	}
	w.pending = time.AfterFunc(reloadDebounce, func() {
		w.mu.Lock()
		w.pending = nil
		w.mu.Unlock()

		defs, err := LoadDefinitions(w.dir)
		w.onReload(defs, err)
	})
}
