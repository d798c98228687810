// Package watch monitors source datasets and triggers re-conversion on
// change.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors dataset roots for changes. A dataset root is either a
// single sequence file or a directory of layer files; any write or create
// under a root marks the whole dataset changed.
type Watcher struct {
	watcher  *fsnotify.Watcher
	datasets map[string]*datasetState
	mu       sync.RWMutex
	debounce time.Duration

	// OnChange runs once per debounced change burst with the dataset root.
	OnChange func(dataset string) error
	OnError  func(dataset string, err error)
}

type datasetState struct {
	root       string
	processing bool
}

// NewWatcher creates a dataset watcher.
func NewWatcher() (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		watcher:  fsWatcher,
		datasets: make(map[string]*datasetState),
		debounce: 500 * time.Millisecond,
	}, nil
}

// WithDebounce sets the quiet period collapsing rapid change bursts.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Watch registers a dataset root.
func (w *Watcher) Watch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	stat, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("failed to stat dataset: %w", err)
	}

	w.mu.Lock()
	w.datasets[absPath] = &datasetState{root: absPath}
	w.mu.Unlock()

	// For a file, watch its parent so renames into place are seen.
	target := absPath
	if !stat.IsDir() {
		target = filepath.Dir(absPath)
	}
	if err := w.watcher.Add(target); err != nil {
		return fmt.Errorf("failed to watch %s: %w", target, err)
	}
	return nil
}

// Run blocks handling events until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	debounceTimers := make(map[string]*time.Timer)
	var timerMu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			state := w.match(event.Name)
			if state == nil {
				continue
			}

			timerMu.Lock()
			if timer, exists := debounceTimers[state.root]; exists {
				timer.Stop()
			}
			debounceTimers[state.root] = time.AfterFunc(w.debounce, func() {
				w.handleChange(state)
			})
			timerMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if w.OnError != nil {
				w.OnError("", err)
			}
		}
	}
}

// match resolves an event path to the dataset root containing it.
func (w *Watcher) match(eventPath string) *datasetState {
	absPath, err := filepath.Abs(eventPath)
	if err != nil {
		return nil
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if state, ok := w.datasets[absPath]; ok {
		return state
	}
	for root, state := range w.datasets {
		if strings.HasPrefix(absPath, root+string(filepath.Separator)) {
			return state
		}
	}
	return nil
}

func (w *Watcher) handleChange(state *datasetState) {
	w.mu.Lock()
	if state.processing {
		w.mu.Unlock()
		return
	}
	state.processing = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		state.processing = false
		w.mu.Unlock()
	}()

	if w.OnChange != nil {
		if err := w.OnChange(state.root); err != nil {
			if w.OnError != nil {
				w.OnError(state.root, err)
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
