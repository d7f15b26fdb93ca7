// Package sensordefaults hot-reloads a JSON file of fallback per-sensor
// settings, applied during provisioning (spec §4.5) when a registration
// request omits them. Grounded on the teacher's internal/ingest file-watch
// loop (fsnotify.Watcher, debounced Write/Create handling), repointed at a
// single small config file instead of a trunk-recorder audio directory tree.
package sensordefaults

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/snarg/motion-engine/internal/store"
)

// Defaults are applied to a provisioning request wherever the caller left
// the corresponding field at its zero value.
type Defaults struct {
	MotionDebounceSeconds    int               `json:"motionDebounceSeconds"`
	InactivityTimeoutSeconds int               `json:"inactivityTimeoutSeconds"`
	QuietHours               *store.QuietHours `json:"quietHours,omitempty"`
}

// Watcher serves the current Defaults and reloads them whenever the backing
// file changes on disk.
type Watcher struct {
	path string
	log  zerolog.Logger

	mu       sync.RWMutex
	current  Defaults
	watcher  *fsnotify.Watcher
	debounce *time.Timer
}

// New loads the defaults file once (if path is non-empty) and prepares a
// Watcher. Call Start to begin watching for changes. An empty path yields a
// Watcher that always serves the zero Defaults.
func New(path string, log zerolog.Logger) (*Watcher, error) {
	w := &Watcher{path: path, log: log.With().Str("component", "sensor_defaults").Logger()}
	if path == "" {
		return w, nil
	}
	if err := w.reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// Get returns the currently loaded defaults.
func (w *Watcher) Get() Defaults {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins watching the defaults file for changes until ctx is done.
// It is a no-op if no path was configured.
func (w *Watcher) Start(ctx context.Context) error {
	if w.path == "" {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return err
	}

	go w.watchLoop(ctx)
	return nil
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer w.watcher.Close()
	base := filepath.Base(w.path)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("fsnotify error watching sensor defaults file")
		}
	}
}

// scheduleReload debounces rapid Write+Create pairs (common with editors
// that save via rename) by 250ms before actually reloading.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Reset(250 * time.Millisecond)
		return
	}
	w.debounce = time.AfterFunc(250*time.Millisecond, func() {
		if err := w.reload(); err != nil {
			w.log.Warn().Err(err).Msg("failed to reload sensor defaults file")
		} else {
			w.log.Info().Msg("sensor defaults reloaded")
		}
	})
}

func (w *Watcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}
	var d Defaults
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	w.mu.Lock()
	w.current = d
	w.mu.Unlock()
	return nil
}
