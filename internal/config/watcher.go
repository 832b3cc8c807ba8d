package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ApplyFunc is called with a freshly validated Runtime whenever the
// config file changes. Subsystems reconfigure themselves under their
// own lock (AnalysisEngine.Reconfigure / RuleEngine.Reconfigure), per
// the same-lock requirement in spec.md §5.
type ApplyFunc func(rt *Runtime)

// Watcher watches a YAML config file's directory (watching the
// directory catches editors that write-then-rename, not just in-place
// writes) and reloads on change, grounded on the ariadne HotReloadSystem
// pattern: re-parse, validate, apply on success; reject and log WARN on
// failure, leaving the previously applied Runtime in effect.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	log     zerolog.Logger
	apply   ApplyFunc
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, log zerolog.Logger, apply ApplyFunc) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		path:    path,
		watcher: w,
		log:     log.With().Str("component", "config_watcher").Logger(),
		apply:   apply,
	}, nil
}

// Run watches the config file's directory until ctx is canceled. It
// should be started in its own goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch config directory %s: %w", dir, err)
	}
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	f, err := LoadFile(w.path, w.log)
	if err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("config reload rejected: parse failure, keeping previous config")
		return
	}
	rt, err := Resolve(f)
	if err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("config reload rejected: validation failure, keeping previous config")
		return
	}
	w.log.Info().Str("path", w.path).Msg("config reloaded")
	w.apply(rt)
}

// Close stops the watcher without waiting for Run's context.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
