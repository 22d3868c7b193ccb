package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the quiet period before a change is reported.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports changes to a set of files. Parent directories are
// watched so that editors replacing files by rename are noticed.
type Watcher struct {
	logger   zerolog.Logger
	debounce time.Duration

	mu    sync.Mutex
	files map[string]bool
}

// NewWatcher creates a watcher. A zero debounce uses DefaultDebounce.
func NewWatcher(logger zerolog.Logger, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		logger:   logger.With().Str("component", "watcher").Logger(),
		debounce: debounce,
		files:    make(map[string]bool),
	}
}

// SetFiles replaces the watched file set. It may be called from onChange
// when the set of relevant files depends on the file contents.
func (w *Watcher) SetFiles(paths []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.files = make(map[string]bool, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			w.files[abs] = true
		}
	}
}

func (w *Watcher) watching(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[path]
}

func (w *Watcher) dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for f := range w.files {
		dir := filepath.Dir(f)
		if !seen[dir] {
			seen[dir] = true
			out = append(out, dir)
		}
	}
	return out
}

// Watch blocks until ctx is done, calling onChange with the last changed
// file once events have been quiet for the debounce period.
func (w *Watcher) Watch(ctx context.Context, paths []string, onChange func(path string)) error {
	w.SetFiles(paths)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	watched := make(map[string]bool)
	addDirs := func() {
		for _, dir := range w.dirs() {
			if watched[dir] {
				continue
			}
			if _, err := os.Stat(dir); err != nil {
				w.logger.Warn().Err(err).Str("path", dir).Msg("Failed to stat path for watching")
				continue
			}
			if err := watcher.Add(dir); err != nil {
				w.logger.Warn().Err(err).Str("path", dir).Msg("Failed to watch directory")
				continue
			}
			watched[dir] = true
		}
	}
	addDirs()

	w.logger.Info().Int("directories", len(watched)).Msg("Started watching for changes")

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	fired := make(chan string, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || !w.watching(name) {
				continue
			}

			w.logger.Debug().
				Str("file", name).
				Str("op", event.Op.String()).
				Msg("File changed")

			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fired <- name:
				default:
				}
			})
			timerMu.Unlock()

		case name := <-fired:
			onChange(name)
			addDirs()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
