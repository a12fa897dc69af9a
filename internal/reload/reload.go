// SPDX-License-Identifier: MPL-2.0

// Package reload restarts the backend when its sources change. It watches
// the backend install tree recursively and calls OnChange once per burst of
// edits.
package reload

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce lets an editor's write-then-rename settle into one
// restart.
const DefaultDebounce = 500 * time.Millisecond

var (
	// DefaultPatterns select backend sources and dependency manifests.
	DefaultPatterns = []string{"**/*.py", "**/.env", "**/requirements*.txt", "**/pyproject.toml"}

	defaultIgnores = []string{
		"**/.git/**",
		"**/__pycache__/**",
		"**/.venv/**",
		"**/venv/**",
		"**/node_modules/**",
		"**/*.pyc",
		"**/*.swp",
		"**/*~",
		"**/.DS_Store",
	}
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("reload: Run called more than once")

type (
	// Config configures a Watcher.
	Config struct {
		// Root is the directory tree to watch, normally the backend app
		// root.
		Root string
		// Patterns are doublestar globs relative to Root; empty selects
		// DefaultPatterns.
		Patterns []string
		// Ignore is merged with the built-in ignores.
		Ignore   []string
		Debounce time.Duration
		// OnChange receives the changed paths relative to Root. Edits made
		// while it runs are batched into the next call.
		OnChange func(ctx context.Context, changed []string) error
		Logger   *log.Logger
	}

	// Watcher runs OnChange after matching files change.
	Watcher struct {
		cfg     Config
		root    string
		ignores []string
		fsw     *fsnotify.Watcher
		logger  *log.Logger
		started bool
	}
)

// New validates cfg and registers every non-ignored directory under Root.
func New(cfg Config) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, errors.New("reload: root directory is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("reload: resolve root: %w", err)
	}
	if len(cfg.Patterns) == 0 {
		cfg.Patterns = DefaultPatterns
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "reload"})
	}
	for _, p := range slices.Concat(cfg.Patterns, cfg.Ignore) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("reload: invalid pattern %q", p)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("reload: create watcher: %w", err)
	}
	w := &Watcher{
		cfg:     cfg,
		root:    root,
		ignores: slices.Concat(defaultIgnores, cfg.Ignore),
		fsw:     fsw,
		logger:  cfg.Logger,
	}
	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run processes events until ctx is done. It returns nil on cancellation
// and an error when the underlying watcher breaks. Run closes the watcher
// and may be called only once.
func (w *Watcher) Run(ctx context.Context) error {
	if w.started {
		return ErrAlreadyRunning
	}
	w.started = true
	defer w.fsw.Close()

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.cfg.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("reload: event channel closed")
			}
			rel, ok := w.relevant(evt)
			if !ok {
				continue
			}
			pending[rel] = struct{}{}
			timer.Reset(w.cfg.Debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := slices.Sorted(maps.Keys(pending))
			clear(pending)
			w.logger.Info("sources changed", "files", len(changed), "first", changed[0])
			if w.cfg.OnChange != nil {
				if err := w.cfg.OnChange(ctx, changed); err != nil {
					w.logger.Error("reload failed", "err", err)
				}
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("reload: error channel closed")
			}
			if isFatal(err) {
				return fmt.Errorf("reload: watcher broken: %w", err)
			}
			w.logger.Warn("watch error", "err", err)
		}
	}
}

// relevant filters an event and returns its path relative to the root.
// New directories are added to the watch as a side effect.
func (w *Watcher) relevant(evt fsnotify.Event) (string, bool) {
	if evt.Has(fsnotify.Chmod) && !evt.Has(fsnotify.Write) {
		return "", false
	}
	rel, err := filepath.Rel(w.root, evt.Name)
	if err != nil || w.ignored(rel) {
		return "", false
	}
	if evt.Has(fsnotify.Create) {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			if err := w.addTree(evt.Name); err != nil {
				w.logger.Warn("cannot watch new directory", "path", evt.Name, "err", err)
			}
			return "", false
		}
	}
	return rel, w.matches(rel)
}

// addTree watches dir and every non-ignored directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Debug("skipping unreadable path", "path", path, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(w.root, path); relErr == nil && rel != "." && w.ignored(rel+"/") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("reload: watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(rel string) bool {
	return matchAny(w.ignores, filepath.ToSlash(rel))
}

func (w *Watcher) matches(rel string) bool {
	return matchAny(w.cfg.Patterns, filepath.ToSlash(rel))
}

func matchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}
