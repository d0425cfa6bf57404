// SPDX-License-Identifier: MPL-2.0

// Package watch provides debounced file watching and the features-file
// watcher that drives live feature-set changes.
//
// Events arriving within the debounce window are coalesced so the callback
// fires once with the full set of changed paths.
package watch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// defaultDebounce applies when Config.Debounce is zero or negative.
const defaultDebounce = 500 * time.Millisecond

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("watch: Run called more than once")

// defaultIgnores are always excluded: VCS metadata and editor swap files.
var defaultIgnores = []string{
	"**/.git/**",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/.DS_Store",
	"**/#*#",
}

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Patterns are doublestar globs relative to BaseDir (e.g. "*.cue").
		// An empty slice accepts every non-ignored path.
		Patterns []string

		// Ignore is merged with the built-in default ignores.
		Ignore []string

		// Debounce is the quiet period after the last event before the
		// callback fires.
		Debounce time.Duration

		// BaseDir is the directory to watch. Subdirectories are not
		// followed. Defaults to the working directory.
		BaseDir string

		// OnChange receives the deduplicated, sorted list of changed paths
		// relative to BaseDir. A nil callback is a no-op.
		OnChange func(ctx context.Context, changed []string) error

		// Logger receives watcher diagnostics. Defaults to stderr.
		Logger *log.Logger
	}

	// Watcher monitors filesystem paths and fires a debounced callback when
	// matching files change. Run must be called exactly once.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		ignores  []string
		logger   *log.Logger
		debounce time.Duration
		baseDir  string
		started  atomic.Bool

		closeOnce sync.Once
		closeErr  error
	}

	// batch collects changed paths between debounce deadlines and hands them
	// to deliver one window at a time.
	batch struct {
		mu      sync.Mutex
		paths   map[string]struct{}
		timer   *time.Timer
		wait    time.Duration
		busy    atomic.Bool
		deliver func(changed []string)
		logger  *log.Logger
	}
)

// New creates a Watcher from cfg and registers BaseDir with fsnotify.
func New(cfg Config) (*Watcher, error) {
	for label, patterns := range map[string][]string{"watch": cfg.Patterns, "ignore": cfg.Ignore} {
		if err := validatePatterns(patterns, label); err != nil {
			return nil, err
		}
	}

	baseDir := cfg.BaseDir
	if baseDir == "" {
		baseDir = "."
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve base directory: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "watch"})
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(absBase); err != nil {
		if closeErr := fsw.Close(); closeErr != nil {
			logger.Warn("close after init failure", "err", closeErr)
		}
		return nil, fmt.Errorf("watch: add directory %q: %w", absBase, err)
	}

	return &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		ignores:  append(slices.Clone(defaultIgnores), cfg.Ignore...),
		logger:   logger,
		debounce: debounce,
		baseDir:  absBase,
	}, nil
}

// BaseDir returns the absolute directory being watched.
func (w *Watcher) BaseDir() string {
	return w.baseDir
}

// Close releases the fsnotify watcher. Run closes it on return, so Close is
// only needed for a watcher that never ran. Repeated calls are no-ops.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() { w.closeErr = w.fsw.Close() })
	return w.closeErr
}

// Run blocks until ctx is cancelled, dispatching debounced callbacks. It
// returns nil on cancellation and an error when fsnotify fails fatally.
// Callbacks never overlap: a window that closes while the previous callback
// is still running is retried after another debounce period.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	b := &batch{
		paths:  make(map[string]struct{}),
		wait:   w.debounce,
		logger: w.logger,
		deliver: func(changed []string) {
			if ctx.Err() != nil || w.cfg.OnChange == nil {
				return
			}
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				w.logger.Error("change callback failed", "changed", changed, "err", err)
			}
		},
	}
	defer func() {
		b.stop()
		if closeErr := w.Close(); closeErr != nil {
			w.logger.Warn("close fsnotify", "err", closeErr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed unexpectedly")
			}
			if rel, keep := w.accept(evt.Name); keep {
				w.logger.Debug("event", "op", evt.Op.String(), "path", rel)
				b.add(rel)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed unexpectedly")
			}
			if isFatalFsnotifyError(err) {
				return fmt.Errorf("watch: fatal fsnotify error: %w", err)
			}
			w.logger.Warn("fsnotify error", "err", err)
		}
	}
}

// accept maps an event path to its slash-separated form relative to BaseDir
// and reports whether it passes the ignore and watch patterns.
func (w *Watcher) accept(name string) (string, bool) {
	rel, err := filepath.Rel(w.baseDir, name)
	if err != nil {
		rel = name
	}
	rel = filepath.ToSlash(rel)
	if matchAny(w.ignores, rel) {
		return rel, false
	}
	if len(w.cfg.Patterns) > 0 && !matchAny(w.cfg.Patterns, rel) {
		return rel, false
	}
	return rel, true
}

func (b *batch) add(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paths[path] = struct{}{}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.wait, b.flush)
		return
	}
	b.timer.Reset(b.wait)
}

func (b *batch) flush() {
	if !b.busy.CompareAndSwap(false, true) {
		b.logger.Debug("callback still running, deferring")
		b.mu.Lock()
		b.timer.Reset(b.wait)
		b.mu.Unlock()
		return
	}
	defer b.busy.Store(false)

	b.mu.Lock()
	changed := slices.Sorted(maps.Keys(b.paths))
	clear(b.paths)
	b.mu.Unlock()

	if len(changed) > 0 {
		b.deliver(changed)
	}
}

func (b *batch) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
	}
}

func matchAny(patterns []string, rel string) bool {
	return slices.ContainsFunc(patterns, func(pat string) bool {
		matched, err := doublestar.Match(pat, rel)
		return err == nil && matched
	})
}

// DefaultIgnores returns a copy of the built-in ignore patterns.
func DefaultIgnores() []string {
	return slices.Clone(defaultIgnores)
}

func validatePatterns(patterns []string, label string) error {
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("watch: invalid %s pattern %q: %w", label, pat, doublestar.ErrBadPattern)
		}
	}
	return nil
}
