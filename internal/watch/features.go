// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ledgerworks/modkernel/internal/featuregate"
	"github.com/ledgerworks/modkernel/pkg/cueutil"

	"github.com/charmbracelet/log"
)

//go:embed features_schema.cue
var featuresSchema []byte

type (
	// ApplyFunc receives every distinct feature set read from the file.
	ApplyFunc func(ctx context.Context, set featuregate.Set) error

	// FeatureWatcher re-reads a CUE features file whenever it changes and
	// hands the new set to an ApplyFunc. Bursts of writes inside the debounce
	// window produce one read. A file that fails to parse is logged and the
	// previous set stays in effect.
	FeatureWatcher struct {
		path    string
		apply   ApplyFunc
		logger  *log.Logger
		watcher *Watcher

		mu      sync.Mutex
		current featuregate.Set
		loaded  bool
	}

	featuresFile struct {
		Features []string `json:"features"`
	}
)

// LoadFeatures reads a features file of the form `features: ["a", "b"]`.
func LoadFeatures(path string) (featuregate.Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return featuregate.Set{}, fmt.Errorf("read features file: %w", err)
	}
	ff, err := cueutil.Decode[featuresFile](featuresSchema, "#Features", data, cueutil.WithFilename(path))
	if err != nil {
		return featuregate.Set{}, err
	}
	return featuregate.FromStrings(ff.Features), nil
}

// NewFeatureWatcher watches the directory holding path, so editors that
// replace the file through a rename are still seen.
func NewFeatureWatcher(path string, debounce time.Duration, logger *log.Logger, apply ApplyFunc) (*FeatureWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve features file: %w", err)
	}
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "watch"})
	}

	fw := &FeatureWatcher{
		path:   abs,
		apply:  apply,
		logger: logger.With("file", filepath.Base(abs)),
	}

	w, err := New(Config{
		BaseDir:  filepath.Dir(abs),
		Patterns: []string{doublestarEscape(filepath.Base(abs))},
		Debounce: debounce,
		OnChange: func(ctx context.Context, _ []string) error {
			_, err := fw.Reload(ctx)
			return err
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	fw.watcher = w
	return fw, nil
}

// Path returns the absolute path of the watched file.
func (fw *FeatureWatcher) Path() string {
	return fw.path
}

// Current returns the last set that was applied.
func (fw *FeatureWatcher) Current() (featuregate.Set, bool) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.current, fw.loaded
}

// Reload reads the file now and applies it when it differs from the last
// applied set. It reports whether apply was called.
func (fw *FeatureWatcher) Reload(ctx context.Context) (bool, error) {
	set, err := LoadFeatures(fw.path)
	if err != nil {
		fw.logger.Warn("features file rejected, keeping previous set", "err", err)
		return false, err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.loaded && fw.current.Equal(set) {
		fw.logger.Debug("features unchanged", "features", set.String())
		return false, nil
	}
	added, removed := fw.current.Diff(set)
	fw.logger.Info("features changed", "features", set.String(), "added", added, "removed", removed)
	if fw.apply != nil {
		if err := fw.apply(ctx, set); err != nil {
			return true, err
		}
	}
	fw.current = set
	fw.loaded = true
	return true, nil
}

// Run blocks until ctx is cancelled, applying every change to the file.
func (fw *FeatureWatcher) Run(ctx context.Context) error {
	return fw.watcher.Run(ctx)
}

// Close releases the underlying file watcher without running it.
func (fw *FeatureWatcher) Close() error {
	return fw.watcher.Close()
}

// doublestarEscape quotes glob metacharacters so a file name matches itself.
func doublestarEscape(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
