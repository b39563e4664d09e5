package settings

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aibox/toolperm/internal/permission"
)

// DefaultDebounce is how long the watcher waits after the last change before
// reloading. Editors often write a file in several steps.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads the permission context whenever a settings file or the
// managed policy changes.
type Watcher struct {
	store       *Store
	managedPath string
	opts        ContextOptions
	onChange    func(*permission.Context)
	debounce    time.Duration

	fsw   *fsnotify.Watcher
	files map[string]bool
}

// NewWatcher watches the directories holding the settings files and the
// managed policy. Directories that do not exist yet are skipped.
func NewWatcher(store *Store, managedPath string, opts ContextOptions, onChange func(*permission.Context)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		store:       store,
		managedPath: managedPath,
		opts:        opts,
		onChange:    onChange,
		debounce:    DefaultDebounce,
		fsw:         fsw,
		files:       make(map[string]bool),
	}

	var paths []string
	for _, scope := range Scopes() {
		if p, err := store.Path(scope); err == nil {
			paths = append(paths, p)
		}
	}
	if managedPath != "" {
		paths = append(paths, managedPath)
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		w.files[filepath.Clean(p)] = true
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			slog.Debug("not watching missing settings directory", "dir", dir)
			continue
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
		slog.Debug("watching settings directory", "dir", dir)
	}

	return w, nil
}

// SetDebounce changes the quiet period before a reload.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run delivers reloaded contexts to the callback until ctx is cancelled or
// the watcher is closed. A reload that fails is logged and the previous
// context stays in effect.
func (w *Watcher) Run(ctx context.Context) error {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			slog.Debug("settings change", "path", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Error("settings watcher error", "error", err)

		case <-timer.C:
			w.reload()
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	return w.files[filepath.Clean(event.Name)]
}

func (w *Watcher) reload() {
	pctx, err := LoadContext(w.store, w.managedPath, w.opts)
	if err != nil {
		slog.Error("reloading settings", "error", err)
		return
	}
	slog.Info("settings reloaded",
		"allow", len(pctx.AllowRules()), "deny", len(pctx.DenyRules()), "mode", pctx.Mode())
	if w.onChange != nil {
		w.onChange(pctx)
	}
}
