package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"blotterdesk/internal/intake"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

const (
	dropDebounce     = 500 * time.Millisecond
	dropScanInterval = 250 * time.Millisecond
)

// dropWatcher normalizes spreadsheets dropped into InputDir and writes
// <name>.json into OutputDir. Files are processed once writes have settled.
type dropWatcher struct {
	InputDir     string
	OutputDir    string
	Normalizer   *intake.Normalizer
	Log          *slog.Logger
	Workers      int
	SkipExisting bool

	mu      sync.Mutex
	pending map[string]time.Time
}

// watchableFile reports whether name is a spreadsheet the watcher handles.
// Exports, hidden files and editor lock files are ignored.
func watchableFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
		return false
	}
	if strings.EqualFold(filepath.Ext(base), ".json") {
		return false
	}
	return intake.SupportedExtension(base)
}

func (w *dropWatcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.OutputDir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.InputDir); err != nil {
		return fmt.Errorf("watch %s: %w", w.InputDir, err)
	}

	w.mu.Lock()
	w.pending = make(map[string]time.Time)
	w.mu.Unlock()

	if !w.SkipExisting {
		entries, err := os.ReadDir(w.InputDir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if !entry.IsDir() && watchableFile(entry.Name()) {
				w.schedule(filepath.Join(w.InputDir, entry.Name()), time.Time{})
			}
		}
	}

	workers := w.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	w.Log.Info("watching drop folder", "in", w.InputDir, "out", w.OutputDir, "workers", workers)
	ticker := time.NewTicker(dropScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gctx.Done():
			waitErr := g.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return waitErr
		case evt, ok := <-watcher.Events:
			if !ok {
				return g.Wait()
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 && watchableFile(evt.Name) {
				w.schedule(evt.Name, time.Now())
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return g.Wait()
			}
			w.Log.Error("watcher error", "err", err)
		case now := <-ticker.C:
			for _, path := range w.due(now) {
				path := path
				g.Go(func() error {
					out, err := w.processDropFile(path)
					if err != nil {
						w.Log.Error("drop file failed", "file", path, "err", err)
						return nil
					}
					if out != "" {
						w.Log.Info("drop file normalized", "file", path, "output", out)
					}
					return nil
				})
			}
		}
	}
}

func (w *dropWatcher) schedule(path string, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = at
}

// due removes and returns files whose last event is older than the debounce.
func (w *dropWatcher) due(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ready := []string{}
	for path, last := range w.pending {
		if now.Sub(last) >= dropDebounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	return ready
}

// processDropFile normalizes one file and returns the output path. A file
// that vanished before processing is skipped silently.
func (w *dropWatcher) processDropFile(path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", nil
	}
	entries, err := w.Normalizer.ProcessFile(path)
	if err != nil {
		return "", err
	}

	warnings := 0
	for _, entry := range entries {
		warnings += len(entry.Warnings)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := filepath.Join(w.OutputDir, base+".json")
	if err := writeRecordsFile(out, intake.Records(entries)); err != nil {
		return "", err
	}
	if warnings > 0 {
		w.Log.Warn("drop file normalized with warnings", "file", path, "rows", len(entries), "warnings", warnings)
	}
	return out, nil
}
