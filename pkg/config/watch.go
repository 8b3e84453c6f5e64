package config

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kmahoney/tether/pkg/mcp"
)

const watchDebounce = 200 * time.Millisecond

// Watch monitors a descriptor file and calls apply with the reloaded set
// whenever it changes. Editors replace files rather than writing in place,
// so the parent directory is watched and events are filtered by name.
// Parse failures are logged and skipped; the previous set stays applied.
// Blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, apply func(map[string]mcp.ServerDescriptor)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	var (
		mu            sync.Mutex
		debounceTimer *time.Timer
		pending       bool
	)

	doReload := func() {
		mu.Lock()
		pending = false
		mu.Unlock()

		servers, err := Load(abs)
		if err != nil {
			log.Printf("config watcher: skipping reload of %s: %v", abs, err)
			return
		}
		apply(servers)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			// Debounce: reset timer on each event
			mu.Lock()
			if !pending {
				pending = true
				debounceTimer = time.AfterFunc(watchDebounce, doReload)
			} else {
				debounceTimer.Reset(watchDebounce)
			}
			mu.Unlock()

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Watcher errors are not fatal; keep watching.
		}
	}
}
