package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events an editor produces on save.
const DefaultDebounce = 500 * time.Millisecond

// Watch runs Sync whenever the file at path is written, created or renamed
// into place, waiting for debounce of quiet first. It watches the parent
// directory so atomic-rename saves are seen. onSync, if set, receives each
// outcome. Watch returns when ctx is done.
func (p *Pipeline) Watch(ctx context.Context, path string, debounce time.Duration, onSync func(*SyncResult, error)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	p.logger.Info("Watching project store", "path", target, "debounce", debounce)

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || name != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			p.logger.Debug("Project store changed", "op", event.Op.String())
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("Watcher error", "error", err)

		case <-timer.C:
			result, err := p.Sync(ctx)
			if err != nil {
				p.logger.Error("Sync after change failed", "error", err)
			}
			if onSync != nil {
				onSync(result, err)
			}
		}
	}
}
