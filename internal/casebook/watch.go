package casebook

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Phaedra-DevGroup/bishopgame/internal/logging"
)

// Watch hot-reloads the character database whenever its backing file
// changes on disk, until ctx is cancelled. It is a no-op for the embedded
// database. Useful while tuning persona prompts against a live model.
func (b *Book) Watch(ctx context.Context) error {
	if b.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory: editors replace files rather than write in place.
	dir := filepath.Dir(b.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target, err := filepath.Abs(b.path)
	if err != nil {
		target = b.path
	}

	go func() {
		defer watcher.Close()

		// Debounce: editors fire several events per save.
		var reloadAt time.Time
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name, err := filepath.Abs(event.Name)
				if err != nil {
					name = event.Name
				}
				if name != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					reloadAt = time.Now().Add(200 * time.Millisecond)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.CasebookWarn("watcher error: %v", err)

			case now := <-ticker.C:
				if reloadAt.IsZero() || now.Before(reloadAt) {
					continue
				}
				reloadAt = time.Time{}
				if err := b.reload(); err != nil {
					logging.CasebookWarn("reload failed, keeping previous database: %v", err)
				}
			}
		}
	}()

	return nil
}
