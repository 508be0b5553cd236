package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the catalogs whenever api.json or cli.json changes on disk.
// It blocks until ctx is cancelled, so callers run it in a goroutine. Reload
// failures are logged and the previous tables stay in effect.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("watch catalog dir %s: %w", c.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if err := c.Reload(); err != nil {
				c.logger.Warn("catalog reload failed, keeping previous tables",
					"file", event.Name,
					"error", err)
				continue
			}
			c.logger.Info("catalogs reloaded", "file", event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("catalog watcher error", "error", err)
		}
	}
}
