package zone

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDebounce = 200 * time.Millisecond

// Watch reloads the catalog whenever its file is written, created or
// renamed into place. It returns once the watch is registered; the
// returned stop func (also triggered by ctx) ends it.
func (c *Catalog) Watch(ctx context.Context) (func(), error) {
	if c == nil || c.path == "" {
		return func() {}, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors and atomic writers replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	target := filepath.Clean(c.path)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = watcher.Close()
		})
	}

	go func() {
		var timer *time.Timer
		reload := make(chan struct{}, 1)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				stop()
				return
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(defaultReloadDebounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			case <-reload:
				if err := c.Reload(); err != nil && c.logger != nil {
					c.logger.Warn("zone catalog reload failed", map[string]string{
						"path":  c.path,
						"error": err.Error(),
					})
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if c.logger != nil {
					c.logger.Warn("zone catalog watch error", map[string]string{
						"path":  c.path,
						"error": err.Error(),
					})
				}
			}
		}
	}()
	return stop, nil
}
