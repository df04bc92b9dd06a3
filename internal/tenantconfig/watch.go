package tenantconfig

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch watches the configuration directory and invalidates cached entries
// when files change: a tenant file drops that tenant, the default document is
// reloaded and drops every tenant. Watching stops when ctx is done.
func (r *Resolver) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", r.dir, err)
	}
	tenants := filepath.Join(r.dir, tenantsDir)
	if info, err := os.Stat(tenants); err == nil && info.IsDir() {
		if err := watcher.Add(tenants); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", tenants, err)
		}
	}

	r.logger.Info("watching pipeline configuration for changes", slog.String("dir", r.dir))

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				r.logger.Debug("pipeline configuration watch stopped")
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				r.handleChange(event.Name)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Error("pipeline configuration watch error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}

// handleChange maps a changed path to the cache entries it affects.
func (r *Resolver) handleChange(path string) {
	ext := filepath.Ext(path)
	if !isConfigExt(ext) {
		return
	}
	base := strings.TrimSuffix(filepath.Base(path), ext)

	switch filepath.Clean(filepath.Dir(path)) {
	case filepath.Clean(r.dir):
		if base != defaultFileBase {
			return
		}
		r.logger.Info("default pipeline configuration changed, reloading", slog.String("path", path))
		if err := r.ReloadDefaults(); err != nil {
			r.logger.Error("failed to reload default pipeline configuration",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	case filepath.Clean(filepath.Join(r.dir, tenantsDir)):
		r.logger.Info("tenant pipeline configuration changed",
			slog.String("tenant", base),
			slog.String("path", path))
		r.Invalidate(base)
	}
}

func isConfigExt(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}
