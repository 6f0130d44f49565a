package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"salesmcp/internal/domain"
	"salesmcp/internal/infra/telemetry"
)

// Update describes a configuration change picked up from disk.
type Update struct {
	Previous domain.Config
	Current  domain.Config
	// RestartRequired names changed keys that only take effect after a restart.
	RestartRequired []string
}

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	logger   *zap.Logger
	loader   *Loader
	path     string
	debounce time.Duration

	mu      sync.Mutex
	current domain.Config
}

func NewWatcher(loader *Loader, path string, current domain.Config, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loader == nil {
		loader = NewLoader(logger)
	}
	return &Watcher{
		logger:   logger.Named("config_watcher"),
		loader:   loader,
		path:     path,
		debounce: domain.DefaultConfigReloadDebounce,
		current:  current,
	}
}

func (w *Watcher) Current() domain.Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload reads the file again. It reports false when nothing changed.
func (w *Watcher) Reload(ctx context.Context) (Update, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	next, err := w.loader.Load(ctx, w.path)
	if err != nil {
		return Update{}, false, err
	}
	if reflect.DeepEqual(w.current, next) {
		return Update{}, false, nil
	}
	update := Update{
		Previous:        w.current,
		Current:         next,
		RestartRequired: RestartRequired(w.current, next),
	}
	w.current = next
	return update, true, nil
}

// Run watches the file's directory until ctx is done and calls apply for
// each effective change. Editors that replace the file by rename are
// handled because the directory is watched.
func (w *Watcher) Run(ctx context.Context, apply func(Update)) error {
	if w.path == "" {
		return errors.New("config path is required")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !samePath(event.Name, w.path) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				continue
			}
			timer.Reset(w.debounce)
		case <-timerC(timer):
			timer = nil
			update, changed, err := w.Reload(ctx)
			if err != nil {
				w.logger.Warn("config reload failed", zap.String("path", w.path), zap.Error(err))
				continue
			}
			if !changed {
				continue
			}
			w.logger.Info("config reloaded",
				telemetry.EventField(telemetry.EventConfigReloaded),
				zap.String("path", w.path),
			)
			if len(update.RestartRequired) > 0 {
				w.logger.Warn("config changes need a restart",
					telemetry.EventField(telemetry.EventRestartRequired),
					zap.Strings("keys", update.RestartRequired),
				)
			}
			if apply != nil {
				apply(update)
			}
		}
	}
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

func timerC(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
