package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/polisai/polis-adblock/pkg/policy/route"
)

const defaultDebounce = 100 * time.Millisecond

// ReloadFunc receives the outcome of each reload attempt. rs is nil when err
// is set, and the previous rule set stays active.
type ReloadFunc func(rs *route.RuleSet, err error)

// RulesWatcher recompiles a rule file whenever it changes and publishes the
// result to a registry.
type RulesWatcher struct {
	cfg      RulesConfig
	path     string
	registry *route.Registry
	onReload ReloadFunc
	logger   *slog.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// WatcherOptions configure a RulesWatcher.
type WatcherOptions struct {
	OnReload ReloadFunc
	Logger   *slog.Logger
	// Debounce coalesces bursts of write events. Defaults to 100ms.
	Debounce time.Duration
}

// WatchRules starts watching cfg.File. The registry must already hold the
// initial rule set.
func WatchRules(cfg RulesConfig, registry *route.Registry, opts WatcherOptions) (*RulesWatcher, error) {
	if cfg.File == "" {
		return nil, fmt.Errorf("config: rules watch requires a file")
	}
	absPath, err := filepath.Abs(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &RulesWatcher{
		cfg:      cfg,
		path:     absPath,
		registry: registry,
		onReload: opts.OnReload,
		logger:   logger,
		debounce: debounce,
		watcher:  watcher,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	w.cfg.File = absPath

	go w.watchLoop(ctx)
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *RulesWatcher) Close() error {
	var err error
	w.once.Do(func() {
		w.cancel()
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *RulesWatcher) watchLoop(ctx context.Context) {
	defer close(w.done)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.After(w.debounce)
			}
		case <-pending:
			pending = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rules watcher error", "error", err)
		}
	}
}

func (w *RulesWatcher) reload() {
	rs, err := LoadRules(w.cfg)
	if err != nil {
		w.logger.Warn("rules reload failed, keeping previous rules", "path", w.path, "error", err)
		if w.onReload != nil {
			w.onReload(nil, err)
		}
		return
	}
	w.registry.Swap(rs)
	w.logger.Info("rules reloaded", "path", w.path, "rules", rs.Len())
	if w.onReload != nil {
		w.onReload(rs, nil)
	}
}
