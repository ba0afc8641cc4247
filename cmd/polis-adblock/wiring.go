package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/polisai/polis-adblock/internal/governance"
	"github.com/polisai/polis-adblock/pkg/config"
	"github.com/polisai/polis-adblock/pkg/engine"
	"github.com/polisai/polis-adblock/pkg/policy"
	"github.com/polisai/polis-adblock/pkg/policy/route"
	"github.com/polisai/polis-adblock/pkg/stats"
	"github.com/polisai/polis-adblock/pkg/storage"
)

// components are the long-lived parts shared by the commands.
type components struct {
	store    storage.Store
	metrics  *stats.Metrics
	sink     *stats.Sink
	registry *route.Registry
	gate     *policy.Engine
	engine   *engine.Engine
}

func (c *components) Close() error {
	var firstErr error
	if c.sink != nil {
		if err := c.sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildStore(cfg config.StoreConfig) (storage.Store, error) {
	switch cfg.Kind {
	case config.StoreFile:
		store, err := storage.NewFileStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreRedis:
		store, err := storage.DialRedis(cfg.RedisURL, cfg.Prefix)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return storage.NewMemoryStore(), nil
	}
}

func buildNotifiers(cfg config.NotifyConfig, logger *slog.Logger) []stats.Notifier {
	if !cfg.Enabled {
		return nil
	}
	notifiers := []stats.Notifier{stats.LogNotifier{Logger: logger}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, stats.NewWebhookNotifier(cfg.WebhookURL, cfg.Timeout))
	}
	return notifiers
}

// buildGate loads the optional Rego bypass module. A nil engine means no gate.
func buildGate(ctx context.Context, cfg config.PolicyConfig, logger *slog.Logger) (*policy.Engine, error) {
	if cfg.File == "" {
		return nil, nil
	}
	//nolint:gosec // Policy file path is controlled by admin/operator
	src, err := os.ReadFile(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", cfg.File, err)
	}
	return policy.NewEngine(ctx, policy.EngineOptions{
		Entrypoint: cfg.Entrypoint,
		Modules:    map[string]string{filepath.Base(cfg.File): string(src)},
		Logger:     logger,
	})
}

func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{metrics: stats.NewMetrics()}

	rs, err := config.LoadRules(cfg.Rules)
	if err != nil {
		return nil, err
	}
	c.registry = route.NewRegistry(rs)
	c.metrics.RecordRuleReload("success", rs.Len())

	c.store, err = buildStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	breakers := governance.NewBreakerSet(governance.CircuitBreakerConfig{
		MaxFailures: cfg.Notify.BreakerFailures,
		Timeout:     cfg.Notify.BreakerCooldown,
	})
	limiter := governance.NewRateLimiter(governance.RateLimiterConfig{
		PerSecond: cfg.Notify.RatePerSecond,
		Burst:     cfg.Notify.Burst,
	})
	c.sink = stats.NewSink(stats.Options{
		Store:     c.store,
		Key:       cfg.Store.StatsKey,
		Notifiers: buildNotifiers(cfg.Notify, logger),
		Metrics:   c.metrics,
		Logger:    logger,
		QueueSize: cfg.Notify.QueueSize,
		Breakers:  breakers,
		Limiter:   limiter,
	})

	c.gate, err = buildGate(ctx, cfg.Policy, logger)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	opts := engine.Options{
		Rules:          c.registry,
		Sink:           c.sink,
		CaptureNotices: cfg.Capture.Notices,
		Redactions:     cfg.Telemetry.Redactions,
		Logger:         logger,
	}
	var gates []policy.Gate
	if len(cfg.Policy.BypassHosts) > 0 {
		gates = append(gates, policy.NewHostAllowlist(cfg.Policy.BypassHosts...))
	}
	if c.gate != nil {
		gates = append(gates, c.gate)
	}
	if len(gates) > 0 {
		opts.Gate = policy.NewChain(gates...)
	}
	c.engine, err = engine.New(opts)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}
