package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	poliscert "github.com/polisai/polis-adblock/internal/tls"
	"github.com/polisai/polis-adblock/pkg/config"
	"github.com/polisai/polis-adblock/pkg/policy/route"
	"github.com/polisai/polis-adblock/pkg/proxy"
	"github.com/polisai/polis-adblock/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the rewriting proxy and the admin server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, state.cfg, state.logger)
		},
	}
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "polis-adblock",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Error("Failed to flush telemetry", "error", err)
		}
	}()

	c, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Failed to close components", "error", err)
		}
	}()

	if cfg.Rules.Watch {
		watcher, err := config.WatchRules(cfg.Rules, c.registry, config.WatcherOptions{
			Logger: logger,
			OnReload: func(rs *route.RuleSet, err error) {
				if err != nil {
					c.metrics.RecordRuleReload("error", 0)
					return
				}
				c.metrics.RecordRuleReload("success", rs.Len())
			},
		})
		if err != nil {
			return err
		}
		defer func() { _ = watcher.Close() }()
	}

	var opts proxy.Options
	opts.Engine = c.engine
	opts.Metrics = c.metrics
	opts.MITMHosts = cfg.Server.MITMHosts
	opts.MaxBodyBytes = cfg.Server.MaxBodyBytes
	opts.Capture = cfg.Capture.Enabled
	opts.Verbose = cfg.Logging.Level == "debug"
	opts.Logger = logger
	if cfg.Server.CACertFile != "" {
		if opts.CA, err = poliscert.LoadCA(cfg.Server.CACertFile, cfg.Server.CAKeyFile); err != nil {
			return err
		}
	}
	px, err := proxy.New(opts)
	if err != nil {
		return err
	}

	c.sink.Start(ctx)

	proxySrv := &http.Server{
		Addr:              cfg.Server.ProxyAddress,
		Handler:           px,
		ReadHeaderTimeout: 10 * time.Second,
	}
	adminSrv := &http.Server{
		Addr:              cfg.Server.AdminAddress,
		Handler:           newAdminHandler(c),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("Starting polis-adblock",
		"proxy", cfg.Server.ProxyAddress,
		"admin", cfg.Server.AdminAddress,
		"rules", c.registry.Load().Len(),
		"mitm_hosts", cfg.Server.MITMHosts,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listen(proxySrv) })
	g.Go(func() error { return listen(adminSrv) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(proxySrv.Shutdown(shutdownCtx), adminSrv.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	return nil
}

// newAdminHandler serves /metrics, /healthz, and /stats.
func newAdminHandler(c *components) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"rules":  c.registry.Load().Len(),
		})
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, c.sink.Snapshot(r.Context()))
	})
	return otelhttp.NewHandler(c.metrics.MetricsMiddleware(mux), "adblock.admin")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode admin response", "error", err)
	}
}
