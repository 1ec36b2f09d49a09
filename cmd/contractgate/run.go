package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/contractgate/contractgate/internal/config"
	"github.com/contractgate/contractgate/internal/gateway"
	"github.com/contractgate/contractgate/internal/jsight"
	"github.com/contractgate/contractgate/internal/logging"
	"github.com/contractgate/contractgate/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var configPath string
	var listenOverride string
	var specOverride string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the contractgate gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return errors.New("config path is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := applyOverrides(cfg, listenOverride, specOverride); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runGateway(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&listenOverride, "listen", "", "Override server.listen")
	cmd.Flags().StringVar(&specOverride, "spec", "", "Override engine.spec for routes without their own spec")

	return cmd
}

// applyOverrides applies command line flags. A relative --spec is relative to
// the working directory, not to the config file.
func applyOverrides(cfg *config.Config, listenOverride, specOverride string) error {
	if listenOverride != "" {
		cfg.Server.Listen = listenOverride
	}
	if specOverride != "" {
		spec, err := filepath.Abs(specOverride)
		if err != nil {
			return fmt.Errorf("resolve --spec: %w", err)
		}
		cfg.Engine.Spec = spec
	}
	return nil
}

func runGateway(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	engine, err := jsight.Init(cfg.ResolvePath(cfg.Engine.Library), jsight.WithMaxConcurrentCalls(cfg.Engine.MaxConcurrentCalls))
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("close engine", "error", err)
		}
	}()

	stat, err := engine.Stat(ctx)
	if err != nil {
		return err
	}
	logger.Info("validation engine loaded", "library", cfg.Engine.Library, "stat", stat)

	gw, err := gateway.New(cfg, engine, logger)
	if err != nil {
		return err
	}

	if cfg.Logging.DecisionLog != "" {
		decisions, closer, err := logging.OpenDecisionLog(cfg.ResolvePath(cfg.Logging.DecisionLog))
		if err != nil {
			return err
		}
		defer func() { _ = closer() }()
		gw.SetDecisionLogger(decisions)
	}

	metricsSrv := startMetricsServer(cfg, gw, logger)
	defer func() {
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(context.Background())
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           gw,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Listen, "tls", cfg.Server.TLS.Enabled)
		if cfg.Server.TLS.Enabled {
			serverErr <- srv.ListenAndServeTLS(cfg.ResolvePath(cfg.Server.TLS.CertFile), cfg.ResolvePath(cfg.Server.TLS.KeyFile))
			return
		}
		serverErr <- srv.ListenAndServe()
	}()

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go gw.Maintain(signalCtx)

	select {
	case <-signalCtx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func startMetricsServer(cfg *config.Config, gw *gateway.Gateway, logger *slog.Logger) *http.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	gw.SetMetrics(metrics)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))

	srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	return srv
}
