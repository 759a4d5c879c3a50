package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/robcohen/peervault/pkg/log"
	"github.com/robcohen/peervault/pkg/metrics"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the vault daemon, accepting peer connections and autosyncing",
	Long: `serve opens the vault, starts accepting inbound peer connections,
runs the autosync and garbage collection loops, and serves Prometheus
metrics, until it receives an interrupt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		logger := log.WithComponent("serve")

		v, err := openVault(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open vault: %w", err)
		}

		if err := v.start(ctx); err != nil {
			return fmt.Errorf("start vault: %w", err)
		}
		logger.Info().
			Str("listenAddr", cfg.ListenAddr).
			Str("nodeId", v.transport.NodeID()).
			Msg("vault started")

		metrics.SetVersion(Version)
		metrics.RegisterComponent("vault", true, "ready")

		errCh := make(chan error, 1)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.HandleFunc("/health", metrics.HealthHandler())
			mux.HandleFunc("/ready", metrics.ReadyHandler())
			mux.HandleFunc("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		logger.Info().Str("metricsAddr", cfg.MetricsAddr).Msg("metrics endpoint listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("received shutdown signal")
		case err := <-errCh:
			logger.Error().Err(err).Msg("background server error")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := v.close(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown vault: %w", err)
		}
		logger.Info().Msg("shutdown complete")
		return nil
	},
}
