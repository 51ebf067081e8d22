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

	"github.com/datafold/datafold/internal/dflog"
	"github.com/datafold/datafold/internal/dfmetrics"
	"github.com/datafold/datafold/internal/node"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the DataFold node and its HTTP surface",
	Long: `serve opens the embedded store at --data-dir, wires the schema,
transform, query, and signature-auth subsystems into one Node, and serves
the HTTP surface of spec.md §6 until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("api-addr", "127.0.0.1:8080", "Address for the HTTP API surface")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the Prometheus metrics and health endpoints")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadNodeConfig(cmd)
	if err != nil {
		return err
	}
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	dflog.Info(fmt.Sprintf("opening node storage at %s", cfg.StoragePath))
	n, err := node.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open node: %w", err)
	}
	defer n.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", dfmetrics.Handler())
	metricsServer := &http.Server{Addr: metricsAddr, Handler: mux}

	apiServer := &http.Server{Addr: apiAddr, Handler: newRouter(n)}

	errCh := make(chan error, 2)
	go func() {
		dflog.Info(fmt.Sprintf("metrics endpoint listening on http://%s/metrics", metricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()
	go func() {
		dflog.Info(fmt.Sprintf("API surface listening on http://%s", apiAddr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		dflog.Info("shutting down")
	case err := <-errCh:
		dflog.Errorf("server error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	dflog.Info("shutdown complete")
	return nil
}
