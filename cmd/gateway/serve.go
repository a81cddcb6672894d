package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-gateway/pkg/config"
	"github.com/polisai/polis-gateway/pkg/logging"
	"github.com/polisai/polis-gateway/pkg/reactor"
	"github.com/polisai/polis-gateway/pkg/telemetry"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the deployed APIs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// serve runs the gateway until ctx is cancelled, then drains: the node is
// marked as draining, the servers stop accepting connections and in-flight
// calls get the shutdown grace period to finish.
func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.SetupLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	shutdownTracer, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	metrics := telemetry.NewMetrics()

	node := reactor.NewNode(nodeID(cfg), version)
	logger.Info("Starting gateway", "node_id", node.ID, "version", version, "definitions", cfg.Definitions.Dir)

	registry := reactor.NewRegistry(metrics, logger)
	deployer := reactor.NewDeployer(factoryConfig(cfg, node, metrics, logger), registry)

	provider, err := config.NewFileDefinitionProvider(cfg.Definitions.Dir, cfg.Definitions.Watch, metrics, logger)
	if err != nil {
		return fmt.Errorf("failed to load api definitions: %w", err)
	}
	defer func() {
		if err := provider.Close(); err != nil {
			logger.Error("Failed to close definition provider", "error", err)
		}
	}()

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	go deployer.Watch(watchCtx, provider.Subscribe())

	dataServer := &http.Server{
		Addr:              cfg.Server.DataAddress,
		Handler:           otelhttp.NewHandler(reactor.NewHandler(registry, metrics, logger), "gateway"),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	if cfg.Server.TLS != nil && cfg.Server.TLS.Enabled {
		tlsCfg, err := cfg.Server.TLS.Build()
		if err != nil {
			return err
		}
		dataServer.TLSConfig = tlsCfg
	}
	adminServer := &http.Server{
		Addr:              cfg.Server.AdminAddress,
		Handler:           newAdminMux(node, registry, metrics),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 2)
	go func() { errCh <- listen(dataServer, logger, "data") }()
	go func() { errCh <- listen(adminServer, logger, "admin") }()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down", "grace", cfg.Server.ShutdownGrace)
	case serveErr = <-errCh:
		logger.Error("Server failed", "error", serveErr)
	}

	node.BeginShutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()

	if err := dataServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Data server shutdown error", "error", err)
	}
	cancelWatch()
	registry.Shutdown(shutdownCtx)
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin server shutdown error", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error("Tracer shutdown error", "error", err)
	}
	logger.Info("Gateway stopped")
	return serveErr
}

func listen(server *http.Server, logger *slog.Logger, name string) error {
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("%s server: %w", name, err)
	}
	logger.Info("Server listening", "server", name, "addr", ln.Addr().String(), "tls", server.TLSConfig != nil)

	if server.TLSConfig != nil {
		err = server.ServeTLS(ln, "", "")
	} else {
		err = server.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("%s server: %w", name, err)
}

// newAdminMux exposes metrics and the probes. Readiness fails while the node
// drains so load balancers stop routing to it.
func newAdminMux(node *reactor.Node, registry *reactor.Registry, metrics *telemetry.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if node.Draining() {
			http.Error(w, "draining", http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprintf(w, "ready: %d api(s)", len(registry.Reactors()))
	})
	return mux
}

func nodeID(cfg *config.Config) string {
	if cfg.Node.ID != "" {
		return cfg.Node.ID
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}
