package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-gateway/pkg/config"
	"github.com/polisai/polis-gateway/pkg/connector"
	connectors "github.com/polisai/polis-gateway/pkg/connector/builtin"
	"github.com/polisai/polis-gateway/pkg/hook"
	"github.com/polisai/polis-gateway/pkg/logging"
	"github.com/polisai/polis-gateway/pkg/policy"
	"github.com/polisai/polis-gateway/pkg/policy/builtin"
	"github.com/polisai/polis-gateway/pkg/reactor"
	"github.com/polisai/polis-gateway/pkg/security"
	"github.com/polisai/polis-gateway/pkg/telemetry"
)

// loadConfig reads the configuration file and applies the command line
// overrides, which win over the file and the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	definitions, err := cmd.Flags().GetString("definitions")
	if err != nil {
		return nil, fmt.Errorf("failed to get definitions flag: %w", err)
	}
	if definitions != "" {
		cfg.Definitions.Dir = definitions
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) *slog.Logger {
	return logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: out,
	})
}

// factoryConfig registers the built-in plugins and hooks.
func factoryConfig(cfg *config.Config, node *reactor.Node, metrics *telemetry.Metrics, logger *slog.Logger) reactor.FactoryConfig {
	policies := policy.NewRegistry()
	builtin.Register(policies, logger)
	security.RegisterPolicies(policies)

	connectorRegistry := connector.NewRegistry()
	connectors.Register(connectorRegistry)

	hooks := []hook.Hook{hook.NewTracingHook(), hook.NewMetricsHook()}
	if cfg.Logging.HookLevel != "" {
		hooks = append(hooks, hook.NewLoggingHook(logging.ParseLevel(cfg.Logging.HookLevel)))
	}

	return reactor.FactoryConfig{
		Policies:   policies,
		Connectors: connectorRegistry,
		Node:       node,
		Hooks:      hooks,
		Metrics:    metrics,
		Logger:     logger,
	}
}
