// Package config provides the gateway configuration and the API definition
// provider.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultDataAddress   = ":8082"
	DefaultAdminAddress  = ":18082"
	DefaultShutdownGrace = 30 * time.Second
	DefaultServiceName   = "polis-gateway"
)

// Config holds the global configuration of the gateway.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Node        NodeConfig        `yaml:"node"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Logging     LoggingConfig     `yaml:"logging"`
	Definitions DefinitionsConfig `yaml:"definitions"`
}

// ServerConfig holds configuration for the HTTP servers.
type ServerConfig struct {
	DataAddress       string        `yaml:"data_address"`
	AdminAddress      string        `yaml:"admin_address"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	// ShutdownGrace bounds how long in-flight calls may run once shutdown
	// starts.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	TLS           *TLSConfig    `yaml:"tls,omitempty"`
}

// NodeConfig identifies the gateway instance.
type NodeConfig struct {
	ID string `yaml:"id"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	ServiceName  string            `yaml:"service_name"`
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	Insecure     bool              `yaml:"insecure"`
	SampleRatio  float64           `yaml:"sample_ratio"`
	Headers      map[string]string `yaml:"headers,omitempty"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// HookLevel enables the per-unit logging hook at the given level.
	HookLevel string `yaml:"hook_level,omitempty"`
}

// DefinitionsConfig locates the API definitions.
type DefinitionsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			DataAddress:       DefaultDataAddress,
			AdminAddress:      DefaultAdminAddress,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownGrace:     DefaultShutdownGrace,
		},
		Telemetry: TelemetryConfig{
			ServiceName: DefaultServiceName,
			SampleRatio: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Definitions: DefinitionsConfig{
			Dir:   "apis",
			Watch: true,
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("GATEWAY_DATA_ADDR"); val != "" {
		cfg.Server.DataAddress = val
	}
	if val := os.Getenv("GATEWAY_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}
	if val := os.Getenv("GATEWAY_SHUTDOWN_GRACE"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return NewConfigValidationError("GATEWAY_SHUTDOWN_GRACE", val, err.Error())
		}
		cfg.Server.ShutdownGrace = d
	}

	if val := os.Getenv("GATEWAY_NODE_ID"); val != "" {
		cfg.Node.ID = val
	}

	if val := os.Getenv("GATEWAY_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("GATEWAY_OTLP_INSECURE"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return NewConfigValidationError("GATEWAY_OTLP_INSECURE", val, err.Error())
		}
		cfg.Telemetry.Insecure = b
	}

	if val := os.Getenv("GATEWAY_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("GATEWAY_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if val := os.Getenv("GATEWAY_DEFINITIONS_DIR"); val != "" {
		cfg.Definitions.Dir = val
	}
	if val := os.Getenv("GATEWAY_DEFINITIONS_WATCH"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return NewConfigValidationError("GATEWAY_DEFINITIONS_WATCH", val, err.Error())
		}
		cfg.Definitions.Watch = b
	}

	if val := os.Getenv("GATEWAY_TLS_ENABLED"); val == "true" {
		if cfg.Server.TLS == nil {
			cfg.Server.TLS = &TLSConfig{}
		}
		cfg.Server.TLS.Enabled = true
	}
	if val := os.Getenv("GATEWAY_TLS_CERT_FILE"); val != "" {
		if cfg.Server.TLS == nil {
			cfg.Server.TLS = &TLSConfig{}
		}
		cfg.Server.TLS.CertFile = val
	}
	if val := os.Getenv("GATEWAY_TLS_KEY_FILE"); val != "" {
		if cfg.Server.TLS == nil {
			cfg.Server.TLS = &TLSConfig{}
		}
		cfg.Server.TLS.KeyFile = val
	}
	return nil
}

// Validate checks the whole configuration and normalizes defaults.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	if strings.TrimSpace(c.Definitions.Dir) == "" {
		return fmt.Errorf("definitions configuration: %w", NewConfigMissingError("dir"))
	}
	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.DataAddress) == "" {
		c.DataAddress = DefaultDataAddress
	}
	if strings.TrimSpace(c.AdminAddress) == "" {
		c.AdminAddress = DefaultAdminAddress
	}
	if c.DataAddress == c.AdminAddress {
		return NewConfigValidationError("admin_address", c.AdminAddress, "admin_address conflicts with data_address")
	}
	if c.ShutdownGrace < 0 {
		return NewConfigValidationError("shutdown_grace", c.ShutdownGrace, "must not be negative")
	}
	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return fmt.Errorf("TLS configuration: %w", err)
		}
	}
	return nil
}

// Validate performs validation of telemetry configuration
func (c *TelemetryConfig) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return NewConfigValidationError("sample_ratio", c.SampleRatio, "must be between 0 and 1")
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}
	level, err := normalizeLevel(c.Level)
	if err != nil {
		return err
	}
	c.Level = level

	if c.HookLevel != "" {
		hook, err := normalizeLevel(c.HookLevel)
		if err != nil {
			return err
		}
		c.HookLevel = hook
	}

	format := strings.TrimSpace(strings.ToLower(c.Format))
	switch format {
	case "":
		c.Format = "json"
	case "json", "text":
		c.Format = format
	default:
		return NewConfigValidationError("format", c.Format, "supported formats: json, text")
	}
	return nil
}

func normalizeLevel(raw string) (string, error) {
	level := strings.TrimSpace(strings.ToLower(raw))
	switch level {
	case "debug", "info", "warn", "error":
		return level, nil
	default:
		return "", fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", raw)
	}
}
