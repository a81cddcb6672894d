package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultDataAddress, cfg.Server.DataAddress)
	assert.Equal(t, DefaultAdminAddress, cfg.Server.AdminAddress)
	assert.Equal(t, DefaultShutdownGrace, cfg.Server.ShutdownGrace)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, DefaultServiceName, cfg.Telemetry.ServiceName)
}

func TestLoadFileWithTLS(t *testing.T) {
	configContent := `
server:
  data_address: ":9000"
  admin_address: ":9001"
  shutdown_grace: 5s
  tls:
    enabled: true
    cert_file: "/path/to/cert.pem"
    key_file: "/path/to/key.pem"
    min_version: "1.3"
telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true
logging:
  level: "DEBUG"
  format: text
definitions:
  dir: /etc/gateway/apis
  watch: false
`
	path := writeFile(t, t.TempDir(), "gateway.yaml", configContent)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	assert.Equal(t, ":9000", cfg.Server.DataAddress)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownGrace)
	require.NotNil(t, cfg.Server.TLS)
	assert.True(t, cfg.Server.TLS.Enabled)
	assert.Equal(t, "1.3", cfg.Server.TLS.MinVersion)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "/etc/gateway/apis", cfg.Definitions.Dir)
	assert.False(t, cfg.Definitions.Watch)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_DATA_ADDR", ":7000")
	t.Setenv("GATEWAY_LOG_LEVEL", "warn")
	t.Setenv("GATEWAY_SHUTDOWN_GRACE", "2s")
	t.Setenv("GATEWAY_DEFINITIONS_DIR", "/tmp/apis")
	t.Setenv("GATEWAY_DEFINITIONS_WATCH", "false")
	t.Setenv("GATEWAY_NODE_ID", "node-7")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.DataAddress)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 2*time.Second, cfg.Server.ShutdownGrace)
	assert.Equal(t, "/tmp/apis", cfg.Definitions.Dir)
	assert.False(t, cfg.Definitions.Watch)
	assert.Equal(t, "node-7", cfg.Node.ID)
}

func TestEnvOverrideRejectsBadDuration(t *testing.T) {
	t.Setenv("GATEWAY_SHUTDOWN_GRACE", "soon")

	_, err := Load("")
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "GATEWAY_SHUTDOWN_GRACE", cfgErr.Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "address conflict", mutate: func(c *Config) { c.Server.AdminAddress = c.Server.DataAddress }, field: "admin_address"},
		{name: "negative grace", mutate: func(c *Config) { c.Server.ShutdownGrace = -time.Second }, field: "shutdown_grace"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, field: "format"},
		{name: "sample ratio", mutate: func(c *Config) { c.Telemetry.SampleRatio = 2 }, field: "sample_ratio"},
		{name: "tls without cert", mutate: func(c *Config) { c.Server.TLS = &TLSConfig{Enabled: true, KeyFile: "k"} }, field: "cert_file"},
		{name: "tls 1.1", mutate: func(c *Config) {
			c.Server.TLS = &TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "1.1"}
		}, field: "min_version"},
		{name: "mtls without ca", mutate: func(c *Config) {
			c.Server.TLS = &TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", ClientAuth: TLSClientAuthConfig{Required: true}}
		}, field: "client_auth.ca_file"},
		{name: "definitions dir", mutate: func(c *Config) { c.Definitions.Dir = " " }, field: "dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
}
