package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field       string
	Value       any
	Reason      string
	Suggestions []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in field '%s': %s", e.Field, e.Reason)
}

func (e *ConfigError) WithSuggestion(suggestion string) *ConfigError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

func NewConfigMissingError(field string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Reason: fmt.Sprintf("required field '%s' is missing", field),
	}
}

func NewConfigValidationError(field string, value any, reason string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

var tlsVersions = map[string]uint16{
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// TLSConfig configures TLS termination on the data server.
type TLSConfig struct {
	Enabled    bool                `yaml:"enabled"`
	CertFile   string              `yaml:"cert_file"`
	KeyFile    string              `yaml:"key_file"`
	MinVersion string              `yaml:"min_version,omitempty"`
	ClientAuth TLSClientAuthConfig `yaml:"client_auth,omitempty"`
}

// TLSClientAuthConfig configures mutual TLS authentication
type TLSClientAuthConfig struct {
	Required bool   `yaml:"required"`
	CAFile   string `yaml:"ca_file,omitempty"`
}

// Validate checks the TLS settings. Versions below 1.2 are rejected.
func (c *TLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.CertFile) == "" {
		return NewConfigMissingError("cert_file").
			WithSuggestion("Provide a path to a PEM encoded certificate")
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return NewConfigMissingError("key_file").
			WithSuggestion("Provide a path to the PEM encoded private key matching the certificate")
	}
	if c.MinVersion != "" {
		if _, ok := tlsVersions[strings.TrimSpace(c.MinVersion)]; !ok {
			return NewConfigValidationError("min_version", c.MinVersion, "supported versions: 1.2, 1.3").
				WithSuggestion("TLS versions below 1.2 are deprecated and insecure")
		}
	}
	if c.ClientAuth.Required && strings.TrimSpace(c.ClientAuth.CAFile) == "" {
		return NewConfigMissingError("client_auth.ca_file")
	}
	return nil
}

// Build loads the certificates and returns the server TLS configuration.
func (c *TLSConfig) Build() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	out := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if v, ok := tlsVersions[strings.TrimSpace(c.MinVersion)]; ok {
		out.MinVersion = v
	}
	if c.ClientAuth.Required {
		//nolint:gosec // CA path is controlled by admin/operator
		pem, err := os.ReadFile(c.ClientAuth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read client CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("client CA %s holds no certificate", c.ClientAuth.CAFile)
		}
		out.ClientCAs = pool
		out.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return out, nil
}
