package config

import (
	"runtime"
	"time"

	"github.com/vyrodovalexey/avaserve/internal/observability"
	"github.com/vyrodovalexey/avaserve/internal/server"
	tlspkg "github.com/vyrodovalexey/avaserve/internal/tls"
)

// Default values for the observability endpoints.
const (
	DefaultMetricsAddress = ":9090"
	DefaultMetricsPath    = "/metrics"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	TLS           *tlspkg.Config      `yaml:"tls,omitempty"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the listener and the executor.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	Workers         int           `yaml:"workers,omitempty"`
	MaxConnections  int           `yaml:"maxConnections,omitempty"`
	AcceptRate      float64       `yaml:"acceptRate,omitempty"`
	AcceptBurst     int           `yaml:"acceptBurst,omitempty"`
	ReusePort       bool          `yaml:"reusePort,omitempty"`
	ShutdownTimeout Duration      `yaml:"shutdownTimeout,omitempty"`
	AcceptBackoff   BackoffConfig `yaml:"acceptBackoff,omitempty"`
}

// BackoffConfig bounds the pause after transient accept errors.
type BackoffConfig struct {
	Initial Duration `yaml:"initial,omitempty"`
	Max     Duration `yaml:"max,omitempty"`
}

// ObservabilityConfig groups logging, metrics and tracing.
type ObservabilityConfig struct {
	Logging observability.LogConfig    `yaml:"logging"`
	Metrics MetricsConfig              `yaml:"metrics"`
	Tracing observability.TracerConfig `yaml:"tracing"`
}

// MetricsConfig configures the metrics and health HTTP endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address,omitempty"`
	Path      string `yaml:"path,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// DefaultConfig returns a plaintext configuration with defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         server.DefaultAddr,
			Workers:         runtime.NumCPU(),
			MaxConnections:  server.DefaultMaxConnections,
			ShutdownTimeout: Duration(server.DefaultShutdownTimeout),
			AcceptBackoff: BackoffConfig{
				Initial: Duration(server.DefaultAcceptBackoffInitial),
				Max:     Duration(server.DefaultAcceptBackoffMax),
			},
		},
		Observability: ObservabilityConfig{
			Logging: observability.DefaultLogConfig(),
			Metrics: MetricsConfig{
				Enabled: true,
				Address: DefaultMetricsAddress,
				Path:    DefaultMetricsPath,
			},
			Tracing: observability.TracerConfig{
				ServiceName:  "avaserve",
				SamplingRate: 1.0,
			},
		},
	}
}

// ServerSettings converts the server section to server.Config.
func (c *Config) ServerSettings() server.Config {
	return server.Config{
		Addr:                 c.Server.Address,
		MaxConnections:       c.Server.MaxConnections,
		AcceptRate:           c.Server.AcceptRate,
		AcceptBurst:          c.Server.AcceptBurst,
		ReusePort:            c.Server.ReusePort,
		AcceptBackoffInitial: c.Server.AcceptBackoff.Initial.Duration(),
		AcceptBackoffMax:     c.Server.AcceptBackoff.Max.Duration(),
		ShutdownTimeout:      c.Server.ShutdownTimeout.Duration(),
	}
}

// TLSEnabled reports whether a tls section is present.
func (c *Config) TLSEnabled() bool {
	return c.TLS != nil
}

// MetricsAddress returns the metrics listen address with its default.
func (m MetricsConfig) MetricsAddress() string {
	if m.Address == "" {
		return DefaultMetricsAddress
	}
	return m.Address
}

// MetricsPath returns the metrics path with its default.
func (m MetricsConfig) MetricsPath() string {
	if m.Path == "" {
		return DefaultMetricsPath
	}
	return m.Path
}

// ShutdownTimeoutOrDefault returns the configured shutdown timeout or the server
// default.
func (s ServerConfig) ShutdownTimeoutOrDefault() time.Duration {
	if s.ShutdownTimeout <= 0 {
		return server.DefaultShutdownTimeout
	}
	return s.ShutdownTimeout.Duration()
}
