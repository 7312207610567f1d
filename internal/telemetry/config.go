package telemetry

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fyrsmithlabs/changelogd/internal/config"
)

// OTLP transport protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config selects where and how telemetry is exported. It is assembled
// in code from the application config.
type Config struct {
	// Enabled turns the OTLP pipelines on. Disabled telemetry still
	// yields a usable Telemetry value that hands out no-op instruments.
	Enabled bool

	// Endpoint is the collector address as host:port. A http:// or
	// https:// prefix is tolerated and stripped for the HTTP exporters.
	Endpoint string

	// Protocol is ProtocolGRPC or ProtocolHTTP.
	Protocol string

	ServiceName    string
	ServiceVersion string

	// Insecure disables TLS. Allowed only for loopback endpoints.
	Insecure bool

	// TLSSkipVerify accepts any certificate, for collectors behind
	// internal CAs.
	TLSSkipVerify bool

	// SampleRate is the trace sampling ratio in [0, 1]. Decisions are
	// parent-based, so sampled upstream requests stay sampled here.
	SampleRate float64

	// Metrics tunes the metric pipeline.
	Metrics MetricsConfig

	// ShutdownTimeout bounds the final flush when Shutdown is called
	// with no deadline of its own.
	ShutdownTimeout config.Duration
}

// MetricsConfig tunes the periodic metric export.
type MetricsConfig struct {
	Enabled        bool
	ExportInterval config.Duration
}

// NewDefaultConfig returns defaults aimed at a local collector.
// Telemetry stays off until enabled in config or by TELEMETRY_ENABLED.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		Protocol:       ProtocolGRPC,
		ServiceName:    "changelogd",
		ServiceVersion: "0.1.0",
		Insecure:       true,
		SampleRate:     1.0,
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: config.Duration(15 * time.Second),
		},
		ShutdownTimeout: config.Duration(5 * time.Second),
	}
}

// Validate checks the configuration. A disabled config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required when telemetry is enabled")
	}
	if c.Protocol != ProtocolGRPC && c.Protocol != ProtocolHTTP {
		return fmt.Errorf("protocol must be %q or %q, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol)
	}

	// Plaintext export is a credential leak waiting to happen anywhere
	// but the local machine.
	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; enable TLS or use a loopback endpoint")
	}

	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate must be between 0 and 1, got %v", c.SampleRate)
	}
	if c.Metrics.Enabled && c.Metrics.ExportInterval.Duration() <= 0 {
		return fmt.Errorf("metrics export interval must be positive when metrics are enabled")
	}
	if c.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// isLocalEndpoint reports whether the endpoint points at this machine.
func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else {
		// No port, or a bare IPv6 literal that SplitHostPort rejects.
		host = strings.Trim(host, "[]")
	}

	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
