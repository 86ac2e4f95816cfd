package observability

import (
	"fmt"
	"strings"
	"time"
)

const (
	// EndpointStdout is a special endpoint value that writes telemetry to stdout (for local development).
	EndpointStdout = "stdout"

	// ProtocolHTTP specifies OTLP over HTTP/protobuf.
	ProtocolHTTP = "http"

	// ProtocolGRPC specifies OTLP over gRPC.
	ProtocolGRPC = "grpc"

	// EnvironmentDevelopment is the default deployment environment.
	EnvironmentDevelopment = "development"
)

// Config is the "observability" configuration section. It is decoded with
// config.Config.Unmarshal("observability", &cfg).
type Config struct {
	// Enabled controls whether observability is active.
	// When false, NewProvider returns no-op providers.
	Enabled bool `koanf:"enabled"`

	Service     ServiceConfig `koanf:"service"`
	Environment string        `koanf:"environment"`
	Trace       TraceConfig   `koanf:"trace"`
	Metrics     MetricsConfig `koanf:"metrics"`
}

// ServiceConfig identifies the service in exported telemetry.
type ServiceConfig struct {
	// Name is required when observability is enabled.
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

// TraceConfig configures span export.
type TraceConfig struct {
	// Enabled: nil applies the default (true when observability is enabled).
	Enabled *bool `koanf:"enabled"`

	// Endpoint is "stdout" or an OTLP endpoint: "host:4317" for gRPC,
	// "host:4318" for HTTP.
	Endpoint string `koanf:"endpoint"`

	// Protocol is "http" or "grpc". Ignored for the stdout endpoint.
	Protocol string `koanf:"protocol"`

	// Insecure disables TLS for OTLP exporters.
	Insecure bool `koanf:"insecure"`

	Headers map[string]string `koanf:"headers"`

	// Sample.Rate: nil applies the default (1.0). An explicit 0.0 drops every span.
	Sample SampleConfig `koanf:"sample"`

	// Batch.Timeout bounds how long finished spans wait before export.
	Batch BatchConfig `koanf:"batch"`
}

// SampleConfig defines trace sampling.
type SampleConfig struct {
	Rate *float64 `koanf:"rate"`
}

// BatchConfig defines batch span processing.
type BatchConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// MetricsConfig configures metric export. OTLP metrics reuse the trace
// protocol, TLS and header settings.
type MetricsConfig struct {
	// Enabled: nil applies the default (true when observability is enabled).
	Enabled  *bool         `koanf:"enabled"`
	Endpoint string        `koanf:"endpoint"`
	Interval time.Duration `koanf:"interval"`
}

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool {
	return &v
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 {
	return &v
}

// ApplyDefaults fills unset fields. NewProvider calls it on a copy, so callers need not.
func (c *Config) ApplyDefaults() {
	if c.Service.Version == "" {
		c.Service.Version = "unknown"
	}
	if c.Environment == "" {
		c.Environment = EnvironmentDevelopment
	}

	if c.Trace.Endpoint == "" {
		c.Trace.Endpoint = EndpointStdout
	}
	if c.Enabled && c.Trace.Enabled == nil {
		c.Trace.Enabled = BoolPtr(true)
	}
	if c.Trace.Protocol == "" {
		c.Trace.Protocol = ProtocolHTTP
	}
	if c.Trace.Sample.Rate == nil {
		c.Trace.Sample.Rate = Float64Ptr(1.0)
	}
	if c.Trace.Batch.Timeout == 0 {
		if c.Environment == EnvironmentDevelopment || c.Trace.Endpoint == EndpointStdout {
			c.Trace.Batch.Timeout = 500 * time.Millisecond
		} else {
			c.Trace.Batch.Timeout = 5 * time.Second
		}
	}

	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = EndpointStdout
	}
	if c.Enabled && c.Metrics.Enabled == nil {
		c.Metrics.Enabled = BoolPtr(true)
	}
	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = 10 * time.Second
	}
}

// Validate checks an enabled configuration. A disabled configuration is always valid.
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if !c.Enabled {
		return nil
	}
	if c.Service.Name == "" {
		return fmt.Errorf("observability.service.name: %w", ErrMissingServiceName)
	}
	if rate := c.Trace.Sample.Rate; rate != nil && (*rate < 0 || *rate > 1) {
		return fmt.Errorf("observability.trace.sample.rate %g: %w", *rate, ErrInvalidSampleRate)
	}

	usesOTLP := c.Trace.Endpoint != EndpointStdout || c.Metrics.Endpoint != EndpointStdout
	if usesOTLP && c.Trace.Protocol != ProtocolHTTP && c.Trace.Protocol != ProtocolGRPC {
		return fmt.Errorf("observability.trace.protocol %q: %w", c.Trace.Protocol, ErrInvalidProtocol)
	}
	if c.Trace.Protocol == ProtocolGRPC {
		for _, ep := range []string{c.Trace.Endpoint, c.Metrics.Endpoint} {
			if strings.HasPrefix(ep, "http://") || strings.HasPrefix(ep, "https://") {
				return fmt.Errorf("endpoint %q: %w", ep, ErrInvalidEndpointFormat)
			}
		}
	}
	return nil
}

func (c *Config) tracesEnabled() bool {
	return c.Enabled && c.Trace.Enabled != nil && *c.Trace.Enabled
}

func (c *Config) metricsEnabled() bool {
	return c.Enabled && c.Metrics.Enabled != nil && *c.Metrics.Enabled
}
