// Package observability builds the OpenTelemetry tracer and meter providers
// handed to the transaction coordinator.
package observability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/gaborage/txnest/logger"
)

// Provider owns the tracer and meter providers for one process.
type Provider interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider

	// Shutdown flushes pending telemetry and stops the exporters.
	Shutdown(ctx context.Context) error
	ForceFlush(ctx context.Context) error
}

// Option customizes NewProvider.
type Option func(*options)

type options struct {
	log       logger.Logger
	setGlobal bool
}

// WithLogger routes provider diagnostics to log. They are discarded by default.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithoutGlobals keeps NewProvider from registering its providers and the
// W3C propagator with the otel package.
func WithoutGlobals() Option {
	return func(o *options) { o.setGlobal = false }
}

type provider struct {
	mu             sync.Mutex
	config         Config
	log            logger.Logger
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// NewProvider builds a provider from a defaulted copy of cfg. A disabled
// configuration yields a no-op provider.
func NewProvider(cfg *Config, opts ...Option) (Provider, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	o := options{log: logger.Nop(), setGlobal: true}
	for _, opt := range opts {
		opt(&o)
	}

	c := *cfg
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !c.Enabled {
		o.log.Debug().Msg("observability disabled, using no-op providers")
		return noopProvider{}, nil
	}

	res, err := newResource(&c)
	if err != nil {
		return nil, fmt.Errorf("observability resource: %w", err)
	}

	p := &provider{config: c, log: o.log}
	if c.tracesEnabled() {
		if *c.Trace.Sample.Rate == 0 {
			o.log.Warn().Msg("trace sample rate is 0.0, no spans will be recorded")
		}
		exp, err := newSpanExporter(&c)
		if err != nil {
			return nil, fmt.Errorf("trace exporter: %w", err)
		}
		p.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exp, sdktrace.WithBatchTimeout(c.Trace.Batch.Timeout))),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(*c.Trace.Sample.Rate))),
		)
	}
	if c.metricsEnabled() {
		exp, err := newMetricExporter(&c)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("metric exporter: %w", err), p.Shutdown(context.Background()))
		}
		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(c.Metrics.Interval))),
		)
	}

	if o.setGlobal {
		p.registerGlobals()
	}

	o.log.Info().
		Str("service", c.Service.Name).
		Str("trace_endpoint", c.Trace.Endpoint).
		Str("metrics_endpoint", c.Metrics.Endpoint).
		Bool("traces", p.tracerProvider != nil).
		Bool("metrics", p.meterProvider != nil).
		Msg("observability provider initialized")
	return p, nil
}

// MustNewProvider is NewProvider for program setup; it panics on error.
func MustNewProvider(cfg *Config, opts ...Option) Provider {
	p, err := NewProvider(cfg, opts...)
	if err != nil {
		panic(fmt.Errorf("observability: %w", err))
	}
	return p
}

// Shutdown shuts p down within timeout. A nil provider is a no-op.
func Shutdown(p Provider, timeout time.Duration) error {
	if p == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.Shutdown(ctx)
}

func (p *provider) registerGlobals() {
	if p.tracerProvider != nil {
		otel.SetTracerProvider(p.tracerProvider)
	}
	if p.meterProvider != nil {
		otel.SetMeterProvider(p.meterProvider)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

func (p *provider) TracerProvider() trace.TracerProvider {
	if p.tracerProvider == nil {
		return tracenoop.NewTracerProvider()
	}
	return p.tracerProvider
}

func (p *provider) MeterProvider() metric.MeterProvider {
	if p.meterProvider == nil {
		return metricnoop.NewMeterProvider()
	}
	return p.meterProvider
}

func (p *provider) Shutdown(ctx context.Context) error {
	err := p.each("shutdown",
		func() error { return p.tracerProvider.Shutdown(ctx) },
		func() error { return p.meterProvider.Shutdown(ctx) })
	if err == nil {
		p.log.Debug().Msg("observability provider shut down")
	}
	return err
}

func (p *provider) ForceFlush(ctx context.Context) error {
	return p.each("flush",
		func() error { return p.tracerProvider.ForceFlush(ctx) },
		func() error { return p.meterProvider.ForceFlush(ctx) })
}

// each runs the trace then the meter step, skipping signals that are off,
// and joins their failures.
func (p *provider) each(verb string, traces, metrics func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.tracerProvider != nil {
		if err := traces(); err != nil {
			errs = append(errs, fmt.Errorf("%s trace provider: %w", verb, err))
		}
	}
	if p.meterProvider != nil {
		if err := metrics(); err != nil {
			errs = append(errs, fmt.Errorf("%s meter provider: %w", verb, err))
		}
	}
	return errors.Join(errs...)
}
