// Package otel owns the OpenTelemetry log and metric providers of a
// flowrender process.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultMetricInterval is how often metrics are exported to the log writer.
const DefaultMetricInterval = 30 * time.Second

// ErrNoSink is returned by New when OTel is enabled with nowhere to export.
var ErrNoSink = errors.New("otel enabled without a log writer or endpoint")

// Config selects the exporters. LogWriter receives pretty-printed log
// records and, when set, periodic metric dumps. Endpoint is an OTLP/HTTP
// log collector.
type Config struct {
	Enabled        bool
	ServiceName    string
	BatchTimeout   time.Duration
	MetricInterval time.Duration
	LogWriter      io.Writer
	Endpoint       string
	Insecure       bool
}

// component is a provider that can be flushed and shut down.
type component interface {
	ForceFlush(context.Context) error
	Shutdown(context.Context) error
}

// Provider holds the log provider and, with a LogWriter, the meter provider
// installed as the global one.
type Provider struct {
	enabled bool
	logs    *sdklog.LoggerProvider
	metrics *sdkmetric.MeterProvider
}

// New builds the providers for cfg. A disabled config yields a Provider
// whose methods are no-ops.
func New(cfg Config) (*Provider, error) {
	p := &Provider{enabled: cfg.Enabled}
	if !cfg.Enabled {
		return p, nil
	}
	if cfg.LogWriter == nil && cfg.Endpoint == "" {
		return nil, ErrNoSink
	}

	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	exporters, err := logExporters(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	for _, exp := range exporters {
		opts = append(opts, sdklog.WithProcessor(
			sdklog.NewBatchProcessor(exp, sdklog.WithExportTimeout(cfg.BatchTimeout))))
	}
	p.logs = sdklog.NewLoggerProvider(opts...)

	if cfg.LogWriter != nil {
		if p.metrics, err = meterProvider(cfg, res); err != nil {
			return nil, err
		}
		otel.SetMeterProvider(p.metrics)
	}
	return p, nil
}

func logExporters(ctx context.Context, cfg Config) ([]sdklog.Exporter, error) {
	var out []sdklog.Exporter
	if cfg.LogWriter != nil {
		exp, err := stdoutlog.New(stdoutlog.WithWriter(cfg.LogWriter), stdoutlog.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout log exporter: %w", err)
		}
		out = append(out, exp)
	}
	if cfg.Endpoint != "" {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		exp, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp log exporter: %w", err)
		}
		out = append(out, exp)
	}
	return out, nil
}

func meterProvider(cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.LogWriter))
	if err != nil {
		return nil, fmt.Errorf("stdout metric exporter: %w", err)
	}
	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = DefaultMetricInterval
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))
	return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader)), nil
}

// LoggerProvider feeds the otelslog bridge. Nil when disabled.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider {
	return p.logs
}

// Meter returns a named meter, a no-op one when metrics are not exported.
func (p *Provider) Meter(name string) metric.Meter {
	if p.metrics == nil {
		return noop.Meter{}
	}
	return p.metrics.Meter(name)
}

type namedComponent struct {
	name string
	component
}

// components lists the live providers, metrics first so the final metric
// export still has a log provider behind it.
func (p *Provider) components() []namedComponent {
	var out []namedComponent
	if p.metrics != nil {
		out = append(out, namedComponent{"metric", p.metrics})
	}
	if p.logs != nil {
		out = append(out, namedComponent{"log", p.logs})
	}
	return out
}

func (p *Provider) each(op string, fn func(component) error) error {
	var errs []error
	for _, c := range p.components() {
		if err := fn(c.component); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", c.name, op, err))
		}
	}
	return errors.Join(errs...)
}

// Flush exports everything pending. The CLI calls it after a load report is
// written.
func (p *Provider) Flush(ctx context.Context) error {
	return p.each("flush", func(c component) error { return c.ForceFlush(ctx) })
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.each("shutdown", func(c component) error { return c.Shutdown(ctx) })
}

// Enabled reports whether OTel was enabled in the config.
func (p *Provider) Enabled() bool {
	return p.enabled
}
