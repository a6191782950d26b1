// Package telemetry owns the OpenTelemetry meter provider and the payment
// instruments recorded on it.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
)

const (
	serviceName    = "paygate"
	serviceVersion = "1.0.0"

	defaultEnvironment    = "development"
	defaultMetricInterval = 30 * time.Second
)

var environment atomic.Value

// Config selects where payment metrics are exported.
type Config struct {
	Enabled bool
	// OTLPEndpoint is host:port or a URL; an https URL implies TLS.
	OTLPEndpoint     string
	OTLPInsecure     bool
	EnableMetrics    bool
	MetricInterval   time.Duration
	ServiceName      string
	ServiceVersion   string
	ServiceNamespace string
	Environment      string
}

// DefaultConfig returns the defaults overridden by the standard OTEL_*
// variables of the process environment.
func DefaultConfig() Config {
	return configFromEnv(os.Getenv)
}

func configFromEnv(getenv func(string) string) Config {
	cfg := Config{
		Enabled:        getenv("OTEL_ENABLED") != "false",
		OTLPEndpoint:   "localhost:4318",
		OTLPInsecure:   getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		EnableMetrics:  getenv("OTEL_METRICS_ENABLED") != "false",
		MetricInterval: defaultMetricInterval,
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    defaultEnvironment,
	}
	if v := strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(getenv("OTEL_SERVICE_NAME")); v != "" {
		cfg.ServiceName = v
	}
	cfg.ServiceNamespace = strings.TrimSpace(getenv("OTEL_SERVICE_NAMESPACE"))
	for _, key := range []string{"OTEL_RESOURCE_ENVIRONMENT", "PAYGATE_ENV"} {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			cfg.Environment = v
			break
		}
	}
	return cfg
}

// ProviderOption configures a Provider.
type ProviderOption func(*providerOptions)

type providerOptions struct {
	readers []sdkmetric.Reader
}

// WithReader attaches an extra metric reader, e.g. a ManualReader in tests.
// Extra readers are attached even when OTLP export is disabled.
func WithReader(r sdkmetric.Reader) ProviderOption {
	return func(o *providerOptions) {
		if r != nil {
			o.readers = append(o.readers, r)
		}
	}
}

// Provider owns the process meter provider.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	config        Config
}

// NewProvider records the environment label, builds the meter provider and
// installs it globally. With nothing to export it leaves the global noop
// provider in place.
func NewProvider(ctx context.Context, cfg Config, opts ...ProviderOption) (*Provider, error) {
	var o providerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	setEnvironment(cfg.Environment)
	if cfg.MetricInterval <= 0 {
		cfg.MetricInterval = defaultMetricInterval
	}

	readers := o.readers
	if cfg.Enabled && cfg.EnableMetrics {
		exporter, err := newExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.MetricInterval)))
	}
	if len(readers) == 0 {
		return &Provider{config: cfg}, nil
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res), sdkmetric.WithView(createHistogramViews()...)}
	for _, r := range readers {
		mpOpts = append(mpOpts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(mpOpts...)
	otel.SetMeterProvider(mp)
	return &Provider{meterProvider: mp, config: cfg}, nil
}

// Exporting reports whether metrics leave the process.
func (p *Provider) Exporting() bool {
	return p != nil && p.meterProvider != nil
}

// Shutdown flushes and stops every reader.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter: %w", err)
	}
	return nil
}

func newExporter(ctx context.Context, cfg Config) (sdkmetric.Exporter, error) {
	host, insecure := splitEndpoint(cfg.OTLPEndpoint)
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host)}
	if insecure || cfg.OTLPInsecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	return exporter, nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = serviceName
	}
	opts := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentName(Environment()),
		),
		resource.WithProcessRuntimeName(),
		resource.WithProcessRuntimeVersion(),
		resource.WithHost(),
	}
	if cfg.ServiceNamespace != "" {
		opts = append(opts, resource.WithAttributes(semconv.ServiceNamespace(cfg.ServiceNamespace)))
	}
	res, err := resource.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}
	return res, nil
}

// createHistogramViews sets explicit buckets for the payment histograms.
func createHistogramViews() []sdkmetric.View {
	return []sdkmetric.View{
		// per PSP attempt, bounded by the 30s client timeout
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: MetricPSPConfirmDuration, Kind: sdkmetric.InstrumentKindHistogram},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
				Boundaries: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
			}},
		),
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: MetricRecoveryBatchSize, Kind: sdkmetric.InstrumentKindHistogram},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
				Boundaries: []float64{0, 1, 2, 5, 10, 20, 50},
			}},
		),
	}
}

// splitEndpoint returns host:port and whether the endpoint asked for plain
// HTTP. OTLP HTTP exporters take the host without a scheme.
func splitEndpoint(endpoint string) (string, bool) {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.Contains(endpoint, "://") {
		return endpoint, false
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint, false
	}
	return u.Host, u.Scheme == "http"
}

func setEnvironment(env string) {
	environment.Store(strings.ToLower(strings.TrimSpace(env)))
}

// Environment returns the environment label attached to every instrument.
func Environment() string {
	if v, _ := environment.Load().(string); v != "" {
		return v
	}
	return defaultEnvironment
}
