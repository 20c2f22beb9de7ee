package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty
	DefaultServiceName = "oauth-lifecycle"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	scopePrefix = "github.com/giantswarm/oauth-lifecycle/"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service reported in the resource
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, no-op providers are used.
	Enabled bool

	// LogClientIPs controls whether client IP addresses are included in traces.
	// Client IPs may be personal data in some jurisdictions.
	LogClientIPs bool

	// PrometheusExporter exports metrics through the OpenTelemetry Prometheus
	// bridge, registered with PrometheusRegisterer. Serve them with promhttp.
	PrometheusExporter bool

	// PrometheusRegisterer receives the exporter's collector.
	// Default: prometheus.DefaultRegisterer
	PrometheusRegisterer prometheus.Registerer

	// MeterProvider overrides the provider built from the fields above.
	// Tests pass an sdkmetric provider backed by a ManualReader.
	MeterProvider metric.MeterProvider

	// TracerProvider overrides the tracer provider.
	TracerProvider trace.TracerProvider

	// Resource allows custom resource attributes.
	// If nil, a resource with service name and version is created.
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	// registered during New only
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

func (i *Instrumentation) initializeProviders() error {
	switch {
	case i.config.MeterProvider != nil:
		i.meterProvider = i.config.MeterProvider
	case i.config.PrometheusExporter:
		registerer := i.config.PrometheusRegisterer
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}
		exporter, err := otelprom.New(otelprom.WithRegisterer(registerer))
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter),
			sdkmetric.WithResource(i.resource),
		)
		i.meterProvider = mp
		i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)
	default:
		i.meterProvider = noop.NewMeterProvider()
	}

	if i.config.TracerProvider != nil {
		i.tracerProvider = i.config.TracerProvider
	} else {
		tp := sdktrace.NewTracerProvider(sdktrace.WithResource(i.resource))
		i.tracerProvider = tp
		i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown)
	}

	return nil
}

// Shutdown flushes and stops the providers created by New.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error
	i.shutdownOnce.Do(func() {
		var errs []error
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		shutdownErr = errors.Join(errs...)
	})
	return shutdownErr
}

// Meter returns a named meter for the given scope ("http", "server", "storage", "security").
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// ShouldLogClientIPs returns whether client IP addresses should be recorded
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i.config.LogClientIPs
}

// StorageSizeCallback is a function that returns the current size of a storage component
type StorageSizeCallback func() int64

// RegisterStorageSizeCallbacks registers gauges reporting how many records each
// credential store holds. Nil callbacks are skipped.
func (i *Instrumentation) RegisterStorageSizeCallbacks(codes, accessTokens, refreshTokens StorageSizeCallback) error {
	if i.meterProvider == nil {
		return errors.New("meter provider not initialized")
	}

	_, err := i.Meter("storage").RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			if codes != nil {
				observer.ObserveInt64(i.metrics.StorageSizeCodes, codes())
			}
			if accessTokens != nil {
				observer.ObserveInt64(i.metrics.StorageSizeAccessTokens, accessTokens())
			}
			if refreshTokens != nil {
				observer.ObserveInt64(i.metrics.StorageSizeRefreshTokens, refreshTokens())
			}
			return nil
		},
		i.metrics.StorageSizeCodes,
		i.metrics.StorageSizeAccessTokens,
		i.metrics.StorageSizeRefreshTokens,
	)
	return err
}
