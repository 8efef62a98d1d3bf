package airlock

import (
	"context"
	"errors"
	"os"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
)

// instrumentationName identifies the gateway tracer and meter. It maps to
// the attribute `otel.library.name`.
const instrumentationName string = "github.com/movio/airlock"

// TelemetryConfig is the configuration for OpenTelemetry tracing and metrics.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`      // Enabled enables OpenTelemetry tracing and metrics.
	Insecure    bool   `json:"insecure"`     // Insecure enables insecure communication with the OpenTelemetry collector.
	Endpoint    string `json:"endpoint"`     // Endpoint is the OpenTelemetry collector endpoint.
	ServiceName string `json:"service_name"` // ServiceName is the name of the service.
}

type telemetryErrHandler struct{}

func (telemetryErrHandler) Handle(err error) {
	log.WithError(err).Error("opentelemetry error")
}

type shutdownFunc func(context.Context) error

// InitTelemetry installs the OpenTelemetry trace and meter providers. The
// returned function flushes and stops them, it must be called before the
// process exits. When telemetry is disabled the global no-op providers are
// kept.
func InitTelemetry(ctx context.Context, cfg TelemetryConfig) (func(context.Context) error, error) {
	if endpoint := os.Getenv("AIRLOCK_OTEL_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if !cfg.Enabled || cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	var funcs []shutdownFunc
	shutdown := func(ctx context.Context) error {
		var err error
		for _, fn := range funcs {
			err = errors.Join(err, fn(ctx))
		}
		funcs = nil
		return err
	}

	res, err := resources(ctx, cfg)
	if err != nil {
		return nil, err
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(telemetryErrHandler{})

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, err
	}
	tracerProvider := sdktrace.NewTracerProvider(
		// follow the sampling decision of the caller, sample root spans
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExp),
	)
	funcs = append(funcs, tracerProvider.ForceFlush, tracerProvider.Shutdown)
	otel.SetTracerProvider(tracerProvider)

	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, errors.Join(err, shutdown(ctx))
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
	)
	funcs = append(funcs, meterProvider.ForceFlush, meterProvider.Shutdown)
	otel.SetMeterProvider(meterProvider)

	return shutdown, nil
}

func resources(ctx context.Context, cfg TelemetryConfig) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "airlock"
	}
	return resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceVersion(Version),
		),
	)
}
