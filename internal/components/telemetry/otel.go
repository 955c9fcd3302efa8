package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"lpse-scraper/pkg/configutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	protocolGrpc = "grpc"
	protocolHttp = "http"

	defaultMetricInterval = 15 * time.Second
)

// Config is the contents of telemetry.json5. Traces and metrics go to the same collector.
type Config struct {
	// Protocol is either "grpc" or "http".
	Protocol string            `json:"protocol"`
	Endpoint string            `json:"endpoint"`
	Headers  map[string]string `json:"headers"`
	// MetricIntervalSeconds defaults to 15.
	MetricIntervalSeconds int `json:"metric_interval_seconds"`
}

func (c Config) metricInterval() time.Duration {
	if c.MetricIntervalSeconds <= 0 {
		return defaultMetricInterval
	}
	return time.Duration(c.MetricIntervalSeconds) * time.Second
}

func (c Config) validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("telemetry: endpoint is required")
	}
	switch c.Protocol {
	case protocolGrpc, protocolHttp:
		return nil
	}
	return fmt.Errorf("telemetry: unknown protocol %q, expected %q or %q", c.Protocol, protocolGrpc, protocolHttp)
}

// Telemetry holds the otel providers so they can be flushed on exit.
// The zero value is valid and does nothing on Shutdown.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
}

func (t Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.TracerProvider != nil {
		errs = append(errs, t.TracerProvider.Shutdown(ctx))
	}
	if t.MeterProvider != nil {
		errs = append(errs, t.MeterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// SetupOptional looks for telemetry.json5 in the cwd and its parents. When there is none,
// export stays disabled, a warning is logged and the zero Telemetry is returned.
func SetupOptional(ctx context.Context, serviceName string) (Telemetry, error) {
	cfg, err := configutil.ReadRecursively[Config]("telemetry.json5")
	if errors.Is(err, os.ErrNotExist) {
		slog.WarnContext(ctx, "telemetry.json5 not found, otel export is disabled", "service", serviceName)
		return Telemetry{}, nil
	}
	if err != nil {
		return Telemetry{}, err
	}
	return Setup(ctx, serviceName, cfg)
}

// Setup installs global trace and meter providers exporting to the collector in `cfg`.
func Setup(ctx context.Context, serviceName string, cfg Config) (Telemetry, error) {
	err := cfg.validate()
	if err != nil {
		return Telemetry{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return Telemetry{}, err
	}

	spans, metrics, err := newExporters(ctx, cfg)
	if err != nil {
		return Telemetry{}, err
	}

	t := Telemetry{
		TracerProvider: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spans),
			sdktrace.WithResource(res),
		),
		MeterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(cfg.metricInterval()))),
			sdkmetric.WithResource(res),
		),
	}
	otel.SetTracerProvider(t.TracerProvider)
	otel.SetMeterProvider(t.MeterProvider)

	slog.InfoContext(ctx, "otel export enabled", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)
	return t, nil
}

func newExporters(ctx context.Context, cfg Config) (sdktrace.SpanExporter, sdkmetric.Exporter, error) {
	if cfg.Protocol == protocolGrpc {
		spans, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpointURL(cfg.Endpoint),
			otlptracegrpc.WithHeaders(cfg.Headers),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("grpc span exporter: %w", err)
		}
		metrics, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpointURL(cfg.Endpoint),
			otlpmetricgrpc.WithHeaders(cfg.Headers),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("grpc metric exporter: %w", err)
		}
		return spans, metrics, nil
	}

	spans, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.Endpoint),
		otlptracehttp.WithHeaders(cfg.Headers),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("http span exporter: %w", err)
	}
	metrics, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpointURL(cfg.Endpoint),
		otlpmetrichttp.WithHeaders(cfg.Headers),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("http metric exporter: %w", err)
	}
	return spans, metrics, nil
}

// FetchInstruments are the metrics recorded for every upstream fetch.
type FetchInstruments struct {
	duration metric.Float64Histogram
	failures metric.Int64Counter
}

// NewFetchInstruments creates the fetch instruments on `meter`.
func NewFetchInstruments(meter metric.Meter) (FetchInstruments, error) {
	duration, err := meter.Float64Histogram(
		"lpse.fetch.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time taken by both upstream calls of a fetch."),
	)
	if err != nil {
		return FetchInstruments{}, err
	}
	failures, err := meter.Int64Counter(
		"lpse.fetch.failures",
		metric.WithDescription("Failed fetches by error kind."),
	)
	if err != nil {
		return FetchInstruments{}, err
	}
	return FetchInstruments{duration: duration, failures: failures}, nil
}

// RecordFetch records one fetch, `failure` is the error kind or empty on success.
func (i FetchInstruments) RecordFetch(ctx context.Context, year int, elapsed time.Duration, failure string) {
	outcome := failure
	if outcome == "" {
		outcome = "ok"
	}
	if i.duration != nil {
		i.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.Int("year", year),
		))
	}
	if failure != "" && i.failures != nil {
		i.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", failure)))
	}
}
