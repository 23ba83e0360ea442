// Package telemetry provides OpenTelemetry instrumentation for armoryx.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/yairfalse/armoryx/internal/config"
)

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *promclient.Registry
	tracer         trace.Tracer
	meter          metric.Meter

	// Metrics
	exports        metric.Int64Counter
	exportRows     metric.Int64Histogram
	exportDuration metric.Float64Histogram
	cellErrors     metric.Int64Counter
	detailViews    metric.Int64Counter
	syncedRecords  metric.Int64Counter
}

// NewProvider creates a new telemetry provider. Metrics are always exposed
// for Prometheus scraping; OTLP export is added when an endpoint is set.
func NewProvider(ctx context.Context, cfg config.OTELConfig) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res); err != nil {
		if p.tracerProvider != nil {
			_ = p.tracerProvider.Shutdown(ctx)
		}
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate))
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	p.tracer = p.tracerProvider.Tracer("armoryx")

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	p.registry = promclient.NewRegistry()
	promExporter, err := prometheus.New(prometheus.WithRegisterer(p.registry))
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp,
			sdkmetric.WithInterval(10*time.Second),
		)))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter("armoryx")

	return nil
}

func dialOptions(cfg config.OTELConfig) []grpc.DialOption {
	opts := []grpc.DialOption{grpc.WithUserAgent(cfg.ServiceName)}
	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return opts
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(dialOptions(cfg)...),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithDialOption(dialOptions(cfg)...),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.exports, err = p.meter.Int64Counter(
		"armoryx.exports",
		metric.WithDescription("Completed changelist exports"),
	)
	if err != nil {
		return fmt.Errorf("create exports: %w", err)
	}

	p.exportRows, err = p.meter.Int64Histogram(
		"armoryx.export.rows",
		metric.WithDescription("Rows per export"),
		metric.WithExplicitBucketBoundaries(0, 10, 50, 100, 500, 1000, 5000, 10000, 50000),
	)
	if err != nil {
		return fmt.Errorf("create export_rows: %w", err)
	}

	p.exportDuration, err = p.meter.Float64Histogram(
		"armoryx.export.duration",
		metric.WithDescription("Duration of exports"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create export_duration: %w", err)
	}

	p.cellErrors, err = p.meter.Int64Counter(
		"armoryx.export.cell_errors",
		metric.WithDescription("Cells replaced by an error marker"),
	)
	if err != nil {
		return fmt.Errorf("create cell_errors: %w", err)
	}

	p.detailViews, err = p.meter.Int64Counter(
		"armoryx.detail_views",
		metric.WithDescription("Rendered detail fragments"),
	)
	if err != nil {
		return fmt.Errorf("create detail_views: %w", err)
	}

	p.syncedRecords, err = p.meter.Int64Counter(
		"armoryx.sync.records",
		metric.WithDescription("Records written by provider syncs"),
	)
	if err != nil {
		return fmt.Errorf("create sync_records: %w", err)
	}

	return nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// Handler serves the Prometheus exposition of all metrics.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// StartSpan starts a new span.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name)
}

// RecordExport records one completed export.
func (p *Provider) RecordExport(ctx context.Context, entity, format string, rows int, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("format", format),
	)
	p.exports.Add(ctx, 1, attrs)
	p.exportRows.Record(ctx, int64(rows), attrs)
	p.exportDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordCellError records one failed cell.
func (p *Provider) RecordCellError(ctx context.Context, entity, field string) {
	p.cellErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("field", field),
	))
}

// RecordDetailView records one rendered detail fragment.
func (p *Provider) RecordDetailView(ctx context.Context, entity string, status int) {
	p.detailViews.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("status", strconv.Itoa(status)),
	))
}

// RecordSync records records created or updated by a provider sync.
func (p *Provider) RecordSync(ctx context.Context, provider, region, entity string, created, updated int) {
	p.syncedRecords.Add(ctx, int64(created), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("region", region),
		attribute.String("entity", entity),
		attribute.String("result", "created"),
	))
	p.syncedRecords.Add(ctx, int64(updated), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("region", region),
		attribute.String("entity", entity),
		attribute.String("result", "updated"),
	))
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}
