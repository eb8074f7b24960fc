// Package telemetry provides the runtime's optional OpenTelemetry tracing
// and metrics, generalized from observability/telemetry.go's
// TelemetryProvider (a messages-sent/enqueued/failed NotifyHub provider)
// down to the dispatch-runtime's own concerns: items posted, items
// dispatched, task duration, and pending queue depth.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether and how telemetry is exported, mirroring the
// teacher's config.TelemetryConfig shape.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	OTLPHeaders    map[string]string
	TracingEnabled bool
	MetricsEnabled bool
	SampleRate     float64
	Enabled        bool
}

// Provider is the runtime-wide tracer/meter bundle. A disabled or zero-value
// Provider is safe to use, every method becomes a no-op.
type Provider struct {
	config        Config
	tracer        trace.Tracer
	meter         metric.Meter
	traceProvider *sdktrace.TracerProvider

	itemsPosted     metric.Int64Counter
	itemsDispatched metric.Int64Counter
	itemsFaulted    metric.Int64Counter
	taskDuration    metric.Float64Histogram
	pendingDepth    metric.Int64UpDownCounter
}

// New builds a Provider from cfg. A nil cfg or cfg.Enabled == false yields a
// fully no-op Provider, every tracing/metrics call becomes a cheap no-op
// rather than requiring callers to nil-check.
func New(cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = &Config{Enabled: false}
	}
	p := &Provider{config: *cfg}

	if !cfg.Enabled {
		p.tracer = otel.Tracer("dispatchrt")
		p.meter = otel.Meter("dispatchrt")
		return p, nil
	}

	if cfg.TracingEnabled {
		if err := p.initTracing(); err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}
	if cfg.MetricsEnabled {
		if err := p.initMetrics(); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}
	return p, nil
}

func (p *Provider) initTracing() error {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(p.config.ServiceName),
			semconv.ServiceVersion(p.config.ServiceVersion),
			semconv.DeploymentEnvironment(p.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	exporter, err := otlptrace.New(context.Background(),
		otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(p.config.OTLPEndpoint),
			otlptracehttp.WithHeaders(p.config.OTLPHeaders),
		),
	)
	if err != nil {
		return fmt.Errorf("create exporter: %w", err)
	}

	p.traceProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(p.config.SampleRate)),
	)
	otel.SetTracerProvider(p.traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	p.tracer = otel.Tracer("dispatchrt",
		trace.WithInstrumentationVersion("0.1.0"),
		trace.WithSchemaURL(semconv.SchemaURL),
	)
	return nil
}

func (p *Provider) initMetrics() error {
	p.meter = otel.Meter("dispatchrt",
		metric.WithInstrumentationVersion("0.1.0"),
		metric.WithSchemaURL(semconv.SchemaURL),
	)

	var err error
	p.itemsPosted, err = p.meter.Int64Counter(
		"dispatchrt_items_posted_total",
		metric.WithDescription("Total number of items posted to a broker or serial queue"),
	)
	if err != nil {
		return fmt.Errorf("create items_posted counter: %w", err)
	}

	p.itemsDispatched, err = p.meter.Int64Counter(
		"dispatchrt_items_dispatched_total",
		metric.WithDescription("Total number of items dequeued and run by a worker"),
	)
	if err != nil {
		return fmt.Errorf("create items_dispatched counter: %w", err)
	}

	p.itemsFaulted, err = p.meter.Int64Counter(
		"dispatchrt_items_faulted_total",
		metric.WithDescription("Total number of items whose payload or hook panicked"),
	)
	if err != nil {
		return fmt.Errorf("create items_faulted counter: %w", err)
	}

	p.taskDuration, err = p.meter.Float64Histogram(
		"dispatchrt_task_duration_seconds",
		metric.WithDescription("Duration of dispatched task payloads"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create task_duration histogram: %w", err)
	}

	p.pendingDepth, err = p.meter.Int64UpDownCounter(
		"dispatchrt_pending_items",
		metric.WithDescription("Current number of items queued but not yet dispatched"),
	)
	if err != nil {
		return fmt.Errorf("create pending_items counter: %w", err)
	}
	return nil
}

// TraceDispatch opens a span around one item's dispatch. Returns a no-op
// span when tracing is disabled.
func (p *Provider) TraceDispatch(ctx context.Context, loc string, itemID string) (context.Context, trace.Span) {
	if p.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, "dispatchrt.dispatch",
		trace.WithAttributes(
			attribute.String("dispatchrt.item.id", itemID),
			attribute.String("dispatchrt.location", loc),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// RecordPosted increments the items-posted counter.
func (p *Provider) RecordPosted(ctx context.Context, component string) {
	if p.itemsPosted != nil {
		p.itemsPosted.Add(ctx, 1, metric.WithAttributes(attribute.String("component", component)))
	}
}

// RecordDispatched increments the items-dispatched counter and records the
// task's execution duration.
func (p *Provider) RecordDispatched(ctx context.Context, component string, d time.Duration) {
	if p.itemsDispatched != nil {
		p.itemsDispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("component", component)))
	}
	if p.taskDuration != nil {
		p.taskDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("component", component)))
	}
}

// RecordFaulted increments the items-faulted counter.
func (p *Provider) RecordFaulted(ctx context.Context, component string) {
	if p.itemsFaulted != nil {
		p.itemsFaulted.Add(ctx, 1, metric.WithAttributes(attribute.String("component", component)))
	}
}

// UpdatePendingDepth adjusts the current pending-items gauge by delta
// (positive on enqueue, negative on dequeue).
func (p *Provider) UpdatePendingDepth(ctx context.Context, component string, delta int64) {
	if p.pendingDepth != nil {
		p.pendingDepth.Add(ctx, delta, metric.WithAttributes(attribute.String("component", component)))
	}
}

// SetSpanError records err on span and marks it failed.
func (p *Provider) SetSpanError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks span as having completed without error.
func (p *Provider) SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// Shutdown flushes and releases the underlying trace provider, if any.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.traceProvider != nil {
		return p.traceProvider.Shutdown(ctx)
	}
	return nil
}
