package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// TelemetryService wraps an OTLP-exporting TracerProvider, giving the
// Task Runner a span per plugin activity invocation (spec.md domain
// stack item 18).
type TelemetryService struct {
	tracer trace.Tracer
	tp     *sdktrace.TracerProvider
}

// NewTelemetryService dials an OTLP/gRPC collector and installs a
// batch-exporting TracerProvider as the process-global tracer
// provider.
func NewTelemetryService(ctx context.Context, serviceName string) (*TelemetryService, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceNameKey.String(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("observability: dial otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &TelemetryService{tracer: tp.Tracer(serviceName), tp: tp}, nil
}

// StartTaskSpan opens a span around one plugin task attempt, tagging it
// with the attributes a reader would need to correlate it back to a
// routine execution.
func (t *TelemetryService) StartTaskSpan(ctx context.Context, executionID, nodeID, pluginID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "routine.task",
		trace.WithAttributes(
			semconv.String("routine.execution_id", executionID),
			semconv.String("routine.node_id", nodeID),
			semconv.String("routine.plugin_id", pluginID),
		),
	)
}

// Shutdown flushes and stops the tracer provider.
func (t *TelemetryService) Shutdown(ctx context.Context) error {
	if t.tp == nil {
		return nil
	}
	return t.tp.Shutdown(ctx)
}
