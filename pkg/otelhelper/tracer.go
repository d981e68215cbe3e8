// Package otelhelper provides distributed tracing helpers for message
// processing and agent assignment.
package otelhelper

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	OrganizationIDKey = "chatflow.organization.id"
	ConversationIDKey = "chatflow.conversation.id"
	ChatbotIDKey      = "chatflow.chatbot.id"
	WorkflowIDKey     = "chatflow.workflow.id"
	NodeIDKey         = "chatflow.node.id"
	NodeTypeKey       = "chatflow.node.type"
	NodePortKey       = "chatflow.node.port"
	AgentIDKey        = "chatflow.agent.id"
	StrategyKey       = "chatflow.assignment.strategy"
	StepCountKey      = "chatflow.execution.steps"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Config selects the exported service identity and how much is sampled.
// SampleRatio outside (0, 1) samples every trace.
type Config struct {
	ServiceName    string
	ServiceVersion string
	SampleRatio    float64
}

func (c Config) sampler() sdktrace.Sampler {
	if c.SampleRatio <= 0 || c.SampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}

	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
}

// NewTracer exports spans over OTLP/HTTP. The exporter endpoint comes from
// the standard OTEL_EXPORTER_OTLP_* environment variables.
// nolint:ireturn
func NewTracer(ctx context.Context, cfg Config) (trace.Tracer, ShutdownFunc, error) {
	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create otlp exporter: %w", err)
	}

	provider, err := NewTracerProvider(cfg, sdktrace.WithBatcher(exporter))
	if err != nil {
		return nil, nil, err
	}

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider.Tracer(cfg.ServiceName), provider.Shutdown, nil
}

// NewTracerProvider builds a provider carrying the service resource. Span
// processors are supplied by the caller.
func NewTracerProvider(cfg Config, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	r, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	opts = append(opts, sdktrace.WithResource(r), sdktrace.WithSampler(cfg.sampler()))

	return sdktrace.NewTracerProvider(opts...), nil
}

// NoopTracer records nothing.
// nolint:ireturn
func NoopTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("chatflow")
}

// nolint:ireturn,spancheck
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
