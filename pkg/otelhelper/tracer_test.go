package otelhelper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanAndSetError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider, err := NewTracerProvider(Config{ServiceName: "chatflow-test"}, sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)

	tracer := provider.Tracer("test")

	_, span := StartSpan(context.Background(), tracer, "assignment.assign",
		attribute.String(ConversationIDKey, "conv-1"))
	SetError(span, errors.New("no agent"), attribute.String(AgentIDKey, "agent-1"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)

	recorded := spans[0]
	assert.Equal(t, "assignment.assign", recorded.Name())
	assert.Contains(t, recorded.Attributes(), attribute.String(ConversationIDKey, "conv-1"))
	assert.Equal(t, codes.Error, recorded.Status().Code)
	assert.Equal(t, "no agent", recorded.Status().Description)

	var names []string
	for _, event := range recorded.Events() {
		names = append(names, event.Name)

		if event.Name == "error_occurred" {
			assert.Contains(t, event.Attributes, attribute.String(ErrorTypeKey, "*errors.errorString"))
			assert.Contains(t, event.Attributes, attribute.String(AgentIDKey, "agent-1"))
		}
	}

	assert.Contains(t, names, "exception")
	assert.Contains(t, names, "error_occurred")

	serviceName, ok := recorded.Resource().Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "chatflow-test", serviceName.AsString())
}

func TestSetErrorIgnoresNil(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider, err := NewTracerProvider(Config{ServiceName: "chatflow-test"}, sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), provider.Tracer("test"), "workflow.node")
	SetError(span, nil)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Empty(t, spans[0].Events())
}

func TestConfigSampler(t *testing.T) {
	t.Parallel()

	assert.Contains(t, Config{}.sampler().Description(), "AlwaysOnSampler")
	assert.Contains(t, Config{SampleRatio: 1.5}.sampler().Description(), "AlwaysOnSampler")
	assert.Contains(t, Config{SampleRatio: 0.25}.sampler().Description(), "TraceIDRatioBased{0.25}")
}

func TestNoopTracer(t *testing.T) {
	_, span := StartSpan(context.Background(), NoopTracer(), "noop")
	defer span.End()

	assert.False(t, span.SpanContext().IsValid())
}
