package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func enabledConfig(rate float64) config.TelemetryConfig {
	cfg := config.Default().Telemetry
	cfg.Enabled = true
	cfg.SampleRate = &rate
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func TestNew_DisabledIsNoop(t *testing.T) {
	tel := New(context.Background(), config.Default().Telemetry)
	assert.False(t, tel.Enabled())
	assert.IsType(t, noop.TracerProvider{}, tel.TracerProvider())
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_ExportsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tel := New(context.Background(), enabledConfig(1), WithSpanExporter(exp), WithServiceVersion("1.2.3"))
	require.True(t, tel.Enabled())
	defer func() { _ = tel.Shutdown(context.Background()) }()

	_, span := tel.TracerProvider().Tracer("test").Start(context.Background(), "Ranker.Rank")
	span.End()
	// the global provider forwards to the installed one
	_, span = otel.Tracer("global").Start(context.Background(), "GraphStore.WriteDocument")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "Ranker.Rank", spans[0].Name)
	assert.Equal(t, "GraphStore.WriteDocument", spans[1].Name)

	var service, version string
	for _, kv := range spans[0].Resource.Attributes() {
		switch kv.Key {
		case "service.name":
			service = kv.Value.AsString()
		case "service.version":
			version = kv.Value.AsString()
		}
	}
	assert.Equal(t, "shiori", service)
	assert.Equal(t, "1.2.3", version)
}

func TestNew_ZeroSampleRateDropsRoots(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tel := New(context.Background(), enabledConfig(0), WithSpanExporter(exp))
	defer func() { _ = tel.Shutdown(context.Background()) }()

	_, span := tel.TracerProvider().Tracer("test").Start(context.Background(), "Ranker.Rank")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))
	assert.Empty(t, exp.GetSpans())
}

func TestShutdown_StopsExport(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tel := New(context.Background(), enabledConfig(1), WithSpanExporter(exp))
	_, span := tel.TracerProvider().Tracer("test").Start(context.Background(), "pending")
	span.End()

	require.NoError(t, tel.Shutdown(context.Background()))
	// batched spans are flushed on shutdown; the in-memory exporter resets on shutdown
	_, span = tel.TracerProvider().Tracer("test").Start(context.Background(), "late")
	span.End()
	assert.Empty(t, exp.GetSpans())
}
