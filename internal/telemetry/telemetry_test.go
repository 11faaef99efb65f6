package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentwrap/config"
)

// saveAndRestoreGlobalProviders 测试结束后还原全局 provider
func saveAndRestoreGlobalProviders(t *testing.T) {
	t.Helper()
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})
}

func TestInit_Disabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(context.Background(), config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.Enabled())

	_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.False(t, isSDK, "disabled telemetry must not install the SDK")
}

func TestInit_Enabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	cfg := config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentwrap-test",
		SampleRate:   0.5,
	}

	p, err := Init(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Enabled())

	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)

	// 没有 collector，只验证在期限内结束
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
}

func TestInit_CustomExporters(t *testing.T) {
	saveAndRestoreGlobalProviders(t)
	ctx := context.Background()

	spans := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()
	cfg := config.TelemetryConfig{Enabled: true, ServiceName: "agentwrap-test", SampleRate: 1}

	p, err := Init(ctx, cfg, zaptest.NewLogger(t),
		WithSpanExporter(spans), WithMetricReader(reader), WithVersion("1.2.3"))
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "agent.invoke")
	span.End()

	counter, err := otel.Meter("test").Int64Counter("invocations")
	require.NoError(t, err)
	counter.Add(ctx, 2)

	got := spans.GetSpans()
	require.Len(t, got, 1)
	assert.Equal(t, "agent.invoke", got[0].Name)
	assert.Contains(t, got[0].Resource.Attributes(), semconv.ServiceNameKey.String("agentwrap-test"))
	assert.Contains(t, got[0].Resource.Attributes(), semconv.ServiceVersionKey.String("1.2.3"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.NotEmpty(t, rm.ScopeMetrics)
	assert.Equal(t, "invocations", rm.ScopeMetrics[0].Metrics[0].Name)

	require.NoError(t, p.Shutdown(ctx))
	assert.False(t, p.Enabled())
	// 二次关闭无副作用
	assert.NoError(t, p.Shutdown(ctx))
}

func TestProviders_Shutdown_Nil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.Enabled())
}

func TestProviders_Shutdown_Noop(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(context.Background(), config.TelemetryConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestBuildVersion(t *testing.T) {
	// 测试二进制中 ReadBuildInfo 返回 "(devel)"，回退为 dev
	assert.Equal(t, "dev", buildVersion())
}
