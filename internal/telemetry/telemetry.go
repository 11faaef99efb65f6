package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/config"
)

// Providers 记录已安装的全局 SDK provider，按安装的逆序关闭。
// 遥测关闭时为空壳，Shutdown 直接返回。
type Providers struct {
	shutdowns []func(context.Context) error
}

type Option func(*setup)

type setup struct {
	version string
	spans   sdktrace.SpanExporter
	reader  sdkmetric.Reader
}

// WithVersion 覆盖 service.version，默认取构建信息
func WithVersion(v string) Option { return func(s *setup) { s.version = v } }

// WithSpanExporter 以同步方式导出 span，替代 OTLP（测试用内存 exporter）
func WithSpanExporter(e sdktrace.SpanExporter) Option { return func(s *setup) { s.spans = e } }

// WithMetricReader 替代 OTLP 周期读取器
func WithMetricReader(r sdkmetric.Reader) Option { return func(s *setup) { s.reader = r } }

// Init 安装 TracerProvider、MeterProvider 与 W3C 传播器。
// cfg.Enabled 为 false 时不建立任何连接，全局 provider 保持 noop。
func Init(ctx context.Context, cfg config.TelemetryConfig, logger *zap.Logger, opts ...Option) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("telemetry")
	p := &Providers{}
	if !cfg.Enabled {
		logger.Debug("telemetry disabled")
		return p, nil
	}

	s := setup{version: buildVersion()}
	for _, opt := range opts {
		opt(&s)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(s.version),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	tp, err := s.tracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	mp, err := s.meterProvider(ctx, cfg, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	p.shutdowns = append(p.shutdowns, tp.Shutdown, mp.Shutdown)

	logger.Info("telemetry enabled",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service", cfg.ServiceName),
		zap.String("version", s.version),
		zap.Float64("sample_rate", cfg.SampleRate))
	return p, nil
}

func (s setup) tracerProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	if s.spans != nil {
		return sdktrace.NewTracerProvider(append(opts, sdktrace.WithSyncer(s.spans))...), nil
	}
	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(append(opts, sdktrace.WithBatcher(exp))...), nil
}

func (s setup) meterProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	reader := s.reader
	if reader == nil {
		exp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint), otlpmetricgrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp)
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res)), nil
}

func (p *Providers) Enabled() bool { return p != nil && len(p.shutdowns) > 0 }

// Shutdown 刷新并关闭 exporter，nil 接收者安全。
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	for i := len(p.shutdowns) - 1; i >= 0; i-- {
		if err := p.shutdowns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdowns = nil
	return errors.Join(errs...)
}

// buildVersion 取模块版本，开发构建回退为 dev
func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return "dev"
}
