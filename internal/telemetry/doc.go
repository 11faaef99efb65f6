/*
包 telemetry 负责 OpenTelemetry 的启动与关闭。

Init 按 config.TelemetryConfig 构建 TracerProvider 与 MeterProvider，
默认导出到 OTLP gRPC 端点，并设置为全局实现；未启用时不触碰全局状态，
otel 包自带的 noop 实现继续生效。测试可通过 WithSpanExporter 与
WithMetricReader 注入内存导出器。

返回的 Providers.Shutdown 按注册的逆序刷新并关闭，可重复调用。
*/
package telemetry
