// Package telemetry 初始化 OpenTelemetry 的 TracerProvider 与 MeterProvider。
// 关闭遥测时不创建导出器，但仍注册 W3C 传播器，保证下游调用可透传链路头。
//
// ErrorTracker 把 HTTP panic 和后台写入失败上报到 Sentry，未配置 DSN 时不做任何事。
package telemetry
