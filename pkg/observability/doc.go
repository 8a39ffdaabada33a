// Package observability 提供可观测性相关的子包。
//
// 子包列表：
//   - xlog: 结构化日志，基于 log/slog 扩展，支持 lumberjack 文件轮转
//
// 指标与追踪直接使用 OpenTelemetry API，由使用方（如 xgovernor）通过
// MeterProvider/TracerProvider 注入，本目录不再做二次封装。
//
// 设计原则：
//   - 遵循 OpenTelemetry 语义规范
//   - 自动从 context 中提取追踪信息注入日志
//   - 支持动态级别控制
package observability
