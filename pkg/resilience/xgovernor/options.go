package xgovernor

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xgovern/pkg/observability/xlog"
)

// options Governor 内部配置
type options struct {
	name           string
	logger         xlog.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// Option Governor 配置选项函数
type Option func(*options)

// defaultOptions 返回默认配置
func defaultOptions() *options {
	return &options{
		name: "default",
	}
}

// WithName 设置门面名称，用于日志和指标的 governor 属性
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithLogger 设置日志记录器
// 拒绝和键提取失败记为 Warn，放行记为 Debug
func WithLogger(logger xlog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMeterProvider 设置 OpenTelemetry MeterProvider
// 不设置时不收集指标
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithTracerProvider 设置 OpenTelemetry TracerProvider
// 不设置时不创建 span
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}
