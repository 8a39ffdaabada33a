package xgovernor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// 指标名称常量
const (
	// metricNameRequestsTotal 经过门面的请求总数
	metricNameRequestsTotal = "xgovernor.requests.total"
	// metricNameDeniedTotal 被拒绝的请求数
	metricNameDeniedTotal = "xgovernor.denied.total"
	// metricNameExtractErrors 键提取失败次数
	metricNameExtractErrors = "xgovernor.extract_errors.total"
	// metricNameCheckDuration 门面处理耗时
	metricNameCheckDuration = "xgovernor.check.duration"
	// metricNameKeys 当前跟踪的键数量
	metricNameKeys = "xgovernor.keys"
)

// 判定结果标签值
const (
	outcomeAllowed     = "allowed"
	outcomeDenied      = "denied"
	outcomeWhitelisted = "whitelisted"
)

// Metrics 门面指标收集器
type Metrics struct {
	requestsTotal metric.Int64Counter
	deniedTotal   metric.Int64Counter
	extractErrors metric.Int64Counter
	checkDuration metric.Float64Histogram
	registration  metric.Registration
}

// NewMetrics 创建指标收集器
// 如果 meterProvider 为 nil，返回 nil（不收集指标）。
// keys 用于上报当前键数量，可为 nil。
func NewMetrics(meterProvider metric.MeterProvider, name string, keys func() int) (*Metrics, error) {
	if meterProvider == nil {
		return nil, nil
	}

	meter := meterProvider.Meter("xgovernor",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	requestsTotal, err := meter.Int64Counter(
		metricNameRequestsTotal,
		metric.WithDescription("经过限流门面的请求总数"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	deniedTotal, err := meter.Int64Counter(
		metricNameDeniedTotal,
		metric.WithDescription("被限流拒绝的请求数"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	extractErrors, err := meter.Int64Counter(
		metricNameExtractErrors,
		metric.WithDescription("限流键提取失败次数"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	checkDuration, err := meter.Float64Histogram(
		metricNameCheckDuration,
		metric.WithDescription("限流判定耗时"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.01,
		),
	)
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		requestsTotal: requestsTotal,
		deniedTotal:   deniedTotal,
		extractErrors: extractErrors,
		checkDuration: checkDuration,
	}

	if keys != nil {
		gauge, err := meter.Int64ObservableGauge(
			metricNameKeys,
			metric.WithDescription("当前跟踪的限流键数量"),
			metric.WithUnit("{key}"),
		)
		if err != nil {
			return nil, err
		}
		attrs := metric.WithAttributes(attribute.String("governor", name))
		m.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(gauge, int64(keys()), attrs)
			return nil
		}, gauge)
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}

// RecordDecision 记录一次判定
func (m *Metrics) RecordDecision(ctx context.Context, name, outcome string, duration time.Duration) {
	if m == nil {
		return
	}

	// 使用 context.WithoutCancel 确保即使 ctx 被取消，指标仍能记录
	metricsCtx := context.WithoutCancel(ctx)
	attrs := metric.WithAttributes(
		attribute.String("governor", name),
		attribute.String("outcome", outcome),
	)

	m.requestsTotal.Add(metricsCtx, 1, attrs)
	if outcome == outcomeDenied {
		m.deniedTotal.Add(metricsCtx, 1, attrs)
	}
	m.checkDuration.Record(metricsCtx, duration.Seconds(), attrs)
}

// RecordExtractError 记录一次键提取失败
func (m *Metrics) RecordExtractError(ctx context.Context, name string) {
	if m == nil {
		return
	}
	m.extractErrors.Add(context.WithoutCancel(ctx), 1,
		metric.WithAttributes(attribute.String("governor", name)))
}

// Close 注销键数量回调
func (m *Metrics) Close() error {
	if m == nil || m.registration == nil {
		return nil
	}
	return m.registration.Unregister()
}
