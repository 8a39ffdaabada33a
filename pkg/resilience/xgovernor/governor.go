package xgovernor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Governor 限流门面
//
// 对每个请求单趟执行：方法过滤 → 提取键 → 配额检查 → 生成诊断信息 → 返回判定。
// 门面本身不做重试或退避，拒绝直接返回给调用方。
type Governor[K comparable] struct {
	config  *Config[K]
	options *options
	metrics *Metrics
	tracer  trace.Tracer
}

// New 基于配置创建门面
//
// 使用同一个 *Config 创建的多个 Governor 共享限流状态。
func New[K comparable](cfg *Config[K], opts ...Option) (*Governor[K], error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if cfg.extractor == nil {
		return nil, ErrNilExtractor
	}

	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	metrics, err := NewMetrics(o.meterProvider, o.name, cfg.limiter.Len)
	if err != nil {
		return nil, fmt.Errorf("xgovernor: create metrics: %w", err)
	}

	var tracer trace.Tracer = noop.NewTracerProvider().Tracer("xgovernor")
	if o.tracerProvider != nil {
		tracer = o.tracerProvider.Tracer("xgovernor")
	}

	return &Governor[K]{
		config:  cfg,
		options: o,
		metrics: metrics,
		tracer:  tracer,
	}, nil
}

// Config 返回门面使用的配置
func (g *Governor[K]) Config() *Config[K] {
	return g.config
}

// Name 返回门面名称
func (g *Governor[K]) Name() string {
	return g.options.name
}

// Check 对请求做一次限流判定
//
// 返回的 error 只可能是 *ExtractionError；限流拒绝通过 Decision.Allowed=false 表达。
func (g *Governor[K]) Check(ctx context.Context, r Request) (Decision, error) {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "xgovernor.check",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("xgovernor.name", g.options.name),
			attribute.String("xgovernor.method", r.Method()),
		),
	)
	defer span.End()

	cfg := g.config
	quota := cfg.quota

	if !cfg.appliesTo(r) {
		d := whitelistedDecision(quota, cfg.annotator.Whitelist(quota))
		span.SetAttributes(attribute.String("xgovernor.outcome", outcomeWhitelisted))
		g.metrics.RecordDecision(ctx, g.options.name, outcomeWhitelisted, time.Since(start))
		return d, nil
	}

	key, err := cfg.extractor.Extract(r)
	if err != nil {
		extractErr := asExtractionError(err)
		span.RecordError(extractErr)
		span.SetStatus(codes.Error, "key extraction failed")
		g.metrics.RecordExtractError(ctx, g.options.name)
		g.logWarn(ctx, "key extraction failed",
			slog.String("method", r.Method()),
			slog.String("extractor", extractErr.Extractor),
			slog.Any("error", extractErr.Err),
		)
		return Decision{}, extractErr
	}

	verdict := cfg.limiter.Check(key)
	d := newDecision(verdict, quota, cfg.annotator.Annotate(verdict, quota))

	if d.Allowed {
		span.SetAttributes(
			attribute.String("xgovernor.outcome", outcomeAllowed),
			attribute.Int64("xgovernor.remaining", int64(d.Remaining)),
		)
		g.metrics.RecordDecision(ctx, g.options.name, outcomeAllowed, time.Since(start))
		g.logDebug(ctx, "request admitted",
			slog.String("method", r.Method()),
			slog.Any("key", key),
			slog.Uint64("remaining", uint64(d.Remaining)),
		)
		return d, nil
	}

	span.SetAttributes(
		attribute.String("xgovernor.outcome", outcomeDenied),
		attribute.Int64("xgovernor.retry_after_ms", d.RetryAfter.Milliseconds()),
	)
	g.metrics.RecordDecision(ctx, g.options.name, outcomeDenied, time.Since(start))
	g.logWarn(ctx, "request rate limited",
		slog.String("method", r.Method()),
		slog.Any("key", key),
		slog.Duration("retry_after", d.RetryAfter),
	)
	return d, nil
}

// Close 释放指标回调
func (g *Governor[K]) Close() error {
	return g.metrics.Close()
}

// asExtractionError 将提取器返回的任意错误统一为 *ExtractionError
func asExtractionError(err error) *ExtractionError {
	var extractErr *ExtractionError
	if errors.As(err, &extractErr) {
		return extractErr
	}
	return newExtractionError("custom", err)
}

func (g *Governor[K]) logDebug(ctx context.Context, msg string, attrs ...slog.Attr) {
	if g.options.logger == nil {
		return
	}
	g.options.logger.Debug(ctx, msg, append(attrs, slog.String("governor", g.options.name))...)
}

func (g *Governor[K]) logWarn(ctx context.Context, msg string, attrs ...slog.Attr) {
	if g.options.logger == nil {
		return
	}
	g.options.logger.Warn(ctx, msg, append(attrs, slog.String("governor", g.options.name))...)
}
