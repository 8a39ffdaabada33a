package xlog

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// 注入字段名
const (
	KeyTraceID   = "trace_id"
	KeySpanID    = "span_id"
	KeyRequestID = "request_id"
)

type requestIDKey struct{}

// ContextWithRequestID 把请求 ID 放入 context，之后经该 context 记录的日志都会带上 request_id
// id 为空时原样返回
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom 返回 context 中的请求 ID，没有时返回空字符串
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// enrichHandler 从 context 注入 request_id 和 OpenTelemetry 的 trace_id / span_id
//
// 设计决策: 对 logger 调用 With 不影响注入字段的位置；
// 本包不提供 WithGroup，注入字段始终在顶层。
type enrichHandler struct {
	base slog.Handler
}

func newEnrichHandler(base slog.Handler) slog.Handler {
	return &enrichHandler{base: base}
}

func (h *enrichHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle 按 slog 契约，修改前先 Clone record
func (h *enrichHandler) Handle(ctx context.Context, r slog.Record) error {
	var buf [3]slog.Attr
	attrs := buf[:0]
	if id := RequestIDFrom(ctx); id != "" {
		attrs = append(attrs, slog.String(KeyRequestID, id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String(KeyTraceID, sc.TraceID().String()),
			slog.String(KeySpanID, sc.SpanID().String()),
		)
	}
	if len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.base.Handle(ctx, r)
}

func (h *enrichHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &enrichHandler{base: h.base.WithAttrs(attrs)}
}

func (h *enrichHandler) WithGroup(name string) slog.Handler {
	return &enrichHandler{base: h.base.WithGroup(name)}
}
