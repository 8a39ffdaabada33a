package xgovernor

import (
	"fmt"
	"net/http"
)

// DenyHandler 处理被拒绝的请求，响应头已写入诊断信息
type DenyHandler func(w http.ResponseWriter, r *http.Request, d Decision)

// ErrorHandler 处理键提取失败的请求
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err *ExtractionError)

// MiddlewareOptions HTTP 中间件配置
type MiddlewareOptions struct {
	// DenyHandler 拒绝时调用，默认返回 429 和纯文本正文
	DenyHandler DenyHandler

	// ErrorHandler 键提取失败时调用，默认按错误状态码（400）返回
	ErrorHandler ErrorHandler
}

// MiddlewareOption 中间件选项函数
type MiddlewareOption func(*MiddlewareOptions)

func defaultMiddlewareOptions() *MiddlewareOptions {
	return &MiddlewareOptions{
		DenyHandler:  defaultDenyHandler,
		ErrorHandler: defaultErrorHandler,
	}
}

// WithDenyHandler 设置自定义拒绝处理器
func WithDenyHandler(h DenyHandler) MiddlewareOption {
	return func(o *MiddlewareOptions) {
		if h != nil {
			o.DenyHandler = h
		}
	}
}

// WithErrorHandler 设置自定义提取失败处理器
func WithErrorHandler(h ErrorHandler) MiddlewareOption {
	return func(o *MiddlewareOptions) {
		if h != nil {
			o.ErrorHandler = h
		}
	}
}

// defaultDenyHandler 返回 429 Too Many Requests
func defaultDenyHandler(w http.ResponseWriter, _ *http.Request, d Decision) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	writeResponse(w, fmt.Appendf(nil, "Too many requests, retry in %ds", ceilSeconds(d.RetryAfter)))
}

// defaultErrorHandler 以提取错误的状态码响应，请求不会被转发
func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err *ExtractionError) {
	http.Error(w, err.Error(), err.StatusCode())
}

// writeResponse 写入响应体
// 写入失败通常表示客户端已断开，无法补救
func writeResponse(w http.ResponseWriter, data []byte) {
	if _, err := w.Write(data); err != nil {
		return
	}
}

// Middleware 返回 HTTP 限流中间件
//
// 示例:
//
//	cfg, _ := xgovernor.DefaultBuilder().PerSecond(2).BurstSize(5).UseHeaders().Finish()
//	gov, _ := xgovernor.New(cfg)
//	mux.Handle("/api/", gov.Middleware(apiHandler))
func (g *Governor[K]) Middleware(next http.Handler, opts ...MiddlewareOption) http.Handler {
	mopts := defaultMiddlewareOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(mopts)
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := g.Check(r.Context(), HTTPRequest(r))
		if err != nil {
			mopts.ErrorHandler(w, r, asExtractionError(err))
			return
		}

		d.Metadata.SetHeaders(w.Header())
		if !d.Allowed {
			mopts.DenyHandler(w, r, d)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPMiddleware 函数式写法，便于接入 func(http.Handler) http.Handler 风格的路由
func HTTPMiddleware[K comparable](g *Governor[K], opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if g == nil {
		panic("xgovernor: HTTPMiddleware requires a non-nil Governor")
	}
	return func(next http.Handler) http.Handler {
		return g.Middleware(next, opts...)
	}
}
