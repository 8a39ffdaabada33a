package xlog

import (
	"context"
	"log/slog"
)

// Logger 门面与服务共用的日志接口，方法都带 context，
// 以便 enrich handler 从中取出 trace_id、request_id
type Logger interface {
	Debug(ctx context.Context, msg string, attrs ...slog.Attr)
	Info(ctx context.Context, msg string, attrs ...slog.Attr)
	Warn(ctx context.Context, msg string, attrs ...slog.Attr)
	Error(ctx context.Context, msg string, attrs ...slog.Attr)

	// With 返回带固定属性的派生 Logger，与父级共享级别
	With(attrs ...slog.Attr) Logger
}

// LoggerWithLevel Build 的返回值，可在运行时调整级别（如配置重载时）
type LoggerWithLevel interface {
	Logger
	SetLevel(level Level)
	GetLevel() Level
}

// Err 以 "error" 为键记录错误，err 为 nil 时返回空属性（slog 会忽略）
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
