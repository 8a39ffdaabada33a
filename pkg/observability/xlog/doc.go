// Package xlog 基于 log/slog 的结构化日志库。
//
//   - Builder 模式配置（输出目标、级别、格式、轮转）
//   - 从 context 注入 request_id 以及 OpenTelemetry 的 trace_id、span_id（默认启用）
//   - 运行时调整级别
//   - 基于 lumberjack 的按大小轮转
//
//	logger, cleanup, err := xlog.New().
//	    SetLevelString("info").
//	    SetFormat("json").
//	    SetRotation("/var/log/xgovernor.log", xlog.WithMaxSize(50)).
//	    Build()
//	if err != nil {
//	    return err
//	}
//	defer cleanup()
//
//	ctx = xlog.ContextWithRequestID(ctx, id)
//	logger.Warn(ctx, "request rate limited") // 带 request_id=<id>
package xlog
