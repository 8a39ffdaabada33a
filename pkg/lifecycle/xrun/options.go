package xrun

import "github.com/omeyang/xgovern/pkg/observability/xlog"

// Option 配置 Group 的选项函数
type Option func(*groupOptions)

type groupOptions struct {
	logger xlog.Logger
	name   string
}

func defaultOptions() *groupOptions {
	return &groupOptions{name: "xrun"}
}

// WithLogger 设置日志记录器，记录服务启动和退出
// 默认不记录
func WithLogger(logger xlog.Logger) Option {
	return func(o *groupOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithName 设置 Group 名称，用于日志
func WithName(name string) Option {
	return func(o *groupOptions) {
		if name != "" {
			o.name = name
		}
	}
}
