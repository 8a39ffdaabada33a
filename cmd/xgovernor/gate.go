package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"

	"github.com/omeyang/xgovern/pkg/config/xconf"
	"github.com/omeyang/xgovern/pkg/observability/xlog"
	"github.com/omeyang/xgovern/pkg/resilience/xgovernor"
)

// configLogLevel 配置文件中可选的日志级别，重载时一并生效
const configLogLevel = "log.level"

// gateState 一次构建的结果，包装好的 handler 与拦截器随 Governor 一起替换
type gateState struct {
	gov    *xgovernor.Governor[string]
	http   http.Handler
	unary  grpc.UnaryServerInterceptor
	stream grpc.StreamServerInterceptor
}

// gate 持有当前生效的门面，配置变更时整体替换
//
// HTTP 与 gRPC 共用同一个 Governor，因此两种传输共享一份配额状态。
// 替换会丢弃旧的限流历史：新配置的配额可能与旧状态不兼容。
type gate struct {
	cfg     xconf.Config
	logger  xlog.Logger
	leveler xlog.LoggerWithLevel // logger 支持调整级别时非 nil
	next    http.Handler
	opts    []xgovernor.LimiterOption

	mu      sync.Mutex // 串行化重建
	current atomic.Pointer[gateState]
}

// newGate 构建门面，next 为放行请求的下游（反向代理）
func newGate(ctx context.Context, cfg xconf.Config, logger xlog.Logger, next http.Handler, opts ...xgovernor.LimiterOption) (*gate, error) {
	g := &gate{cfg: cfg, logger: logger, next: next, opts: opts}
	g.leveler, _ = logger.(xlog.LoggerWithLevel)
	if err := g.rebuild(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *gate) governor() *xgovernor.Governor[string] {
	return g.current.Load().gov
}

// rebuild 从当前配置快照重建门面，失败时保留旧门面
func (g *gate) rebuild(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	fc, err := xgovernor.LoadFileConfig(g.cfg, configSection)
	if err != nil {
		return fmt.Errorf("load %s: %w", configSection, err)
	}
	c, err := fc.Build(g.opts...)
	if err != nil {
		return fmt.Errorf("build %s: %w", configSection, err)
	}
	gov, err := xgovernor.New(c, xgovernor.WithName("xgovernor"), xgovernor.WithLogger(g.logger))
	if err != nil {
		return err
	}
	g.applyLogLevel(ctx)

	old := g.current.Swap(&gateState{
		gov:    gov,
		http:   gov.Middleware(g.next),
		unary:  gov.UnaryServerInterceptor(),
		stream: gov.StreamServerInterceptor(),
	})
	if old == nil {
		g.logger.Info(ctx, "governor ready", slog.String("config", fc.String()))
		return nil
	}
	g.logger.Warn(ctx, "governor rebuilt, quota history reset",
		slog.String("config", fc.String()),
		slog.Int("dropped_keys", old.gov.Config().Limiter().Len()))
	return old.gov.Close()
}

// applyLogLevel 配置中出现 log.level 时调整日志级别，非法值只告警
func (g *gate) applyLogLevel(ctx context.Context) {
	if g.leveler == nil {
		return
	}
	s := g.cfg.Client().String(configLogLevel)
	if s == "" {
		return
	}
	level, err := xlog.ParseLevel(s)
	if err != nil {
		g.logger.Warn(ctx, "ignoring log level from config", xlog.Err(err))
		return
	}
	if prev := g.leveler.GetLevel(); prev != level {
		g.leveler.SetLevel(level)
		g.logger.Info(ctx, "log level changed", slog.String("from", prev.String()), slog.String("to", level.String()))
	}
}

// reload 重新读取配置文件后重建
func (g *gate) reload(ctx context.Context) error {
	if err := g.cfg.Reload(); err != nil {
		return err
	}
	return g.rebuild(ctx)
}

// onConfigChange xconf.Watch 回调
func (g *gate) onConfigChange(_ xconf.Config, err error) {
	ctx := context.Background()
	if err == nil {
		err = g.rebuild(ctx)
	}
	if err != nil {
		g.logger.Error(ctx, "config reload failed, keeping previous governor", xlog.Err(err))
	}
}

// sweep 清扫空闲键
func (g *gate) sweep(ctx context.Context) error {
	if n := g.governor().Config().Limiter().RetainRecent(); n > 0 {
		g.logger.Debug(ctx, "idle keys evicted", slog.Int("evicted", n))
	}
	return nil
}

// ServeHTTP 使用当前门面处理请求
func (g *gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.current.Load().http.ServeHTTP(w, r)
}

func (g *gate) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	return g.current.Load().unary(ctx, req, info, handler)
}

func (g *gate) streamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	return g.current.Load().stream(srv, ss, info, handler)
}

func (g *gate) close() error {
	if s := g.current.Load(); s != nil {
		return s.gov.Close()
	}
	return nil
}
