package xrun

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Group 一组共享生命周期的服务：任一服务出错或 Cancel 后全部收到取消
//
//	g, ctx := xrun.NewGroup(ctx, xrun.WithName("xgovernor"))
//	g.GoWithName("http", xrun.HTTPServer(srv, lis, 10*time.Second))
//	g.GoWithName("signal", xrun.Signal())
//	err := g.Wait()
//
// Go、GoWithName、Cancel 可并发调用；Wait 只应调用一次。
type Group struct {
	eg       *errgroup.Group
	ctx      context.Context // 传给服务的 context
	causeCtx context.Context // 只由 Cancel 取消，用于区分主动取消与服务出错
	cancel   context.CancelCauseFunc
	opts     *groupOptions
}

// NewGroup 创建 Group，返回的 context 在任一服务出错或 Cancel 时被取消
func NewGroup(ctx context.Context, opts ...Option) (*Group, context.Context) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	causeCtx, cancel := context.WithCancelCause(ctx)
	eg, egCtx := errgroup.WithContext(causeCtx)
	return &Group{eg: eg, ctx: egCtx, causeCtx: causeCtx, cancel: cancel, opts: o}, egCtx
}

// Go 启动一个匿名服务，fn 应在 ctx 取消后返回
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.GoWithName("", fn)
}

// GoWithName 启动服务并在配置了 logger 时记录启动与退出
func (g *Group) GoWithName(name string, fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		if fn == nil {
			return ErrNilFunc
		}
		g.log(slog.LevelDebug, "service starting", name, nil)
		err := fn(g.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			g.log(slog.LevelWarn, "service exited with error", name, err)
		} else {
			g.log(slog.LevelDebug, "service stopped", name, nil)
		}
		return err
	})
}

// Wait 等待所有服务退出
//
// 服务返回的 context.Canceled 视为正常退出；Cancel 携带了原因
// （如 *SignalError）时返回该原因，否则返回第一个服务错误或 nil。
func (g *Group) Wait() error {
	defer g.cancel(nil)

	err := g.eg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if err != nil && g.causeCtx.Err() == nil {
		// 服务自己产生的 Canceled（不是 Cancel 导致的）
		return err
	}
	if cause := context.Cause(g.causeCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

// Cancel 取消所有服务，cause 会由 Wait 返回
// cause 不应包装 context.Canceled，否则会被当作普通取消过滤掉
func (g *Group) Cancel(cause error) {
	g.cancel(cause)
}

func (g *Group) log(level slog.Level, msg, service string, err error) {
	if g.opts.logger == nil || service == "" {
		return
	}
	attrs := []slog.Attr{
		slog.String("group", g.opts.name),
		slog.String("service", service),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	if level == slog.LevelWarn {
		g.opts.logger.Warn(g.ctx, msg, attrs...)
		return
	}
	g.opts.logger.Debug(g.ctx, msg, attrs...)
}
