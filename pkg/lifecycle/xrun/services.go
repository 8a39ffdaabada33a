package xrun

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// DefaultSignals 默认监听的退出信号：SIGINT、SIGTERM、SIGQUIT
//
// SIGHUP 不在其中，xgovernor 把它用于重新加载配置。
func DefaultSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
}

// signalChanKey 测试中通过 context 注入信号通道，避免发送真实信号
type signalChanKey struct{}

func injectedSignals(ctx context.Context) <-chan os.Signal {
	c, _ := ctx.Value(signalChanKey{}).(<-chan os.Signal)
	return c
}

// Signal 返回监听信号的服务函数，收到信号时返回 *SignalError 使整个 Group 退出
// signals 为空时使用 DefaultSignals
func Signal(signals ...os.Signal) func(ctx context.Context) error {
	if len(signals) == 0 {
		signals = DefaultSignals()
	}
	return func(ctx context.Context) error {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, signals...)
		defer signal.Stop(ch)

		select {
		case sig := <-ch:
			return &SignalError{Signal: sig}
		case sig := <-injectedSignals(ctx):
			return &SignalError{Signal: sig}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// OnSignal 每次收到信号都调用 fn，直到 ctx 取消；fn 返回错误时退出
// 用于 SIGHUP 触发重新加载之类不结束进程的信号
func OnSignal(fn func(ctx context.Context, sig os.Signal) error, signals ...os.Signal) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if fn == nil {
			return ErrNilFunc
		}
		ch := make(chan os.Signal, 1)
		if len(signals) > 0 {
			signal.Notify(ch, signals...)
			defer signal.Stop(ch)
		}
		injected := injectedSignals(ctx)
		for {
			var sig os.Signal
			select {
			case sig = <-ch:
			case sig = <-injected:
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := fn(ctx, sig); err != nil {
				return err
			}
		}
	}
}

// Ticker 返回周期执行 fn 的服务函数，fn 返回错误时退出
func Ticker(interval time.Duration, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if interval <= 0 {
			return ErrInvalidInterval
		}
		if fn == nil {
			return ErrNilFunc
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// HTTPServerInterface *http.Server 满足此接口
type HTTPServerInterface interface {
	Serve(l net.Listener) error
	Shutdown(ctx context.Context) error
}

// HTTPServer 在 l 上运行 HTTP 服务，ctx 取消后优雅关闭
//
// shutdownTimeout <= 0 表示等待所有在途请求完成。
// 由调用方预先监听，启动失败（如端口占用）在进入 Group 之前就能发现。
func HTTPServer(server HTTPServerInterface, l net.Listener, shutdownTimeout time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if server == nil || l == nil {
			return ErrNilServer
		}

		serveErr := make(chan error, 1)
		go func() { serveErr <- server.Serve(l) }()

		select {
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		shutdownCtx := context.WithoutCancel(ctx)
		if shutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(shutdownCtx, shutdownTimeout)
			defer cancel()
		}
		err := server.Shutdown(shutdownCtx)
		<-serveErr
		return err
	}
}

// GRPCServerInterface *grpc.Server 满足此接口
type GRPCServerInterface interface {
	Serve(l net.Listener) error
	GracefulStop()
	Stop()
}

// GRPCServer 在 l 上运行 gRPC 服务，ctx 取消后 GracefulStop
// 超过 shutdownTimeout 仍未结束时强制 Stop
func GRPCServer(server GRPCServerInterface, l net.Listener, shutdownTimeout time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if server == nil || l == nil {
			return ErrNilServer
		}

		serveErr := make(chan error, 1)
		go func() { serveErr <- server.Serve(l) }()

		select {
		case err := <-serveErr:
			return err
		case <-ctx.Done():
		}

		stopped := make(chan struct{})
		go func() {
			server.GracefulStop()
			close(stopped)
		}()
		if shutdownTimeout > 0 {
			timer := time.NewTimer(shutdownTimeout)
			defer timer.Stop()
			select {
			case <-stopped:
			case <-timer.C:
				server.Stop()
				<-stopped
			}
		} else {
			<-stopped
		}
		<-serveErr
		return nil
	}
}
