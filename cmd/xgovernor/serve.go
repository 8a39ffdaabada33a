package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/omeyang/xgovern/pkg/config/xconf"
	"github.com/omeyang/xgovern/pkg/lifecycle/xrun"
	"github.com/omeyang/xgovern/pkg/observability/xlog"
	"github.com/omeyang/xgovern/pkg/resilience/xgovernor"
)

const (
	defaultShutdownTimeout   = 10 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "启动受限流保护的反向代理",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "配置文件路径（YAML/JSON）", Required: true},
			&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Usage: "HTTP 监听地址", Value: ":8080"},
			&cli.StringFlag{Name: "upstream", Aliases: []string{"u"}, Usage: "上游地址，例如 http://127.0.0.1:9000", Required: true},
			&cli.StringFlag{Name: "grpc-listen", Usage: "gRPC 健康检查监听地址，为空不启动"},
			&cli.StringFlag{Name: "log-level", Usage: "日志级别 (debug/info/warn/error)", Value: "info"},
			&cli.StringFlag{Name: "log-format", Usage: "日志格式 (text/json)", Value: "text"},
			&cli.StringFlag{Name: "log-file", Usage: "日志文件，设置后按大小轮转"},
			&cli.DurationFlag{Name: "sweep-interval", Usage: "定期清扫空闲键的间隔，0 表示只做惰性清扫"},
			&cli.BoolFlag{Name: "watch", Usage: "配置文件变更时自动重建门面", Value: true},
		},
		Action: serveAction,
	}
}

// serveOptions serve 命令的解析结果
type serveOptions struct {
	configPath    string
	listen        string
	upstream      *url.URL
	grpcListen    string
	sweepInterval time.Duration
	watch         bool
}

func parseServeOptions(cmd *cli.Command) (serveOptions, error) {
	upstream, err := url.Parse(cmd.String("upstream"))
	if err != nil {
		return serveOptions{}, newUsageError("invalid --upstream: %v", err)
	}
	if (upstream.Scheme != "http" && upstream.Scheme != "https") || upstream.Host == "" {
		return serveOptions{}, newUsageError("invalid --upstream %q: want http(s)://host[:port]", cmd.String("upstream"))
	}
	if cmd.Duration("sweep-interval") < 0 {
		return serveOptions{}, newUsageError("--sweep-interval must not be negative")
	}
	return serveOptions{
		configPath:    cmd.String("config"),
		listen:        cmd.String("listen"),
		upstream:      upstream,
		grpcListen:    cmd.String("grpc-listen"),
		sweepInterval: cmd.Duration("sweep-interval"),
		watch:         cmd.Bool("watch"),
	}, nil
}

func buildLogger(cmd *cli.Command) (xlog.LoggerWithLevel, func() error, error) {
	b := xlog.New().
		SetLevelString(cmd.String("log-level")).
		SetFormat(cmd.String("log-format"))
	if file := cmd.String("log-file"); file != "" {
		b.SetRotation(file, xlog.WithMaxSize(100), xlog.WithMaxBackups(5), xlog.WithCompress(true))
	}
	return b.Build()
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	opts, err := parseServeOptions(cmd)
	if err != nil {
		return err
	}

	logger, cleanup, err := buildLogger(cmd)
	if err != nil {
		return newUsageError("logger: %v", err)
	}
	defer cleanup() //nolint:errcheck // 退出路径

	cfg, err := xconf.New(opts.configPath)
	if err != nil {
		return err
	}

	err = serve(ctx, cfg, logger, opts)
	if errors.Is(err, xrun.ErrSignal) {
		logger.Info(ctx, "shutting down", slog.String("reason", err.Error()))
		return nil
	}
	return err
}

// serve 组装并运行所有服务，直到信号或任一服务失败
func serve(ctx context.Context, cfg xconf.Config, logger xlog.Logger, opts serveOptions) error {
	g, err := newGate(ctx, cfg, logger, newProxy(opts.upstream, logger))
	if err != nil {
		return err
	}
	defer g.close() //nolint:errcheck // 退出路径

	group, gctx := xrun.NewGroup(ctx, xrun.WithLogger(logger), xrun.WithName("xgovernor"))

	httpLis, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", opts.listen, err)
	}
	group.GoWithName("http", xrun.HTTPServer(newHTTPServer(g), httpLis, defaultShutdownTimeout))
	logger.Info(gctx, "proxy listening",
		slog.String("addr", httpLis.Addr().String()),
		slog.String("upstream", opts.upstream.String()))

	if opts.grpcListen != "" {
		grpcLis, err := net.Listen("tcp", opts.grpcListen)
		if err != nil {
			group.Cancel(nil)
			return errors.Join(fmt.Errorf("listen %s: %w", opts.grpcListen, err), group.Wait())
		}
		group.GoWithName("grpc", xrun.GRPCServer(newGRPCServer(g), grpcLis, defaultShutdownTimeout))
		logger.Info(gctx, "grpc health listening", slog.String("addr", grpcLis.Addr().String()))
	}

	if opts.watch {
		w, err := xconf.Watch(cfg, g.onConfigChange)
		if err != nil {
			logger.Warn(gctx, "config watch disabled", xlog.Err(err))
		} else {
			group.GoWithName("watch", w.Run)
		}
	}

	if opts.sweepInterval > 0 {
		group.GoWithName("sweep", xrun.Ticker(opts.sweepInterval, g.sweep))
	}

	group.GoWithName("reload", xrun.OnSignal(func(ctx context.Context, sig os.Signal) error {
		logger.Info(ctx, "reloading config", slog.String("signal", sig.String()))
		if err := g.reload(ctx); err != nil {
			logger.Error(ctx, "reload failed, keeping previous governor", xlog.Err(err))
		}
		return nil
	}, syscall.SIGHUP))
	group.GoWithName("signal", xrun.Signal())

	return group.Wait()
}

// newProxy 上游失败的日志经 r.Context() 带上 request_id
func newProxy(upstream *url.URL, logger xlog.Logger) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn(r.Context(), "upstream request failed", xlog.Err(err), slog.String("path", r.URL.Path))
		w.WriteHeader(http.StatusBadGateway)
	}
	return proxy
}

func newHTTPServer(g *gate) *http.Server {
	return &http.Server{
		Handler:           withRequestID(g),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
}

func newGRPCServer(g *gate) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(g.unaryInterceptor),
		grpc.ChainStreamInterceptor(g.streamInterceptor),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "校验配置文件并打印解析后的配额",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "配置文件路径（YAML/JSON）", Required: true},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := xconf.New(cmd.String("config"))
			if err != nil {
				return err
			}
			fc, err := xgovernor.LoadFileConfig(cfg, configSection)
			if err != nil {
				return err
			}
			c, err := fc.Build()
			if err != nil {
				return err
			}
			w := cmd.Root().Writer
			if _, err := fmt.Fprintf(w, "config: %s\nquota:  %s (full replenish in %s)\n",
				fc, c.Quota(), c.Quota().ReplenishAll()); err != nil {
				return err
			}
			return nil
		},
	}
}
