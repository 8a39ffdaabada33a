// Package xrun 提供进程生命周期管理：基于 errgroup 并发运行多个服务并协调关闭。
//
// # 核心概念
//
//   - Group：任一服务出错或 Cancel 时取消所有服务，Wait 返回第一个错误或退出原因
//   - Signal：收到 SIGINT/SIGTERM/SIGQUIT 时以 *SignalError 结束 Group
//   - OnSignal：不结束进程的信号处理（如 SIGHUP 重新加载）
//   - HTTPServer / GRPCServer：带优雅关闭的服务器适配
//   - Ticker：周期任务
//
// # 示例
//
//	g, _ := xrun.NewGroup(ctx, xrun.WithLogger(logger))
//	g.GoWithName("http", xrun.HTTPServer(httpSrv, httpLis, 10*time.Second))
//	g.GoWithName("grpc", xrun.GRPCServer(grpcSrv, grpcLis, 10*time.Second))
//	g.GoWithName("signal", xrun.Signal())
//	if err := g.Wait(); err != nil && !errors.Is(err, xrun.ErrSignal) {
//	    return err
//	}
package xrun
