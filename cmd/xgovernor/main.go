// xgovernor 是基于 xgovernor 门面的限流反向代理。
//
// 用法:
//
//	xgovernor <命令> [命令参数]
//
// 命令:
//
//	serve      启动受限流保护的反向代理（可选 gRPC 健康检查服务）
//	check      校验配置文件并打印解析后的配额
//	version    打印版本信息
//
// 退出码:
//
//	0: 成功（包括收到 SIGINT/SIGTERM 后正常退出）
//	1: 运行失败
//	2: 参数错误
//
// 示例:
//
//	xgovernor serve --config gate.yaml --listen :8080 --upstream http://127.0.0.1:9000
//	xgovernor serve --config gate.yaml --listen :8080 --upstream http://127.0.0.1:9000 --grpc-listen :9090
//	xgovernor check --config gate.yaml
//
// 配置文件示例:
//
//	log:
//	  level: info                         # 可选，重载时生效
//	governor:
//	  period: 500ms
//	  burst: 8
//	  key_by: forwarded
//	  trusted_proxies: ["10.0.0.0/8"]
//	  methods: [POST]                     # 只过滤 HTTP 请求
//	  grpc_methods: [/pkg.Orders/]        # 只过滤 gRPC 调用
//	  use_headers: true
//
// 修改配置文件或发送 SIGHUP 会重建门面，已有的配额历史随之清空。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
)

// 版本信息（可通过 -ldflags 注入，例如:
//
//	go build -ldflags "-X main.Version=1.0.0 -X main.GitCommit=$(git rev-parse --short HEAD)"
//
// ）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// configSection 配置文件中门面配置所在的路径
const configSection = "governor"

// usageError 参数错误，退出码 2
type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}

func newUsageError(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func main() {
	os.Exit(run(os.Args))
}

func createApp() *cli.Command {
	return &cli.Command{
		Name:    "xgovernor",
		Usage:   "请求准入门面（GCRA 限流）反向代理",
		Version: versionString(),
		Commands: []*cli.Command{
			serveCommand(),
			checkCommand(),
			versionCommand(),
		},
		// 设计决策: 禁止 urfave/cli 直接调用 os.Exit，由 run() 统一映射退出码。
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(os.Stderr, err)
			}
		},
	}
}

func run(args []string) int {
	app := createApp()
	if err := app.Run(context.Background(), args); err != nil {
		return exitCode(err)
	}
	return 0
}

func exitCode(err error) int {
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(os.Stderr, "参数错误: %v\n", usageErr)
		return 2
	}
	if isCLIUsageError(err) {
		return 2
	}
	fmt.Fprintf(os.Stderr, "错误: %v\n", err)
	return 1
}

// isCLIUsageError 识别 urfave/cli 产生的 flag 解析错误
func isCLIUsageError(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"flag provided but not defined", "Required flag", "Required flags", "invalid value"} {
		if strings.Contains(msg, prefix) {
			return true
		}
	}
	return false
}

func versionString() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime)
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "打印版本信息",
		Action: func(_ context.Context, cmd *cli.Command) error {
			_, err := fmt.Fprintf(cmd.Root().Writer, "xgovernor %s\n", versionString())
			return err
		},
	}
}
