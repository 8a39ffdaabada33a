// Package xgovernor 提供进程内的请求准入门面，按键执行 GCRA 令牌桶限流。
//
// # 设计理念
//
// xgovernor 面向单进程、纯内存的场景：每个键只保存一个理论到达时间（TAT），
// 对同一个键的检查通过 CAS 循环保证线性一致，不同键之间没有全局锁。
// 过期键在检查路径上按采样频率惰性清扫，不启动后台 goroutine。
// 不支持跨进程共享配额，也不持久化状态；重启后所有键从满桶开始。
//
// # 核心概念
//
//   - Quota：配额，每隔 period 补充一个单位，最多突发 burst 个
//   - Limiter：按键限流器，Check 返回 Verdict（放行/拒绝、剩余、重试时间）
//   - KeyExtractor：从请求提取键，失败返回 *ExtractionError
//   - Annotator：决策中间件，为判定附加诊断信息，不改变结果
//   - Governor：门面，方法过滤 → 提取键 → 检查 → 附加信息 → 返回 Decision
//
// # 快速开始
//
//	cfg, err := xgovernor.DefaultBuilder().
//	    PerSecond(2).
//	    BurstSize(5).
//	    UseHeaders().
//	    Finish()
//	if err != nil {
//	    return err
//	}
//	gov, err := xgovernor.New(cfg, xgovernor.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	mux.Handle("/api/", gov.Middleware(apiHandler))
//
// 拒绝时返回 429 和 Retry-After；UseHeaders 时额外输出
// X-RateLimit-Limit、X-RateLimit-Remaining、X-RateLimit-After，
// 不在 Methods 范围内的请求直接放行并带 X-RateLimit-Whitelisted: true。
// Methods 只过滤 HTTP 方法，gRPC 调用由 GRPCMethods 按完整方法名过滤，
// 因此同一个 *Config 可以同时交给两种传输而不会互相放行。
//
// # 共享状态
//
// Finish 每次都会创建新的状态存储。多个 Governor（例如 HTTP 与 gRPC）
// 要共享配额必须使用同一个 *Config，重复构建会得到互相独立的计数。
//
// # 键提取
//
//   - PeerIPKeyExtractor：对端 IP（默认）
//   - GlobalKeyExtractor：全局单键
//   - HeaderKeyExtractor：header 值
//   - APIKeyExtractor：凭据的 xxhash 摘要，不保留原始凭据
//   - ForwardedIPKeyExtractor：仅信任来自可信代理的 X-Forwarded-For / X-Real-IP
//   - MapKey：转换键类型
//
// # 可观测性
//
// WithLogger 接入 xlog；WithMeterProvider 上报 xgovernor.requests.total 等指标；
// WithTracerProvider 为每次判定创建 xgovernor.check span。
package xgovernor
