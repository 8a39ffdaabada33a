package xgovernor

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"time"
)

// 默认配额：每 500ms 补充一个单位，最多突发 8 个
const (
	DefaultPeriod    = 500 * time.Millisecond
	DefaultBurstSize = 8
)

// Builder 配置构建器，支持链式调用
//
// 注意: 每次 Finish 都会创建一个新的、空的限流状态。
// 需要共享配额的多个 Governor 必须使用同一个 *Config，
// 对同一组参数重复 Finish 会得到互相独立的计数，之前的限流历史随之丢失。
type Builder[K comparable] struct {
	period         time.Duration
	burst          uint32
	methods        []string
	methodsSet     bool
	grpcMethods    []string
	grpcMethodsSet bool
	extractor      KeyExtractor[K]
	annotator      Annotator
	limiterOpts    []LimiterOption
}

// DefaultBuilder 返回默认构建器：按对端 IP 限流，period=500ms，burst=8
func DefaultBuilder() *Builder[netip.Addr] {
	return NewBuilder[netip.Addr](PeerIPKeyExtractor{})
}

// NewBuilder 使用指定键提取器创建构建器，配额取默认值
func NewBuilder[K comparable](extractor KeyExtractor[K]) *Builder[K] {
	return &Builder[K]{
		period:    DefaultPeriod,
		burst:     DefaultBurstSize,
		extractor: extractor,
		annotator: NoOpAnnotator{},
	}
}

// WithKeyExtractor 更换键提取器，返回新键类型的构建器，其余设置保持不变
func WithKeyExtractor[K, K2 comparable](b *Builder[K], extractor KeyExtractor[K2]) *Builder[K2] {
	return &Builder[K2]{
		period:         b.period,
		burst:          b.burst,
		methods:        slices.Clone(b.methods),
		methodsSet:     b.methodsSet,
		grpcMethods:    slices.Clone(b.grpcMethods),
		grpcMethodsSet: b.grpcMethodsSet,
		extractor:      extractor,
		annotator:      b.annotator,
		limiterOpts:    slices.Clone(b.limiterOpts),
	}
}

// Period 设置补充一个单位的间隔，不能为零
func (b *Builder[K]) Period(d time.Duration) *Builder[K] {
	b.period = d
	return b
}

// PerSecond 以秒为单位设置补充间隔
func (b *Builder[K]) PerSecond(seconds uint64) *Builder[K] {
	b.period = durationOf(seconds, time.Second)
	return b
}

// PerMillisecond 以毫秒为单位设置补充间隔
func (b *Builder[K]) PerMillisecond(milliseconds uint64) *Builder[K] {
	b.period = durationOf(milliseconds, time.Millisecond)
	return b
}

// PerNanosecond 以纳秒为单位设置补充间隔
func (b *Builder[K]) PerNanosecond(nanoseconds uint64) *Builder[K] {
	b.period = durationOf(nanoseconds, time.Nanosecond)
	return b
}

// BurstSize 设置突发容量，不能为零
func (b *Builder[K]) BurstSize(burst uint32) *Builder[K] {
	b.burst = burst
	return b
}

// Methods 限定生效的 HTTP 方法（GET、POST 等），默认对所有方法生效
// 其余方法直接放行且不消耗配额；显式传入空列表表示全部放行。
// 只作用于 HTTP 请求，gRPC 调用由 GRPCMethods 过滤。
func (b *Builder[K]) Methods(methods ...string) *Builder[K] {
	b.methods = slices.Clone(methods)
	b.methodsSet = true
	return b
}

// GRPCMethods 限定生效的 gRPC 方法，默认对所有方法生效
//
// 取值为完整方法名（/pkg.Service/Call）或服务前缀（/pkg.Service/），
// 区分大小写；显式传入空列表表示全部放行。
func (b *Builder[K]) GRPCMethods(fullMethods ...string) *Builder[K] {
	b.grpcMethods = slices.Clone(fullMethods)
	b.grpcMethodsSet = true
	return b
}

// UseHeaders 启用 StateInfoAnnotator，输出 X-RateLimit-Limit/Remaining/Whitelisted
func (b *Builder[K]) UseHeaders() *Builder[K] {
	b.annotator = StateInfoAnnotator{}
	return b
}

// Annotator 设置自定义决策中间件
func (b *Builder[K]) Annotator(a Annotator) *Builder[K] {
	if a != nil {
		b.annotator = a
	}
	return b
}

// LimiterOptions 追加底层 Limiter 的选项（时钟、保留余量、清扫频率）
func (b *Builder[K]) LimiterOptions(opts ...LimiterOption) *Builder[K] {
	b.limiterOpts = append(b.limiterOpts, opts...)
	return b
}

// Finish 校验参数并创建配置，period 或 burst 为零时返回 ErrInvalidQuota
func (b *Builder[K]) Finish() (*Config[K], error) {
	if b.extractor == nil {
		return nil, ErrNilExtractor
	}

	quota, err := NewQuota(b.period, b.burst)
	if err != nil {
		return nil, err
	}

	limiter, err := NewLimiter[K](quota, b.limiterOpts...)
	if err != nil {
		return nil, err
	}

	methods, err := methodSet(b.methods, b.methodsSet, normalizeHTTPMethod)
	if err != nil {
		return nil, err
	}
	grpcMethods, err := methodSet(b.grpcMethods, b.grpcMethodsSet, normalizeGRPCMethod)
	if err != nil {
		return nil, err
	}

	return &Config[K]{
		quota:       quota,
		extractor:   b.extractor,
		annotator:   b.annotator,
		methods:     methods,
		grpcMethods: grpcMethods,
		limiter:     limiter,
	}, nil
}

// methodSet 未设置时返回 nil（全部生效），设置为空列表时返回空集合（全部放行）
func methodSet(methods []string, set bool, normalize func(string) (string, error)) (map[string]struct{}, error) {
	if !set {
		return nil, nil
	}
	out := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		n, err := normalize(m)
		if err != nil {
			return nil, err
		}
		out[n] = struct{}{}
	}
	return out, nil
}

func normalizeHTTPMethod(m string) (string, error) {
	m = strings.ToUpper(strings.TrimSpace(m))
	switch {
	case m == "":
		return "", fmt.Errorf("%w: empty method", ErrInvalidConfig)
	case strings.HasPrefix(m, "/"):
		return "", fmt.Errorf("%w: %q looks like a gRPC method, use GRPCMethods", ErrInvalidConfig, m)
	}
	return m, nil
}

func normalizeGRPCMethod(m string) (string, error) {
	m = strings.TrimSpace(m)
	if !strings.HasPrefix(m, "/") || strings.LastIndex(m, "/") == 0 {
		return "", fmt.Errorf("%w: gRPC method %q must be /pkg.Service/Method or /pkg.Service/", ErrInvalidConfig, m)
	}
	return m, nil
}

// Config 限流配置，持有共享的 Limiter
//
// Config 构造后不可变。同一个 *Config（或其 Clone）创建的所有 Governor
// 共享同一份限流状态。
type Config[K comparable] struct {
	quota       Quota
	extractor   KeyExtractor[K]
	annotator   Annotator
	methods     map[string]struct{} // HTTP 方法，nil 表示所有方法
	grpcMethods map[string]struct{} // gRPC 完整方法名或服务前缀，nil 表示所有方法
	limiter     *Limiter[K]
}

// DefaultConfig 默认配置：按对端 IP，period=500ms，burst=8
func DefaultConfig() *Config[netip.Addr] {
	return mustFinish(DefaultBuilder())
}

// SecureConfig 适用于登录等安全敏感接口：period=4s，burst=2
//
// 既能阻止暴力破解，又允许用户快速重试一次输错的密码。
func SecureConfig() *Config[netip.Addr] {
	return mustFinish(DefaultBuilder().PerSecond(4).BurstSize(2))
}

// mustFinish 用于参数固定、不可能失败的预设
func mustFinish[K comparable](b *Builder[K]) *Config[K] {
	cfg, err := b.Finish()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Clone 返回共享同一 Limiter 的副本
func (c *Config[K]) Clone() *Config[K] {
	clone := *c
	return &clone
}

// Quota 返回配额
func (c *Config[K]) Quota() Quota {
	return c.quota
}

// Limiter 返回共享的限流器
func (c *Config[K]) Limiter() *Limiter[K] {
	return c.limiter
}

// Methods 返回生效的 HTTP 方法，nil 表示所有方法，空切片表示全部放行
func (c *Config[K]) Methods() []string {
	return sortedKeys(c.methods)
}

// GRPCMethods 返回生效的 gRPC 方法，语义同 Methods
func (c *Config[K]) GRPCMethods() []string {
	return sortedKeys(c.grpcMethods)
}

func sortedKeys(set map[string]struct{}) []string {
	if set == nil {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// appliesTo 报告请求是否在限流范围内
// gRPC 调用只看 GRPCMethods，其余请求按 HTTP 方法过滤，两者互不影响。
func (c *Config[K]) appliesTo(r Request) bool {
	if g, ok := r.(grpcRequest); ok {
		return c.matchGRPC(g.method)
	}
	return c.matchHTTP(r.Method())
}

func (c *Config[K]) matchHTTP(method string) bool {
	if c.methods == nil {
		return true
	}
	_, ok := c.methods[strings.ToUpper(method)]
	return ok
}

func (c *Config[K]) matchGRPC(fullMethod string) bool {
	if c.grpcMethods == nil {
		return true
	}
	if _, ok := c.grpcMethods[fullMethod]; ok {
		return true
	}
	// 服务前缀
	if i := strings.LastIndex(fullMethod, "/"); i > 0 {
		_, ok := c.grpcMethods[fullMethod[:i+1]]
		return ok
	}
	return false
}
