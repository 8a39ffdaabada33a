package xgovernor

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/omeyang/xgovern/pkg/config/xconf"
)

// 文件配置支持的键提取方式
const (
	KeyByPeer      = "peer"
	KeyByGlobal    = "global"
	KeyByHeader    = "header"
	KeyByAPIKey    = "api_key"
	KeyByForwarded = "forwarded"
)

// FileConfig 可从 YAML/JSON 加载的门面配置
//
// 示例（YAML）:
//
//	governor:
//	  period: 500ms
//	  burst: 8
//	  methods: [GET, POST]
//	  grpc_methods: [/pkg.Orders/]
//	  key_by: forwarded
//	  trusted_proxies: ["10.0.0.0/8"]
//	  use_headers: true
type FileConfig struct {
	// Period 补充一个单位的间隔
	Period time.Duration `koanf:"period"`

	// Burst 突发容量
	Burst uint32 `koanf:"burst"`

	// Methods 生效的 HTTP 方法，为空表示所有方法；不影响 gRPC 调用
	Methods []string `koanf:"methods"`

	// GRPCMethods 生效的 gRPC 完整方法名或服务前缀，为空表示所有方法
	GRPCMethods []string `koanf:"grpc_methods"`

	// KeyBy 键提取方式：peer、global、header、api_key、forwarded
	KeyBy string `koanf:"key_by"`

	// Header KeyBy 为 header 或 api_key 时使用的 header 名称
	Header string `koanf:"header"`

	// TrustedProxies KeyBy 为 forwarded 时的可信代理（IP 或 CIDR）
	TrustedProxies []string `koanf:"trusted_proxies"`

	// UseHeaders 是否输出 X-RateLimit-* 详细信息
	UseHeaders bool `koanf:"use_headers"`

	// Retention 空闲键保留余量，为零时使用 period×burst
	Retention time.Duration `koanf:"retention"`

	// SweepInterval 每多少次检查清扫一次，为零时使用默认值
	SweepInterval uint64 `koanf:"sweep_interval"`
}

// DefaultFileConfig 返回与 DefaultBuilder 一致的文件配置
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Period: DefaultPeriod,
		Burst:  DefaultBurstSize,
		KeyBy:  KeyByPeer,
	}
}

// LoadFileConfig 从 xconf 读取 path 下的配置，未出现的字段保留默认值
func LoadFileConfig(cfg xconf.Config, path string) (FileConfig, error) {
	fc := DefaultFileConfig()
	if err := cfg.Unmarshal(path, &fc); err != nil {
		return FileConfig{}, err
	}
	if err := fc.Validate(); err != nil {
		return FileConfig{}, err
	}
	return fc, nil
}

// Validate 校验配置
func (c FileConfig) Validate() error {
	if c.Period <= 0 {
		return fmt.Errorf("%w: period must be positive", ErrInvalidQuota)
	}
	if c.Burst == 0 {
		return fmt.Errorf("%w: burst must be positive", ErrInvalidQuota)
	}
	if c.Retention < 0 {
		return fmt.Errorf("%w: negative retention", ErrInvalidConfig)
	}
	for _, m := range c.Methods {
		if _, err := normalizeHTTPMethod(m); err != nil {
			return fmt.Errorf("methods: %w", err)
		}
	}
	for _, m := range c.GRPCMethods {
		if _, err := normalizeGRPCMethod(m); err != nil {
			return fmt.Errorf("grpc_methods: %w", err)
		}
	}

	switch c.keyBy() {
	case KeyByPeer, KeyByGlobal, KeyByForwarded:
	case KeyByHeader:
		if strings.TrimSpace(c.Header) == "" {
			return fmt.Errorf("%w: key_by=header requires header", ErrInvalidConfig)
		}
	case KeyByAPIKey:
	default:
		return fmt.Errorf("%w: unknown key_by %q", ErrInvalidConfig, c.KeyBy)
	}
	return nil
}

// Build 创建配置，每次调用都会得到独立的限流状态
//
// 文件配置的键统一为 string，使 HTTP 与 gRPC 门面可以共享同一个 *Config。
func (c FileConfig) Build(opts ...LimiterOption) (*Config[string], error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	extractor, err := c.extractor()
	if err != nil {
		return nil, err
	}

	b := NewBuilder(extractor).
		Period(c.Period).
		BurstSize(c.Burst)
	if len(c.Methods) > 0 {
		b.Methods(c.Methods...)
	}
	if len(c.GRPCMethods) > 0 {
		b.GRPCMethods(c.GRPCMethods...)
	}
	if c.UseHeaders {
		b.UseHeaders()
	}
	if c.Retention > 0 {
		b.LimiterOptions(WithRetention(c.Retention))
	}
	if c.SweepInterval > 0 {
		b.LimiterOptions(WithSweepInterval(c.SweepInterval))
	}
	b.LimiterOptions(opts...)

	return b.Finish()
}

func (c FileConfig) keyBy() string {
	if c.KeyBy == "" {
		return KeyByPeer
	}
	return strings.ToLower(strings.TrimSpace(c.KeyBy))
}

func (c FileConfig) extractor() (KeyExtractor[string], error) {
	switch c.keyBy() {
	case KeyByGlobal:
		return MapKey(KeyExtractor[GlobalKey](GlobalKeyExtractor{}), func(GlobalKey) string { return "" }), nil
	case KeyByHeader:
		return HeaderKeyExtractor{Name: c.Header}, nil
	case KeyByAPIKey:
		return MapKey(KeyExtractor[uint64](APIKeyExtractor{Name: c.Header}), func(h uint64) string {
			return strconv.FormatUint(h, 16)
		}), nil
	case KeyByForwarded:
		e, err := NewForwardedIPKeyExtractor(c.TrustedProxies...)
		if err != nil {
			return nil, err
		}
		return MapKey(KeyExtractor[netip.Addr](e), netip.Addr.String), nil
	default:
		return MapKey(KeyExtractor[netip.Addr](PeerIPKeyExtractor{}), netip.Addr.String), nil
	}
}

// String 返回配置摘要
func (c FileConfig) String() string {
	return fmt.Sprintf("period=%s burst=%d key_by=%s methods=%s grpc_methods=%s use_headers=%t",
		c.Period, c.Burst, c.keyBy(), joinOrAll(c.Methods), joinOrAll(c.GRPCMethods), c.UseHeaders)
}

func joinOrAll(list []string) string {
	if len(list) == 0 {
		return "*"
	}
	return strings.Join(list, ",")
}
