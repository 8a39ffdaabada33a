package xgovernor

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go4.org/netipx"
)

// KeyExtractor 从请求中提取限流键
//
// 实现必须是无副作用、非阻塞的。键类型需可比较，每次请求都会用它查找状态。
type KeyExtractor[K comparable] interface {
	// Extract 提取键，无法提取时返回 *ExtractionError
	Extract(r Request) (K, error)
}

// KeyExtractorFunc 函数适配器
type KeyExtractorFunc[K comparable] func(r Request) (K, error)

// Extract 调用 f(r)
func (f KeyExtractorFunc[K]) Extract(r Request) (K, error) {
	return f(r)
}

// =============================================================================
// 对端地址
// =============================================================================

// PeerIPKeyExtractor 以连接对端 IP 作为键（默认提取器）
//
// 部署在反向代理之后时，所有请求的对端都是代理本身；
// 这种情况请使用 ForwardedIPKeyExtractor 并配置可信代理。
type PeerIPKeyExtractor struct{}

// Extract 从 RemoteAddr 解析 IP
func (PeerIPKeyExtractor) Extract(r Request) (netip.Addr, error) {
	addr, err := parseRemoteAddr(r.RemoteAddr())
	if err != nil {
		return netip.Addr{}, newExtractionError("peer-ip", err)
	}
	return addr, nil
}

// parseRemoteAddr 解析 host:port 或裸 IP，IPv4-mapped IPv6 统一为 IPv4
func parseRemoteAddr(remote string) (netip.Addr, error) {
	remote = strings.TrimSpace(remote)
	if remote == "" {
		return netip.Addr{}, ErrMissingAddress
	}

	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().Unmap().WithZone(""), nil
	}
	if addr, err := netip.ParseAddr(remote); err == nil {
		return addr.Unmap().WithZone(""), nil
	}
	return netip.Addr{}, fmt.Errorf("%w: unparsable address %q", ErrMissingAddress, remote)
}

// =============================================================================
// 全局
// =============================================================================

// GlobalKey 全局提取器产生的唯一键
type GlobalKey struct{}

// GlobalKeyExtractor 所有请求共享同一个键，即对整个服务施加一个配额
type GlobalKeyExtractor struct{}

// Extract 总是返回 GlobalKey{}
func (GlobalKeyExtractor) Extract(Request) (GlobalKey, error) {
	return GlobalKey{}, nil
}

// =============================================================================
// Header
// =============================================================================

// HeaderKeyExtractor 以指定 header 的值作为键
type HeaderKeyExtractor struct {
	// Name header 名称，如 X-Tenant-ID
	Name string
}

// Extract 读取 header，缺失时返回 ErrMissingHeader
func (e HeaderKeyExtractor) Extract(r Request) (string, error) {
	v := strings.TrimSpace(r.Header(e.Name))
	if v == "" {
		return "", newExtractionError("header", fmt.Errorf("%w: %s", ErrMissingHeader, e.Name))
	}
	return v, nil
}

// APIKeyExtractor 以凭据 header（如 X-API-Key）的 xxhash 作为键
//
// 状态存储中只保留 64 位摘要，不会长期驻留原始凭据。
type APIKeyExtractor struct {
	// Name header 名称，为空时使用 X-API-Key
	Name string
}

// Extract 读取凭据并计算摘要
func (e APIKeyExtractor) Extract(r Request) (uint64, error) {
	name := e.Name
	if name == "" {
		name = "X-API-Key"
	}
	v := strings.TrimSpace(r.Header(name))
	if v == "" {
		return 0, newExtractionError("api-key", fmt.Errorf("%w: %s", ErrMissingHeader, name))
	}
	return xxhash.Sum64String(v), nil
}

// =============================================================================
// 可信代理
// =============================================================================

// ForwardedIPKeyExtractor 在可信代理之后按真实客户端 IP 限流
//
// 只有当对端地址属于可信代理时才读取 X-Forwarded-For / X-Real-IP，
// 否则直接使用对端地址，防止客户端伪造 header 绕过限流。
type ForwardedIPKeyExtractor struct {
	trusted *netipx.IPSet
}

// NewForwardedIPKeyExtractor 创建提取器
// trusted 支持单个 IP 或 CIDR，如 "10.0.0.0/8"、"127.0.0.1"
func NewForwardedIPKeyExtractor(trusted ...string) (*ForwardedIPKeyExtractor, error) {
	var b netipx.IPSetBuilder
	for _, s := range trusted {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			prefix, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("%w: trusted proxy %q: %w", ErrInvalidConfig, s, err)
			}
			b.AddPrefix(prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("%w: trusted proxy %q: %w", ErrInvalidConfig, s, err)
		}
		b.Add(addr.Unmap())
	}

	set, err := b.IPSet()
	if err != nil {
		return nil, fmt.Errorf("%w: trusted proxies: %w", ErrInvalidConfig, err)
	}
	return &ForwardedIPKeyExtractor{trusted: set}, nil
}

// Extract 从右向左跳过可信代理，返回第一个不可信的地址
func (e *ForwardedIPKeyExtractor) Extract(r Request) (netip.Addr, error) {
	peer, err := parseRemoteAddr(r.RemoteAddr())
	if err != nil {
		return netip.Addr{}, newExtractionError("forwarded-ip", err)
	}
	if !e.trusted.Contains(peer) {
		return peer, nil
	}

	if xff := r.Header("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := parseRemoteAddr(hops[i])
			if err != nil {
				// 链中出现无法解析的条目，其左侧不可信
				break
			}
			if !e.trusted.Contains(addr) {
				return addr, nil
			}
		}
	}

	if realIP, err := parseRemoteAddr(r.Header("X-Real-IP")); err == nil {
		return realIP, nil
	}
	return peer, nil
}

// =============================================================================
// 组合
// =============================================================================

// MapKey 用 fn 转换另一个提取器的键，常用于统一成 string 键
func MapKey[K1, K2 comparable](inner KeyExtractor[K1], fn func(K1) K2) KeyExtractor[K2] {
	return KeyExtractorFunc[K2](func(r Request) (K2, error) {
		k, err := inner.Extract(r)
		if err != nil {
			var zero K2
			return zero, err
		}
		return fn(k), nil
	})
}
