package xgovernor

import (
	"fmt"
	"math"
	"time"
)

// Quota 配额：每隔 period 补充一个单位，最多累积 burst 个单位
//
// Quota 是不可变值，只能通过 NewQuota 构造。零值无效。
type Quota struct {
	period time.Duration
	burst  uint32
}

// NewQuota 创建配额
// period 和 burst 必须为正，否则返回 ErrInvalidQuota
//
// 注意: 限流状态以 int64 纳秒计时，period×burst 的上限约为 292 年。
// 超出时 Limiter 以 ⌊MaxInt64/period⌋ 作为有效突发容量（例如 period=3s 时约 30.7 亿），
// 剩余额度按有效容量计算而不会饱和为 0。
func NewQuota(period time.Duration, burst uint32) (Quota, error) {
	if period <= 0 {
		return Quota{}, fmt.Errorf("%w: period must be positive, got %v", ErrInvalidQuota, period)
	}
	if burst == 0 {
		return Quota{}, fmt.Errorf("%w: burst size must be positive", ErrInvalidQuota)
	}
	return Quota{period: period, burst: burst}, nil
}

// Period 返回补充一个单位所需时间
func (q Quota) Period() time.Duration {
	return q.period
}

// Burst 返回最大突发容量
func (q Quota) Burst() uint32 {
	return q.burst
}

// IsZero 报告是否为未初始化的零值
func (q Quota) IsZero() bool {
	return q.period <= 0 || q.burst == 0
}

// ReplenishAll 返回空桶恢复到满桶所需时间（period × burst，溢出时饱和）
func (q Quota) ReplenishAll() time.Duration {
	return time.Duration(mulSat(int64(q.period), int64(q.burst)))
}

// effectiveBurst 返回 period×burst 能用 int64 纳秒表示的最大突发容量
func (q Quota) effectiveBurst() int64 {
	return min(int64(q.burst), math.MaxInt64/int64(q.period))
}

// String 实现 fmt.Stringer
func (q Quota) String() string {
	return fmt.Sprintf("Quota{period=%v, burst=%d}", q.period, q.burst)
}

// durationOf 把 n 个 unit 转成时长，溢出时饱和到最大值
func durationOf(n uint64, unit time.Duration) time.Duration {
	if n > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(mulSat(int64(n), int64(unit)))
}

// mulSat 非负数饱和乘法
func mulSat(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}

// addSat 饱和加法，b 为非负数
func addSat(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
