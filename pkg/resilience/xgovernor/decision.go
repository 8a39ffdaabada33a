package xgovernor

import "time"

// Decision 门面对一次请求的最终判定
type Decision struct {
	// Allowed 是否放行
	Allowed bool

	// Whitelisted 方法不在限流范围内，直接放行且未消耗配额
	Whitelisted bool

	// Limit 配额上限（burst）
	Limit uint32

	// Remaining 剩余单位，拒绝或过滤放行时为 0
	Remaining uint32

	// RetryAfter 拒绝时建议的重试等待时间
	RetryAfter time.Duration

	// ResetAfter 放行时距离桶完全恢复的时长
	ResetAfter time.Duration

	// Metadata 决策中间件生成的诊断信息，用于写响应头
	Metadata Metadata
}

// Err 拒绝时返回 *LimitError，放行时返回 nil
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &LimitError{Limit: d.Limit, RetryAfter: d.RetryAfter}
}

// newDecision 由配额检查结果和诊断信息组装判定
func newDecision(v Verdict, q Quota, md Metadata) Decision {
	return Decision{
		Allowed:    v.Allowed,
		Limit:      q.Burst(),
		Remaining:  v.Remaining,
		RetryAfter: v.RetryAfter,
		ResetAfter: v.ResetAfter,
		Metadata:   md,
	}
}

// whitelistedDecision 方法过滤放行
func whitelistedDecision(q Quota, md Metadata) Decision {
	return Decision{
		Allowed:     true,
		Whitelisted: true,
		Limit:       q.Burst(),
		Metadata:    md,
	}
}
