package xgovernor

import (
	"net/http"
	"strconv"
	"time"
)

// 响应头名称
const (
	HeaderRetryAfter  = "Retry-After"
	HeaderLimit       = "X-RateLimit-Limit"
	HeaderRemaining   = "X-RateLimit-Remaining"
	HeaderAfter       = "X-RateLimit-After"
	HeaderReset       = "X-RateLimit-Reset"
	HeaderWhitelisted = "X-RateLimit-Whitelisted"
)

// Metadata 附加在判定结果上的诊断信息
//
// Metadata 只描述结果，不会改变放行或拒绝。
type Metadata struct {
	// Detailed 是否携带配额详情（Limit/Remaining/Reset）
	Detailed bool

	// Limit 配额上限（burst）
	Limit uint32

	// Remaining 剩余单位
	Remaining uint32

	// After 拒绝时距离下一个单位补充的时长
	After time.Duration

	// Reset 放行时距离桶完全恢复的时长
	Reset time.Duration

	// Whitelisted 请求方法不在限流范围内，未消耗配额
	Whitelisted bool
}

// Headers 返回对应的响应头
//   - Retry-After / X-RateLimit-After：拒绝时的等待秒数（向上取整）
//   - X-RateLimit-Limit / X-RateLimit-Remaining：Detailed 时输出
//   - X-RateLimit-Reset：Detailed 且放行时，桶完全恢复的秒数
//   - X-RateLimit-Whitelisted：方法过滤放行时输出 true，此时不输出配额信息
func (m Metadata) Headers() map[string]string {
	headers := make(map[string]string, 4)

	if m.Whitelisted {
		headers[HeaderWhitelisted] = "true"
		return headers
	}

	if m.After > 0 {
		after := strconv.FormatInt(ceilSeconds(m.After), 10)
		headers[HeaderRetryAfter] = after
		headers[HeaderAfter] = after
	}

	if m.Detailed {
		headers[HeaderLimit] = strconv.FormatUint(uint64(m.Limit), 10)
		headers[HeaderRemaining] = strconv.FormatUint(uint64(m.Remaining), 10)
		if m.Reset > 0 {
			headers[HeaderReset] = strconv.FormatInt(ceilSeconds(m.Reset), 10)
		}
	}

	return headers
}

// SetHeaders 把 Headers 写入 h
func (m Metadata) SetHeaders(h http.Header) {
	for key, value := range m.Headers() {
		h.Set(key, value)
	}
}

//go:generate mockgen -source=annotator.go -destination=mock_annotator_test.go -package=xgovernor

// Annotator 根据判定结果生成诊断信息（决策中间件）
//
// 对放行和拒绝都会调用，不得改变判定结果。
type Annotator interface {
	// Annotate 为一次配额检查生成 Metadata
	Annotate(v Verdict, q Quota) Metadata

	// Whitelist 为被方法过滤跳过的请求生成 Metadata
	Whitelist(q Quota) Metadata
}

// NoOpAnnotator 只在拒绝时给出重试时间，放行时不附加信息
type NoOpAnnotator struct{}

// Annotate 实现 Annotator
func (NoOpAnnotator) Annotate(v Verdict, _ Quota) Metadata {
	if v.Allowed {
		return Metadata{}
	}
	return Metadata{After: v.RetryAfter}
}

// Whitelist 实现 Annotator
func (NoOpAnnotator) Whitelist(Quota) Metadata {
	return Metadata{}
}

// StateInfoAnnotator 总是给出 limit、remaining 以及 reset 或 retry 时间
type StateInfoAnnotator struct{}

// Annotate 实现 Annotator
func (StateInfoAnnotator) Annotate(v Verdict, q Quota) Metadata {
	md := Metadata{
		Detailed: true,
		Limit:    q.Burst(),
	}
	if v.Allowed {
		md.Remaining = v.Remaining
		md.Reset = v.ResetAfter
		return md
	}
	md.After = v.RetryAfter
	return md
}

// Whitelist 实现 Annotator
//
// 设计决策: 过滤放行的请求没有消耗配额，只标记 Whitelisted，
// 不输出 Limit/Remaining，避免暗示该请求参与了计数。
func (StateInfoAnnotator) Whitelist(Quota) Metadata {
	return Metadata{Whitelisted: true}
}

var (
	_ Annotator = NoOpAnnotator{}
	_ Annotator = StateInfoAnnotator{}
)
