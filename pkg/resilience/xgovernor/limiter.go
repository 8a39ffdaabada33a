package xgovernor

import (
	"fmt"
	"sync/atomic"
	"time"
)

// defaultSweepInterval 每多少次检查触发一次惰性清扫
const defaultSweepInterval = 1024

// Verdict 单次配额检查的结果
type Verdict struct {
	// Allowed 是否放行
	Allowed bool

	// Remaining 本次检查后剩余的突发容量，范围 [0, burst-1]，拒绝时为 0
	Remaining uint32

	// RetryAfter 拒绝时距离下一次可放行的时长
	RetryAfter time.Duration

	// ResetAfter 放行时距离桶完全恢复的时长
	ResetAfter time.Duration
}

// LimiterOption Limiter 配置选项
type LimiterOption func(*limiterOptions)

type limiterOptions struct {
	clock         Clock
	retention     time.Duration
	retentionSet  bool
	sweepInterval uint64
}

// WithClock 替换时钟，主要用于测试
func WithClock(clock Clock) LimiterOption {
	return func(o *limiterOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithRetention 设置空闲键的保留余量
//
// 桶完全恢复后再空闲 retention 才会被清扫。默认等于 Quota.ReplenishAll()。
func WithRetention(retention time.Duration) LimiterOption {
	return func(o *limiterOptions) {
		if retention >= 0 {
			o.retention = retention
			o.retentionSet = true
		}
	}
}

// WithSweepInterval 设置每多少次 Check 触发一次清扫，0 表示只能手动调用 RetainRecent
func WithSweepInterval(every uint64) LimiterOption {
	return func(o *limiterOptions) {
		o.sweepInterval = every
	}
}

// Limiter 按键限流的 GCRA 令牌桶
//
// 每个键只保存一个理论到达时间（TAT）。对同一个键的 Check 是线性一致的，
// 不同键之间互不阻塞。Limiter 可被多个 Governor 共享，所有方法并发安全。
type Limiter[K comparable] struct {
	quota     Quota
	increment int64 // period，纳秒
	burst     int64 // 有效突发容量，保证 tau 不溢出
	tau       int64 // period × burst，纳秒
	retention int64

	clock Clock
	epoch time.Time
	store keyedStore[K]

	sweepInterval uint64
	checks        atomic.Uint64
	sweeping      atomic.Bool
}

// NewLimiter 创建按键限流器，每次调用都会分配一个新的、空的状态存储
func NewLimiter[K comparable](quota Quota, opts ...LimiterOption) (*Limiter[K], error) {
	if quota.IsZero() {
		return nil, fmt.Errorf("%w: zero quota", ErrInvalidQuota)
	}

	o := &limiterOptions{
		clock:         systemClock{},
		sweepInterval: defaultSweepInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	retention := quota.ReplenishAll()
	if o.retentionSet {
		retention = o.retention
	}

	return &Limiter[K]{
		quota:         quota,
		increment:     int64(quota.Period()),
		burst:         quota.effectiveBurst(),
		tau:           int64(quota.Period()) * quota.effectiveBurst(),
		retention:     int64(retention),
		clock:         o.clock,
		epoch:         o.clock.Now(),
		sweepInterval: o.sweepInterval,
	}, nil
}

// Quota 返回限流器使用的配额
func (l *Limiter[K]) Quota() Quota {
	return l.quota
}

// Check 检查并消耗键的一个配额单位
//
// 放行时提交新的 TAT；拒绝时不修改状态。
func (l *Limiter[K]) Check(key K) Verdict {
	now := l.now()

	var v Verdict
	l.store.update(key, now, func(tat int64) (int64, bool) {
		var next int64
		v, next = l.evaluate(tat, now)
		return next, v.Allowed
	})

	l.maybeSweep(now)
	return v
}

// Peek 返回此刻对键执行 Check 会得到的结果，不消耗配额
func (l *Limiter[K]) Peek(key K) Verdict {
	now := l.now()
	tat, ok := l.store.peek(key)
	if !ok {
		tat = now
	}
	v, _ := l.evaluate(tat, now)
	return v
}

// Reset 丢弃键的历史，下一次请求按新键处理
func (l *Limiter[K]) Reset(key K) bool {
	return l.store.remove(key)
}

// Len 返回当前跟踪的键数量
func (l *Limiter[K]) Len() int {
	return l.store.len()
}

// RetainRecent 立即清扫空闲超过保留余量的键，返回删除数量
func (l *Limiter[K]) RetainRecent() int {
	return l.store.retain(l.now(), l.retention)
}

// evaluate 基于当前 TAT 计算判定结果和待提交的 TAT
//
//	new_tat  = max(tat, now) + T
//	allow_at = new_tat - tau
//
// 以 wait = new_tat - now 表达可避免 allow_at 为负时的溢出：
// wait <= tau 即 allow_at <= now。
func (l *Limiter[K]) evaluate(tat, now int64) (Verdict, int64) {
	newTAT := addSat(max(tat, now), l.increment)
	wait := newTAT - now

	if wait > l.tau {
		return Verdict{RetryAfter: time.Duration(wait - l.tau)}, tat
	}

	remaining := min((l.tau-wait)/l.increment, l.burst-1)

	return Verdict{
		Allowed:    true,
		Remaining:  uint32(remaining), //nolint:gosec // 0 <= remaining < burst <= MaxUint32
		ResetAfter: time.Duration(wait),
	}, newTAT
}

// now 返回相对 epoch 的单调纳秒偏移
func (l *Limiter[K]) now() int64 {
	elapsed := l.clock.Now().Sub(l.epoch)
	if elapsed < 0 {
		return 0
	}
	return int64(elapsed)
}

// maybeSweep 按采样频率在调用方 goroutine 内执行清扫，同一时刻最多一个清扫者
func (l *Limiter[K]) maybeSweep(now int64) {
	if l.sweepInterval == 0 || l.checks.Add(1)%l.sweepInterval != 0 {
		return
	}
	if !l.sweeping.CompareAndSwap(false, true) {
		return
	}
	defer l.sweeping.Store(false)
	l.store.retain(now, l.retention)
}
