package xgovernor

import (
	"sync"
	"sync/atomic"
)

// evicted 标记已从 store 摘除的桶
// 正常 TAT 是相对 Limiter 起点的非负偏移，不会与之冲突。
const evicted int64 = -1

// bucket 单个键的 GCRA 状态：理论到达时间（TAT，纳秒偏移）
type bucket struct {
	tat atomic.Int64
}

// keyedStore 键 → 桶 的并发映射
//
// 设计决策: 使用 sync.Map + 每个桶一个原子 TAT，单键更新走 CAS 循环，
// 不同键之间没有共享锁。清扫时先把桶 CAS 成 evicted 再摘除，
// 正在对同一个桶做 CAS 的请求会失败并重新加载，不会丢失更新。
type keyedStore[K comparable] struct {
	buckets sync.Map // map[K]*bucket
	size    atomic.Int64
}

// loadOrCreate 获取键对应的桶，不存在时以 now 作为初始 TAT 创建
func (s *keyedStore[K]) loadOrCreate(key K, now int64) *bucket {
	if val, ok := s.buckets.Load(key); ok {
		return val.(*bucket) //nolint:forcetypeassert // 只存放 *bucket
	}

	b := &bucket{}
	b.tat.Store(now)

	actual, loaded := s.buckets.LoadOrStore(key, b)
	if !loaded {
		s.size.Add(1)
	}
	return actual.(*bucket) //nolint:forcetypeassert // 只存放 *bucket
}

// peek 读取键当前的 TAT，不创建条目
func (s *keyedStore[K]) peek(key K) (int64, bool) {
	val, ok := s.buckets.Load(key)
	if !ok {
		return 0, false
	}
	tat := val.(*bucket).tat.Load() //nolint:forcetypeassert // 只存放 *bucket
	if tat == evicted {
		return 0, false
	}
	return tat, true
}

// update 对键的 TAT 做原子的读-判断-写
//
// decide 接收当前 TAT，返回新 TAT 以及是否提交。decide 可能因 CAS 冲突被多次调用，
// 必须是无副作用的纯函数。
func (s *keyedStore[K]) update(key K, now int64, decide func(tat int64) (next int64, commit bool)) {
	for {
		b := s.loadOrCreate(key, now)
		tat := b.tat.Load()
		if tat == evicted {
			// 桶正在被摘除：协助完成摘除后重试，下一轮会创建新桶
			s.detach(key, b)
			continue
		}

		next, commit := decide(tat)
		if !commit || b.tat.CompareAndSwap(tat, next) {
			return
		}
	}
}

// remove 删除键的状态
func (s *keyedStore[K]) remove(key K) bool {
	val, ok := s.buckets.Load(key)
	if !ok {
		return false
	}
	b := val.(*bucket) //nolint:forcetypeassert // 只存放 *bucket
	b.tat.Store(evicted)
	return s.detach(key, b)
}

// retain 清扫 TAT + margin 已不晚于 now 的桶，返回删除数量
//
// TAT <= now 的桶与新建桶状态等价，删除不会改变任何后续判定。
func (s *keyedStore[K]) retain(now, margin int64) int {
	removed := 0
	s.buckets.Range(func(k, v any) bool {
		b := v.(*bucket) //nolint:forcetypeassert // 只存放 *bucket
		tat := b.tat.Load()
		if tat == evicted || addSat(tat, margin) > now {
			return true
		}
		if b.tat.CompareAndSwap(tat, evicted) && s.detach(k.(K), b) { //nolint:forcetypeassert // 键类型固定为 K
			removed++
		}
		return true
	})
	return removed
}

// detach 仅当映射仍指向 b 时删除，保证计数只减一次
func (s *keyedStore[K]) detach(key K, b *bucket) bool {
	if s.buckets.CompareAndDelete(key, b) {
		s.size.Add(-1)
		return true
	}
	return false
}

// len 返回当前条目数
func (s *keyedStore[K]) len() int {
	return int(s.size.Load())
}
