package xgovernor

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newTestLimiter 使用假时钟创建限流器
func newTestLimiter[K comparable](t *testing.T, period time.Duration, burst uint32, opts ...LimiterOption) (*Limiter[K], *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	quota, err := NewQuota(period, burst)
	if err != nil {
		t.Fatalf("NewQuota() error = %v", err)
	}
	l, err := NewLimiter[K](quota, append([]LimiterOption{WithClock(clock)}, opts...)...)
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}
	return l, clock
}
