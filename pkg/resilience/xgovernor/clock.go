package xgovernor

import "time"

// Clock 提供当前时间，测试中可替换
//
// 实现必须返回单调递增的时间。标准库 time.Now 自带单调时钟读数，
// Limiter 只对 Now 的差值做运算，墙上时钟调整不会影响配额。
type Clock interface {
	Now() time.Time
}

// systemClock 使用 time.Now
type systemClock struct{}

// Now 返回当前时间
func (systemClock) Now() time.Time {
	return time.Now()
}
