package xgovernor

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// =============================================================================
// 预定义错误
// =============================================================================

// 预定义错误，使用 errors.Is 进行比较
var (
	// ErrInvalidQuota 表示配额无效（period 或 burst 为零）
	ErrInvalidQuota = errors.New("xgovernor: invalid quota")

	// ErrNilConfig 表示传入的配置为 nil
	ErrNilConfig = errors.New("xgovernor: nil config")

	// ErrNilExtractor 表示未设置键提取器
	ErrNilExtractor = errors.New("xgovernor: nil key extractor")

	// ErrMissingAddress 表示请求中无法获得对端地址
	ErrMissingAddress = errors.New("xgovernor: missing peer address")

	// ErrMissingHeader 表示请求中缺少用于提取键的 header
	ErrMissingHeader = errors.New("xgovernor: missing key header")

	// ErrRateLimited 表示请求被限流
	ErrRateLimited = errors.New("xgovernor: rate limited")

	// ErrInvalidConfig 表示文件配置无效
	ErrInvalidConfig = errors.New("xgovernor: invalid config")
)

// =============================================================================
// 键提取错误
// =============================================================================

// ExtractionError 键提取失败
//
// 与限流拒绝不同，键提取失败是请求级错误：既不视为放行也不视为拒绝，
// 由调用方转换为客户端错误响应。
type ExtractionError struct {
	// Extractor 出错的提取器名称
	Extractor string
	// Status 建议的 HTTP 状态码，默认 400
	Status int
	// Err 底层原因，如 ErrMissingAddress
	Err error
}

// Error 实现 error 接口
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("xgovernor: key extraction failed (%s): %v", e.Extractor, e.Err)
}

// Unwrap 返回底层错误
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// StatusCode 返回建议的 HTTP 状态码
func (e *ExtractionError) StatusCode() int {
	if e.Status == 0 {
		return http.StatusBadRequest
	}
	return e.Status
}

// newExtractionError 构造默认状态码的提取错误
func newExtractionError(extractor string, err error) *ExtractionError {
	return &ExtractionError{
		Extractor: extractor,
		Status:    http.StatusBadRequest,
		Err:       err,
	}
}

// =============================================================================
// 限流错误
// =============================================================================

// LimitError 限流错误
//
// 拒绝本身是正常的 Decision 结果，LimitError 仅为需要 error 语义的调用方
// （如 gRPC 拦截器）提供视图。
type LimitError struct {
	// Limit 配额上限（burst）
	Limit uint32
	// RetryAfter 建议重试等待时间
	RetryAfter time.Duration
}

// Error 实现 error 接口
func (e *LimitError) Error() string {
	return fmt.Sprintf("xgovernor: too many requests, retry in %ds", ceilSeconds(e.RetryAfter))
}

// Is 支持 errors.Is 检查
func (e *LimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Unwrap 返回底层错误
func (e *LimitError) Unwrap() error {
	return ErrRateLimited
}

// IsDenied 检查错误是否为限流错误
func IsDenied(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsExtractionError 检查错误是否为键提取错误
func IsExtractionError(err error) bool {
	var extractErr *ExtractionError
	return errors.As(err, &extractErr)
}

// ceilSeconds 将时长向上取整为秒
//
// 设计决策: 亚秒级等待向上取整，避免被截断为 0 导致客户端立即重试。
func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
