package xgovernor

import "net/http"

// Request 限流门面可见的请求视图
//
// 键提取器和方法过滤只通过该接口读取请求，HTTP 与 gRPC 各自提供适配。
type Request interface {
	// Method 返回请求方法；HTTP 为 GET/POST 等，gRPC 为完整方法名
	Method() string

	// RemoteAddr 返回对端地址（host:port 或 host），未知时返回空字符串
	RemoteAddr() string

	// Header 返回指定 header / metadata 的第一个值
	Header(name string) string
}

// httpRequest 将 *http.Request 适配为 Request
type httpRequest struct {
	r *http.Request
}

// HTTPRequest 把 *http.Request 包装成 Request
func HTTPRequest(r *http.Request) Request {
	return httpRequest{r: r}
}

func (h httpRequest) Method() string {
	return h.r.Method
}

func (h httpRequest) RemoteAddr() string {
	return h.r.RemoteAddr
}

func (h httpRequest) Header(name string) string {
	return h.r.Header.Get(name)
}
