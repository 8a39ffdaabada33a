package main

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/omeyang/xgovern/pkg/observability/xlog"
)

// headerRequestID 请求 ID 头，上游与客户端都能看到同一个值
const headerRequestID = "X-Request-Id"

// withRequestID 为缺少请求 ID 的请求生成一个，回写到响应头并放入 context
// 位于门面之前，限流与代理日志因此带有 request_id，可与客户端看到的值对应。
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(xlog.ContextWithRequestID(r.Context(), id)))
	})
}
