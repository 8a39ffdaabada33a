package xgovernor

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// grpcRequest 将 gRPC 调用上下文适配为 Request
type grpcRequest struct {
	method string
	remote string
	md     metadata.MD
}

// GRPCRequest 从调用上下文构造 Request
// Method 为完整方法名（如 /pkg.Service/Call），RemoteAddr 来自 peer，Header 读取 incoming metadata
func GRPCRequest(ctx context.Context, fullMethod string) Request {
	r := grpcRequest{method: fullMethod}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		r.remote = p.Addr.String()
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		r.md = md
	}
	return r
}

func (r grpcRequest) Method() string {
	return r.method
}

func (r grpcRequest) RemoteAddr() string {
	return r.remote
}

func (r grpcRequest) Header(name string) string {
	if values := r.md.Get(name); len(values) > 0 {
		return values[0]
	}
	return ""
}

// gate 执行判定并转换为 gRPC 状态
// 诊断信息作为响应 header 发送，拒绝时额外写入 trailer
func (g *Governor[K]) gate(ctx context.Context, fullMethod string) error {
	d, err := g.Check(ctx, GRPCRequest(ctx, fullMethod))
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	md := grpcMetadata(d.Metadata)
	if !d.Allowed {
		if len(md) > 0 {
			// 拒绝时 handler 不会执行，诊断信息随状态写入 trailer
			_ = grpc.SetTrailer(ctx, md)
		}
		return status.Error(codes.ResourceExhausted, d.Err().Error())
	}

	if len(md) > 0 {
		_ = grpc.SetHeader(ctx, md)
	}
	return nil
}

// grpcMetadata 把诊断信息转换为小写 metadata 键
func grpcMetadata(m Metadata) metadata.MD {
	headers := m.Headers()
	if len(headers) == 0 {
		return nil
	}
	md := make(metadata.MD, len(headers))
	for k, v := range headers {
		md.Set(k, v)
	}
	return md
}

// UnaryServerInterceptor 创建 gRPC 一元服务端拦截器
//
// 拒绝返回 codes.ResourceExhausted，键提取失败返回 codes.InvalidArgument。
//
// 示例:
//
//	cfg, _ := xgovernor.NewBuilder[xgovernor.GlobalKey](xgovernor.GlobalKeyExtractor{}).Finish()
//	gov, _ := xgovernor.New(cfg)
//	server := grpc.NewServer(grpc.UnaryInterceptor(gov.UnaryServerInterceptor()))
func (g *Governor[K]) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := g.gate(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor 创建 gRPC 流式服务端拦截器，每个流只检查一次
func (g *Governor[K]) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := g.gateStream(ss, info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

// gateStream 流式调用没有 grpc.SetHeader 可用的上下文，通过 ServerStream 写 metadata
func (g *Governor[K]) gateStream(ss grpc.ServerStream, fullMethod string) error {
	ctx := ss.Context()
	d, err := g.Check(ctx, GRPCRequest(ctx, fullMethod))
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	md := grpcMetadata(d.Metadata)
	if !d.Allowed {
		if len(md) > 0 {
			ss.SetTrailer(md)
		}
		return status.Error(codes.ResourceExhausted, d.Err().Error())
	}
	if len(md) > 0 {
		if err := ss.SetHeader(md); err != nil {
			return err
		}
	}
	return nil
}

// RetryAfterFromTrailer 从拒绝的 gRPC trailer 中读取 retry-after 秒数，客户端使用
func RetryAfterFromTrailer(trailer metadata.MD) (int64, bool) {
	values := trailer.Get(HeaderRetryAfter)
	if len(values) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(values[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
