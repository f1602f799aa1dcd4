// Package worker is the network transport backend: a gRPC control protocol
// (IsBuilt / Build / Execute / Close) for installing and running
// compute-only programs on remote worker processes. Messages travel as gob
// over a hand-written service descriptor; there is no generated code.
package worker

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "hetr.Worker"

// WorkerServer is the control protocol surface.
type WorkerServer interface {
	IsBuilt(context.Context, *IsBuiltRequest) (*IsBuiltResponse, error)
	Build(context.Context, *BuildRequest) (*BuildResponse, error)
	Execute(context.Context, *ExecuteRequest) (*ExecuteResponse, error)
	Close(context.Context, *CloseRequest) (*CloseResponse, error)
}

// RegisterWorkerServer registers srv on a gRPC server.
func RegisterWorkerServer(s grpc.ServiceRegistrar, srv WorkerServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*WorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "IsBuilt", Handler: isBuiltHandler},
		{MethodName: "Build", Handler: buildHandler},
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "Close", Handler: closeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "worker",
}

func isBuiltHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(IsBuiltRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).IsBuilt(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/IsBuilt"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServer).IsBuilt(ctx, req.(*IsBuiltRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func buildHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(BuildRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).Build(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Build"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServer).Build(ctx, req.(*BuildRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ExecuteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Execute"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServer).Execute(ctx, req.(*ExecuteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func closeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CloseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).Close(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Close"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServer).Close(ctx, req.(*CloseRequest))
	}
	return interceptor(ctx, in, info, handler)
}
