package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified name of the functions service.
const ServiceName = "cloudcode.v1.Functions"

// Full method names.
const (
	InvokeMethod    = "/" + ServiceName + "/Invoke"
	StartJobMethod  = "/" + ServiceName + "/StartJob"
	GetJobRunMethod = "/" + ServiceName + "/GetJobRun"
)

// FunctionsServer is the server API of cloudcode.v1.Functions. Messages
// are google.protobuf.Struct:
//
//	Invoke    {name, params}  -> {success} | {code, error}
//	StartJob  {name, params}  -> {jobStatusId}
//	GetJobRun {id}            -> job status
type FunctionsServer interface {
	Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	StartJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetJobRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(fullMethod string, call func(FunctionsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FunctionsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(FunctionsServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var functionsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FunctionsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: unaryHandler(InvokeMethod, FunctionsServer.Invoke)},
		{MethodName: "StartJob", Handler: unaryHandler(StartJobMethod, FunctionsServer.StartJob)},
		{MethodName: "GetJobRun", Handler: unaryHandler(GetJobRunMethod, FunctionsServer.GetJobRun)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cloudcode/v1/functions.proto",
}

// RegisterFunctionsServer registers srv on s.
func RegisterFunctionsServer(s grpc.ServiceRegistrar, srv FunctionsServer) {
	s.RegisterService(&functionsServiceDesc, srv)
}
