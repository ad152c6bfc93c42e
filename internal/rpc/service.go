package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service-desc
// ServiceName is the fully qualified gRPC service name.
const ServiceName = "homeostat.v1.Homeostat"

const runMethod = "/" + ServiceName + "/Run"

// HomeostatServer is the server API. Requests carry a scenario document and
// responses a result document, both as google.protobuf.Struct.
type HomeostatServer interface {
	Run(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func runHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HomeostatServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: runMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HomeostatServer).Run(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HomeostatServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "homeostat/v1/homeostat.proto",
}

// Register attaches srv to a gRPC server.
func Register(gs *grpc.Server, srv HomeostatServer) {
	gs.RegisterService(&serviceDesc, srv)
}

// #endregion service-desc
