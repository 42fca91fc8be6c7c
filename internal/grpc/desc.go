package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified name of the admin service.
const ServiceName = "racesync.admin.v1.RaceAdmin"

const (
	listRoomsMethod    = "/" + ServiceName + "/ListRooms"
	watchResultsMethod = "/" + ServiceName + "/WatchResults"
)

// RaceAdminServiceDesc describes the admin service using protobuf well-known
// types for every message, so no generated code is required.
var RaceAdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RaceAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListRooms", Handler: listRoomsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchResults", Handler: watchResultsHandler, ServerStreams: true},
	},
	Metadata: "racesync/admin/v1/admin.proto",
}

// RegisterRaceAdminServer attaches srv to the registrar.
func RegisterRaceAdminServer(registrar grpc.ServiceRegistrar, srv RaceAdminServer) {
	registrar.RegisterService(&RaceAdminServiceDesc, srv)
}

func listRoomsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaceAdminServer).ListRooms(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listRoomsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RaceAdminServer).ListRooms(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func watchResultsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RaceAdminServer).WatchResults(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// RaceAdminClient calls the admin service.
type RaceAdminClient struct {
	cc grpc.ClientConnInterface
}

// NewRaceAdminClient wraps a client connection.
func NewRaceAdminClient(cc grpc.ClientConnInterface) *RaceAdminClient {
	return &RaceAdminClient{cc: cc}
}

// ListRooms fetches the live room overview.
func (c *RaceAdminClient) ListRooms(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listRoomsMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchResults opens the finished race stream.
func (c *RaceAdminClient) WatchResults(ctx context.Context, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &RaceAdminServiceDesc.Streams[0], watchResultsMethod, opts...)
	if err != nil {
		return nil, err
	}
	client := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := client.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := client.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return client, nil
}
