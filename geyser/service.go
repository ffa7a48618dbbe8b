package geyser

import (
	"context"

	"github.com/golang/protobuf/ptypes/empty"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	serviceName = "geyser.Geyser"

	ListAccountsMethod            = "/geyser.Geyser/ListAccounts"
	SyncAccountsMethod            = "/geyser.Geyser/SyncAccounts"
	SubscribeAccountUpdatesMethod = "/geyser.Geyser/SubscribeAccountUpdates"
	PushAccountUpdateMethod       = "/geyser.Geyser/PushAccountUpdate"
)

// GeyserClient is the client API for the Geyser service. Connections must be
// dialed with DialOption.
type GeyserClient interface {
	ListAccounts(ctx context.Context, in *ListAccountsRequest, opts ...grpc.CallOption) (*ListAccountsResponse, error)
	SyncAccounts(ctx context.Context, in *SyncAccountsRequest, opts ...grpc.CallOption) (*SyncAccountsResponse, error)
	SubscribeAccountUpdates(ctx context.Context, in *SubscribeAccountUpdatesRequest, opts ...grpc.CallOption) (Geyser_SubscribeAccountUpdatesClient, error)
	PushAccountUpdate(ctx context.Context, in *AccountUpdate, opts ...grpc.CallOption) (*empty.Empty, error)
}

type geyserClient struct {
	cc grpc.ClientConnInterface
}

func NewGeyserClient(cc grpc.ClientConnInterface) GeyserClient {
	return &geyserClient{cc}
}

func (c *geyserClient) ListAccounts(ctx context.Context, in *ListAccountsRequest, opts ...grpc.CallOption) (*ListAccountsResponse, error) {
	out := new(ListAccountsResponse)
	if err := c.cc.Invoke(ctx, ListAccountsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *geyserClient) SyncAccounts(ctx context.Context, in *SyncAccountsRequest, opts ...grpc.CallOption) (*SyncAccountsResponse, error) {
	out := new(SyncAccountsResponse)
	if err := c.cc.Invoke(ctx, SyncAccountsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *geyserClient) SubscribeAccountUpdates(ctx context.Context, in *SubscribeAccountUpdatesRequest, opts ...grpc.CallOption) (Geyser_SubscribeAccountUpdatesClient, error) {
	stream, err := c.cc.NewStream(ctx, &Geyser_ServiceDesc.Streams[0], SubscribeAccountUpdatesMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &geyserSubscribeAccountUpdatesClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type Geyser_SubscribeAccountUpdatesClient interface {
	Recv() (*TimestampedAccountUpdate, error)
	grpc.ClientStream
}

type geyserSubscribeAccountUpdatesClient struct {
	grpc.ClientStream
}

func (x *geyserSubscribeAccountUpdatesClient) Recv() (*TimestampedAccountUpdate, error) {
	m := new(TimestampedAccountUpdate)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *geyserClient) PushAccountUpdate(ctx context.Context, in *AccountUpdate, opts ...grpc.CallOption) (*empty.Empty, error) {
	out := new(empty.Empty)
	if err := c.cc.Invoke(ctx, PushAccountUpdateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GeyserServer is the server API for the Geyser service. Servers must be
// created with ServerOption.
type GeyserServer interface {
	ListAccounts(context.Context, *ListAccountsRequest) (*ListAccountsResponse, error)
	SyncAccounts(context.Context, *SyncAccountsRequest) (*SyncAccountsResponse, error)
	SubscribeAccountUpdates(*SubscribeAccountUpdatesRequest, Geyser_SubscribeAccountUpdatesServer) error
	PushAccountUpdate(context.Context, *AccountUpdate) (*empty.Empty, error)
}

// UnimplementedGeyserServer can be embedded to have forward compatible
// implementations.
type UnimplementedGeyserServer struct{}

func (UnimplementedGeyserServer) ListAccounts(context.Context, *ListAccountsRequest) (*ListAccountsResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ListAccounts not implemented")
}

func (UnimplementedGeyserServer) SyncAccounts(context.Context, *SyncAccountsRequest) (*SyncAccountsResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SyncAccounts not implemented")
}

func (UnimplementedGeyserServer) SubscribeAccountUpdates(*SubscribeAccountUpdatesRequest, Geyser_SubscribeAccountUpdatesServer) error {
	return status.Errorf(codes.Unimplemented, "method SubscribeAccountUpdates not implemented")
}

func (UnimplementedGeyserServer) PushAccountUpdate(context.Context, *AccountUpdate) (*empty.Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method PushAccountUpdate not implemented")
}

func RegisterGeyserServer(s grpc.ServiceRegistrar, srv GeyserServer) {
	s.RegisterService(&Geyser_ServiceDesc, srv)
}

func _Geyser_ListAccounts_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListAccountsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GeyserServer).ListAccounts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListAccountsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GeyserServer).ListAccounts(ctx, req.(*ListAccountsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Geyser_SyncAccounts_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SyncAccountsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GeyserServer).SyncAccounts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SyncAccountsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GeyserServer).SyncAccounts(ctx, req.(*SyncAccountsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Geyser_SubscribeAccountUpdates_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(SubscribeAccountUpdatesRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(GeyserServer).SubscribeAccountUpdates(m, &geyserSubscribeAccountUpdatesServer{stream})
}

type Geyser_SubscribeAccountUpdatesServer interface {
	Send(*TimestampedAccountUpdate) error
	grpc.ServerStream
}

type geyserSubscribeAccountUpdatesServer struct {
	grpc.ServerStream
}

func (x *geyserSubscribeAccountUpdatesServer) Send(m *TimestampedAccountUpdate) error {
	return x.ServerStream.SendMsg(m)
}

func _Geyser_PushAccountUpdate_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AccountUpdate)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GeyserServer).PushAccountUpdate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PushAccountUpdateMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GeyserServer).PushAccountUpdate(ctx, req.(*AccountUpdate))
	}
	return interceptor(ctx, in, info, handler)
}

var Geyser_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*GeyserServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListAccounts", Handler: _Geyser_ListAccounts_Handler},
		{MethodName: "SyncAccounts", Handler: _Geyser_SyncAccounts_Handler},
		{MethodName: "PushAccountUpdate", Handler: _Geyser_PushAccountUpdate_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SubscribeAccountUpdates",
			Handler:       _Geyser_SubscribeAccountUpdates_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "geyser/geyser.proto",
}
