package admin

import (
	"context"

	"google.golang.org/grpc"
)

// AdminServiceServer is implemented by Server below; the split mirrors
// the teacher's generated pb.<X>ServiceServer interfaces so the
// handler-registration plumbing in serviceDesc stays structurally
// identical to protoc-gen-go-grpc output.
type AdminServiceServer interface {
	GetSystemStatus(context.Context, *GetSystemStatusRequest) (*GetSystemStatusResponse, error)
	ListControllers(context.Context, *ListControllersRequest) (*ListControllersResponse, error)
	ListMTPs(context.Context, *ListMTPsRequest) (*ListMTPsResponse, error)
	ListSubscriptions(context.Context, *ListSubscriptionsRequest) (*ListSubscriptionsResponse, error)
	TriggerReconnect(context.Context, *TriggerReconnectRequest) (*TriggerReconnectResponse, error)
	DBDump(context.Context, *DBDumpRequest) (*DBDumpResponse, error)
}

// RegisterAdminServiceServer attaches srv's methods to s under the
// admin service's method table.
func RegisterAdminServiceServer(s *grpc.Server, srv AdminServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func adminHandler(
	newReq func() any,
	call func(srv AdminServiceServer, ctx context.Context, req any) (any, error),
	fullMethod string,
) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AdminServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AdminServiceServer), ctx, req)
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "uspagent.admin.AdminService",
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetSystemStatus",
			Handler: adminHandler(
				func() any { return new(GetSystemStatusRequest) },
				func(srv AdminServiceServer, ctx context.Context, req any) (any, error) {
					return srv.GetSystemStatus(ctx, req.(*GetSystemStatusRequest))
				},
				"/uspagent.admin.AdminService/GetSystemStatus",
			),
		},
		{
			MethodName: "ListControllers",
			Handler: adminHandler(
				func() any { return new(ListControllersRequest) },
				func(srv AdminServiceServer, ctx context.Context, req any) (any, error) {
					return srv.ListControllers(ctx, req.(*ListControllersRequest))
				},
				"/uspagent.admin.AdminService/ListControllers",
			),
		},
		{
			MethodName: "ListMTPs",
			Handler: adminHandler(
				func() any { return new(ListMTPsRequest) },
				func(srv AdminServiceServer, ctx context.Context, req any) (any, error) {
					return srv.ListMTPs(ctx, req.(*ListMTPsRequest))
				},
				"/uspagent.admin.AdminService/ListMTPs",
			),
		},
		{
			MethodName: "ListSubscriptions",
			Handler: adminHandler(
				func() any { return new(ListSubscriptionsRequest) },
				func(srv AdminServiceServer, ctx context.Context, req any) (any, error) {
					return srv.ListSubscriptions(ctx, req.(*ListSubscriptionsRequest))
				},
				"/uspagent.admin.AdminService/ListSubscriptions",
			),
		},
		{
			MethodName: "TriggerReconnect",
			Handler: adminHandler(
				func() any { return new(TriggerReconnectRequest) },
				func(srv AdminServiceServer, ctx context.Context, req any) (any, error) {
					return srv.TriggerReconnect(ctx, req.(*TriggerReconnectRequest))
				},
				"/uspagent.admin.AdminService/TriggerReconnect",
			),
		},
		{
			MethodName: "DBDump",
			Handler: adminHandler(
				func() any { return new(DBDumpRequest) },
				func(srv AdminServiceServer, ctx context.Context, req any) (any, error) {
					return srv.DBDump(ctx, req.(*DBDumpRequest))
				},
				"/uspagent.admin.AdminService/DBDump",
			),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/admin/admin.proto",
}
