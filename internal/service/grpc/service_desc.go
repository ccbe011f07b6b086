package grpcsvc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName: полное имя gRPC-сервиса администратора.
const ServiceName = "grocer.admin.v1.AdminService"

// Полные имена методов.
const (
	MethodConfirmOrder      = "/" + ServiceName + "/ConfirmOrder"
	MethodCancelOrder       = "/" + ServiceName + "/CancelOrder"
	MethodListPendingOrders = "/" + ServiceName + "/ListPendingOrders"
	MethodPromoteTopMarket  = "/" + ServiceName + "/PromoteTopMarket"
)

// RoleMetadataKey: ключ метаданных с ролью вызывающего.
const RoleMetadataKey = "x-user-role"

// AdminServer: серверная сторона AdminService.
type AdminServer interface {
	ConfirmOrder(context.Context, *wrapperspb.Int64Value) (*emptypb.Empty, error)
	CancelOrder(context.Context, *wrapperspb.Int64Value) (*emptypb.Empty, error)
	ListPendingOrders(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	PromoteTopMarket(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
}

var _ AdminServer = (*AdminService)(nil)

// ServiceDesc описывает AdminService для grpc.Server. Сообщения: well-known типы protobuf.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ConfirmOrder", Handler: confirmOrderHandler},
		{MethodName: "CancelOrder", Handler: cancelOrderHandler},
		{MethodName: "ListPendingOrders", Handler: listPendingOrdersHandler},
		{MethodName: "PromoteTopMarket", Handler: promoteTopMarketHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: adminProtoPath,
}

// RegisterAdminServer регистрирует реализацию на сервере.
func RegisterAdminServer(registrar grpc.ServiceRegistrar, srv AdminServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

func confirmOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.Int64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).ConfirmOrder(ctx, req.(*wrapperspb.Int64Value))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodConfirmOrder}, call)
}

func cancelOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.Int64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).CancelOrder(ctx, req.(*wrapperspb.Int64Value))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodCancelOrder}, call)
}

func listPendingOrdersHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).ListPendingOrders(ctx, req.(*emptypb.Empty))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodListPendingOrders}, call)
}

func promoteTopMarketHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.Int64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).PromoteTopMarket(ctx, req.(*wrapperspb.Int64Value))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodPromoteTopMarket}, call)
}

// RequireAdmin пропускает вызовы AdminService только с ролью admin в метаданных.
// Остальные сервисы (health, reflection) не затрагиваются.
func RequireAdmin() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		for _, role := range md.Get(RoleMetadataKey) {
			if strings.EqualFold(strings.TrimSpace(role), "admin") {
				return handler(ctx, req)
			}
		}
		return nil, status.Error(codes.PermissionDenied, "admin role required")
	}
}

// AdminClient: клиент AdminService поверх grpc.ClientConnInterface.
type AdminClient struct {
	cc grpc.ClientConnInterface
}

// NewAdminClient создаёт клиента.
func NewAdminClient(cc grpc.ClientConnInterface) *AdminClient {
	return &AdminClient{cc: cc}
}

func (c *AdminClient) ConfirmOrder(ctx context.Context, orderID int64, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, MethodConfirmOrder, wrapperspb.Int64(orderID), new(emptypb.Empty), opts...)
}

func (c *AdminClient) CancelOrder(ctx context.Context, orderID int64, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, MethodCancelOrder, wrapperspb.Int64(orderID), new(emptypb.Empty), opts...)
}

func (c *AdminClient) ListPendingOrders(ctx context.Context, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, MethodListPendingOrders, new(emptypb.Empty), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdminClient) PromoteTopMarket(ctx context.Context, depletedID int64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodPromoteTopMarket, wrapperspb.Int64(depletedID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
