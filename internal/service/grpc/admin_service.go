// Package grpcsvc содержит gRPC back office администратора поверх сервисов заказов и каталога.
package grpcsvc

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
)

// Orders: операции заказов, доступные администратору.
type Orders interface {
	ConfirmOrder(ctx context.Context, orderID int64) error
	CancelOrder(ctx context.Context, orderID int64) error
	ListPendingAdminOrders(ctx context.Context) ([]domain.OrderWithProduct, error)
}

// Catalog: операции каталога, доступные администратору.
type Catalog interface {
	PromoteNextTopMarketProduct(ctx context.Context, depletedID int64) (domain.Product, error)
}

// AdminService реализует grocer.admin.v1.AdminService.
type AdminService struct {
	orders  Orders
	catalog Catalog
	logger  *log.Entry
}

// NewAdminService конструирует сервис с зависимостями.
func NewAdminService(orders Orders, catalog Catalog, logger *log.Entry) *AdminService {
	if logger == nil {
		logger = log.WithField("component", "grpc-admin")
	}
	return &AdminService{orders: orders, catalog: catalog, logger: logger}
}

// ConfirmOrder подтверждает заказ, ожидающий администратора.
func (s *AdminService) ConfirmOrder(ctx context.Context, req *wrapperspb.Int64Value) (*emptypb.Empty, error) {
	orderID, err := requireID(req, "order id")
	if err != nil {
		return nil, err
	}
	if err := s.orders.ConfirmOrder(ctx, orderID); err != nil {
		return nil, s.toStatus("admin.confirm_order", err)
	}
	return &emptypb.Empty{}, nil
}

// CancelOrder отменяет заказ, ожидающий администратора.
func (s *AdminService) CancelOrder(ctx context.Context, req *wrapperspb.Int64Value) (*emptypb.Empty, error) {
	orderID, err := requireID(req, "order id")
	if err != nil {
		return nil, err
	}
	if err := s.orders.CancelOrder(ctx, orderID); err != nil {
		return nil, s.toStatus("admin.cancel_order", err)
	}
	return &emptypb.Empty{}, nil
}

// ListPendingOrders возвращает заказы в состоянии pending_admin как список структур.
func (s *AdminService) ListPendingOrders(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	orders, err := s.orders.ListPendingAdminOrders(ctx)
	if err != nil {
		return nil, s.toStatus("admin.list_pending_orders", err)
	}

	values := make([]any, 0, len(orders))
	for _, o := range orders {
		values = append(values, map[string]any{
			"id":               o.ID,
			"userId":           o.UserID,
			"quantity":         o.Quantity,
			"totalPrice":       o.TotalPrice.String(),
			"buyerName":        o.Buyer.Name,
			"buyerPhoneNumber": o.Buyer.Phone,
			"shipmentAddress":  o.Buyer.ShipmentAddress,
			"orderTime":        o.OrderTime.UTC().Format(time.RFC3339),
			"state":            string(o.State()),
			"productId":        o.Product.ID,
			"productName":      o.Product.Name,
		})
	}
	list, err := structpb.NewList(values)
	if err != nil {
		return nil, s.toStatus("admin.list_pending_orders", domain.Internal("admin.list_pending_orders", err))
	}
	return list, nil
}

// PromoteTopMarket назначает следующий top-market товар вместо указанного.
func (s *AdminService) PromoteTopMarket(ctx context.Context, req *wrapperspb.Int64Value) (*structpb.Struct, error) {
	depletedID, err := requireID(req, "product id")
	if err != nil {
		return nil, err
	}
	product, err := s.catalog.PromoteNextTopMarketProduct(ctx, depletedID)
	if err != nil {
		return nil, s.toStatus("admin.promote_top_market", err)
	}

	result, err := structpb.NewStruct(map[string]any{
		"id":    product.ID,
		"name":  product.Name,
		"price": product.Price.String(),
		"stock": product.Stock,
	})
	if err != nil {
		return nil, s.toStatus("admin.promote_top_market", domain.Internal("admin.promote_top_market", err))
	}
	s.logger.WithField("product_id", product.ID).Info("top-market product promoted via admin rpc")
	return result, nil
}

func requireID(req *wrapperspb.Int64Value, name string) (int64, error) {
	if req == nil || req.GetValue() <= 0 {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be positive", name)
	}
	return req.GetValue(), nil
}

// toStatus переводит доменную ошибку в gRPC-статус. Причина внутренних ошибок остаётся в логах.
func (s *AdminService) toStatus(op string, err error) error {
	switch {
	case domain.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case domain.IsUnauthorized(err):
		return status.Error(codes.PermissionDenied, err.Error())
	case domain.IsInvalidState(err):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	entry := s.logger.WithError(err).WithField("op", op)
	var opErr *domain.OperationError
	if errors.As(err, &opErr) {
		entry = entry.WithField("cause", opErr.Cause)
	}
	entry.Error("admin rpc failed")
	return status.Error(codes.Internal, "internal error")
}
