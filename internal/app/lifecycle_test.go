package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
	"github.com/vladislavdragonenkov/grocer/internal/notify"
	"github.com/vladislavdragonenkov/grocer/internal/service/catalog"
	grpcsvc "github.com/vladislavdragonenkov/grocer/internal/service/grpc"
	"github.com/vladislavdragonenkov/grocer/internal/service/ordering"
	"github.com/vladislavdragonenkov/grocer/internal/service/outbox"
	"github.com/vladislavdragonenkov/grocer/internal/storage/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.EventType)
	}
	return types
}

// OrderLifecycleTestSuite проверяет путь заказа через все компоненты:
// каталог, менеджер заказов, админский gRPC-сервис, уведомления и outbox.
type OrderLifecycleTestSuite struct {
	suite.Suite
	store     *memory.Store
	hub       *notify.Hub
	catalog   *catalog.Service
	orders    *ordering.Manager
	admin     *grpcsvc.AdminService
	worker    *outbox.Worker
	published *recordingPublisher
	user      domain.User
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "lifecycle-test")

	s.store = memory.NewStore()
	s.hub = notify.NewHub(notify.DefaultBufferSize, nil, logger)
	s.catalog = catalog.NewService(s.store, catalog.WithLogger(logger), catalog.WithNotifier(s.hub))
	s.orders = ordering.NewManager(s.store, s.catalog, ordering.WithLogger(logger), ordering.WithNotifier(s.hub))
	s.admin = grpcsvc.NewAdminService(s.orders, s.catalog, logger)
	s.published = &recordingPublisher{}
	s.worker = outbox.NewWorker(s.store.Repositories().Outbox, s.published, outbox.WithLogger(logger))

	user, err := s.store.Repositories().Users.Create(context.Background(), domain.User{
		Name: "Ann", Phone: "+100", Address: "Street 1",
	})
	s.Require().NoError(err)
	s.user = user
}

func (s *OrderLifecycleTestSuite) TearDownTest() {
	s.hub.Close()
}

func (s *OrderLifecycleTestSuite) createProduct(name string, stock int64, topMarket bool) domain.Product {
	product, err := s.catalog.CreateProduct(context.Background(), catalog.CreateProductInput{
		Name:        name,
		Category:    "fruits",
		Price:       decimal.NewFromInt(3),
		Stock:       stock,
		IsTopMarket: topMarket,
	})
	s.Require().NoError(err)
	return product
}

func (s *OrderLifecycleTestSuite) placePendingOrder(product domain.Product, qty int64) domain.Order {
	ctx := context.Background()
	order, err := s.orders.CreateOrder(ctx, ordering.CreateOrderInput{
		UserID:     s.user.ID,
		ProductID:  product.ID,
		Quantity:   qty,
		TotalPrice: product.Price.Mul(decimal.NewFromInt(qty)),
	})
	s.Require().NoError(err)

	confirmed, err := s.orders.ConfirmCheckout(ctx, s.user.ID, []ordering.CheckoutItem{
		{OrderID: order.ID, Quantity: qty, TotalPrice: order.TotalPrice},
	}, domain.BuyerSnapshot{})
	s.Require().NoError(err)
	s.Require().Len(confirmed, 1)
	return confirmed[0]
}

func (s *OrderLifecycleTestSuite) waitForEvent(sub *notify.Subscription, name string) {
	deadline := time.After(time.Second)
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				s.FailNow("subscription closed before " + name)
			}
			if event.Name == name {
				return
			}
		case <-deadline:
			s.FailNow("timed out waiting for " + name)
		}
	}
}

func (s *OrderLifecycleTestSuite) TestTopMarketOrderLifecycle() {
	ctx := context.Background()
	mango := s.createProduct("Mango", 5, true)
	durian := s.createProduct("Durian", 2, true)

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	// 1. Корзина с top-market товаром выкупает весь сток: текущим становится Mango.
	order := s.placePendingOrder(durian, 2)
	s.Equal(domain.OrderStatePendingAdmin, order.State())
	s.Equal("Ann", order.Buyer.Name)
	s.Equal("Street 1", order.Buyer.ShipmentAddress)
	s.waitForEvent(sub, domain.EventNewTopMarketProduct)

	top, err := s.catalog.CurrentTopMarketProduct(ctx)
	s.Require().NoError(err)
	s.Equal(mango.ID, top.ID)

	// 2. Администратор подтверждает заказ через gRPC-сервис.
	pending, err := s.admin.ListPendingOrders(ctx, nil)
	s.Require().NoError(err)
	s.Len(pending.GetValues(), 1)

	_, err = s.admin.ConfirmOrder(ctx, wrapperspb.Int64(order.ID))
	s.Require().NoError(err)
	s.waitForEvent(sub, domain.EventOrderConfirmed)

	orders, err := s.orders.ListUserOrders(ctx, s.user.ID)
	s.Require().NoError(err)
	s.Require().Len(orders, 1)
	s.Equal(domain.OrderStateConfirmed, orders[0].State())

	// 3. Outbox доставляет интеграционные события в порядке записи.
	s.Positive(s.worker.ProcessOnce(ctx))
	types := s.published.eventTypes()
	s.Contains(types, domain.OutboxEventOrderCreated)
	s.Contains(types, domain.OutboxEventOrderCheckoutConfirmed)
	s.Contains(types, domain.OutboxEventTopMarketChanged)
	s.Equal(domain.OutboxEventOrderConfirmed, types[len(types)-1])

	stats, err := s.store.Repositories().Outbox.Stats(ctx)
	s.Require().NoError(err)
	s.Zero(stats.PendingCount)
}

func (s *OrderLifecycleTestSuite) TestAdminCancellationReleasesTopMarketStock() {
	ctx := context.Background()
	durian := s.createProduct("Durian", 4, true)
	order := s.placePendingOrder(durian, 3)

	_, err := s.admin.CancelOrder(ctx, wrapperspb.Int64(order.ID))
	s.Require().NoError(err)

	orders, err := s.orders.ListUserOrders(ctx, s.user.ID)
	s.Require().NoError(err)
	s.Empty(orders)

	product, err := s.catalog.GetProduct(ctx, durian.ID)
	s.Require().NoError(err)
	s.Equal(int64(4), product.Stock)

	s.Positive(s.worker.ProcessOnce(ctx))
	types := s.published.eventTypes()
	s.Equal(domain.OutboxEventOrderCanceled, types[len(types)-1])
}

func (s *OrderLifecycleTestSuite) TestRegularProductOrderNeverTouchesStock() {
	ctx := context.Background()
	apple := s.createProduct("Apple", 1, false)
	order := s.placePendingOrder(apple, 10)

	product, err := s.catalog.GetProduct(ctx, apple.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), product.Stock)

	_, err = s.admin.ConfirmOrder(ctx, wrapperspb.Int64(order.ID))
	s.Require().NoError(err)
	_, err = s.admin.ConfirmOrder(ctx, wrapperspb.Int64(order.ID))
	s.Error(err)
}

func (s *OrderLifecycleTestSuite) TestDeletedProductTakesOrdersWithIt() {
	ctx := context.Background()
	apple := s.createProduct("Apple", 5, false)
	s.placePendingOrder(apple, 1)

	s.Require().NoError(s.catalog.DeleteProduct(ctx, apple.ID))

	orders, err := s.orders.ListPendingAdminOrders(ctx)
	s.Require().NoError(err)
	s.Empty(orders)
}

func TestOrderLifecycle(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
