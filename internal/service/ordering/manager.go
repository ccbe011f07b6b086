package ordering

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
	"github.com/vladislavdragonenkov/grocer/internal/metrics"
	"github.com/vladislavdragonenkov/grocer/internal/service/catalog"
)

// Catalog: то, что менеджеру нужно от каталога.
type Catalog interface {
	Ledger(products domain.ProductRepository) *catalog.Ledger
	InvalidateCache(ctx context.Context)
}

// Options задаёт зависимости менеджера заказов.
type Options struct {
	Logger   *log.Entry
	Notifier domain.Notifier
	Metrics  *metrics.ShopMetrics
	Clock    func() time.Time
}

// Option настраивает Manager.
type Option func(*Options)

// WithLogger задаёт logger менеджера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithNotifier задаёт канал уведомлений.
func WithNotifier(notifier domain.Notifier) Option {
	return func(opts *Options) { opts.Notifier = notifier }
}

// WithMetrics задаёт бизнес-метрики.
func WithMetrics(m *metrics.ShopMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithClock подменяет источник времени (для тестов).
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) { opts.Clock = clock }
}

// Manager управляет жизненным циклом заказа:
// CART -> PENDING_ADMIN -> CONFIRMED, отмена и удаление: удаление строки.
// Все изменения стока идут через catalog.Ledger в той же транзакции, что и заказ.
type Manager struct {
	storage  domain.Storage
	catalog  Catalog
	notifier domain.Notifier
	metrics  *metrics.ShopMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewManager создаёт менеджер заказов.
func NewManager(storage domain.Storage, catalog Catalog, options ...Option) *Manager {
	var opts Options
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "order-manager")
	}
	if opts.Notifier == nil {
		opts.Notifier = domain.NopNotifier{}
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		storage:  storage,
		catalog:  catalog,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Clock,
	}
}

// CreateOrderInput: добавление товара в корзину.
type CreateOrderInput struct {
	UserID     int64
	ProductID  int64
	Quantity   int64
	TotalPrice decimal.Decimal
}

// CheckoutItem: позиция подтверждения корзины.
type CheckoutItem struct {
	OrderID    int64
	Quantity   int64
	TotalPrice decimal.Decimal
}

// stockEvent: изменение стока, о котором нужно сообщить клиентам после коммита.
type stockEvent struct {
	productID int64
	stock     int64
	current   bool
	promoted  *domain.Product
}

// CreateOrder кладёт товар в корзину. Для top-market товара сток
// резервируется в той же транзакции: при ошибке заказ не создаётся.
func (m *Manager) CreateOrder(ctx context.Context, in CreateOrderInput) (order domain.Order, err error) {
	const op = "orders.create"
	defer m.observe(op, time.Now(), &err)

	if in.Quantity <= 0 {
		return domain.Order{}, domain.ErrQuantityInvalid
	}
	if in.TotalPrice.IsNegative() {
		return domain.Order{}, domain.ErrPriceInvalid
	}

	var events []stockEvent
	err = m.storage.Atomic(ctx, func(ctx context.Context, tx domain.Repositories) error {
		events = nil
		user, err := tx.Users.Get(ctx, in.UserID)
		if err != nil {
			return err
		}
		product, err := tx.Products.Get(ctx, in.ProductID)
		if err != nil {
			return err
		}

		if product.IsTopMarket {
			change, err := m.catalog.Ledger(tx.Products).ReserveStock(ctx, product.ID, in.Quantity)
			if err != nil {
				return err
			}
			event := stockEvent{productID: product.ID, stock: change.NewStock(), current: true, promoted: change.Promoted}
			if change.Promoted != nil {
				if err := enqueueTopMarketChanged(ctx, tx.Outbox, *change.Promoted); err != nil {
					return err
				}
			}
			events = append(events, event)
		}

		created, err := tx.Orders.Create(ctx, domain.Order{
			UserID:     user.ID,
			ProductID:  product.ID,
			Quantity:   in.Quantity,
			TotalPrice: in.TotalPrice,
			Buyer:      user.Snapshot(),
			OrderTime:  m.now(),
		})
		if err != nil {
			return err
		}
		order = created
		return enqueueOrderEvent(ctx, tx.Outbox, created.ID, domain.OutboxEventOrderCreated, map[string]any{
			"user_id":    created.UserID,
			"product_id": created.ProductID,
			"quantity":   created.Quantity,
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	m.metrics.RecordOrderTransition(metrics.TransitionCreated)
	m.announce(ctx, events)
	m.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"user_id":    order.UserID,
		"product_id": order.ProductID,
	}).Info("order added to cart")
	return order, nil
}

// ListCartOrders возвращает заказы пользователя в корзине.
func (m *Manager) ListCartOrders(ctx context.Context, userID int64) (orders []domain.OrderWithProduct, err error) {
	const op = "orders.list_cart"
	defer m.observe(op, time.Now(), &err)
	return m.storage.Repositories().Orders.List(ctx, domain.CartFilter(userID))
}

// ListUserOrders возвращает оформленные пользователем заказы.
func (m *Manager) ListUserOrders(ctx context.Context, userID int64) (orders []domain.OrderWithProduct, err error) {
	const op = "orders.list_user"
	defer m.observe(op, time.Now(), &err)
	return m.storage.Repositories().Orders.List(ctx, domain.UserOrdersFilter(userID))
}

// ListPendingAdminOrders возвращает заказы, ожидающие решения администратора.
func (m *Manager) ListPendingAdminOrders(ctx context.Context) (orders []domain.OrderWithProduct, err error) {
	const op = "orders.list_pending_admin"
	defer m.observe(op, time.Now(), &err)
	return m.storage.Repositories().Orders.List(ctx, domain.PendingAdminFilter())
}

// ConfirmCheckout переводит заказы корзины в PENDING_ADMIN.
// Сначала проверяются все позиции (существование, владелец, состояние),
// затем в одной транзакции применяются изменения. Пустые поля покупателя
// берутся из актуального профиля.
func (m *Manager) ConfirmCheckout(ctx context.Context, userID int64, items []CheckoutItem, buyer domain.BuyerSnapshot) (confirmed []domain.Order, err error) {
	const op = "orders.confirm_checkout"
	defer m.observe(op, time.Now(), &err)

	if len(items) == 0 {
		return nil, domain.ErrCheckoutEmpty
	}

	var events []stockEvent
	err = m.storage.Atomic(ctx, func(ctx context.Context, tx domain.Repositories) error {
		events = nil
		ids := make([]int64, 0, len(items))
		seen := make(map[int64]struct{}, len(items))
		for _, item := range items {
			if _, dup := seen[item.OrderID]; dup {
				return domain.ErrDuplicateCheckoutItem
			}
			seen[item.OrderID] = struct{}{}
			if item.Quantity <= 0 {
				return domain.ErrQuantityInvalid
			}
			if item.TotalPrice.IsNegative() {
				return domain.ErrPriceInvalid
			}
			ids = append(ids, item.OrderID)
		}

		locked, err := m.lockOrders(ctx, tx, ids...)
		if err != nil {
			return err
		}
		orders := make([]domain.Order, len(items))
		for i, item := range items {
			order := locked[item.OrderID]
			if order.UserID != userID {
				return domain.ErrNotOrderOwner
			}
			if order.State() != domain.OrderStateCart {
				return domain.ErrOrderNotInCart
			}
			orders[i] = order
		}

		user, err := tx.Users.Get(ctx, userID)
		if err != nil {
			return err
		}
		snapshot := mergeSnapshot(buyer, user.Snapshot())
		now := m.now()
		ledger := m.catalog.Ledger(tx.Products)

		confirmed = make([]domain.Order, 0, len(orders))
		for i, order := range orders {
			item := items[i]
			event, changed, err := m.adjustStock(ctx, tx, ledger, order, item.Quantity)
			if err != nil {
				return err
			}
			if changed {
				events = append(events, event)
			}

			order.Quantity = item.Quantity
			order.TotalPrice = item.TotalPrice
			order.Buyer = snapshot
			order.OrderTime = now
			order.ConfirmedByUser = true
			if err := tx.Orders.Update(ctx, order); err != nil {
				return err
			}
			if err := enqueueOrderEvent(ctx, tx.Outbox, order.ID, domain.OutboxEventOrderCheckoutConfirmed, map[string]any{
				"user_id":     order.UserID,
				"quantity":    order.Quantity,
				"total_price": order.TotalPrice.String(),
			}); err != nil {
				return err
			}
			confirmed = append(confirmed, order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for range confirmed {
		m.metrics.RecordOrderTransition(metrics.TransitionCheckoutConfirmed)
	}
	m.announce(ctx, events)
	m.logger.WithFields(log.Fields{
		"user_id": userID,
		"orders":  len(confirmed),
	}).Info("checkout confirmed")
	return confirmed, nil
}

// adjustStock приводит резерв top-market товара к новому количеству из корзины.
func (m *Manager) adjustStock(ctx context.Context, tx domain.Repositories, ledger *catalog.Ledger, order domain.Order, quantity int64) (stockEvent, bool, error) {
	delta := quantity - order.Quantity
	if delta == 0 {
		return stockEvent{}, false, nil
	}
	product, err := tx.Products.Get(ctx, order.ProductID)
	if err != nil {
		return stockEvent{}, false, err
	}
	if !product.IsTopMarket {
		return stockEvent{}, false, nil
	}

	if delta > 0 {
		change, err := ledger.ReserveStock(ctx, product.ID, delta)
		if err != nil {
			return stockEvent{}, false, err
		}
		if change.Promoted != nil {
			if err := enqueueTopMarketChanged(ctx, tx.Outbox, *change.Promoted); err != nil {
				return stockEvent{}, false, err
			}
		}
		return stockEvent{productID: product.ID, stock: change.NewStock(), current: true, promoted: change.Promoted}, true, nil
	}

	stock, err := ledger.ReleaseStock(ctx, product.ID, -delta)
	if err != nil {
		return stockEvent{}, false, err
	}
	return stockEvent{productID: product.ID, stock: stock, current: product.IsCurrentTopMarket}, true, nil
}

// DeleteOrder удаляет заказ из корзины владельца и возвращает сток top-market товара.
func (m *Manager) DeleteOrder(ctx context.Context, orderID, userID int64) (err error) {
	const op = "orders.delete"
	defer m.observe(op, time.Now(), &err)

	var events []stockEvent
	err = m.storage.Atomic(ctx, func(ctx context.Context, tx domain.Repositories) error {
		events = nil
		locked, err := m.lockOrders(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order := locked[orderID]
		if order.UserID != userID {
			return domain.ErrNotOrderOwner
		}
		if order.State() != domain.OrderStateCart {
			return domain.ErrOrderNotInCart
		}

		event, released, err := m.removeOrder(ctx, tx, order, domain.OutboxEventOrderDeleted)
		if err != nil {
			return err
		}
		if released {
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.metrics.RecordOrderTransition(metrics.TransitionDeleted)
	m.announce(ctx, events)
	m.logger.WithFields(log.Fields{"order_id": orderID, "user_id": userID}).Info("order deleted")
	return nil
}

// ConfirmOrder: решение администратора: заказ подтверждён.
func (m *Manager) ConfirmOrder(ctx context.Context, orderID int64) (err error) {
	const op = "orders.admin_confirm"
	defer m.observe(op, time.Now(), &err)

	err = m.storage.Atomic(ctx, func(ctx context.Context, tx domain.Repositories) error {
		order, err := tx.Orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.State() != domain.OrderStatePendingAdmin {
			return domain.ErrOrderNotPending
		}
		order.ConfirmedByAdmin = true
		if err := tx.Orders.Update(ctx, order); err != nil {
			return err
		}
		return enqueueOrderEvent(ctx, tx.Outbox, order.ID, domain.OutboxEventOrderConfirmed, map[string]any{
			"user_id": order.UserID,
		})
	})
	if err != nil {
		return err
	}

	m.metrics.RecordOrderTransition(metrics.TransitionConfirmed)
	m.notifier.Broadcast(domain.EventOrderConfirmed, domain.OrderNotice{OrderID: orderID})
	m.logger.WithField("order_id", orderID).Info("order confirmed by admin")
	return nil
}

// CancelOrder: решение администратора: заказ отменён (удалён), сток возвращён.
func (m *Manager) CancelOrder(ctx context.Context, orderID int64) (err error) {
	const op = "orders.admin_cancel"
	defer m.observe(op, time.Now(), &err)

	var events []stockEvent
	err = m.storage.Atomic(ctx, func(ctx context.Context, tx domain.Repositories) error {
		events = nil
		locked, err := m.lockOrders(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order := locked[orderID]
		if order.State() != domain.OrderStatePendingAdmin {
			return domain.ErrOrderNotPending
		}

		event, released, err := m.removeOrder(ctx, tx, order, domain.OutboxEventOrderCanceled)
		if err != nil {
			return err
		}
		if released {
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.metrics.RecordOrderTransition(metrics.TransitionCanceled)
	m.notifier.Broadcast(domain.EventOrderCanceled, domain.OrderNotice{OrderID: orderID})
	m.announce(ctx, events)
	m.logger.WithField("order_id", orderID).Info("order canceled by admin")
	return nil
}

// lockOrders перечитывает заказы под блокировкой строк, по возрастанию id.
// Если заказ ссылается на top-market товар, до строк берётся блокировка смены
// текущего товара: каталог берёт её в том же порядке. Проверять состояние
// заказа можно только по результату lockOrders.
func (m *Manager) lockOrders(ctx context.Context, tx domain.Repositories, ids ...int64) (map[int64]domain.Order, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)

	succession := false
	for _, id := range sorted {
		if succession {
			break
		}
		order, err := tx.Orders.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		product, err := tx.Products.Get(ctx, order.ProductID)
		if err != nil {
			return nil, err
		}
		if product.IsTopMarket {
			if err := tx.Products.LockSuccession(ctx); err != nil {
				return nil, err
			}
			succession = true
		}
	}

	locked := make(map[int64]domain.Order, len(sorted))
	for _, id := range sorted {
		order, err := tx.Orders.GetForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		locked[id] = order
	}
	return locked, nil
}

// removeOrder удаляет строку заказа и, только если удаление прошло,
// возвращает количество на склад top-market товара.
func (m *Manager) removeOrder(ctx context.Context, tx domain.Repositories, order domain.Order, eventType string) (stockEvent, bool, error) {
	if err := tx.Orders.Delete(ctx, order.ID); err != nil {
		return stockEvent{}, false, err
	}
	if err := enqueueOrderEvent(ctx, tx.Outbox, order.ID, eventType, map[string]any{
		"user_id":    order.UserID,
		"product_id": order.ProductID,
		"quantity":   order.Quantity,
	}); err != nil {
		return stockEvent{}, false, err
	}

	product, err := tx.Products.Get(ctx, order.ProductID)
	if err != nil {
		return stockEvent{}, false, err
	}
	if !product.IsTopMarket {
		return stockEvent{}, false, nil
	}
	stock, err := m.catalog.Ledger(tx.Products).ReleaseStock(ctx, product.ID, order.Quantity)
	if err != nil {
		return stockEvent{}, false, err
	}
	return stockEvent{productID: product.ID, stock: stock, current: product.IsCurrentTopMarket}, true, nil
}

// announce рассылает изменения стока после коммита.
// Клиенты видят только текущий top-market товар, остальное лишь сбрасывает кэш.
func (m *Manager) announce(ctx context.Context, events []stockEvent) {
	if len(events) == 0 {
		return
	}
	m.catalog.InvalidateCache(ctx)
	for _, e := range events {
		switch {
		case e.promoted != nil:
			m.notifier.Broadcast(domain.EventNewTopMarketProduct, e.promoted.View())
		case e.current:
			m.notifier.Broadcast(domain.EventTopMarketStockUpdated, domain.StockUpdate{ProductID: e.productID, Stock: e.stock})
		}
	}
}

// observe пишет длительность операции и превращает непредвиденные ошибки в InternalFailure.
func (m *Manager) observe(op string, start time.Time, errp *error) {
	m.metrics.RecordOperationDuration(op, time.Since(start))
	if *errp == nil {
		return
	}
	wrapped := domain.Internal(op, *errp)
	var opErr *domain.OperationError
	if errors.As(wrapped, &opErr) {
		m.logger.WithError(opErr.Cause).WithField("operation", op).Error("order operation failed")
	}
	*errp = wrapped
}

func mergeSnapshot(given, profile domain.BuyerSnapshot) domain.BuyerSnapshot {
	if strings.TrimSpace(given.Name) == "" {
		given.Name = profile.Name
	}
	if strings.TrimSpace(given.Phone) == "" {
		given.Phone = profile.Phone
	}
	if strings.TrimSpace(given.ShipmentAddress) == "" {
		given.ShipmentAddress = profile.ShipmentAddress
	}
	return given
}

func enqueueOrderEvent(ctx context.Context, outbox domain.OutboxRepository, orderID int64, eventType string, payload map[string]any) error {
	msg, err := domain.NewOutboxMessage(domain.AggregateOrder, orderID, eventType, payload)
	if err != nil {
		return err
	}
	_, err = outbox.Enqueue(ctx, msg)
	return err
}

func enqueueTopMarketChanged(ctx context.Context, outbox domain.OutboxRepository, product domain.Product) error {
	msg, err := domain.NewTopMarketChangedMessage(product)
	if err != nil {
		return err
	}
	_, err = outbox.Enqueue(ctx, msg)
	return err
}
