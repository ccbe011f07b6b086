package catalog

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
	"github.com/vladislavdragonenkov/grocer/internal/metrics"
)

// StockChange: результат резервирования стока.
type StockChange struct {
	// Product: состояние товара после списания.
	Product domain.Product
	// Promoted: новый текущий top-market товар, если списание обнулило сток.
	Promoted *domain.Product
}

// NewStock возвращает остаток после списания.
func (c StockChange) NewStock() int64 {
	return c.Product.Stock
}

// Ledger ведёт остатки товаров и смену текущего top-market товара.
// Привязан к репозиторию одной транзакции: резерв и смена товара
// коммитятся вместе с заказом или не коммитятся вовсе.
type Ledger struct {
	products domain.ProductRepository
	logger   *log.Entry
	metrics  *metrics.ShopMetrics
}

// NewLedger создаёт Ledger поверх репозитория товаров.
func NewLedger(products domain.ProductRepository, logger *log.Entry, m *metrics.ShopMetrics) *Ledger {
	if logger == nil {
		logger = log.WithField("component", "catalog-ledger")
	}
	return &Ledger{products: products, logger: logger, metrics: m}
}

// LockProduct читает товар. Для top-market товара сначала берётся блокировка
// смены текущего товара, и товар перечитывается уже под ней: флаг текущего
// не изменится до конца транзакции. Блокировка смены всегда берётся раньше
// блокировок строк.
func (l *Ledger) LockProduct(ctx context.Context, productID int64) (domain.Product, error) {
	product, err := l.products.Get(ctx, productID)
	if err != nil || !product.IsTopMarket {
		return product, err
	}
	if err := l.products.LockSuccession(ctx); err != nil {
		return domain.Product{}, err
	}
	return l.products.Get(ctx, productID)
}

// ReserveStock списывает qty единиц товара.
// Top-market товар можно купить, только пока он текущий. Если списание
// обнулило сток, ledger сразу назначает следующий top-market товар.
func (l *Ledger) ReserveStock(ctx context.Context, productID, qty int64) (StockChange, error) {
	if qty <= 0 {
		return StockChange{}, domain.ErrQuantityInvalid
	}

	product, err := l.LockProduct(ctx, productID)
	if err != nil {
		return StockChange{}, err
	}
	if product.IsTopMarket && !product.IsCurrentTopMarket {
		l.metrics.RecordReservation(metrics.ReservationUnavailable)
		return StockChange{}, domain.ErrProductUnavailable
	}

	newStock, err := l.products.DecrementStock(ctx, productID, qty)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientStock):
			l.metrics.RecordReservation(metrics.ReservationInsufficient)
		case errors.Is(err, domain.ErrProductUnavailable):
			l.metrics.RecordReservation(metrics.ReservationUnavailable)
		}
		return StockChange{}, err
	}
	l.metrics.RecordReservation(metrics.ReservationReserved)

	product.Stock = newStock
	change := StockChange{Product: product}
	if !product.IsTopMarket {
		return change, nil
	}
	l.metrics.SetTopMarketStock(newStock)
	if newStock > 0 {
		return change, nil
	}

	promoted, err := l.PromoteNextTopMarketProduct(ctx, productID)
	switch {
	case err == nil:
		change.Product.IsCurrentTopMarket = false
		change.Promoted = &promoted
	case errors.Is(err, domain.ErrNoEligibleProduct):
		// Товар остаётся текущим с нулевым стоком: новые заказы упрутся в insufficient stock.
		l.logger.WithField("product_id", productID).Warn("top-market product sold out, no successor available")
	default:
		return StockChange{}, err
	}
	return change, nil
}

// ReleaseStock возвращает qty единиц на склад. Верхней границы нет.
// Для текущего top-market товара обновляется gauge остатка.
func (l *Ledger) ReleaseStock(ctx context.Context, productID, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, domain.ErrQuantityInvalid
	}
	product, err := l.LockProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	stock, err := l.products.IncrementStock(ctx, productID, qty)
	if err != nil {
		return 0, err
	}
	l.metrics.RecordRelease()
	if product.IsCurrentTopMarket {
		l.metrics.SetTopMarketStock(stock)
	}
	return stock, nil
}

// PromoteNextTopMarketProduct назначает текущим top-market товар с наибольшим
// остатком (при равенстве берётся меньший id). Флаг снимается со всех остальных,
// включая исчерпанный товар, одной записью.
func (l *Ledger) PromoteNextTopMarketProduct(ctx context.Context, depletedID int64) (domain.Product, error) {
	if err := l.products.LockSuccession(ctx); err != nil {
		return domain.Product{}, err
	}

	candidates, err := l.products.TopMarketCandidates(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	if len(candidates) == 0 || candidates[0].Stock <= 0 {
		l.metrics.RecordSuccession(metrics.SuccessionNoCandidate)
		return domain.Product{}, domain.ErrNoEligibleProduct
	}

	winner := candidates[0]
	if err := l.products.SetCurrentTopMarket(ctx, winner.ID, true); err != nil {
		return domain.Product{}, err
	}
	winner.IsCurrentTopMarket = true

	l.metrics.RecordSuccession(metrics.SuccessionPromoted)
	l.metrics.SetTopMarketStock(winner.Stock)
	l.logger.WithFields(log.Fields{
		"depleted_product_id": depletedID,
		"product_id":          winner.ID,
		"stock":               winner.Stock,
	}).Info("top-market product promoted")
	return winner, nil
}
