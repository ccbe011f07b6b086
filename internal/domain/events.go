package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// События канала уведомлений клиентов.
const (
	EventNewTopMarketProduct   = "new-top-market-product"
	EventTopMarketStockUpdated = "updated-top-market-product-stock"
	EventOrderConfirmed        = "confirmed-order"
	EventOrderCanceled         = "canceled-order"
	EventNewProduct            = "new-product"
	EventProductDeleted        = "deleted-product"
	EventNewStory              = "new-story"
)

// Типы интеграционных событий transactional outbox.
const (
	OutboxEventOrderCreated           = "order.created"
	OutboxEventOrderCheckoutConfirmed = "order.checkout_confirmed"
	OutboxEventOrderConfirmed         = "order.confirmed"
	OutboxEventOrderCanceled          = "order.canceled"
	OutboxEventOrderDeleted           = "order.deleted"
	OutboxEventTopMarketChanged       = "product.top_market_changed"
)

// Типы агрегатов outbox.
const (
	AggregateOrder   = "order"
	AggregateProduct = "product"
)

// StockUpdate: пейлоад события об изменении стока текущего top-market товара.
type StockUpdate struct {
	ProductID int64 `json:"id"`
	Stock     int64 `json:"stock"`
}

// OrderNotice: пейлоад событий о решении администратора по заказу.
type OrderNotice struct {
	OrderID int64 `json:"id"`
}

// NewOutboxMessage собирает outbox-сообщение с JSON-пейлоадом.
// В пейлоад добавляются идентификатор агрегата и время события.
func NewOutboxMessage(aggregateType string, aggregateID int64, eventType string, payload map[string]any) (OutboxMessage, error) {
	if payload == nil {
		payload = make(map[string]any)
	}
	payload[aggregateType+"_id"] = aggregateID
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   strconv.FormatInt(aggregateID, 10),
		EventType:     eventType,
		Payload:       data,
	}, nil
}

// NewTopMarketChangedMessage описывает назначение нового текущего top-market товара.
func NewTopMarketChangedMessage(product Product) (OutboxMessage, error) {
	return NewOutboxMessage(AggregateProduct, product.ID, OutboxEventTopMarketChanged, map[string]any{
		"name":  product.Name,
		"stock": product.Stock,
	})
}
