package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
)

type createOrderRequest struct {
	Quantity   int64           `json:"quantity" binding:"required,gt=0"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

type checkoutItemRequest struct {
	ID         int64           `json:"id" binding:"required,gt=0"`
	Quantity   int64           `json:"quantity"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

type checkoutRequest struct {
	BuyerName       string                `json:"buyerName"`
	PhoneNumber     string                `json:"phoneNumber"`
	ShipmentAddress string                `json:"shipmentAddress"`
	Orders          []checkoutItemRequest `json:"orders" binding:"required,dive"`
}

type createProductRequest struct {
	Name        string          `json:"name" binding:"required"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	Stock       int64           `json:"stock" binding:"gte=0"`
	IsTopMarket bool            `json:"isTopMarketProduct"`
	Images      []string        `json:"images"`
}

type createStoryRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	VideoURL    string `json:"videoURL"`
	ImageURL    string `json:"imageURL"`
}

type orderResponse struct {
	ID               int64                 `json:"id"`
	Quantity         int64                 `json:"quantity"`
	TotalPrice       decimal.Decimal       `json:"totalPrice"`
	BuyerName        string                `json:"buyerName,omitempty"`
	BuyerPhoneNumber string                `json:"buyerPhoneNumber,omitempty"`
	ShipmentAddress  string                `json:"shipmentAddress,omitempty"`
	OrderTime        time.Time             `json:"orderTime"`
	State            domain.OrderState     `json:"state"`
	ConfirmedByAdmin bool                  `json:"confirmedByAdmin"`
	Product          domain.ProductSummary `json:"product"`
}

type messageResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

func toOrderResponses(orders []domain.OrderWithProduct) []orderResponse {
	result := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		result = append(result, orderResponse{
			ID:               o.ID,
			Quantity:         o.Quantity,
			TotalPrice:       o.TotalPrice,
			BuyerName:        o.Buyer.Name,
			BuyerPhoneNumber: o.Buyer.Phone,
			ShipmentAddress:  o.Buyer.ShipmentAddress,
			OrderTime:        o.OrderTime,
			State:            o.State(),
			ConfirmedByAdmin: o.ConfirmedByAdmin,
			Product:          o.Product,
		})
	}
	return result
}
