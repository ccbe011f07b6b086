package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderState: производное состояние заказа, вычисляется из флагов подтверждения.
type OrderState string

const (
	// OrderStateCart: товар добавлен в корзину, пользователь ещё не оформил покупку.
	OrderStateCart OrderState = "cart"
	// OrderStatePendingAdmin: пользователь подтвердил покупку, ждём администратора.
	OrderStatePendingAdmin OrderState = "pending_admin"
	// OrderStateConfirmed: администратор подтвердил заказ (терминальное состояние).
	OrderStateConfirmed OrderState = "confirmed"
)

// BuyerSnapshot: контакты покупателя, скопированные в строку заказа.
type BuyerSnapshot struct {
	Name            string `json:"buyerName"`
	Phone           string `json:"phoneNumber"`
	ShipmentAddress string `json:"shipmentAddress"`
}

// Order агрегирует состояние заказа.
type Order struct {
	ID         int64
	UserID     int64
	ProductID  int64
	Quantity   int64
	TotalPrice decimal.Decimal
	Buyer      BuyerSnapshot
	OrderTime  time.Time
	// ConfirmedByUser выставляется при оформлении корзины.
	ConfirmedByUser bool
	// ConfirmedByAdmin выставляется администратором, отмена: удаление строки.
	ConfirmedByAdmin bool
}

// State вычисляет состояние заказа по флагам.
func (o Order) State() OrderState {
	switch {
	case !o.ConfirmedByUser:
		return OrderStateCart
	case !o.ConfirmedByAdmin:
		return OrderStatePendingAdmin
	default:
		return OrderStateConfirmed
	}
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error
	if o.Quantity <= 0 {
		errs = append(errs, ErrQuantityInvalid)
	}
	if o.TotalPrice.IsNegative() {
		errs = append(errs, ErrPriceInvalid)
	}
	// Администратор не может подтвердить то, что не оформил пользователь.
	if o.ConfirmedByAdmin && !o.ConfirmedByUser {
		errs = append(errs, ErrOrderNotPending)
	}
	return errs
}

// OrderWithProduct: заказ вместе с карточкой товара для списков.
type OrderWithProduct struct {
	Order
	Product ProductSummary
}

// OrderFilter задаёт выборку заказов.
type OrderFilter struct {
	// UserID ограничивает выборку владельцем, 0: все пользователи.
	UserID int64
	// ConfirmedByUser и ConfirmedByAdmin фильтруют по флагам, nil: без фильтра.
	ConfirmedByUser  *bool
	ConfirmedByAdmin *bool
	Limit            int
}

// CartFilter выбирает заказы пользователя в корзине.
func CartFilter(userID int64) OrderFilter {
	return OrderFilter{UserID: userID, ConfirmedByUser: boolPtr(false)}
}

// UserOrdersFilter выбирает оформленные пользователем заказы (профиль пользователя).
func UserOrdersFilter(userID int64) OrderFilter {
	return OrderFilter{UserID: userID, ConfirmedByUser: boolPtr(true)}
}

// PendingAdminFilter выбирает заказы, ожидающие администратора.
func PendingAdminFilter() OrderFilter {
	return OrderFilter{ConfirmedByUser: boolPtr(true), ConfirmedByAdmin: boolPtr(false)}
}

// Matches проверяет, попадает ли заказ под фильтр.
func (f OrderFilter) Matches(o Order) bool {
	if f.UserID != 0 && o.UserID != f.UserID {
		return false
	}
	if f.ConfirmedByUser != nil && o.ConfirmedByUser != *f.ConfirmedByUser {
		return false
	}
	if f.ConfirmedByAdmin != nil && o.ConfirmedByAdmin != *f.ConfirmedByAdmin {
		return false
	}
	return true
}

func boolPtr(v bool) *bool { return &v }
