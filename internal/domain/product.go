package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Категории, по которым группируется витрина.
const (
	CategoryFruits     = "fruits"
	CategoryVegetables = "vegetables"
	CategoryHerbs      = "herbs"
)

// Product описывает товар каталога.
type Product struct {
	ID          int64
	Name        string
	Category    string
	Price       decimal.Decimal
	Description string
	// Stock: остаток, никогда не опускается ниже нуля.
	Stock int64
	// IsTopMarket помечает товар ограниченного тиража.
	IsTopMarket bool
	// IsCurrentTopMarket: единственный продаваемый сейчас top-market товар.
	IsCurrentTopMarket bool
	Images             []string
	CreatedAt          time.Time
}

// ProductView: публичная проекция товара для уведомлений и витрины.
type ProductView struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category,omitempty"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock"`
	Images      []string        `json:"images"`
}

// ProductSummary: краткая карточка товара внутри заказа.
type ProductSummary struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Images      []string        `json:"images"`
	IsTopMarket bool            `json:"isTopMarketProduct"`
}

// View возвращает публичную проекцию товара.
func (p Product) View() ProductView {
	return ProductView{
		ID:          p.ID,
		Name:        p.Name,
		Category:    p.Category,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.Stock,
		Images:      append([]string(nil), p.Images...),
	}
}

// Summary возвращает карточку товара для списков заказов.
func (p Product) Summary() ProductSummary {
	return ProductSummary{
		ID:          p.ID,
		Name:        p.Name,
		Price:       p.Price,
		Images:      append([]string(nil), p.Images...),
		IsTopMarket: p.IsTopMarket,
	}
}

// ValidateInvariants проверяет инварианты товара и возвращает список замечаний.
func (p *Product) ValidateInvariants() []error {
	var errs []error
	if p.Stock < 0 {
		errs = append(errs, ErrInsufficientStock)
	}
	if p.Price.IsNegative() {
		errs = append(errs, ErrPriceInvalid)
	}
	// Текущим может быть только top-market товар.
	if p.IsCurrentTopMarket && !p.IsTopMarket {
		errs = append(errs, ErrProductUnavailable)
	}
	return errs
}

// NormalizeCategory приводит категорию к нижнему регистру без пробелов по краям.
func NormalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

// ProductFilter задаёт выборку товаров для витрины и поиска.
type ProductFilter struct {
	// Category: точное совпадение категории, пусто: любая.
	Category string
	// NameContains: подстрока названия без учёта регистра.
	NameContains string
	// ExcludeTopMarket убирает top-market товары из выдачи.
	ExcludeTopMarket bool
	Limit            int
}

// CatalogListing: витрина, сгруппированная по категориям.
type CatalogListing struct {
	Fruits     []ProductView `json:"fruits"`
	Vegetables []ProductView `json:"vegetables"`
	Other      []ProductView `json:"other"`
}

// GroupByCategory раскладывает обычные товары по разделам витрины.
func GroupByCategory(products []Product) CatalogListing {
	listing := CatalogListing{
		Fruits:     []ProductView{},
		Vegetables: []ProductView{},
		Other:      []ProductView{},
	}
	for _, p := range products {
		if p.IsTopMarket {
			continue
		}
		switch NormalizeCategory(p.Category) {
		case CategoryFruits:
			listing.Fruits = append(listing.Fruits, p.View())
		case CategoryVegetables:
			listing.Vegetables = append(listing.Vegetables, p.View())
		default:
			listing.Other = append(listing.Other, p.View())
		}
	}
	return listing
}
