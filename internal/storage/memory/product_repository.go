package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
)

type productRepository struct {
	access
}

func (r *productRepository) Create(_ context.Context, product domain.Product) (domain.Product, error) {
	err := r.with(func(st *state) error {
		st.productSeq++
		product.ID = st.productSeq
		if product.CreatedAt.IsZero() {
			product.CreatedAt = time.Now().UTC()
		}
		product.Images = append([]string(nil), product.Images...)
		st.products[product.ID] = product
		return nil
	})
	return product, err
}

func (r *productRepository) Get(_ context.Context, id int64) (domain.Product, error) {
	var product domain.Product
	err := r.with(func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return domain.ErrProductNotFound
		}
		product = p
		return nil
	})
	return product, err
}

// Delete удаляет товар и каскадно его заказы.
func (r *productRepository) Delete(_ context.Context, id int64) error {
	return r.with(func(st *state) error {
		if _, ok := st.products[id]; !ok {
			return domain.ErrProductNotFound
		}
		delete(st.products, id)
		for orderID, order := range st.orders {
			if order.ProductID == id {
				delete(st.orders, orderID)
			}
		}
		return nil
	})
}

func (r *productRepository) List(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	var result []domain.Product
	err := r.with(func(st *state) error {
		category := domain.NormalizeCategory(filter.Category)
		needle := strings.ToLower(strings.TrimSpace(filter.NameContains))

		result = make([]domain.Product, 0, len(st.products))
		for _, p := range st.products {
			if category != "" && domain.NormalizeCategory(p.Category) != category {
				continue
			}
			if needle != "" && !strings.Contains(strings.ToLower(p.Name), needle) {
				continue
			}
			if filter.ExcludeTopMarket && p.IsTopMarket {
				continue
			}
			result = append(result, p)
		}
		sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
		if filter.Limit > 0 && len(result) > filter.Limit {
			result = result[:filter.Limit]
		}
		return nil
	})
	return result, err
}

// DecrementStock списывает остаток только при достаточном количестве
// и только у текущего top-market товара, если товар top-market.
func (r *productRepository) DecrementStock(_ context.Context, id, qty int64) (int64, error) {
	var stock int64
	err := r.with(func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return domain.ErrProductNotFound
		}
		if p.IsTopMarket && !p.IsCurrentTopMarket {
			return domain.ErrProductUnavailable
		}
		if p.Stock < qty {
			return domain.ErrInsufficientStock
		}
		p.Stock -= qty
		st.products[id] = p
		stock = p.Stock
		return nil
	})
	return stock, err
}

func (r *productRepository) IncrementStock(_ context.Context, id, qty int64) (int64, error) {
	var stock int64
	err := r.with(func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return domain.ErrProductNotFound
		}
		p.Stock += qty
		st.products[id] = p
		stock = p.Stock
		return nil
	})
	return stock, err
}

func (r *productRepository) TopMarketCandidates(_ context.Context) ([]domain.Product, error) {
	var result []domain.Product
	err := r.with(func(st *state) error {
		for _, p := range st.products {
			if p.IsTopMarket {
				result = append(result, p)
			}
		}
		sort.Slice(result, func(i, j int) bool {
			if result[i].Stock != result[j].Stock {
				return result[i].Stock > result[j].Stock
			}
			return result[i].ID < result[j].ID
		})
		return nil
	})
	return result, err
}

func (r *productRepository) CurrentTopMarket(_ context.Context) (domain.Product, error) {
	var current domain.Product
	err := r.with(func(st *state) error {
		for _, p := range st.products {
			if p.IsCurrentTopMarket {
				current = p
				return nil
			}
		}
		return domain.ErrNoCurrentTopMarket
	})
	return current, err
}

func (r *productRepository) SetCurrentTopMarket(_ context.Context, id int64, current bool) error {
	return r.with(func(st *state) error {
		target, ok := st.products[id]
		if !ok {
			return domain.ErrProductNotFound
		}
		if current && !target.IsTopMarket {
			return domain.ErrProductUnavailable
		}
		if current {
			for otherID, p := range st.products {
				if p.IsCurrentTopMarket && otherID != id {
					p.IsCurrentTopMarket = false
					st.products[otherID] = p
				}
			}
		}
		target.IsCurrentTopMarket = current
		st.products[id] = target
		return nil
	})
}

// LockSuccession ничего не делает: транзакция и так держит эксклюзивную блокировку.
func (r *productRepository) LockSuccession(context.Context) error {
	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
