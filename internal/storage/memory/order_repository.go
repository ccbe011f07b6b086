package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
)

// orderRepository: in-memory реализация OrderRepository.
type orderRepository struct {
	access
}

// Create сохраняет новый заказ, проверяя ссылки на товар и пользователя.
func (r *orderRepository) Create(_ context.Context, order domain.Order) (domain.Order, error) {
	err := r.with(func(st *state) error {
		if _, ok := st.products[order.ProductID]; !ok {
			return domain.ErrProductNotFound
		}
		if _, ok := st.users[order.UserID]; !ok {
			return domain.ErrUserNotFound
		}
		st.orderSeq++
		order.ID = st.orderSeq
		if order.OrderTime.IsZero() {
			order.OrderTime = time.Now().UTC()
		}
		st.orders[order.ID] = order
		return nil
	})
	return order, err
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) Get(_ context.Context, id int64) (domain.Order, error) {
	var order domain.Order
	err := r.with(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		order = o
		return nil
	})
	return order, err
}

// GetForUpdate совпадает с Get: транзакция памяти и так эксклюзивна.
func (r *orderRepository) GetForUpdate(ctx context.Context, id int64) (domain.Order, error) {
	return r.Get(ctx, id)
}

// List возвращает заказы по фильтру, новые первыми.
func (r *orderRepository) List(_ context.Context, filter domain.OrderFilter) ([]domain.OrderWithProduct, error) {
	var result []domain.OrderWithProduct
	err := r.with(func(st *state) error {
		result = make([]domain.OrderWithProduct, 0)
		for _, o := range st.orders {
			if !filter.Matches(o) {
				continue
			}
			result = append(result, domain.OrderWithProduct{
				Order:   o,
				Product: st.products[o.ProductID].Summary(),
			})
		}
		sort.Slice(result, func(i, j int) bool {
			if !result[i].OrderTime.Equal(result[j].OrderTime) {
				return result[i].OrderTime.After(result[j].OrderTime)
			}
			return result[i].ID > result[j].ID
		})
		if filter.Limit > 0 && len(result) > filter.Limit {
			result = result[:filter.Limit]
		}
		return nil
	})
	return result, err
}

// Update перезаписывает заказ целиком.
func (r *orderRepository) Update(_ context.Context, order domain.Order) error {
	return r.with(func(st *state) error {
		if _, ok := st.orders[order.ID]; !ok {
			return domain.ErrOrderNotFound
		}
		st.orders[order.ID] = order
		return nil
	})
}

func (r *orderRepository) Delete(_ context.Context, id int64) error {
	return r.with(func(st *state) error {
		if _, ok := st.orders[id]; !ok {
			return domain.ErrOrderNotFound
		}
		delete(st.orders, id)
		return nil
	})
}

var _ domain.OrderRepository = (*orderRepository)(nil)
