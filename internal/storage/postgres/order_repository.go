package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
)

const orderColumns = `o.id, o.user_id, o.product_id, o.quantity, o.total_price,
	o.buyer_name, o.phone_number, o.shipment_address, o.order_time,
	o.confirmed_by_user, o.confirmed_by_admin`

type orderRepository struct {
	db dbtx
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository вне транзакции.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func scanOrder(row rowScanner, extra ...any) (domain.Order, error) {
	var o domain.Order
	dest := []any{
		&o.ID, &o.UserID, &o.ProductID, &o.Quantity, &o.TotalPrice,
		&o.Buyer.Name, &o.Buyer.Phone, &o.Buyer.ShipmentAddress, &o.OrderTime,
		&o.ConfirmedByUser, &o.ConfirmedByAdmin,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if order.OrderTime.IsZero() {
		order.OrderTime = time.Now().UTC()
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO orders (
			user_id, product_id, quantity, total_price,
			buyer_name, phone_number, shipment_address, order_time,
			confirmed_by_user, confirmed_by_admin
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`,
		order.UserID, order.ProductID, order.Quantity, order.TotalPrice,
		order.Buyer.Name, order.Buyer.Phone, order.Buyer.ShipmentAddress, order.OrderTime,
		order.ConfirmedByUser, order.ConfirmedByAdmin,
	).Scan(&order.ID)
	if err != nil {
		if constraint, ok := isForeignKeyViolation(err); ok {
			if strings.Contains(constraint, "user") {
				return domain.Order{}, domain.ErrUserNotFound
			}
			return domain.Order{}, domain.ErrProductNotFound
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	return order, nil
}

func (r *orderRepository) Get(ctx context.Context, id int64) (domain.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1`, id)
}

// GetForUpdate читает заказ и держит блокировку строки до конца транзакции.
// Конкурентная смена состояния ждёт коммита и видит уже новое состояние.
func (r *orderRepository) GetForUpdate(ctx context.Context, id int64) (domain.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1 FOR UPDATE`, id)
}

func (r *orderRepository) get(ctx context.Context, query string, id int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

// List возвращает заказы вместе с карточкой товара, новые первыми.
func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.OrderWithProduct, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if filter.UserID != 0 {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("o.user_id = $%d", len(args)))
	}
	if filter.ConfirmedByUser != nil {
		args = append(args, *filter.ConfirmedByUser)
		where = append(where, fmt.Sprintf("o.confirmed_by_user = $%d", len(args)))
	}
	if filter.ConfirmedByAdmin != nil {
		args = append(args, *filter.ConfirmedByAdmin)
		where = append(where, fmt.Sprintf("o.confirmed_by_admin = $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + `, p.id, p.name, p.price, p.images, p.is_top_market
		FROM orders o
		JOIN products p ON p.id = o.product_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY o.order_time DESC, o.id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OrderWithProduct, 0)
	for rows.Next() {
		var (
			summary domain.ProductSummary
			images  []byte
		)
		order, err := scanOrder(rows, &summary.ID, &summary.Name, &summary.Price, &images, &summary.IsTopMarket)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		if len(images) > 0 {
			if err := json.Unmarshal(images, &summary.Images); err != nil {
				return nil, fmt.Errorf("decode product images: %w", err)
			}
		}
		result = append(result, domain.OrderWithProduct{Order: order, Product: summary})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return result, nil
}

func (r *orderRepository) Update(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET quantity = $2,
		    total_price = $3,
		    buyer_name = $4,
		    phone_number = $5,
		    shipment_address = $6,
		    order_time = $7,
		    confirmed_by_user = $8,
		    confirmed_by_admin = $9
		WHERE id = $1
	`,
		order.ID, order.Quantity, order.TotalPrice,
		order.Buyer.Name, order.Buyer.Phone, order.Buyer.ShipmentAddress, order.OrderTime,
		order.ConfirmedByUser, order.ConfirmedByAdmin,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
