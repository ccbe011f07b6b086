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

const productColumns = `id, name, category, price, description, stock, is_top_market, is_current_top_market, images, created_at`

type productRepository struct {
	db dbtx
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository вне транзакции.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p      domain.Product
		images []byte
	)
	if err := row.Scan(
		&p.ID, &p.Name, &p.Category, &p.Price, &p.Description, &p.Stock,
		&p.IsTopMarket, &p.IsCurrentTopMarket, &images, &p.CreatedAt,
	); err != nil {
		return domain.Product{}, err
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &p.Images); err != nil {
			return domain.Product{}, fmt.Errorf("decode product images: %w", err)
		}
	}
	return p, nil
}

func encodeImages(images []string) (string, error) {
	if images == nil {
		images = []string{}
	}
	raw, err := json.Marshal(images)
	if err != nil {
		return "", fmt.Errorf("encode product images: %w", err)
	}
	return string(raw), nil
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	images, err := encodeImages(product.Images)
	if err != nil {
		return domain.Product{}, err
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO products (
			name, category, price, description, stock, is_top_market, is_current_top_market, images, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`,
		product.Name, product.Category, product.Price, product.Description, product.Stock,
		product.IsTopMarket, product.IsCurrentTopMarket, images, product.CreatedAt,
	).Scan(&product.ID)
	if err != nil {
		if _, ok := isCheckViolation(err); ok {
			return domain.Product{}, domain.ErrInsufficientStock
		}
		return domain.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return product, nil
}

func (r *productRepository) Get(ctx context.Context, id int64) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

// Delete удаляет товар; заказы удаляются каскадом по внешнему ключу.
func (r *productRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (r *productRepository) List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if category := domain.NormalizeCategory(filter.Category); category != "" {
		args = append(args, category)
		where = append(where, fmt.Sprintf("LOWER(category) = $%d", len(args)))
	}
	if needle := strings.TrimSpace(filter.NameContains); needle != "" {
		args = append(args, "%"+escapeLike(needle)+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if filter.ExcludeTopMarket {
		where = append(where, "NOT is_top_market")
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return r.queryProducts(ctx, query, args...)
}

// DecrementStock списывает остаток одной условной записью: проверка и
// уменьшение не разделены, поэтому конкурентные списания не уводят сток в минус.
// Top-market товар списывается, только пока он текущий.
func (r *productRepository) DecrementStock(ctx context.Context, id, qty int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var stock int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock - $2
		WHERE id = $1
		  AND stock >= $2
		  AND (NOT is_top_market OR is_current_top_market)
		RETURNING stock
	`, id, qty).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("decrement stock: %w", err)
	}

	var topMarket, current bool
	err = r.db.QueryRowContext(ctx,
		`SELECT is_top_market, is_current_top_market FROM products WHERE id = $1`, id,
	).Scan(&topMarket, &current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, domain.ErrProductNotFound
	case err != nil:
		return 0, fmt.Errorf("check product stock: %w", err)
	case topMarket && !current:
		return 0, domain.ErrProductUnavailable
	}
	return 0, domain.ErrInsufficientStock
}

func (r *productRepository) IncrementStock(ctx context.Context, id, qty int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var stock int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2
		WHERE id = $1
		RETURNING stock
	`, id, qty).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrProductNotFound
		}
		return 0, fmt.Errorf("increment stock: %w", err)
	}
	return stock, nil
}

func (r *productRepository) TopMarketCandidates(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.queryProducts(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE is_top_market
		ORDER BY stock DESC, id ASC
	`)
}

func (r *productRepository) CurrentTopMarket(ctx context.Context) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE is_current_top_market
		LIMIT 1
	`))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrNoCurrentTopMarket
		}
		return domain.Product{}, fmt.Errorf("select current top-market product: %w", err)
	}
	return product, nil
}

// SetCurrentTopMarket снимает флаг с прежнего текущего товара и ставит его на id.
// Частичный уникальный индекс проверяется построчно, поэтому снятие идёт первым.
func (r *productRepository) SetCurrentTopMarket(ctx context.Context, id int64, current bool) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if current {
		if _, err := r.db.ExecContext(ctx, `
			UPDATE products
			SET is_current_top_market = FALSE
			WHERE is_current_top_market
			  AND id <> $1
		`, id); err != nil {
			return fmt.Errorf("clear current top-market product: %w", err)
		}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET is_current_top_market = $2
		WHERE id = $1
		  AND (is_top_market OR NOT $2)
	`, id, current)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("concurrent top-market succession: %w", err)
		}
		return fmt.Errorf("set current top-market product: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	exists, err := r.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrProductNotFound
	}
	return domain.ErrProductUnavailable
}

// LockSuccession берёт транзакционную advisory-блокировку, она снимается при commit/rollback.
func (r *productRepository) LockSuccession(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, successionLockKey); err != nil {
		return fmt.Errorf("acquire succession lock: %w", err)
	}
	return nil
}

func (r *productRepository) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, nil
}

func (r *productRepository) exists(ctx context.Context, id int64) (bool, error) {
	var found int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM products WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check product exists: %w", err)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ domain.ProductRepository = (*productRepository)(nil)
