package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewStoreFromDB(db), mock
}

var productRowColumns = []string{
	"id", "name", "category", "price", "description", "stock",
	"is_top_market", "is_current_top_market", "images", "created_at",
}

func TestProductRepository_DecrementStockReturnsNewStock(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SET stock = stock - $2`)).
		WithArgs(int64(7), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(int64(2)))

	stock, err := store.Repositories().Products.DecrementStock(context.Background(), 7, 3)
	require.NoError(t, err)
	require.Equal(t, int64(2), stock)
}

func TestProductRepository_DecrementStockRequiresCurrentTopMarket(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`AND (NOT is_top_market OR is_current_top_market)`)).
		WithArgs(int64(7), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"stock"}))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT is_top_market, is_current_top_market FROM products WHERE id = $1`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"is_top_market", "is_current_top_market"}).AddRow(true, false))

	_, err := store.Repositories().Products.DecrementStock(context.Background(), 7, 1)
	require.ErrorIs(t, err, domain.ErrProductUnavailable)
}

func TestProductRepository_DecrementStockInsufficient(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SET stock = stock - $2`)).
		WithArgs(int64(7), int64(30)).
		WillReturnRows(sqlmock.NewRows([]string{"stock"}))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT is_top_market, is_current_top_market FROM products WHERE id = $1`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"is_top_market", "is_current_top_market"}).AddRow(true, true))

	_, err := store.Repositories().Products.DecrementStock(context.Background(), 7, 30)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestProductRepository_DecrementStockMissingProduct(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SET stock = stock - $2`)).
		WillReturnRows(sqlmock.NewRows([]string{"stock"}))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT is_top_market, is_current_top_market FROM products WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"is_top_market", "is_current_top_market"}))

	_, err := store.Repositories().Products.DecrementStock(context.Background(), 404, 1)
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestProductRepository_ListBuildsFilter(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE name ILIKE $1 AND NOT is_top_market ORDER BY id ASC LIMIT $2`)).
		WithArgs(`%app\_le%`, 5).
		WillReturnRows(sqlmock.NewRows(productRowColumns).
			AddRow(int64(1), "app_le", "fruits", "2.50", "", int64(4), false, false, []byte(`["a.png"]`), created))

	products, err := store.Repositories().Products.List(context.Background(), domain.ProductFilter{
		NameContains:     "app_le",
		ExcludeTopMarket: true,
		Limit:            5,
	})
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.True(t, decimal.RequireFromString("2.5").Equal(products[0].Price))
	require.Equal(t, []string{"a.png"}, products[0].Images)
	require.Equal(t, created, products[0].CreatedAt)
}

func TestProductRepository_SetCurrentTopMarketRejectsRegularProduct(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`SET is_current_top_market = FALSE`)).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`SET is_current_top_market = $2`)).
		WithArgs(int64(3), true).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM products WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	err := store.Repositories().Products.SetCurrentTopMarket(context.Background(), 3, true)
	require.ErrorIs(t, err, domain.ErrProductUnavailable)
}

func TestProductRepository_CurrentTopMarketMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE is_current_top_market`)).
		WillReturnRows(sqlmock.NewRows(productRowColumns))

	_, err := store.Repositories().Products.CurrentTopMarket(context.Background())
	require.ErrorIs(t, err, domain.ErrNoCurrentTopMarket)
}

func TestOrderRepository_CreateMapsForeignKeyViolations(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO orders`)).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "orders_user_id_fkey"})
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO orders`)).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "orders_product_id_fkey"})

	repo := store.Repositories().Orders
	_, err := repo.Create(context.Background(), domain.Order{UserID: 1, ProductID: 2, Quantity: 1})
	require.ErrorIs(t, err, domain.ErrUserNotFound)
	_, err = repo.Create(context.Background(), domain.Order{UserID: 1, ProductID: 2, Quantity: 1})
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestOrderRepository_ListScansProductSummary(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	columns := []string{
		"id", "user_id", "product_id", "quantity", "total_price",
		"buyer_name", "phone_number", "shipment_address", "order_time",
		"confirmed_by_user", "confirmed_by_admin",
		"p_id", "p_name", "p_price", "p_images", "p_is_top_market",
	}
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE o.confirmed_by_user = $1 AND o.confirmed_by_admin = $2 ORDER BY o.order_time DESC, o.id DESC`)).
		WithArgs(true, false).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			int64(11), int64(2), int64(5), int64(3), "7.50",
			"Ann", "+100", "Street 1", now,
			true, false,
			int64(5), "Durian", "2.50", []byte(`[]`), true,
		))

	orders, err := store.Repositories().Orders.List(context.Background(), domain.PendingAdminFilter())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, domain.OrderStatePendingAdmin, orders[0].State())
	require.Equal(t, "Ann", orders[0].Buyer.Name)
	require.True(t, orders[0].Product.IsTopMarket)
	require.Empty(t, orders[0].Product.Images)
}

func TestOrderRepository_GetForUpdateLocksRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM orders o WHERE o.id = $1 FOR UPDATE`)).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "product_id", "quantity", "total_price",
			"buyer_name", "phone_number", "shipment_address", "order_time",
			"confirmed_by_user", "confirmed_by_admin",
		}).AddRow(int64(11), int64(2), int64(5), int64(3), "7.50", "Ann", "+100", "Street 1", now, true, false))
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs(int64(12)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	order, err := store.Repositories().Orders.GetForUpdate(context.Background(), 11)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatePendingAdmin, order.State())

	_, err = store.Repositories().Orders.GetForUpdate(context.Background(), 12)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_DeleteMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM orders WHERE id = $1`)).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Repositories().Orders.Delete(context.Background(), 9)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestStoryViewRepository_DuplicateViewIsReported(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT (user_id, story_id) DO NOTHING`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Repositories().StoryViews.Create(context.Background(), domain.StoryView{UserID: 1, StoryID: 2})
	require.ErrorIs(t, err, domain.ErrStoryAlreadyViewed)
}

func TestStore_AtomicRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM orders WHERE id = $1`)).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := store.Atomic(context.Background(), func(ctx context.Context, tx domain.Repositories) error {
		if err := tx.Orders.Delete(ctx, 1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
}

func TestStore_AtomicCommits(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock($1)`)).
		WithArgs(successionLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := store.Atomic(context.Background(), func(ctx context.Context, tx domain.Repositories) error {
		return tx.Products.LockSuccession(ctx)
	})
	require.NoError(t, err)
}

func TestOutboxRepository_MarkSentUnknownMessage(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE outbox_messages`)).
		WithArgs("missing", "sent", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Repositories().Outbox.MarkSent(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrOutboxPublish)
}

var idempotencyRowColumns = []string{
	"key", "request_hash", "response_body", "http_status", "status", "ttl_at", "created_at", "updated_at",
}

func TestIdempotencyRepository_ClaimTakenByOtherRequest(t *testing.T) {
	store, mock := newMockStore(t)
	ttl := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE idempotency_keys.ttl_at <= $5`)).
		WillReturnRows(sqlmock.NewRows(idempotencyRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM idempotency_keys WHERE key = $1`)).
		WithArgs("k1").
		WillReturnRows(sqlmock.NewRows(idempotencyRowColumns).
			AddRow("k1", "other", nil, nil, "processing", ttl, ttl, ttl))

	existing, err := NewIdempotencyRepository(store).CreateProcessing(context.Background(), "k1", "mine", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	require.Equal(t, "other", existing.RequestHash)
	require.Zero(t, existing.HTTPStatus)
}

func TestIdempotencyRepository_DeleteExpiredWithoutLimit(t *testing.T) {
	store, mock := newMockStore(t)
	before := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`LIMIT NULLIF($2::int, 0)`)).
		WithArgs(before, 0).
		WillReturnResult(sqlmock.NewResult(0, 4))

	removed, err := NewIdempotencyRepository(store).DeleteExpired(context.Background(), before, -1)
	require.NoError(t, err)
	require.Equal(t, 4, removed)
}

func TestIdempotencyRepository_FinishUnknownKey(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE idempotency_keys`)).
		WithArgs("ghost", "done", []byte(`{}`), 200, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewIdempotencyRepository(store).MarkDone(context.Background(), "ghost", []byte(`{}`), 200)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}
