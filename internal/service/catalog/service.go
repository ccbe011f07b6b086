package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
	"github.com/vladislavdragonenkov/grocer/internal/metrics"
)

// Cache хранит проекции витрины между запросами.
type Cache interface {
	Listing(ctx context.Context) (domain.CatalogListing, bool)
	StoreListing(ctx context.Context, listing domain.CatalogListing)
	TopMarket(ctx context.Context) (domain.ProductView, bool)
	StoreTopMarket(ctx context.Context, product domain.ProductView)
	Invalidate(ctx context.Context)
}

// NopCache: кэш, который ничего не хранит.
type NopCache struct{}

func (NopCache) Listing(context.Context) (domain.CatalogListing, bool) { return domain.CatalogListing{}, false }
func (NopCache) StoreListing(context.Context, domain.CatalogListing) {}
func (NopCache) TopMarket(context.Context) (domain.ProductView, bool) { return domain.ProductView{}, false }
func (NopCache) StoreTopMarket(context.Context, domain.ProductView) {}
func (NopCache) Invalidate(context.Context) {}

// Options задаёт зависимости сервиса каталога.
type Options struct {
	Logger   *log.Entry
	Notifier domain.Notifier
	Cache    Cache
	Metrics  *metrics.ShopMetrics
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithNotifier задаёт канал уведомлений.
func WithNotifier(notifier domain.Notifier) Option {
	return func(opts *Options) { opts.Notifier = notifier }
}

// WithCache задаёт кэш витрины.
func WithCache(cache Cache) Option {
	return func(opts *Options) { opts.Cache = cache }
}

// WithMetrics задаёт бизнес-метрики.
func WithMetrics(m *metrics.ShopMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// Service: операции администратора над каталогом и чтение витрины.
type Service struct {
	storage  domain.Storage
	notifier domain.Notifier
	cache    Cache
	metrics  *metrics.ShopMetrics
	logger   *log.Entry
}

// NewService создаёт сервис каталога.
func NewService(storage domain.Storage, options ...Option) *Service {
	var opts Options
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "catalog")
	}
	if opts.Notifier == nil {
		opts.Notifier = domain.NopNotifier{}
	}
	if opts.Cache == nil {
		opts.Cache = NopCache{}
	}
	return &Service{
		storage:  storage,
		notifier: opts.Notifier,
		cache:    opts.Cache,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
}

// Ledger возвращает ledger, привязанный к репозиторию товаров транзакции.
func (s *Service) Ledger(products domain.ProductRepository) *Ledger {
	return NewLedger(products, s.logger, s.metrics)
}

// CreateProductInput: данные нового товара.
type CreateProductInput struct {
	Name        string
	Category    string
	Price       decimal.Decimal
	Description string
	Stock       int64
	IsTopMarket bool
	Images      []string
}

// CreateProduct добавляет товар. Новый top-market товар сразу становится
// текущим, предыдущий текущий теряет флаг.
func (s *Service) CreateProduct(ctx context.Context, in CreateProductInput) (product domain.Product, err error) {
	const op = "catalog.create_product"
	defer s.observe(op, time.Now(), &err)

	if in.Price.IsNegative() {
		return domain.Product{}, domain.ErrPriceInvalid
	}
	if in.Stock < 0 {
		return domain.Product{}, domain.ErrInsufficientStock
	}
	if in.IsTopMarket && in.Stock <= 0 {
		return domain.Product{}, domain.ErrTopMarketStockRequired
	}

	err = s.storage.Atomic(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if in.IsTopMarket {
			if err := tx.Products.LockSuccession(ctx); err != nil {
				return err
			}
		}
		created, err := tx.Products.Create(ctx, domain.Product{
			Name:        strings.TrimSpace(in.Name),
			Category:    domain.NormalizeCategory(in.Category),
			Price:       in.Price,
			Description: in.Description,
			Stock:       in.Stock,
			IsTopMarket: in.IsTopMarket,
			Images:      in.Images,
		})
		if err != nil {
			return err
		}
		if created.IsTopMarket {
			if err := tx.Products.SetCurrentTopMarket(ctx, created.ID, true); err != nil {
				return err
			}
			created.IsCurrentTopMarket = true
			if err := enqueueTopMarketChanged(ctx, tx.Outbox, created); err != nil {
				return err
			}
		}
		product = created
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.cache.Invalidate(ctx)
	if product.IsTopMarket {
		s.metrics.SetTopMarketStock(product.Stock)
		s.notifier.Broadcast(domain.EventNewTopMarketProduct, product.View())
	} else {
		s.notifier.Broadcast(domain.EventNewProduct, product.View())
	}
	s.logger.WithField("product_id", product.ID).Info("product created")
	return product, nil
}

// DeleteProduct удаляет товар вместе с заказами. Если удалён текущий
// top-market товар, назначается следующий.
func (s *Service) DeleteProduct(ctx context.Context, id int64) (err error) {
	const op = "catalog.delete_product"
	defer s.observe(op, time.Now(), &err)

	var promoted *domain.Product
	err = s.storage.Atomic(ctx, func(ctx context.Context, tx domain.Repositories) error {
		product, err := s.Ledger(tx.Products).LockProduct(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Products.Delete(ctx, id); err != nil {
			return err
		}
		if !product.IsCurrentTopMarket {
			return nil
		}
		next, err := s.Ledger(tx.Products).PromoteNextTopMarketProduct(ctx, id)
		if errors.Is(err, domain.ErrNoEligibleProduct) {
			return nil
		}
		if err != nil {
			return err
		}
		promoted = &next
		return enqueueTopMarketChanged(ctx, tx.Outbox, next)
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(ctx)
	s.notifier.Broadcast(domain.EventProductDeleted, map[string]int64{"id": id})
	if promoted != nil {
		s.notifier.Broadcast(domain.EventNewTopMarketProduct, promoted.View())
	}
	s.logger.WithField("product_id", id).Info("product deleted")
	return nil
}

// PromoteNextTopMarketProduct вручную запускает смену текущего top-market товара.
func (s *Service) PromoteNextTopMarketProduct(ctx context.Context, depletedID int64) (product domain.Product, err error) {
	const op = "catalog.promote_top_market"
	defer s.observe(op, time.Now(), &err)

	err = s.storage.Atomic(ctx, func(ctx context.Context, tx domain.Repositories) error {
		next, err := s.Ledger(tx.Products).PromoteNextTopMarketProduct(ctx, depletedID)
		if err != nil {
			return err
		}
		product = next
		return enqueueTopMarketChanged(ctx, tx.Outbox, next)
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.cache.Invalidate(ctx)
	s.notifier.Broadcast(domain.EventNewTopMarketProduct, product.View())
	return product, nil
}

// GetProduct возвращает товар по идентификатору.
func (s *Service) GetProduct(ctx context.Context, id int64) (product domain.Product, err error) {
	const op = "catalog.get_product"
	defer s.observe(op, time.Now(), &err)
	return s.storage.Repositories().Products.Get(ctx, id)
}

// CurrentTopMarketProduct возвращает проекцию текущего top-market товара.
func (s *Service) CurrentTopMarketProduct(ctx context.Context) (view domain.ProductView, err error) {
	const op = "catalog.current_top_market"
	defer s.observe(op, time.Now(), &err)

	if cached, ok := s.cache.TopMarket(ctx); ok {
		return cached, nil
	}
	product, err := s.storage.Repositories().Products.CurrentTopMarket(ctx)
	if err != nil {
		return domain.ProductView{}, err
	}
	view = product.View()
	s.cache.StoreTopMarket(ctx, view)
	return view, nil
}

// Listing возвращает обычные товары, сгруппированные по разделам витрины.
func (s *Service) Listing(ctx context.Context) (listing domain.CatalogListing, err error) {
	const op = "catalog.listing"
	defer s.observe(op, time.Now(), &err)

	if cached, ok := s.cache.Listing(ctx); ok {
		return cached, nil
	}
	products, err := s.storage.Repositories().Products.List(ctx, domain.ProductFilter{ExcludeTopMarket: true})
	if err != nil {
		return domain.CatalogListing{}, err
	}
	listing = domain.GroupByCategory(products)
	s.cache.StoreListing(ctx, listing)
	return listing, nil
}

// Search ищет товары по подстроке названия.
func (s *Service) Search(ctx context.Context, name string, limit int) (views []domain.ProductView, err error) {
	const op = "catalog.search"
	defer s.observe(op, time.Now(), &err)

	products, err := s.storage.Repositories().Products.List(ctx, domain.ProductFilter{NameContains: name, Limit: limit})
	if err != nil {
		return nil, err
	}
	views = make([]domain.ProductView, 0, len(products))
	for _, p := range products {
		views = append(views, p.View())
	}
	return views, nil
}

// InvalidateCache сбрасывает кэш витрины после изменения стока.
func (s *Service) InvalidateCache(ctx context.Context) {
	s.cache.Invalidate(ctx)
}

// observe пишет длительность операции и превращает непредвиденные ошибки в InternalFailure.
func (s *Service) observe(op string, start time.Time, errp *error) {
	s.metrics.RecordOperationDuration(op, time.Since(start))
	if *errp == nil {
		return
	}
	wrapped := domain.Internal(op, *errp)
	var opErr *domain.OperationError
	if errors.As(wrapped, &opErr) {
		s.logger.WithError(opErr.Cause).WithField("operation", op).Error("catalog operation failed")
	}
	*errp = wrapped
}

func enqueueTopMarketChanged(ctx context.Context, outbox domain.OutboxRepository, product domain.Product) error {
	msg, err := domain.NewTopMarketChangedMessage(product)
	if err != nil {
		return err
	}
	_, err = outbox.Enqueue(ctx, msg)
	return err
}
