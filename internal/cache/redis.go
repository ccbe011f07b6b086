package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
)

const (
	listingKey   = "catalog:listing"
	topMarketKey = "catalog:top-market"

	// DefaultTTL: время жизни проекций витрины, если не задано явно.
	DefaultTTL = 30 * time.Second

	pingTimeout = 5 * time.Second
)

// Options описывает подключение к Redis.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Catalog кэширует витрину и текущий top-market товар в Redis.
// Ошибки Redis не ломают запрос: промах и сбой одинаково ведут в хранилище.
type Catalog struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Entry
}

// Connect открывает клиент Redis и проверяет соединение.
func Connect(ctx context.Context, opts Options, logger *log.Entry) (*Catalog, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewCatalog(client, opts.TTL, logger), nil
}

// NewCatalog оборачивает готовый клиент Redis.
func NewCatalog(client *redis.Client, ttl time.Duration, logger *log.Entry) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "catalog-cache")
	}
	return &Catalog{client: client, ttl: ttl, logger: logger}
}

// Listing возвращает витрину из кэша.
func (c *Catalog) Listing(ctx context.Context) (domain.CatalogListing, bool) {
	var listing domain.CatalogListing
	return listing, c.get(ctx, listingKey, &listing)
}

// StoreListing кладёт витрину в кэш.
func (c *Catalog) StoreListing(ctx context.Context, listing domain.CatalogListing) {
	c.set(ctx, listingKey, listing)
}

// TopMarket возвращает текущий top-market товар из кэша.
func (c *Catalog) TopMarket(ctx context.Context) (domain.ProductView, bool) {
	var view domain.ProductView
	return view, c.get(ctx, topMarketKey, &view)
}

// StoreTopMarket кладёт текущий top-market товар в кэш.
func (c *Catalog) StoreTopMarket(ctx context.Context, product domain.ProductView) {
	c.set(ctx, topMarketKey, product)
}

// Invalidate удаляет обе проекции.
func (c *Catalog) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, listingKey, topMarketKey).Err(); err != nil {
		c.logger.WithError(err).Warn("failed to invalidate catalog cache")
	}
}

// Ping проверяет доступность Redis для readiness.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close закрывает клиент.
func (c *Catalog) Close() error {
	return c.client.Close()
}

func (c *Catalog) get(ctx context.Context, key string, dst any) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("catalog cache read failed")
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("catalog cache entry is corrupted")
		return false
	}
	return true
}

func (c *Catalog) set(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("failed to encode catalog cache entry")
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("catalog cache write failed")
	}
}
