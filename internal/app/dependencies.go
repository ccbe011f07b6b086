package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/grocer/internal/cache"
	"github.com/vladislavdragonenkov/grocer/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/grocer/internal/health"
	"github.com/vladislavdragonenkov/grocer/internal/service/catalog"
	"github.com/vladislavdragonenkov/grocer/internal/storage/memory"
	"github.com/vladislavdragonenkov/grocer/internal/storage/postgres"
)

// runtimeDependencies: хранилище, кэш и их проверки готовности.
type runtimeDependencies struct {
	storage         domain.Storage
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	catalogCache    catalog.Cache

	storageChecker healthcheck.Checker
	cacheChecker   healthcheck.Checker

	closers []func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close dependency")
		}
	}
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{catalogCache: catalog.NopCache{}}

	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		deps.storage = store
		deps.outboxRepo = store.Repositories().Outbox
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("postgres storage requires GROCER_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		deps.storage = store
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		deps.storageChecker = healthcheck.NewPingChecker("postgres", store.Ping)
		deps.closers = append(deps.closers, store.Close)
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("using postgres storage")
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if cfg.RedisAddr != "" {
		catalogCache, err := cache.Connect(ctx, cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
		}, logger.WithField("component", "catalog-cache"))
		if err != nil {
			logger.WithError(err).Warn("redis is unavailable, catalog cache disabled")
		} else {
			deps.catalogCache = catalogCache
			deps.cacheChecker = healthcheck.NewOptionalChecker("redis", catalogCache.Ping)
			deps.closers = append(deps.closers, catalogCache.Close)
			logger.WithField("addr", cfg.RedisAddr).Info("catalog cache enabled")
		}
	}

	return deps, nil
}
