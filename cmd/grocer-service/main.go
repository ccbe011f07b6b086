package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/grocer/internal/app"
	"github.com/vladislavdragonenkov/grocer/internal/version"
)

const (
	envHTTPAddr    = "GROCER_HTTP_ADDR"
	envGRPCAddr    = "GROCER_GRPC_ADDR"
	envMetricsAddr = "GROCER_METRICS_ADDR"

	envStorageDriver       = "GROCER_STORAGE_DRIVER"
	envPostgresDSN         = "GROCER_POSTGRES_DSN"
	envPostgresAutoMigrate = "GROCER_POSTGRES_AUTO_MIGRATE"
	envSeedUsers           = "GROCER_SEED_USERS"

	envRedisAddr     = "GROCER_REDIS_ADDR"
	envRedisPassword = "GROCER_REDIS_PASSWORD"
	envRedisDB       = "GROCER_REDIS_DB"
	envCacheTTL      = "GROCER_CACHE_TTL"

	envKafkaBrokers = "KAFKA_BROKERS"
	envInstanceID   = "GROCER_INSTANCE_ID"

	envOutboxPollInterval   = "GROCER_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize      = "GROCER_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts    = "GROCER_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryBaseDelay = "GROCER_OUTBOX_RETRY_BASE_DELAY"

	envIdempotencyTTL              = "GROCER_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "GROCER_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "GROCER_IDEMPOTENCY_CLEANUP_BATCH_SIZE"

	envShutdownTimeout = "GROCER_SHUTDOWN_TIMEOUT"
	envLogLevel        = "LOG_LEVEL"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		level, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			log.WithError(err).Warn("invalid LOG_LEVEL, using info")
			return
		}
		log.SetLevel(level)
	}
}

// readConfigFromEnv собирает конфигурацию. Некорректные значения
// заменяются значениями по умолчанию, причина возвращается в warnings.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string
	warn := func(key string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s: %v, using default", key, err))
	}
	str := func(key string, target *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
	positiveInt := func(key string, target *int) {
		if v, ok := lookup(key); ok {
			parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0")
			if err != nil {
				warn(key, err)
				return
			}
			*target = parsed
		}
	}
	duration := func(key string, target *time.Duration, valid func(time.Duration) bool, rule string) {
		if v, ok := lookup(key); ok {
			parsed, err := parseDuration(v, valid, rule)
			if err != nil {
				warn(key, err)
				return
			}
			*target = parsed
		}
	}
	positive := func(d time.Duration) bool { return d > 0 }
	nonNegative := func(d time.Duration) bool { return d >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)

	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}
	str(envPostgresDSN, &cfg.PostgresDSN)
	if v, ok := lookup(envPostgresAutoMigrate); ok {
		parsed, err := parseBool(v)
		if err != nil {
			warn(envPostgresAutoMigrate, err)
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}
	if v, ok := lookup(envSeedUsers); ok {
		parsed, err := parseInt(v, func(n int) bool { return n >= 0 }, "must be >= 0")
		if err != nil {
			warn(envSeedUsers, err)
		} else {
			cfg.SeedUsers = parsed
		}
	}

	str(envRedisAddr, &cfg.RedisAddr)
	if v, ok := lookup(envRedisPassword); ok {
		cfg.RedisPassword = v
	}
	if v, ok := lookup(envRedisDB); ok {
		parsed, err := parseInt(v, func(n int) bool { return n >= 0 }, "must be >= 0")
		if err != nil {
			warn(envRedisDB, err)
		} else {
			cfg.RedisDB = parsed
		}
	}
	duration(envCacheTTL, &cfg.CacheTTL, positive, "must be > 0")

	if v, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	str(envInstanceID, &cfg.InstanceID)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positive, "must be > 0")
	positiveInt(envOutboxBatchSize, &cfg.OutboxBatchSize)
	positiveInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(envOutboxRetryBaseDelay, &cfg.OutboxRetryBaseDelay, nonNegative, "must be >= 0")

	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positive, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positive, "must be > 0")
	positiveInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)

	duration(envShutdownTimeout, &cfg.ShutdownTimeout, positive, "must be > 0")

	return cfg, warnings
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}

func main() {
	setupLogger(os.LookupEnv)
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"version":        version.String(),
	}).Info("starting grocer service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("service stopped with error")
	}

	log.Info("grocer service stopped")
}
