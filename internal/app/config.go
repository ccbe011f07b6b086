package app

import (
	"time"

	"github.com/vladislavdragonenkov/grocer/internal/cache"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// SeedUsers: сколько профилей покупателей создать при старте (id 1..SeedUsers).
	SeedUsers int

	// RedisAddr пустой: витрина не кэшируется.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	// KafkaBrokers пустой: outbox копится в хранилище, уведомления не выходят за пределы процесса.
	KafkaBrokers []string
	// InstanceID пустой: генерируется при запуске.
	InstanceID string

	OutboxPollInterval     time.Duration
	OutboxBatchSize        int
	OutboxMaxAttempts      int
	OutboxRetryBaseDelay   time.Duration
	NotificationBufferSize int

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		CacheTTL:                    cache.DefaultTTL,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryBaseDelay:        200 * time.Millisecond,
		NotificationBufferSize:      256,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		ShutdownTimeout:             10 * time.Second,
	}
}
