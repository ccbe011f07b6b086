package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
)

const defaultIdempotencyTTL = domain.DefaultIdempotencyTTL

// idempotencyKeys хранит ответы на повторяемые HTTP-запросы.
// Ключи не участвуют в транзакциях Store, поэтому у них свой мьютекс.
type idempotencyKeys struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
	now     func() time.Time
}

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyRepository.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return newIdempotencyKeys(func() time.Time { return time.Now().UTC() })
}

func newIdempotencyKeys(now func() time.Time) *idempotencyKeys {
	return &idempotencyKeys{records: make(map[string]domain.IdempotencyRecord), now: now}
}

func (k *idempotencyKeys) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	// Просроченную запись, которую ещё не удалил cleanup worker, можно занять заново.
	if existing, ok := k.records[key]; ok && !existing.Expired(now) {
		if existing.RequestHash != requestHash {
			return copyRecord(existing), domain.ErrIdempotencyHashMismatch
		}
		return copyRecord(existing), domain.ErrIdempotencyKeyAlreadyExists
	}

	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}
	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	k.records[key] = record
	return copyRecord(record), nil
}

func (k *idempotencyKeys) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	var found domain.IdempotencyRecord
	err := k.update(key, func(record *domain.IdempotencyRecord) bool {
		found = copyRecord(*record)
		return false
	})
	return found, err
}

func (k *idempotencyKeys) MarkDone(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return k.finish(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (k *idempotencyKeys) MarkFailed(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return k.finish(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет записи с TTL не позже before, начиная с самых старых.
func (k *idempotencyKeys) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if before.IsZero() {
		before = k.now()
	}
	var expired []domain.IdempotencyRecord
	for _, record := range k.records {
		if !record.TTLAt.After(before) {
			expired = append(expired, record)
		}
	}
	slices.SortFunc(expired, func(a, b domain.IdempotencyRecord) int { return a.TTLAt.Compare(b.TTLAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, record := range expired {
		delete(k.records, record.Key)
	}
	return len(expired), nil
}

func (k *idempotencyKeys) finish(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	return k.update(key, func(record *domain.IdempotencyRecord) bool {
		record.Status = status
		record.ResponseBody = append([]byte(nil), responseBody...)
		record.HTTPStatus = httpStatus
		record.UpdatedAt = k.now()
		return true
	})
}

// update находит запись по ключу и сохраняет её, если fn вернула true.
func (k *idempotencyKeys) update(key string, fn func(record *domain.IdempotencyRecord) bool) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	record, ok := k.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	if fn(&record) {
		k.records[key] = record
	}
	return nil
}

func copyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return dst
}

var _ domain.IdempotencyRepository = (*idempotencyKeys)(nil)
