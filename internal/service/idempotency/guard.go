package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
)

// DefaultTTL: сколько хранится ответ на запрос с Idempotency-Key.
const DefaultTTL = domain.DefaultIdempotencyTTL

var (
	// ErrRequestInProgress: запрос с тем же ключом ещё обрабатывается.
	ErrRequestInProgress = errors.New("request with this idempotency key is still in progress")
)

// Outcome: результат попытки занять ключ.
type Outcome struct {
	// Replay заполнен, если запрос уже выполнялся и ответ нужно вернуть повторно.
	Replay *domain.IdempotencyRecord
}

// Guard оборачивает IdempotencyRepository протоколом begin/complete.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// NewGuard создаёт Guard. ttl<=0 означает DefaultTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{repo: repo, ttl: ttl, now: time.Now, logger: logger}
}

// RequestHash связывает ключ с пользователем, методом, путём и телом запроса.
func RequestHash(userID int64, method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(userID, 10)))
	h.Write([]byte{0})
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Begin занимает ключ. Возвращает Replay для завершённого запроса,
// ErrRequestInProgress для незавершённого и domain.ErrIdempotencyHashMismatch
// при повторе ключа с другим запросом.
func (g *Guard) Begin(ctx context.Context, key, requestHash string) (Outcome, error) {
	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().UTC().Add(g.ttl))
	switch {
	case err == nil:
		return Outcome{}, nil
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return Outcome{}, err
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Finished() {
			return Outcome{Replay: &record}, nil
		}
		return Outcome{}, ErrRequestInProgress
	default:
		return Outcome{}, fmt.Errorf("begin idempotent request: %w", err)
	}
}

// Complete сохраняет ответ. 5xx помечает запись как failed, остальное как done.
func (g *Guard) Complete(ctx context.Context, key string, status int, body []byte) {
	var err error
	if status >= 500 {
		err = g.repo.MarkFailed(ctx, key, body, status)
	} else {
		err = g.repo.MarkDone(ctx, key, body, status)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}
