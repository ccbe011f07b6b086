package outbox

import (
	"context"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
	"github.com/vladislavdragonenkov/grocer/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

// DeadLetterPublisher принимает сообщения, которые не удалось опубликовать.
type DeadLetterPublisher interface {
	PublishDeadLetter(event domain.OutboxMessage, cause error) error
}

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) Option { return func(w *Worker) { w.logger = logger } }

// WithMetrics задаёт метрики воркера.
func WithMetrics(m *metrics.WorkerMetrics) Option { return func(w *Worker) { w.metrics = m } }

// WithDeadLetters задаёт получателя сообщений, исчерпавших попытки.
func WithDeadLetters(p DeadLetterPublisher) Option { return func(w *Worker) { w.deadLetters = p } }

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(d time.Duration) Option { return func(w *Worker) { w.pollInterval = d } }

// WithBatchSize задаёт число сообщений за один цикл.
func WithBatchSize(n int) Option { return func(w *Worker) { w.batchSize = n } }

// WithMaxAttempts задаёт число попыток публикации до перевода в failed.
func WithMaxAttempts(n int) Option { return func(w *Worker) { w.maxAttempts = n } }

// WithRetryBaseDelay задаёт первую задержку между попытками; далее она удваивается.
func WithRetryBaseDelay(d time.Duration) Option { return func(w *Worker) { w.retryBaseDelay = d } }

// WithClock подменяет источник времени для возраста backlog.
func WithClock(clock func() time.Time) Option { return func(w *Worker) { w.now = clock } }

// Worker переносит pending-сообщения outbox в брокер.
// Каждое сообщение публикуется с повторами; после последней неудачи
// оно уходит в DLQ и помечается failed.
type Worker struct {
	repo        domain.OutboxRepository
	publisher   domain.OutboxPublisher
	deadLetters DeadLetterPublisher
	logger      *log.Entry
	metrics     *metrics.WorkerMetrics

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	now            func() time.Time
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	w.retryBaseDelay = max(w.retryBaseDelay, 0)
	if w.now == nil {
		w.now = time.Now
	}
	return w
}

// Run опрашивает outbox до отмены ctx. Первый цикл выполняется сразу.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker disabled: no repository or publisher")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce обрабатывает один батч и возвращает число сообщений, помеченных sent.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	w.refreshBacklogMetrics(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("pull pending outbox messages")
		return 0
	}
	if len(batch) == 0 {
		return 0
	}
	defer w.refreshBacklogMetrics(ctx)

	sent := 0
	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		if w.deliver(ctx, msg) {
			sent++
		}
	}
	return sent
}

// deliver публикует одно сообщение и фиксирует итог в репозитории.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) bool {
	logger := w.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
	})

	err := w.publishWithRetry(ctx, msg)
	if err == nil {
		if markErr := w.repo.MarkSent(ctx, msg.ID); markErr != nil {
			// Останется pending и уйдёт ещё раз; потребители дедуплицируют по id.
			logger.WithError(markErr).Warn("mark outbox message sent")
			return false
		}
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	logger.WithError(err).Error("outbox message exhausted publish attempts")
	w.metrics.RecordOutboxPublish(metrics.OutboxFailed)
	w.publishDeadLetter(logger, msg, err)
	if markErr := w.repo.MarkFailed(ctx, msg.ID); markErr != nil {
		logger.WithError(markErr).Warn("mark outbox message failed")
	}
	return false
}

func (w *Worker) publishWithRetry(ctx context.Context, msg domain.OutboxMessage) error {
	var err error
	for attempt := 1; ; attempt++ {
		msg.Attempts = attempt - 1
		if err = w.publisher.Publish(msg); err == nil {
			w.metrics.RecordOutboxPublish(metrics.OutboxSent)
			return nil
		}
		w.metrics.RecordOutboxPublish(metrics.OutboxRetryError)
		if attempt == w.maxAttempts {
			return fmt.Errorf("publish %s after %d attempts: %w", msg.ID, attempt, err)
		}

		if delay := w.retryBackoff(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

func (w *Worker) publishDeadLetter(logger *log.Entry, msg domain.OutboxMessage, cause error) {
	if w.deadLetters == nil {
		return
	}
	msg.Attempts = w.maxAttempts
	if err := w.deadLetters.PublishDeadLetter(msg, cause); err != nil {
		logger.WithError(err).Warn("publish outbox message to DLQ")
		w.metrics.RecordOutboxPublish(metrics.OutboxDLQFailed)
		return
	}
	w.metrics.RecordOutboxPublish(metrics.OutboxDLQ)
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("collect outbox backlog stats")
		return
	}

	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetOutboxBacklog(stats.PendingCount, age)
}

// retryBackoff возвращает base * 2^(attempt-1), насыщаясь на math.MaxInt64.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 || attempt < 1 {
		return 0
	}
	delay := w.retryBaseDelay
	for range attempt - 1 {
		if delay > math.MaxInt64/2 {
			return math.MaxInt64
		}
		delay *= 2
	}
	return delay
}
