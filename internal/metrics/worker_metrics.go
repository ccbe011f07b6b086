package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Метки результатов публикации outbox.
const (
	OutboxSent       = "sent"
	OutboxRetryError = "retry_error"
	OutboxFailed     = "failed"
	OutboxDLQ        = "dlq"
	OutboxDLQFailed  = "dlq_failed"
)

// WorkerMetrics: метрики фоновых воркеров: outbox и очистки idempotency ключей.
type WorkerMetrics struct {
	outboxPublishAttempts  *prometheus.CounterVec
	outboxPendingRecords   prometheus.Gauge
	outboxOldestPendingAge prometheus.Gauge

	cleanupRuns        *prometheus.CounterVec
	cleanupDeleted     prometheus.Counter
	cleanupLastDeleted prometheus.Gauge
}

// NewWorkerMetrics регистрирует метрики воркеров в переданном реестре.
func NewWorkerMetrics(registerer prometheus.Registerer) *WorkerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &WorkerMetrics{
		outboxPublishAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "grocer_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result",
		}, []string{"result"}),
		outboxPendingRecords: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "grocer_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox",
		}),
		outboxOldestPendingAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "grocer_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		}),
		cleanupRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "grocer_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result",
		}, []string{"result"}),
		cleanupDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "grocer_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records",
		}),
		cleanupLastDeleted: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "grocer_idempotency_cleanup_last_deleted",
			Help: "Number of deleted records during the last cleanup run",
		}),
	}
}

// RecordOutboxPublish фиксирует результат попытки публикации.
func (m *WorkerMetrics) RecordOutboxPublish(result string) {
	if m == nil {
		return
	}
	m.outboxPublishAttempts.WithLabelValues(result).Inc()
}

// SetOutboxBacklog обновляет размер и возраст backlog.
func (m *WorkerMetrics) SetOutboxBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.outboxPendingRecords.Set(float64(pending))
	m.outboxOldestPendingAge.Set(oldestAge.Seconds())
}

// RecordCleanupRun фиксирует результат прогона очистки.
func (m *WorkerMetrics) RecordCleanupRun(result string) {
	if m == nil {
		return
	}
	m.cleanupRuns.WithLabelValues(result).Inc()
}

// RecordCleanupDeleted добавляет удалённые записи одного batch.
func (m *WorkerMetrics) RecordCleanupDeleted(deleted int) {
	if m == nil || deleted <= 0 {
		return
	}
	m.cleanupDeleted.Add(float64(deleted))
}

// SetCleanupLastDeleted сохраняет итог последнего прогона.
func (m *WorkerMetrics) SetCleanupLastDeleted(deleted int) {
	if m == nil {
		return
	}
	m.cleanupLastDeleted.Set(float64(deleted))
}
