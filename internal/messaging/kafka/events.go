package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Topics для Kafka
const (
	TopicOrderEvents         = "grocer.order.events"
	TopicOrderEventsDLQ      = "grocer.order.events.dlq"
	TopicNotifications       = "grocer.notifications"
	TopicNotificationsDLQ    = "grocer.notifications.dlq"
	DefaultNotificationGroup = "grocer-notification-relay"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderInstanceID    = "x-instance-id"
)

// OutboxEnvelope: формат интеграционного события в топике заказов.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Attempt       int             `json:"attempt"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NotificationEvent: уведомление клиента, пересылаемое между экземплярами сервиса.
type NotificationEvent struct {
	InstanceID string          `json:"instance_id"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EmittedAt  time.Time       `json:"emitted_at"`
}

// DeadLetter: сообщение, которое не удалось обработать после всех попыток.
type DeadLetter struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// ParseOutboxEnvelope парсит событие заказа из сообщения.
func ParseOutboxEnvelope(message *sarama.ConsumerMessage) (*OutboxEnvelope, error) {
	var event OutboxEnvelope
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outbox envelope: %w", err)
	}
	return &event, nil
}

// ParseNotificationEvent парсит уведомление из сообщения.
func ParseNotificationEvent(message *sarama.ConsumerMessage) (*NotificationEvent, error) {
	var event NotificationEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification event: %w", err)
	}
	if event.Event == "" {
		return nil, fmt.Errorf("notification event name is empty")
	}
	return &event, nil
}

// ParseDeadLetter парсит сообщение из DLQ.
func ParseDeadLetter(message *sarama.ConsumerMessage) (*DeadLetter, error) {
	var letter DeadLetter
	if err := json.Unmarshal(message.Value, &letter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	if letter.OriginalTopic == "" {
		return nil, fmt.Errorf("dead letter has no original topic")
	}
	return &letter, nil
}
