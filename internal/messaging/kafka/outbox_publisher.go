package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka topic.
// Ключ сообщения: идентификатор агрегата, так события одного заказа попадают в одну партицию.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	dlqTopic string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		dlqTopic: topic + ".dlq",
	}
}

func envelopeFor(event domain.OutboxMessage) OutboxEnvelope {
	return OutboxEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Attempt:       event.Attempts + 1,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	}
}

func keyFor(event domain.OutboxMessage) string {
	if event.AggregateID != "" {
		return event.AggregateID
	}
	return event.ID
}

// Publish отправляет событие в основной topic.
func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}
	return p.producer.PublishEvent(p.topic, keyFor(event), envelopeFor(event))
}

// PublishDeadLetter отправляет событие, исчерпавшее попытки, в DLQ topic.
func (p *OutboxTopicPublisher) PublishDeadLetter(event domain.OutboxMessage, cause error) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	return p.producer.PublishEvent(p.dlqTopic, keyFor(event), envelopeFor(event),
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(p.topic)},
		sarama.RecordHeader{Key: []byte(HeaderErrorMessage), Value: []byte(message)},
		sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(event.Attempts))},
		sarama.RecordHeader{Key: []byte(HeaderFailedAt), Value: []byte(time.Now().UTC().Format(time.RFC3339))},
	)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
