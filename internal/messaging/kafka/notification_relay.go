package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
	"github.com/vladislavdragonenkov/grocer/internal/metrics"
)

const defaultRelayBuffer = 256

// NotificationRelay пересылает уведомления клиентов другим экземплярам сервиса через Kafka.
// Broadcast только кладёт событие в очередь; публикацией занимается Run.
type NotificationRelay struct {
	producer   *Producer
	topic      string
	instanceID string
	queue      chan NotificationEvent
	metrics    *metrics.ShopMetrics
	logger     *log.Entry
	now        func() time.Time
}

// NewNotificationRelay создаёт relay. bufferSize<=0 означает размер по умолчанию.
func NewNotificationRelay(producer *Producer, instanceID string, bufferSize int, m *metrics.ShopMetrics, logger *log.Entry) *NotificationRelay {
	if bufferSize <= 0 {
		bufferSize = defaultRelayBuffer
	}
	if logger == nil {
		logger = log.WithField("component", "notification-relay")
	}
	return &NotificationRelay{
		producer:   producer,
		topic:      TopicNotifications,
		instanceID: instanceID,
		queue:      make(chan NotificationEvent, bufferSize),
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// InstanceID возвращает идентификатор экземпляра, которым помечаются исходящие события.
func (r *NotificationRelay) InstanceID() string {
	return r.instanceID
}

// Broadcast ставит событие в очередь на публикацию. При переполнении событие теряется.
func (r *NotificationRelay) Broadcast(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		r.logger.WithError(err).WithField("event", event).Error("failed to encode notification payload")
		return
	}

	msg := NotificationEvent{
		InstanceID: r.instanceID,
		Event:      event,
		Payload:    raw,
		EmittedAt:  r.now().UTC(),
	}
	select {
	case r.queue <- msg:
	default:
		r.metrics.RecordNotificationDropped()
		r.logger.WithField("event", event).Warn("notification relay queue is full, event dropped")
	}
}

// Run публикует события из очереди, пока не отменён ctx.
func (r *NotificationRelay) Run(ctx context.Context) {
	r.logger.WithField("topic", r.topic).Info("notification relay started")
	defer r.logger.Info("notification relay stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.queue:
			r.publish(msg)
		}
	}
}

func (r *NotificationRelay) publish(msg NotificationEvent) {
	if r.producer == nil {
		return
	}
	err := r.producer.PublishEvent(r.topic, msg.Event, msg,
		sarama.RecordHeader{Key: []byte(HeaderInstanceID), Value: []byte(r.instanceID)},
	)
	if err != nil {
		r.logger.WithError(err).WithField("event", msg.Event).Warn("failed to relay notification")
	}
}

// InboundHandler возвращает обработчик consumer group, который передаёт
// события других экземпляров в local. Собственные события пропускаются.
func (r *NotificationRelay) InboundHandler(local domain.Notifier) MessageHandler {
	return func(_ context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParseNotificationEvent(message)
		if err != nil {
			return err
		}
		if event.InstanceID == r.instanceID {
			return nil
		}
		local.Broadcast(event.Event, event.Payload)
		return nil
	}
}

var _ domain.Notifier = (*NotificationRelay)(nil)
