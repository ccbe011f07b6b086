package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/grocer/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/grocer/internal/metrics"
	"github.com/vladislavdragonenkov/grocer/internal/notify"
)

const (
	relayMaxRetries = 3
)

// messaging: Kafka-часть сервиса. Все поля nil, если брокеры не заданы.
type messaging struct {
	producer  *kafka.Producer
	publisher *kafka.OutboxTopicPublisher
	relay     *kafka.NotificationRelay
	consumer  *kafka.Consumer
}

// initMessaging создаёт producer, outbox publisher и relay уведомлений.
// Недоступная Kafka не мешает запуску: сервис работает без межпроцессных уведомлений.
func initMessaging(cfg Config, hub *notify.Hub, shopMetrics *metrics.ShopMetrics, logger *log.Entry) *messaging {
	m := &messaging{}
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("kafka brokers are not configured, outbox worker and notification relay are disabled")
		return m
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers, logger.WithField("component", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return m
	}
	m.producer = producer
	m.publisher = kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents)

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	m.relay = kafka.NewNotificationRelay(producer, instanceID, cfg.NotificationBufferSize, shopMetrics,
		logger.WithField("component", "notification-relay"))

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:     cfg.KafkaBrokers,
		GroupID:     fmt.Sprintf("%s-%s", kafka.DefaultNotificationGroup, instanceID),
		Topics:      []string{kafka.TopicNotifications},
		DLQTopic:    kafka.TopicNotificationsDLQ,
		DLQProducer: producer,
		MaxRetries:  relayMaxRetries,
		RetryDelay:  cfg.OutboxRetryBaseDelay,
		Logger:      logger.WithField("component", "notification-consumer"),
	}, m.relay.InboundHandler(hub))
	if err != nil {
		logger.WithError(err).Warn("failed to create notification consumer, remote notifications are disabled")
	} else {
		m.consumer = consumer
	}

	logger.WithFields(log.Fields{
		"brokers":     cfg.KafkaBrokers,
		"instance_id": instanceID,
	}).Info("kafka messaging initialized")
	return m
}

// start запускает relay и consumer до отмены ctx.
func (m *messaging) start(ctx context.Context, logger *log.Entry) {
	if m.relay != nil {
		go m.relay.Run(ctx)
	}
	if m.consumer != nil {
		if err := m.consumer.Start(ctx); err != nil {
			logger.WithError(err).Warn("failed to start notification consumer")
		}
	}
}

// close останавливает consumer и закрывает producer. Вызывать после отмены ctx.
func (m *messaging) close(logger *log.Entry) {
	if m == nil {
		return
	}
	if m.consumer != nil {
		if err := m.consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop notification consumer")
		}
	}
	if m.producer != nil {
		if err := m.producer.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka producer")
		} else {
			logger.Info("kafka producer closed")
		}
	}
}

// notifier объединяет локальный хаб и relay, если он есть.
func (m *messaging) notifier(hub *notify.Hub) notify.Fanout {
	if m.relay == nil {
		return notify.Fanout{hub}
	}
	return notify.Fanout{hub, m.relay}
}
