package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type mockConsumerGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeFn   func() error
}

func (m *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, topics, handler)
	}
	return nil
}

func (m *mockConsumerGroup) Errors() <-chan error {
	return m.errorsCh
}

func (m *mockConsumerGroup) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	if m.errorsCh != nil {
		close(m.errorsCh)
	}
	return nil
}

func (m *mockConsumerGroup) Pause(map[string][]int32)  {}
func (m *mockConsumerGroup) Resume(map[string][]int32) {}
func (m *mockConsumerGroup) PauseAll()                 {}
func (m *mockConsumerGroup) ResumeAll()                {}

type mockSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (m *mockSession) Claims() map[string][]int32               { return nil }
func (m *mockSession) MemberID() string                         { return "member" }
func (m *mockSession) GenerationID() int32                      { return 1 }
func (m *mockSession) MarkOffset(string, int32, int64, string)  {}
func (m *mockSession) Commit()                                  {}
func (m *mockSession) ResetOffset(string, int32, int64, string) {}
func (m *mockSession) Context() context.Context                 { return m.ctx }
func (m *mockSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	m.marked = append(m.marked, msg)
}

type mockClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (m *mockClaim) Topic() string                            { return m.topic }
func (m *mockClaim) Partition() int32                         { return m.partition }
func (m *mockClaim) InitialOffset() int64                     { return 0 }
func (m *mockClaim) HighWaterMarkOffset() int64               { return 0 }
func (m *mockClaim) Messages() <-chan *sarama.ConsumerMessage { return m.messages }

func retryHeader(count string) []*sarama.RecordHeader {
	return []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte(count)}}
}

func TestNewConsumerRejectsUnreachableBrokers(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{
		Brokers: []string{"invalid-broker:9092"},
		GroupID: "group",
		Topics:  []string{TopicNotifications},
	}, func(context.Context, *sarama.ConsumerMessage) error { return nil })
	require.Error(t, err)
}

func TestConsumerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumeCalls := 0
	var consumedTopics []string
	errorsCh := make(chan error, 1)
	group := &mockConsumerGroup{
		errorsCh: errorsCh,
		consumeFn: func(_ context.Context, topics []string, _ sarama.ConsumerGroupHandler) error {
			consumeCalls++
			consumedTopics = topics
			cancel()
			return nil
		},
	}

	consumer := newConsumerFromGroup(group, ConsumerConfig{
		Topics: []string{TopicNotifications},
		Logger: log.WithField("test", "consumer"),
	}, func(context.Context, *sarama.ConsumerMessage) error { return nil })

	errorsCh <- errors.New("background error")
	require.NoError(t, consumer.Start(ctx))
	require.NoError(t, consumer.Stop())
	require.Equal(t, 1, consumeCalls)
	require.Equal(t, []string{TopicNotifications}, consumedTopics)
}

func TestConsumerStopError(t *testing.T) {
	errorsCh := make(chan error)
	group := &mockConsumerGroup{errorsCh: errorsCh, closeFn: func() error {
		close(errorsCh)
		return errors.New("close failed")
	}}
	consumer := &Consumer{consumer: group, logger: log.WithField("test", "stop")}
	if err := consumer.Stop(); err == nil {
		t.Fatal("expected stop error")
	}
}

func TestConsumeClaimMarksHandledMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := &Consumer{
		handler: func(context.Context, *sarama.ConsumerMessage) error { return nil },
		logger:  log.WithField("test", "claim"),
	}

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "topic", Offset: 1, Key: []byte("k"), Value: []byte("v")}
	claim.messages <- &sarama.ConsumerMessage{Topic: "topic", Offset: 2, Key: []byte("k"), Value: []byte("v")}
	close(claim.messages)

	require.NoError(t, consumer.ConsumeClaim(session, claim))
	require.Len(t, session.marked, 2)
}

func TestConsumeClaimLeavesFailedMessagesUnmarked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return errors.New("failed") },
		logger:     log.WithField("test", "claim-fail"),
		maxRetries: 1,
	}

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "topic", Offset: 1, Key: []byte("k"), Value: []byte("v")}
	close(claim.messages)

	require.NoError(t, consumer.ConsumeClaim(session, claim))
	require.Empty(t, session.marked)
}

func TestConsumeClaimStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := &Consumer{
		handler: func(context.Context, *sarama.ConsumerMessage) error { return nil },
		logger:  log.WithField("test", "claim-stop"),
	}
	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}

func TestHandleMessageWithRetry(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		consumer := &Consumer{
			handler:    func(context.Context, *sarama.ConsumerMessage) error { return nil },
			logger:     log.WithField("test", "retry-success"),
			maxRetries: 2,
		}
		require.NoError(t, consumer.handleMessageWithRetry(context.Background(), &sarama.ConsumerMessage{Topic: "topic"}))
	})

	t.Run("retries remaining attempts", func(t *testing.T) {
		attempts := 0
		consumer := &Consumer{
			handler: func(context.Context, *sarama.ConsumerMessage) error {
				attempts++
				return errors.New("temporary")
			},
			logger:     log.WithField("test", "retry"),
			maxRetries: 3,
		}
		msg := &sarama.ConsumerMessage{Topic: "topic", Headers: retryHeader("1")}
		require.Error(t, consumer.handleMessageWithRetry(context.Background(), msg))
		require.Equal(t, 3, attempts)
	})

	t.Run("recovers on a later attempt", func(t *testing.T) {
		attempts := 0
		consumer := &Consumer{
			handler: func(context.Context, *sarama.ConsumerMessage) error {
				attempts++
				if attempts < 2 {
					return errors.New("temporary")
				}
				return nil
			},
			logger:     log.WithField("test", "retry-recover"),
			maxRetries: 3,
			retryDelay: time.Millisecond,
		}
		require.NoError(t, consumer.handleMessageWithRetry(context.Background(), &sarama.ConsumerMessage{Topic: "topic"}))
		require.Equal(t, 2, attempts)
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		consumer := &Consumer{
			handler:    func(context.Context, *sarama.ConsumerMessage) error { return errors.New("temporary") },
			logger:     log.WithField("test", "retry-cancel"),
			maxRetries: 3,
			retryDelay: time.Hour,
		}
		require.ErrorIs(t, consumer.handleMessageWithRetry(ctx, &sarama.ConsumerMessage{Topic: "topic"}), context.Canceled)
	})

	t.Run("exhausted without dlq", func(t *testing.T) {
		consumer := &Consumer{
			handler:    func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
			logger:     log.WithField("test", "max-no-dlq"),
			maxRetries: 3,
		}
		msg := &sarama.ConsumerMessage{Topic: "topic", Headers: retryHeader("3")}
		require.Error(t, consumer.handleMessageWithRetry(context.Background(), msg))
	})

	t.Run("exhausted with dlq", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			letter, err := ParseDeadLetter(&sarama.ConsumerMessage{Value: val})
			if err != nil {
				return err
			}
			if letter.OriginalTopic != TopicNotifications || letter.ErrorMessage != "permanent" || letter.RetryCount != 3 {
				return errors.New("unexpected dead letter")
			}
			return nil
		})
		consumer := &Consumer{
			handler:     func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
			dlqProducer: NewProducerFromSync(mockProducer, log.WithField("test", "dlq")),
			dlqTopic:    TopicNotificationsDLQ,
			logger:      log.WithField("test", "max-dlq"),
			maxRetries:  3,
		}
		msg := &sarama.ConsumerMessage{Topic: TopicNotifications, Key: []byte("k"), Value: []byte("{}"), Headers: retryHeader("3")}
		require.NoError(t, consumer.handleMessageWithRetry(context.Background(), msg))
		require.NoError(t, mockProducer.Close())
	})

	t.Run("dlq failure", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
		consumer := &Consumer{
			handler:     func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
			dlqProducer: NewProducerFromSync(mockProducer, log.WithField("test", "dlq")),
			dlqTopic:    TopicNotificationsDLQ,
			logger:      log.WithField("test", "max-dlq-fail"),
		}
		require.Error(t, consumer.handleMessageWithRetry(context.Background(), &sarama.ConsumerMessage{Topic: "topic"}))
		require.NoError(t, mockProducer.Close())
	})
}

func TestGetRetryCount(t *testing.T) {
	consumer := &Consumer{}

	require.Equal(t, 5, consumer.getRetryCount(&sarama.ConsumerMessage{Headers: retryHeader("5")}))
	require.Zero(t, consumer.getRetryCount(&sarama.ConsumerMessage{Headers: retryHeader("bad")}))
	require.Zero(t, consumer.getRetryCount(&sarama.ConsumerMessage{Headers: retryHeader("-2")}))
	require.Zero(t, consumer.getRetryCount(&sarama.ConsumerMessage{}))
}

func TestParsers(t *testing.T) {
	_, err := ParseOutboxEnvelope(&sarama.ConsumerMessage{Value: []byte(`{"id":"m-1","event_type":"order.created","payload":{"order_id":1}}`)})
	require.NoError(t, err)
	_, err = ParseOutboxEnvelope(&sarama.ConsumerMessage{Value: []byte("{")})
	require.Error(t, err)

	_, err = ParseNotificationEvent(&sarama.ConsumerMessage{Value: []byte(`{"instance_id":"a"}`)})
	require.Error(t, err)

	_, err = ParseDeadLetter(&sarama.ConsumerMessage{Value: []byte(`{"original_value":"x"}`)})
	require.Error(t, err)
}
