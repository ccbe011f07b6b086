package notify

import (
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/grocer/internal/domain"
	"github.com/vladislavdragonenkov/grocer/internal/metrics"
)

// DefaultBufferSize: сколько событий подписчик может не прочитать, прежде чем начнутся потери.
const DefaultBufferSize = 32

// Event: уведомление, доставляемое подключённому клиенту.
type Event struct {
	Name    string
	Payload any
}

// Subscription: подписка клиента на события хаба.
type Subscription struct {
	ID     string
	events chan Event
	once   sync.Once
}

// Events возвращает канал событий. Канал закрывается при отписке или закрытии хаба.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.events) })
}

// Hub рассылает события всем подписчикам процесса.
// Broadcast никогда не блокируется: если буфер подписчика полон, событие для него теряется.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscription
	closed      bool
	bufferSize  int
	metrics     *metrics.ShopMetrics
	logger      *log.Entry
}

// NewHub создаёт хаб. bufferSize<=0 означает DefaultBufferSize.
func NewHub(bufferSize int, m *metrics.ShopMetrics, logger *log.Entry) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = log.WithField("component", "notify-hub")
	}
	return &Hub{
		subscribers: make(map[string]*Subscription),
		bufferSize:  bufferSize,
		metrics:     m,
		logger:      logger,
	}
}

// Subscribe регистрирует нового подписчика.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		ID:     uuid.NewString(),
		events: make(chan Event, h.bufferSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.close()
		return sub
	}
	h.subscribers[sub.ID] = sub
	h.logger.WithField("subscriber_id", sub.ID).Debug("subscriber connected")
	return sub
}

// Unsubscribe удаляет подписчика и закрывает его канал. Повторный вызов безопасен.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	delete(h.subscribers, sub.ID)
	h.mu.Unlock()
	sub.close()
}

// Broadcast отправляет событие всем подписчикам.
func (h *Hub) Broadcast(event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	msg := Event{Name: event, Payload: payload}
	for id, sub := range h.subscribers {
		select {
		case sub.events <- msg:
		default:
			h.metrics.RecordNotificationDropped()
			h.logger.WithFields(log.Fields{"subscriber_id": id, "event": event}).Warn("subscriber is too slow, event dropped")
		}
	}
}

// Subscribers возвращает число активных подписчиков.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close отключает всех подписчиков.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subscribers {
		sub.close()
		delete(h.subscribers, id)
	}
}

// Fanout передаёт каждое событие всем вложенным получателям по порядку.
type Fanout []domain.Notifier

// Broadcast вызывает Broadcast у каждого получателя.
func (f Fanout) Broadcast(event string, payload any) {
	for _, n := range f {
		if n != nil {
			n.Broadcast(event, payload)
		}
	}
}

var (
	_ domain.Notifier = (*Hub)(nil)
	_ domain.Notifier = Fanout(nil)
)
