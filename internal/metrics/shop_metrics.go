package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Метки переходов заказа.
const (
	TransitionCreated           = "created"
	TransitionCheckoutConfirmed = "checkout_confirmed"
	TransitionConfirmed         = "confirmed"
	TransitionCanceled          = "canceled"
	TransitionDeleted           = "deleted"
)

// Метки результатов резервирования и смены top-market товара.
const (
	ReservationReserved     = "reserved"
	ReservationInsufficient = "insufficient"
	ReservationUnavailable  = "unavailable"

	SuccessionPromoted    = "promoted"
	SuccessionNoCandidate = "no_candidate"
)

// ShopMetrics содержит бизнес-метрики магазина.
// Все методы безопасно вызывать на nil: сервисы в тестах работают без метрик.
type ShopMetrics struct {
	// Счётчики заказов и стока
	orderTransitions  *prometheus.CounterVec
	stockReservations *prometheus.CounterVec
	stockReleased     prometheus.Counter
	successions       *prometheus.CounterVec
	topMarketStock    prometheus.Gauge

	// Истории и уведомления
	storyViews           *prometheus.CounterVec
	notificationsDropped prometheus.Counter

	operationDuration *prometheus.HistogramVec
}

// NewShopMetrics регистрирует метрики в глобальном реестре.
func NewShopMetrics() *ShopMetrics {
	return NewShopMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewShopMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewShopMetricsWithRegisterer(registerer prometheus.Registerer) *ShopMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ShopMetrics{
		orderTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "grocer_order_transitions_total",
			Help: "Total number of order lifecycle transitions",
		}, []string{"transition"}),
		stockReservations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "grocer_stock_reservations_total",
			Help: "Total number of stock reservation attempts grouped by result",
		}, []string{"result"}),
		stockReleased: registerCounter(registerer, prometheus.CounterOpts{
			Name: "grocer_stock_released_total",
			Help: "Total number of stock releases after order deletion or cancellation",
		}),
		successions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "grocer_top_market_successions_total",
			Help: "Total number of top-market succession attempts grouped by result",
		}, []string{"result"}),
		topMarketStock: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "grocer_top_market_stock",
			Help: "Last observed stock of the current top-market product",
		}),
		storyViews: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "grocer_story_views_total",
			Help: "Total number of story view requests grouped by first or repeat view",
		}, []string{"result"}),
		notificationsDropped: registerCounter(registerer, prometheus.CounterOpts{
			Name: "grocer_notifications_dropped_total",
			Help: "Total number of notifications dropped for slow subscribers",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "grocer_operation_duration_seconds",
			Help:    "Duration of service operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
	}
}

// HTTPMetrics: метрики HTTP-запросов для gin middleware.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics регистрирует метрики HTTP в переданном реестре.
func NewHTTPMetrics(registerer prometheus.Registerer) *HTTPMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &HTTPMetrics{
		requests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "grocer_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		duration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "grocer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ObserveRequest фиксирует завершённый HTTP-запрос.
func (m *HTTPMetrics) ObserveRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, status).Inc()
	m.duration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderTransition увеличивает счётчик переходов заказа.
func (m *ShopMetrics) RecordOrderTransition(transition string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(transition).Inc()
}

// RecordReservation фиксирует результат резервирования.
func (m *ShopMetrics) RecordReservation(result string) {
	if m == nil {
		return
	}
	m.stockReservations.WithLabelValues(result).Inc()
}

// RecordRelease увеличивает счётчик возвратов стока.
func (m *ShopMetrics) RecordRelease() {
	if m == nil {
		return
	}
	m.stockReleased.Inc()
}

// RecordSuccession фиксирует результат смены top-market товара.
func (m *ShopMetrics) RecordSuccession(result string) {
	if m == nil {
		return
	}
	m.successions.WithLabelValues(result).Inc()
}

// SetTopMarketStock обновляет остаток текущего top-market товара.
func (m *ShopMetrics) SetTopMarketStock(stock int64) {
	if m == nil {
		return
	}
	m.topMarketStock.Set(float64(stock))
}

// RecordStoryView фиксирует просмотр истории: первый или повторный.
func (m *ShopMetrics) RecordStoryView(first bool) {
	if m == nil {
		return
	}
	result := "repeat"
	if first {
		result = "first"
	}
	m.storyViews.WithLabelValues(result).Inc()
}

// RecordNotificationDropped увеличивает счётчик потерянных уведомлений.
func (m *ShopMetrics) RecordNotificationDropped() {
	if m == nil {
		return
	}
	m.notificationsDropped.Inc()
}

// RecordOperationDuration записывает время выполнения операции сервиса.
func (m *ShopMetrics) RecordOperationDuration(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
