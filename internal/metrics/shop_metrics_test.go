package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestNewShopMetricsWithRegisterer(t *testing.T) {
	metrics := NewShopMetricsWithRegisterer(prometheus.NewRegistry())

	if metrics == nil {
		t.Fatal("NewShopMetricsWithRegisterer should not return nil")
	}
	if metrics.orderTransitions == nil {
		t.Error("orderTransitions counter vec should not be nil")
	}
	if metrics.stockReservations == nil {
		t.Error("stockReservations counter vec should not be nil")
	}
	if metrics.successions == nil {
		t.Error("successions counter vec should not be nil")
	}
	if metrics.topMarketStock == nil {
		t.Error("topMarketStock gauge should not be nil")
	}
	if metrics.operationDuration == nil {
		t.Error("operationDuration histogram vec should not be nil")
	}
}

func TestShopMetrics_ReRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewShopMetricsWithRegisterer(reg)
	second := NewShopMetricsWithRegisterer(reg)

	first.RecordOrderTransition(TransitionCreated)
	second.RecordOrderTransition(TransitionCreated)

	if got := counterValue(t, first.orderTransitions.WithLabelValues(TransitionCreated)); got != 2 {
		t.Fatalf("expected shared counter value 2, got %f", got)
	}
}

func TestShopMetrics_RecordReservationAndSuccession(t *testing.T) {
	metrics := NewShopMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordReservation(ReservationReserved)
	metrics.RecordReservation(ReservationReserved)
	metrics.RecordReservation(ReservationInsufficient)
	metrics.RecordSuccession(SuccessionPromoted)

	if got := counterValue(t, metrics.stockReservations.WithLabelValues(ReservationReserved)); got != 2 {
		t.Errorf("expected 2 reserved, got %f", got)
	}
	if got := counterValue(t, metrics.stockReservations.WithLabelValues(ReservationInsufficient)); got != 1 {
		t.Errorf("expected 1 insufficient, got %f", got)
	}
	if got := counterValue(t, metrics.successions.WithLabelValues(SuccessionPromoted)); got != 1 {
		t.Errorf("expected 1 promotion, got %f", got)
	}
}

func TestShopMetrics_SetTopMarketStock(t *testing.T) {
	metrics := NewShopMetricsWithRegisterer(prometheus.NewRegistry())
	metrics.SetTopMarketStock(7)

	gauge := &dto.Metric{}
	if err := metrics.topMarketStock.Write(gauge); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if gauge.Gauge.GetValue() != 7 {
		t.Errorf("expected gauge 7, got %f", gauge.Gauge.GetValue())
	}
}

func TestShopMetrics_NilReceiverIsNoop(t *testing.T) {
	var metrics *ShopMetrics

	metrics.RecordOrderTransition(TransitionDeleted)
	metrics.RecordReservation(ReservationUnavailable)
	metrics.RecordRelease()
	metrics.RecordSuccession(SuccessionNoCandidate)
	metrics.SetTopMarketStock(1)
	metrics.RecordStoryView(true)
	metrics.RecordNotificationDropped()
	metrics.RecordOperationDuration("noop", time.Millisecond)

	var httpMetrics *HTTPMetrics
	httpMetrics.ObserveRequest("GET", "/", "200", time.Millisecond)
}

func TestHTTPMetrics_ObserveRequest(t *testing.T) {
	metrics := NewHTTPMetrics(prometheus.NewRegistry())
	metrics.ObserveRequest("POST", "/api/orders", "201", 10*time.Millisecond)

	if got := counterValue(t, metrics.requests.WithLabelValues("POST", "/api/orders", "201")); got != 1 {
		t.Fatalf("expected 1 request, got %f", got)
	}
}
