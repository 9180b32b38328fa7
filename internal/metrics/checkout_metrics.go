package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики оформления и жизненного цикла заказов.
type CheckoutMetrics struct {
	// Счётчики операций
	placementStarted   prometheus.Counter
	placementCompleted prometheus.Counter
	placementFailed    prometheus.Counter
	placementWarnings  *prometheus.CounterVec
	ordersCancelled    prometheus.Counter
	ordersDelivered    prometheus.Counter

	// Гистограммы времени выполнения
	placementDuration prometheus.Histogram
	stepDuration      *prometheus.HistogramVec

	// Компенсации и события
	stockCompensations prometheus.Counter
	outboxEvents       prometheus.Counter

	// Gauge для активных оформлений
	activePlacements prometheus.Gauge
}

// NewCheckoutMetrics создаёт новый экземпляр метрик оформления заказов.
func NewCheckoutMetrics() *CheckoutMetrics {
	return newCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		placementStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fos_placement_started_total",
			Help: "Total number of order placements started",
		}),
		placementCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fos_placement_completed_total",
			Help: "Total number of order placements completed successfully",
		}),
		placementFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fos_placement_failed_total",
			Help: "Total number of order placements failed",
		}),
		placementWarnings: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fos_placement_warnings_total",
			Help: "Total number of soft placement failures degraded to warnings",
		}, []string{"step"}),
		ordersCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fos_orders_cancelled_total",
			Help: "Total number of orders cancelled",
		}),
		ordersDelivered: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fos_orders_delivered_total",
			Help: "Total number of orders delivered",
		}),
		placementDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "fos_placement_duration_seconds",
			Help:    "Duration of order placements in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "fos_placement_step_duration_seconds",
			Help:    "Duration of individual placement steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		stockCompensations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fos_stock_compensations_total",
			Help: "Total number of stock reservations released by compensation",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fos_outbox_events_total",
			Help: "Total number of outbox events published",
		}),
		activePlacements: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "fos_active_placements",
			Help: "Number of currently active order placements",
		}),
	}
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

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
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

// RecordPlacementStarted увеличивает счётчик начатых оформлений.
func (m *CheckoutMetrics) RecordPlacementStarted() {
	m.placementStarted.Inc()
	m.activePlacements.Inc()
}

// RecordPlacementCompleted увеличивает счётчик успешных оформлений.
func (m *CheckoutMetrics) RecordPlacementCompleted() {
	m.placementCompleted.Inc()
	m.activePlacements.Dec()
}

// RecordPlacementFailed увеличивает счётчик неудачных оформлений.
func (m *CheckoutMetrics) RecordPlacementFailed() {
	m.placementFailed.Inc()
	m.activePlacements.Dec()
}

// RecordPlacementWarning фиксирует мягкий сбой шага оформления.
func (m *CheckoutMetrics) RecordPlacementWarning(step string) {
	m.placementWarnings.WithLabelValues(step).Inc()
}

// RecordOrderCancelled увеличивает счётчик отменённых заказов.
func (m *CheckoutMetrics) RecordOrderCancelled() {
	m.ordersCancelled.Inc()
}

// RecordOrderDelivered увеличивает счётчик доставленных заказов.
func (m *CheckoutMetrics) RecordOrderDelivered() {
	m.ordersDelivered.Inc()
}

// RecordPlacementDuration записывает время оформления заказа.
func (m *CheckoutMetrics) RecordPlacementDuration(duration time.Duration) {
	m.placementDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время выполнения шага оформления.
func (m *CheckoutMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordStockCompensation увеличивает счётчик компенсаций резервов.
func (m *CheckoutMetrics) RecordStockCompensation() {
	m.stockCompensations.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
