package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
)

type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	unitsTotal         *prometheus.CounterVec
	placementAttempts  *prometheus.HistogramVec
	ordersTotal        *prometheus.CounterVec
	orderPolls         *prometheus.HistogramVec
	orderTurnaround    *prometheus.HistogramVec
	assetsTotal        *prometheus.CounterVec
	vendorRequests     *prometheus.CounterVec
	vendorDuration     *prometheus.HistogramVec
	rateLimitResponses *prometheus.CounterVec
	now                func() time.Time
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	unitsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "acq",
			Subsystem: "placement",
			Name:      "units_total",
			Help:      "Work units processed by outcome (placed or skip reason).",
		},
		[]string{"service", "outcome"},
	)
	placementAttempts := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "acq",
			Subsystem: "placement",
			Name:      "attempts",
			Help:      "Search+order attempts per work unit.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
		[]string{"service"},
	)
	ordersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "acq",
			Subsystem: "fulfillment",
			Name:      "orders_total",
			Help:      "Orders driven to an end state by fulfillment status.",
		},
		[]string{"service", "status"},
	)
	orderPolls := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "acq",
			Subsystem: "fulfillment",
			Name:      "polls",
			Help:      "Status observations per order.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 60, 120},
		},
		[]string{"service"},
	)
	orderTurnaround := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "acq",
			Subsystem: "fulfillment",
			Name:      "turnaround_seconds",
			Help:      "Delay between order placement and its end state.",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		},
		[]string{"service", "status"},
	)
	assetsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "acq",
			Subsystem: "fulfillment",
			Name:      "assets_total",
			Help:      "Asset downloads by result.",
		},
		[]string{"service", "result"},
	)
	vendorRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "acq",
			Subsystem: "vendor",
			Name:      "requests_total",
			Help:      "Imagery API requests by operation and HTTP status (0 for transport errors).",
		},
		[]string{"service", "operation", "status"},
	)
	vendorDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "acq",
			Subsystem: "vendor",
			Name:      "request_duration_seconds",
			Help:      "Imagery API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "operation"},
	)
	rateLimitResponses := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "acq",
			Subsystem: "vendor",
			Name:      "rate_limited_total",
			Help:      "HTTP 429 responses by operation.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		unitsTotal,
		placementAttempts,
		ordersTotal,
		orderPolls,
		orderTurnaround,
		assetsTotal,
		vendorRequests,
		vendorDuration,
		rateLimitResponses,
	)

	return &PipelineMetrics{
		registry:           registry,
		service:            service,
		unitsTotal:         unitsTotal,
		placementAttempts:  placementAttempts,
		ordersTotal:        ordersTotal,
		orderPolls:         orderPolls,
		orderTurnaround:    orderTurnaround,
		assetsTotal:        assetsTotal,
		vendorRequests:     vendorRequests,
		vendorDuration:     vendorDuration,
		rateLimitResponses: rateLimitResponses,
		now:                time.Now,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PipelineMetrics) RecordPlacement(_ context.Context, _ string, outcome domain.PlacementOutcome) error {
	outcomeLabel := "placed"
	if outcome.Skip != nil {
		outcomeLabel = string(outcome.Skip.Reason)
	}
	m.unitsTotal.WithLabelValues(m.service, outcomeLabel).Inc()
	if outcome.Attempts > 0 {
		m.placementAttempts.WithLabelValues(m.service).Observe(float64(outcome.Attempts))
	}
	return nil
}

func (m *PipelineMetrics) RecordFulfillment(_ context.Context, _ string, outcome domain.FulfillmentOutcome) error {
	status := string(outcome.Status)
	if status == "" {
		status = "unknown"
	}
	m.ordersTotal.WithLabelValues(m.service, status).Inc()
	m.orderPolls.WithLabelValues(m.service).Observe(float64(outcome.Polls))

	if !outcome.Order.PlacedAt.IsZero() {
		finished := outcome.FinishedAt
		if finished.IsZero() {
			finished = m.now()
		}
		if lag := finished.Sub(outcome.Order.PlacedAt); lag >= 0 {
			m.orderTurnaround.WithLabelValues(m.service, status).Observe(lag.Seconds())
		}
	}

	if n := len(outcome.Downloaded); n > 0 {
		m.assetsTotal.WithLabelValues(m.service, "downloaded").Add(float64(n))
	}
	if n := len(outcome.FailedAssets); n > 0 {
		m.assetsTotal.WithLabelValues(m.service, "failed").Add(float64(n))
	}
	return nil
}

func (m *PipelineMetrics) ObserveVendorRequest(operation string, statusCode int, duration time.Duration) {
	m.vendorRequests.WithLabelValues(m.service, operation, strconv.Itoa(statusCode)).Inc()
	m.vendorDuration.WithLabelValues(m.service, operation).Observe(duration.Seconds())
	if statusCode == http.StatusTooManyRequests {
		m.rateLimitResponses.WithLabelValues(m.service, operation).Inc()
	}
}
