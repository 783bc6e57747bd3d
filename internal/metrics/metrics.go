package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fieldbook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	lifecycleEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_operations_total",
			Help:      "Booking lifecycle operations by event and outcome.",
		},
		[]string{"event", "outcome"},
	)

	lifecycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lifecycle_operation_duration_seconds",
			Help:      "Time spent in booking lifecycle operations.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"event"},
	)

	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Notification deliveries by sink and outcome.",
		},
		[]string{"sink", "outcome"},
	)

	calendarSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calendar_sessions",
			Help:      "Open live calendar streams.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, lifecycleEvents, lifecycleDuration, deliveries, calendarSessions)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObserveLifecycle records one lifecycle operation. err decides the outcome label.
func ObserveLifecycle(event string, seconds float64, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	lifecycleEvents.WithLabelValues(event, outcome).Inc()
	lifecycleDuration.WithLabelValues(event).Observe(seconds)
}

func IncDelivery(sink string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	deliveries.WithLabelValues(sink, outcome).Inc()
}

func SessionOpened() { calendarSessions.Inc() }

func SessionClosed() { calendarSessions.Dec() }
