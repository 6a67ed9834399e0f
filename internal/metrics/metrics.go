package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the reminder engine collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	alertsScheduled    *prometheus.CounterVec
	alertsFired        *prometheus.CounterVec
	escalations        prometheus.Counter
	channelDeliveries  *prometheus.CounterVec
	actionsClosed      *prometheus.CounterVec
	adherenceRejected  *prometheus.CounterVec
	notificationErrors prometheus.Counter
	pendingTimers      *prometheus.GaugeVec
	fireLag            prometheus.Histogram
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		alertsScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careminder_alerts_scheduled_total",
			Help: "Occurrences created by recurrence scheduling",
		}, []string{"kind"}),

		alertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careminder_alerts_fired_total",
			Help: "Alerts delivered when their timer fired",
		}, []string{"priority"}),

		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "careminder_escalations_total",
			Help: "Reminder re-emissions for unacknowledged alerts",
		}),

		channelDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careminder_channel_deliveries_total",
			Help: "Per-channel delivery attempts by result",
		}, []string{"channel", "result"}),

		actionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careminder_actions_closed_total",
			Help: "Care action occurrences closed by terminal status",
		}, []string{"kind", "status"}),

		adherenceRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careminder_adherence_rejections_total",
			Help: "Confirmations rejected for falling outside the adherence window",
		}, []string{"kind"}),

		notificationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "careminder_notification_failures_total",
			Help: "Persistence or delivery failures while firing alerts",
		}),

		pendingTimers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "careminder_pending_timers",
			Help: "Armed timers by registry",
		}, []string{"registry"}),

		fireLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "careminder_fire_lag_seconds",
			Help:    "Delay between an alert's scheduled instant and its delivery",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 30, 60, 300},
		}),
	}

	m.registry.MustRegister(
		m.alertsScheduled,
		m.alertsFired,
		m.escalations,
		m.channelDeliveries,
		m.actionsClosed,
		m.adherenceRejected,
		m.notificationErrors,
		m.pendingTimers,
		m.fireLag,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordScheduled(kind string, n int) {
	if m == nil {
		return
	}
	m.alertsScheduled.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) RecordFired(priority string, lag time.Duration) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(priority).Inc()
	if lag < 0 {
		lag = 0
	}
	m.fireLag.Observe(lag.Seconds())
}

func (m *Metrics) RecordEscalation() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

// RecordDelivery counts one channel attempt; result is "ok", "failed" or "skipped".
func (m *Metrics) RecordDelivery(channel, result string) {
	if m == nil {
		return
	}
	m.channelDeliveries.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) RecordClosed(kind, status string) {
	if m == nil {
		return
	}
	m.actionsClosed.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RecordAdherenceRejected(kind string) {
	if m == nil {
		return
	}
	m.adherenceRejected.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordNotificationFailure() {
	if m == nil {
		return
	}
	m.notificationErrors.Inc()
}

func (m *Metrics) SetPendingTimers(registry string, n int) {
	if m == nil {
		return
	}
	m.pendingTimers.WithLabelValues(registry).Set(float64(n))
}
