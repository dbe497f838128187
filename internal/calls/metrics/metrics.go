package metrics

import (
	"time"

	calls "callwatch/internal/calls/domain"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "callwatch_"

	resultSuccess = "success"
	resultError   = "error"
)

// Metrics bundles call engine metrics.
type Metrics struct {
	DetectedTotal      *prometheus.CounterVec
	OutcomesTotal      *prometheus.CounterVec
	StoreErrorsTotal   *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
	VisibleCalls       prometheus.Gauge
	SessionsTotal      *prometheus.CounterVec
}

// New constructs metrics and registers them with reg, or the default
// registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		DetectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_detected_total",
				Help: "New panel calls detected by branch",
			},
			[]string{"branch"},
		),
		OutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_outcomes_total",
				Help: "Reconciliation outcomes",
			},
			[]string{"outcome"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "store_errors_total",
				Help: "Call store failures by operation",
			},
			[]string{"op"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Call notifications by result",
			},
			[]string{"result"},
		),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "poll_cycle_duration_seconds",
			Help:    "Poll cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		VisibleCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "visible_calls",
			Help: "Calls visible on the panel in the last cycle",
		}),
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "capture_sessions_ended_total",
				Help: "Capture sessions ended by result",
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(
		m.DetectedTotal,
		m.OutcomesTotal,
		m.StoreErrorsTotal,
		m.NotificationsTotal,
		m.CycleDuration,
		m.VisibleCalls,
		m.SessionsTotal,
	)
	return m
}

func (m *Metrics) EventsDetected(branch string, n int) {
	m.DetectedTotal.WithLabelValues(branch).Add(float64(n))
}

func (m *Metrics) Outcome(outcome calls.Outcome) {
	m.OutcomesTotal.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) StoreError(op string) {
	m.StoreErrorsTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) Published(err error) {
	m.NotificationsTotal.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) CycleDone(d time.Duration, items int) {
	m.CycleDuration.Observe(d.Seconds())
	m.VisibleCalls.Set(float64(items))
}

func (m *Metrics) SessionEnded(err error) {
	m.SessionsTotal.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}
