package infrastructure

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "posextract"

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	jobsTotal        *prometheus.CounterVec
	jobDuration      prometheus.Histogram
	locationsTotal   *prometheus.CounterVec
	recordsTotal     *prometheus.CounterVec
	deliveryAttempts *prometheus.CounterVec
	authOutcomes     *prometheus.CounterVec
	sessionRestarts  prometheus.Counter
	downloadWait     prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "jobs",
				Name:      "total",
				Help:      "Jobs by lifecycle outcome (submitted, conflict, completed, failed).",
			},
			[]string{"outcome"},
		),
		jobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "jobs",
				Name:      "duration_seconds",
				Help:      "Wall time of a job from start to finalization.",
				Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
			},
		),
		locationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "extraction",
				Name:      "locations_total",
				Help:      "Per-location extraction results.",
			},
			[]string{"result"},
		),
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "extraction",
				Name:      "records_total",
				Help:      "Parsed records by validation verdict.",
			},
			[]string{"verdict"},
		),
		deliveryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "delivery",
				Name:      "attempts_total",
				Help:      "Outbound delivery attempts by outcome.",
			},
			[]string{"outcome"},
		),
		authOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "auth",
				Name:      "outcomes_total",
				Help:      "Authentication flow terminal states.",
			},
			[]string{"state"},
		),
		sessionRestarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "browser",
				Name:      "session_restarts_total",
				Help:      "Browser sessions recreated after a disconnect.",
			},
		),
		downloadWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "download",
				Name:      "wait_seconds",
				Help:      "Time spent waiting for an export artifact.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	for _, c := range []prometheus.Collector{
		m.jobsTotal, m.jobDuration, m.locationsTotal, m.recordsTotal,
		m.deliveryAttempts, m.authOutcomes, m.sessionRestarts, m.downloadWait,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) JobOutcome(outcome string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) JobDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.Observe(d.Seconds())
}

func (m *Metrics) LocationResult(success bool) {
	if m == nil {
		return
	}
	result := "failed"
	if success {
		result = "succeeded"
	}
	m.locationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Records(valid, invalid int) {
	if m == nil {
		return
	}
	m.recordsTotal.WithLabelValues("valid").Add(float64(valid))
	m.recordsTotal.WithLabelValues("invalid").Add(float64(invalid))
}

func (m *Metrics) DeliveryAttempt(outcome string) {
	if m == nil {
		return
	}
	m.deliveryAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AuthOutcome(state string) {
	if m == nil {
		return
	}
	m.authOutcomes.WithLabelValues(state).Inc()
}

func (m *Metrics) SessionRestart() {
	if m == nil {
		return
	}
	m.sessionRestarts.Inc()
}

func (m *Metrics) DownloadWait(d time.Duration) {
	if m == nil {
		return
	}
	m.downloadWait.Observe(d.Seconds())
}
