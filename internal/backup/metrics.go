package backup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records backup outcomes. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	lastSuccess prometheus.Gauge
	pruned      prometheus.Counter
}

// NewMetrics registers the backup collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "localspeed",
			Subsystem: "backup",
			Name:      "runs_total",
			Help:      "Backup attempts by outcome and error category.",
		}, []string{"outcome", "category"}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "localspeed",
			Subsystem: "backup",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful backup.",
		}),
		pruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: "localspeed",
			Subsystem: "backup",
			Name:      "pruned_objects_total",
			Help:      "Remote backups deleted by retention.",
		}),
	}
}

func (m *Metrics) observe(run Run) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(run.Outcome), string(run.Category)).Inc()
	if run.Outcome == OutcomeSuccess {
		m.lastSuccess.Set(float64(run.Timestamp.Unix()))
		m.pruned.Add(float64(run.Pruned))
	}
}
