package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts attendance operations by outcome. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	loads     *prometheus.CounterVec
	saves     *prometheus.CounterVec
	reports   *prometheus.CounterVec
	downloads *prometheus.CounterVec
	jobs      *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "loads_total",
			Help:      "Roster and attendance loads from the backend.",
		}, []string{"kind", "outcome"}),
		saves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "saves_total",
			Help:      "Attendance save attempts.",
		}, []string{"outcome"}),
		reports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "reports_total",
			Help:      "Generated attendance workbooks.",
		}, []string{"kind", "outcome"}),
		downloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "document_requests_total",
			Help:      "Justification document views and downloads.",
		}, []string{"action", "outcome"}),
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "report_jobs_total",
			Help:      "Processed asynchronous report jobs.",
		}, []string{"outcome"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Load records a roster/courses/attendance/range load.
func (m *Metrics) Load(kind string, err error) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(kind, outcome(err)).Inc()
}

// Save records a save attempt; rejected is used for client-side validation
// failures.
func (m *Metrics) Save(result string) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(result).Inc()
}

// Report records a workbook build.
func (m *Metrics) Report(kind string, err error) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(kind, outcome(err)).Inc()
}

// Document records a view or download.
func (m *Metrics) Document(action string, err error) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(action, outcome(err)).Inc()
}

// Job records a finished report job.
func (m *Metrics) Job(err error) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome(err)).Inc()
}
