package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Load("roster", nil)
	m.Load("roster", errors.New("x"))
	m.Save("ok")
	m.Save("rejected")
	m.Report("daily", nil)
	m.Document("download", nil)
	m.Job(errors.New("x"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.loads.WithLabelValues("roster", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loads.WithLabelValues("roster", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.saves.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reports.WithLabelValues("daily", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.downloads.WithLabelValues("download", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Load("roster", nil)
		m.Save("ok")
		m.Report("range", nil)
		m.Document("view", nil)
		m.Job(nil)
	})
}
