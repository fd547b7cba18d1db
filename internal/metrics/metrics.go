// Package metrics exports the manager's bus-visible counters (NNames,
// NJobs) and job outcomes as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/initcore/initcore/internal/unit"
)

// Source is the slice of registry state the collector reads.
type Source interface {
	NNames() int
	NJobs() int
}

// Metrics bundles the exported collectors.
type Metrics struct {
	names prometheus.GaugeFunc
	jobs  prometheus.GaugeFunc

	JobResults *prometheus.CounterVec
}

// New registers the collectors with reg (prometheus.DefaultRegisterer if
// nil) and returns them.
func New(src Source, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		names: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "initcore_unit_names",
			Help: "Number of unit names (including aliases) known to the registry.",
		}, func() float64 { return float64(src.NNames()) }),
		jobs: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "initcore_jobs_installed",
			Help: "Number of currently installed jobs.",
		}, func() float64 { return float64(src.NJobs()) }),
		JobResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "initcore_job_results_total",
			Help: "Completed jobs by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.names, m.jobs, m.JobResults)
	return m
}

// ObserveJobResult counts one finished job.
func (m *Metrics) ObserveJobResult(result unit.Result) {
	m.JobResults.WithLabelValues(string(result)).Inc()
}
