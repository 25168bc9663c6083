package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the collectors a Runner updates.
type Metrics struct {
	Commands *prometheus.CounterVec
	State    prometheus.Gauge
	Active   prometheus.Gauge
}

// NewMetrics registers the run collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowchem_commands_total",
		Help: "Commands dispatched to devices, by component and event.",
	}, []string{"component", "event"})
	state := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowchem_run_state",
		Help: "Current run state: 0 idle, 1 running, 2 completed, 3 aborted.",
	})
	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowchem_active_components",
		Help: "Components currently moving or collecting.",
	})
	reg.MustRegister(commands, state, active)
	return &Metrics{
		Commands: commands,
		State:    state,
		Active:   active,
	}
}
