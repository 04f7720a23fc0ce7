// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import "github.com/prometheus/client_golang/prometheus"

// Metrics exports the progress of an optimizer. A nil *Metrics records nothing.
type Metrics struct {
	SolverCalls prometheus.Counter
	Steps       *prometheus.CounterVec
	Runs        *prometheus.CounterVec
	TrustFactor prometheus.Gauge
	Cost        prometheus.Gauge
}

const (
	stepAccepted = "accepted"
	stepRejected = "rejected"
	stepStalled  = "stalled"
)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		SolverCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scp",
			Name:      "solver_calls_total",
			Help:      "Total number of convex subproblem solves.",
		}),
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scp",
			Name:      "steps_total",
			Help:      "Candidate steps by outcome.",
		}, []string{"result"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scp",
			Name:      "runs_total",
			Help:      "Finished runs by terminal status.",
		}, []string{"status"}),
		TrustFactor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scp",
			Name:      "trust_region_factor",
			Help:      "Current trust region shrink factor.",
		}),
		Cost: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scp",
			Name:      "cost",
			Help:      "Exact cost at the current point.",
		}),
	}
	for _, c := range []prometheus.Collector{m.SolverCalls, m.Steps, m.Runs, m.TrustFactor, m.Cost} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) solverCall() {
	if m != nil {
		m.SolverCalls.Inc()
	}
}

func (m *Metrics) step(result string) {
	if m != nil {
		m.Steps.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) run(s Status) {
	if m != nil {
		m.Runs.WithLabelValues(s.String()).Inc()
	}
}

func (m *Metrics) observe(factor, cost float64) {
	if m != nil {
		m.TrustFactor.Set(factor)
		m.Cost.Set(cost)
	}
}
