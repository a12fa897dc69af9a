// SPDX-License-Identifier: MPL-2.0

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "newrev"

// Prometheus is a Collector backed by its own registry, so several
// supervisors (or tests) never collide on the global one.
type Prometheus struct {
	registry *prometheus.Registry

	transitions     *prometheus.CounterVec
	startDuration   *prometheus.HistogramVec
	startFailures   *prometheus.CounterVec
	stopDuration    *prometheus.HistogramVec
	unexpectedExits *prometheus.CounterVec
	provisionTime   *prometheus.HistogramVec
}

// NewPrometheus creates a Prometheus collector. An empty namespace selects
// DefaultNamespace.
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	p := &Prometheus{registry: prometheus.NewRegistry()}

	p.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_state_transitions_total",
		Help:      "Backend supervisor state transitions.",
	}, []string{"from", "to"})

	p.startDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backend_start_duration_seconds",
		Help:      "Time from Start until the backend reported ready or failed.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"outcome"})

	p.startFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_start_failures_total",
		Help:      "Failed backend starts by error kind.",
	}, []string{"kind"})

	p.stopDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backend_stop_duration_seconds",
		Help:      "Time taken to stop the backend.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
	}, []string{"killed"})

	p.unexpectedExits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_unexpected_exits_total",
		Help:      "Backend exits while running, by classification.",
	}, []string{"classification"})

	p.provisionTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "runtime_provision_duration_seconds",
		Help:      "Duration of runtime provisioning runs.",
		Buckets:   []float64{5, 15, 30, 60, 120, 240, 480, 900},
	}, []string{"outcome"})

	p.registry.MustRegister(
		p.transitions,
		p.startDuration,
		p.startFailures,
		p.stopDuration,
		p.unexpectedExits,
		p.provisionTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) StateTransition(from, to string) {
	p.transitions.WithLabelValues(from, to).Inc()
}

func (p *Prometheus) StartFinished(d time.Duration, kind string) {
	outcome := OutcomeSuccess
	if kind != "" {
		outcome = OutcomeError
		p.startFailures.WithLabelValues(kind).Inc()
	}
	p.startDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (p *Prometheus) StopFinished(d time.Duration, killed bool) {
	p.stopDuration.WithLabelValues(strconv.FormatBool(killed)).Observe(d.Seconds())
}

func (p *Prometheus) UnexpectedExit(classification string) {
	p.unexpectedExits.WithLabelValues(classification).Inc()
}

func (p *Prometheus) ProvisionFinished(d time.Duration, outcome string) {
	p.provisionTime.WithLabelValues(outcome).Observe(d.Seconds())
}
