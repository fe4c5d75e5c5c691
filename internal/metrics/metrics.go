// Package metrics exports controller activity as prometheus series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/orrn/catspool/internal/core"
)

const namespace = "catspool"

// Collector is a core.Observer backed by its own registry.
type Collector struct {
	registry     *prometheus.Registry
	state        prometheus.Gauge
	transitions  *prometheus.CounterVec
	jobs         *prometheus.CounterVec
	printedBytes prometheus.Counter
	chunks       prometheus.Counter
	jobDuration  prometheus.Histogram
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "printer",
			Name:      "connection_state",
			Help:      "Current link state: 0 disconnected, 1 discovering, 2 connecting, 3 connected.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "printer",
			Name:      "state_transitions_total",
			Help:      "Count of link state transitions by target state.",
		}, []string{"state"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_events_total",
			Help:      "Count of job lifecycle events by kind.",
		}, []string{"event"}),
		printedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "printed_bytes_total",
			Help:      "Bytes of command payload delivered for completed jobs.",
		}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_written_total",
			Help:      "Chunks written for completed jobs.",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from job start to the last chunk.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
	}

	c.registry.MustRegister(
		c.state,
		c.transitions,
		c.jobs,
		c.printedBytes,
		c.chunks,
		c.jobDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) StateChanged(from, to core.ConnectionState) {
	c.state.Set(float64(to))
	c.transitions.WithLabelValues(to.String()).Inc()
}

func (c *Collector) JobEvent(ev core.JobEvent) {
	c.jobs.WithLabelValues(string(ev.Type)).Inc()
	if ev.Type != core.JobCompleted {
		return
	}
	c.printedBytes.Add(float64(ev.Bytes))
	c.chunks.Add(float64(ev.Chunks))
	c.jobDuration.Observe(ev.Duration.Seconds())
}
