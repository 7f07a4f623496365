// Package obs carries the prometheus instrumentation shared by the
// reservation client and the host-check orchestrator.
package obs

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every collector the tool registers.
type Metrics struct {
	ReserveTotal *prometheus.CounterVec // result=success|temporary|permanent|protocol
	ReleaseTotal *prometheus.CounterVec // result=success|stuck

	RetrySleepSeconds prometheus.Histogram

	TaskTotal  *prometheus.CounterVec // status=ok|error|signal|failure
	LeaksTotal prometheus.Counter
}

// NewMetrics builds and registers the collectors. A nil registerer uses the
// default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ReserveTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsvp_reserve_total",
				Help: "Total reservation attempts by result",
			},
			[]string{"result"},
		),
		ReleaseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsvp_release_total",
				Help: "Total release attempts by result",
			},
			[]string{"result"},
		),
		RetrySleepSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rsvp_retry_sleep_seconds",
			Help:    "Time spent sleeping between reservation retries",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9), // 1s .. ~4m
		}),
		TaskTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsvp_task_total",
				Help: "Completed host-check tasks by outcome",
			},
			[]string{"status"},
		),
		LeaksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsvp_leaks_total",
			Help: "Hosts that could not be fixed and released back to the pool",
		}),
	}

	reg.MustRegister(
		m.ReserveTotal,
		m.ReleaseTotal,
		m.RetrySleepSeconds,
		m.TaskTotal,
		m.LeaksTotal,
	)

	return m
}
