package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the Prometheus metrics for the lifecycle engine. All
// methods are safe on a nil receiver so tests can run without registering
// collectors.
type Collector struct {
	transitions    *prometheus.CounterVec
	claimConflicts prometheus.Counter
	notifyFailures prometheus.Counter
}

// NewCollector creates and registers the engine metrics. Call once per
// process.
func NewCollector() *Collector {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guildpost_transitions_total",
			Help: "Total number of committed lifecycle transitions by operation",
		}, []string{"op"}),
		claimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guildpost_claim_conflicts_total",
			Help: "Total number of claim attempts lost to a concurrent writer",
		}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guildpost_notify_failures_total",
			Help: "Total number of notification deliveries that failed",
		}),
	}

	prometheus.MustRegister(c.transitions, c.claimConflicts, c.notifyFailures)
	return c
}

func (c *Collector) Transition(op string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(op).Inc()
}

func (c *Collector) ClaimConflict() {
	if c == nil {
		return
	}
	c.claimConflicts.Inc()
}

func (c *Collector) NotifyFailure() {
	if c == nil {
		return
	}
	c.notifyFailures.Inc()
}
