// Package metrics exposes prometheus instrumentation for the adapter
// layer. The collector is optional; a nil *Collector is a no-op, so
// components never branch on whether metrics are wired.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Collector struct {
	queries          *prometheus.CounterVec
	queryErrors      *prometheus.CounterVec
	batches          prometheus.Counter
	batchFailures    prometheus.Counter
	reconnects       prometheus.Counter
	reconnectFailed  prometheus.Counter
	connectionState  prometheus.Gauge
	healthCheckFails prometheus.Counter
}

// NewCollector builds and registers the adapter metrics. backend labels
// the adapter instance (e.g. "postgres", "search").
func NewCollector(reg prometheus.Registerer, backend string) (*Collector, error) {
	c := &Collector{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "omnigrid_queries_total",
			Help:        "Driver statements executed, by operation.",
			ConstLabels: prometheus.Labels{"backend": backend},
		}, []string{"op"}),
		queryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "omnigrid_query_errors_total",
			Help:        "Failed driver statements, by error kind.",
			ConstLabels: prometheus.Labels{"backend": backend},
		}, []string{"kind"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "omnigrid_bulk_batches_total",
			Help:        "Bulk batches attempted.",
			ConstLabels: prometheus.Labels{"backend": backend},
		}),
		batchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "omnigrid_bulk_batch_failures_total",
			Help:        "Bulk batches that failed as a whole.",
			ConstLabels: prometheus.Labels{"backend": backend},
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "omnigrid_reconnects_total",
			Help:        "Successful reconnections.",
			ConstLabels: prometheus.Labels{"backend": backend},
		}),
		reconnectFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "omnigrid_reconnect_failures_total",
			Help:        "Reconnection attempts that failed.",
			ConstLabels: prometheus.Labels{"backend": backend},
		}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "omnigrid_connection_state",
			Help:        "Connection state (1 disconnected, 2 connecting, 3 connected, 4 error).",
			ConstLabels: prometheus.Labels{"backend": backend},
		}),
		healthCheckFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "omnigrid_health_check_failures_total",
			Help:        "Health probes that reported connection loss.",
			ConstLabels: prometheus.Labels{"backend": backend},
		}),
	}
	for _, m := range []prometheus.Collector{
		c.queries, c.queryErrors, c.batches, c.batchFailures,
		c.reconnects, c.reconnectFailed, c.connectionState, c.healthCheckFails,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) Query(op string) {
	if c == nil {
		return
	}
	c.queries.WithLabelValues(op).Inc()
}

func (c *Collector) QueryError(kind string) {
	if c == nil {
		return
	}
	c.queryErrors.WithLabelValues(kind).Inc()
}

func (c *Collector) Batch(failed bool) {
	if c == nil {
		return
	}
	c.batches.Inc()
	if failed {
		c.batchFailures.Inc()
	}
}

func (c *Collector) Reconnect(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.reconnects.Inc()
	} else {
		c.reconnectFailed.Inc()
	}
}

func (c *Collector) ConnectionState(state int) {
	if c == nil {
		return
	}
	c.connectionState.Set(float64(state))
}

func (c *Collector) HealthCheckFailure() {
	if c == nil {
		return
	}
	c.healthCheckFails.Inc()
}
