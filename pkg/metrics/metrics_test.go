package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnigrid/omnigrid.go/pkg/metrics"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := metrics.NewCollector(reg, "memdb")
	require.NoError(t, err)

	c.Query("select")
	c.Query("select")
	c.QueryError("backend")
	c.Batch(false)
	c.Batch(true)
	c.Reconnect(true)
	c.Reconnect(false)
	c.ConnectionState(3)
	c.HealthCheckFailure()

	families, err := reg.Gather()
	require.NoError(t, err)
	totals := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				totals[f.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				totals[f.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, float64(2), totals["omnigrid_queries_total"])
	assert.Equal(t, float64(1), totals["omnigrid_query_errors_total"])
	assert.Equal(t, float64(2), totals["omnigrid_bulk_batches_total"])
	assert.Equal(t, float64(1), totals["omnigrid_bulk_batch_failures_total"])
	assert.Equal(t, float64(1), totals["omnigrid_reconnects_total"])
	assert.Equal(t, float64(1), totals["omnigrid_reconnect_failures_total"])
	assert.Equal(t, float64(3), totals["omnigrid_connection_state"])
	assert.Equal(t, float64(1), totals["omnigrid_health_check_failures_total"])
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *metrics.Collector
	c.Query("select")
	c.QueryError("backend")
	c.Batch(true)
	c.Reconnect(false)
	c.ConnectionState(1)
	c.HealthCheckFailure()
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.NewCollector(reg, "memdb")
	require.NoError(t, err)
	_, err = metrics.NewCollector(reg, "memdb")
	require.Error(t, err)
}
