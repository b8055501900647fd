package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.Cache.Hits.Inc()
	r.Resolver.Errors.WithLabelValues("no_such_service").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	var found bool
	for _, f := range families {
		if f.GetName() == "monto_broker_cache_hits_total" {
			found = true
			require.Len(t, f.Metric, 1)
			var m *dto.Metric = f.Metric[0]
			assert.Equal(t, float64(1), m.GetCounter().GetValue())
		}
	}
	assert.True(t, found, "cache hits metric must be registered")
}
