package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.UnitsSaved.WithLabelValues("merge").Add(3)
	m.OrphanTransactions.Inc()
	m.SyncRuns.WithLabelValues(DomainUnits, "ok").Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.UnitsSaved.WithLabelValues("merge")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrphanTransactions))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewMetricsSeparateRegistries(t *testing.T) {
	// на отдельных реестрах повторная регистрация не паникует
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}
