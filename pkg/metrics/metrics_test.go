package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend_PopulatesGauges(t *testing.T) {
	e := New()
	e.Send(Sample{
		ContainerName:      "app-1",
		CPUUsagePercentage: 42.5,
		LLCOccupancyBytes:  1024,
	})

	assert.Equal(t, 42.5, testutil.ToFloat64(e.CPUUsagePercentage.WithLabelValues("app-1")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(e.LLCOccupancyBytes.WithLabelValues("app-1")))
}

func TestSendContention_BoolsBecomeZeroOrOne(t *testing.T) {
	e := New()
	e.SendContention("app-1", true, false, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.ContentionLLC.WithLabelValues("app-1")))
	assert.Equal(t, 0.0, testutil.ToFloat64(e.ContentionOther.WithLabelValues("app-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.ContentionTDP.WithLabelValues("app-1")))
}

func TestStartAndShutdown(t *testing.T) {
	e := New()
	require.NoError(t, e.Start(":0"))
	require.NoError(t, e.Shutdown(nil))
}

func TestGaugeNamesMatchReference(t *testing.T) {
	e := New()
	e.Send(Sample{ContainerName: "c"})

	gathered, err := e.reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, mf := range gathered {
		names = append(names, mf.GetName())
	}
	joined := strings.Join(names, ",")
	assert.Contains(t, joined, "cma_cpu_usage_percentage")
	assert.Contains(t, joined, "cma_llc_occupancy_bytes")
}
