package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestGateDecisions_CountsPerLabel(t *testing.T) {
	before := testutil.ToFloat64(GateDecisions.WithLabelValues("limit", "denied"))
	GateDecisions.WithLabelValues("limit", "denied").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(GateDecisions.WithLabelValues("limit", "denied")))
}

func TestGasPriceGauge(t *testing.T) {
	GasPriceGwei.Set(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(GasPriceGwei))
}
