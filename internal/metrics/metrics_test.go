package metrics_test

import (
	"testing"

	"github.com/brunobpinto/smart-trashcans/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))
	assert.Error(t, metrics.Register(reg), "second register must fail")

	before := testutil.ToFloat64(metrics.UplinkRejected.WithLabelValues("bad_json"))
	metrics.UplinkRejected.WithLabelValues("bad_json").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.UplinkRejected.WithLabelValues("bad_json")))
}
