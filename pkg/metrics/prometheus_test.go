package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordEvaluation("TRADE", "SLASHED")
	r.RecordEvaluation("TRADE", "SLASHED")
	r.RecordSlash("loss", 250)
	r.RecordSlash("stake", 700)
	r.RecordSlash("loss", 50)
	r.RecordTransition("ACTIVE", "LIMITED")
	r.RecordPriceAge("TOSS", 12)

	require.Equal(t, 2.0, testutil.ToFloat64(r.evaluations.WithLabelValues("TRADE", "SLASHED")))
	require.Equal(t, 300.0, testutil.ToFloat64(r.slashed.WithLabelValues("loss")))
	require.Equal(t, 2.0, testutil.ToFloat64(r.slashes.WithLabelValues("loss")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("ACTIVE", "LIMITED")))
	require.Equal(t, 12.0, testutil.ToFloat64(r.priceAge.WithLabelValues("TOSS")))
}
