package stats

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackerVarianceNonNegative(t *testing.T) {
	tr := New()
	for _, v := range []float64{1, 5, -3, 100, 0.001, 7} {
		tr.Update(v)
		require.GreaterOrEqual(t, tr.Variance(), 0.0)
	}
}

func TestTrackerEqualValuesZeroVariance(t *testing.T) {
	tr := New()
	for i := 0; i < 10; i++ {
		tr.Update(42.0)
	}
	require.Equal(t, int64(10), tr.Count())
	require.Equal(t, 0.0, tr.Variance())
	require.Equal(t, 42.0, tr.Mean())
}

func TestTrackerSingleSampleZeroVariance(t *testing.T) {
	tr := New()
	tr.Update(5.0)
	require.Equal(t, 0.0, tr.Variance())
}

func TestTrackerSaveLoadRoundTrip(t *testing.T) {
	tr := New()
	for _, v := range []float64{3, 7, 11, 2, 9} {
		tr.Update(v)
	}

	var buf bytes.Buffer
	require.NoError(t, tr.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	require.Equal(t, tr.count, loaded.count)
	require.InDelta(t, tr.mean, loaded.mean, 1e-12)
	require.InDelta(t, tr.m2, loaded.m2, 1e-12)
}
