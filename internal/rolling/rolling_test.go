package rolling

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatsEstablishedGate(t *testing.T) {
	s := New(0.3, 50, 30)
	for i := 0; i < 29; i++ {
		s.Add(float64(i), int64(i))
	}
	require.False(t, s.Established())
	s.Add(29, 29)
	require.True(t, s.Established())
}

func TestStatsPercentileConstantValues(t *testing.T) {
	s := New(0.3, 50, 5)
	for i := 0; i < 200; i++ {
		s.Add(100.0, int64(i))
	}
	require.InDelta(t, 100.0, s.Percentile(95), 1e-9)
	require.InDelta(t, 100.0, s.Mean(), 1e-9)
}

func TestStatsPercentileInterpolates(t *testing.T) {
	s := New(1.0, 10, 1)
	for _, v := range []float64{10, 20, 30, 40, 50} {
		s.Add(v, 0)
	}
	require.InDelta(t, 30.0, s.Percentile(50), 1e-9)
}

func TestStatsConfidenceIntervalWidensAroundMean(t *testing.T) {
	s := New(0.2, 50, 5)
	for i := 0; i < 40; i++ {
		s.Add(float64(i%10), int64(i))
	}
	lo, hi := s.ConfidenceInterval(0.95)
	require.False(t, math.IsNaN(lo))
	require.Less(t, lo, s.Mean())
	require.Greater(t, hi, s.Mean())
}

func TestStatsSaveLoadRoundTrip(t *testing.T) {
	s := New(0.25, 20, 10)
	for i := 0; i < 35; i++ {
		s.Add(float64(i)*1.5, int64(i*1000))
	}

	var buf bytes.Buffer
	require.NoError(t, s.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	require.Equal(t, s.count, loaded.count)
	require.InDelta(t, s.ewmaMean, loaded.ewmaMean, 1e-9)
	require.InDelta(t, s.ewmaVar, loaded.ewmaVar, 1e-9)
	require.Equal(t, s.ring, loaded.ring)
	require.Equal(t, s.Established(), loaded.Established())
}
