package seasonal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUnestablishedModelReturnsNeutralFactor(t *testing.T) {
	m := New(30)
	m.Add(10, time.Now())
	require.False(t, m.Established())
	require.Equal(t, 1.0, m.SeasonalFactor(time.Now()))
}

func TestEstablishedModelRecomputesAndScoresFactor(t *testing.T) {
	m := New(10)
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC) // a Monday

	for day := 0; day < 14; day++ {
		for _, hour := range []int{9, 14, 22} {
			ts := base.AddDate(0, 0, day).Add(time.Duration(hour) * time.Hour)
			value := 10.0
			if hour == 14 {
				value = 40.0 // afternoon spike
			}
			m.Add(value, ts)
		}
	}

	require.True(t, m.Established())
	m.Recompute(base.AddDate(0, 0, 20), true)

	afternoon := base.AddDate(0, 0, 25).Add(14 * time.Hour)
	morning := base.AddDate(0, 0, 25).Add(9 * time.Hour)

	factorAfternoon := m.SeasonalFactor(afternoon)
	factorMorning := m.SeasonalFactor(morning)

	require.Greater(t, factorAfternoon, factorMorning, "afternoon spike should yield a higher seasonal factor")
}

func TestRecomputeIsRateLimitedUnlessForced(t *testing.T) {
	m := New(5)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		m.Add(float64(i), base.Add(time.Duration(i)*time.Hour))
	}
	m.Recompute(base, true)
	first := m.hourly

	m.Add(999, base.Add(30*time.Minute))
	m.Recompute(base.Add(time.Minute), false) // within an hour, should be a no-op
	require.Same(t, first, m.hourly)

	m.Recompute(base.Add(2*time.Hour), false)
	require.NotSame(t, first, m.hourly)
}
