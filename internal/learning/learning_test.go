package learning

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testEngine() *Engine {
	return New(DefaultConfig(), zerolog.Nop())
}

func TestUnestablishedBaselineReturnsSentinelAndNeutralFactor(t *testing.T) {
	e := testEngine()
	th := e.CalculateThreshold("ip", "1.2.3.4", 0.95)
	require.True(t, math.IsNaN(th))

	factor := e.SeasonalFactor("ip", "1.2.3.4", time.Now())
	require.Equal(t, 1.0, factor)
}

func TestDynamicThresholdWithManualOverride(t *testing.T) {
	e := testEngine()
	base := time.Now()
	for i := 0; i < 200; i++ {
		e.ProcessEvent("ip", "A", 100.0, base.Add(time.Duration(i)*time.Second))
	}

	th := e.CalculateThreshold("ip", "A", 0.95)
	require.InDelta(t, 100.0, th, 1.0)

	e.SetManualOverride("ip", "A", 42.0, "operator-1")
	th = e.CalculateThreshold("ip", "A", 0.95)
	require.Equal(t, 42.0, th)

	e.ClearManualOverride("ip", "A")
	th = e.CalculateThreshold("ip", "A", 0.95)
	require.InDelta(t, 100.0, th, 1.0)
}

func TestSecurityCriticalRejectsLargeThresholdChange(t *testing.T) {
	e := testEngine()
	e.cfg.ThresholdCacheTTL = 0 // force recompute every call in this test
	base := time.Now()

	for i := 0; i < 200; i++ {
		e.ProcessEvent("ip", "B", 10.0, base.Add(time.Duration(i)*time.Second))
	}
	e.MarkSecurityCritical("ip", "B", true)
	original := e.CalculateThreshold("ip", "B", 0.95)

	// Push a large jump in values; the security-critical baseline must
	// refuse to move the stored threshold beyond MaxThresholdChangePercent.
	for i := 0; i < 50; i++ {
		e.ProcessEvent("ip", "B", 10000.0, base.Add(time.Duration(200+i)*time.Second))
	}
	after := e.CalculateThreshold("ip", "B", 0.95)
	require.InDelta(t, original, after, original*0.01+1e-6)
}

func TestCalculateThresholdUsesPercentileNotFraction(t *testing.T) {
	e := testEngine()
	base := time.Now()
	for i := 1; i <= 100; i++ {
		e.ProcessEvent("ip", "D", float64(i), base.Add(time.Duration(i)*time.Second))
	}

	th := e.CalculateThreshold("ip", "D", 0.95)
	// Percentile(95) over 1..100 interpolates to ~95.05; a fraction-as-
	// percentile bug would instead compute Percentile(0.95) and return a
	// value near the minimum (~1).
	require.InDelta(t, 95.05, th, 1.0)
}

func TestCleanupExpiredDropsStaleBaselines(t *testing.T) {
	e := testEngine()
	e.ProcessEvent("ip", "stale", 1.0, time.UnixMilli(1000))
	e.ProcessEvent("ip", "fresh", 1.0, time.UnixMilli(100000))

	removed := e.CleanupExpired(100000, 5000)
	require.Equal(t, 1, removed)
	require.Equal(t, 1, e.Count())
}
