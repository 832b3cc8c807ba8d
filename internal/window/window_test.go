package window

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlidingWindowTimePrune(t *testing.T) {
	w := New[float64](1000, 0)
	w.Add(1000, 1)
	w.Add(1500, 2)
	w.Add(2500, 3) // cutoff = 2500-1000 = 1500, drops ts=1000

	require.Equal(t, 2, w.Count())
	snap := w.Snapshot()
	require.Equal(t, int64(1500), snap[0].TimestampMs)
}

func TestSlidingWindowSizePrune(t *testing.T) {
	w := New[float64](0, 3)
	for i := int64(0); i < 5; i++ {
		w.Add(i*100, float64(i))
	}
	require.Equal(t, 3, w.Count())
	snap := w.Snapshot()
	require.Equal(t, 2.0, snap[0].Value)
	require.Equal(t, 4.0, snap[2].Value)
}

func TestSlidingWindowClampsCutoffWhenDurationExceedsNow(t *testing.T) {
	w := New[float64](10000, 0)
	w.Add(500, 1)
	w.Add(600, 2)
	require.Equal(t, 2, w.Count(), "cutoff must clamp to 0, not go negative and drop nothing")
}

func TestSlidingWindowReconfigurePreservesData(t *testing.T) {
	w := New[float64](0, 10)
	for i := 0; i < 5; i++ {
		w.Add(int64(i), float64(i))
	}
	w.Reconfigure(0, 2)
	require.Equal(t, 5, w.Count(), "reconfigure alone must not drop data")
	w.Prune(100)
	require.Equal(t, 2, w.Count(), "next prune enforces the new policy")
}

func TestSlidingWindowSaveLoadRoundTrip(t *testing.T) {
	w := New[float64](60000, 100)
	w.Add(10, 1.5)
	w.Add(20, 2.5)
	w.Add(30, 3.5)

	var buf bytes.Buffer
	require.NoError(t, w.Save(&buf, Float64Codec))

	loaded, err := Load[float64](&buf, Float64Codec)
	require.NoError(t, err)
	require.Equal(t, w.Count(), loaded.Count())
	require.Equal(t, w.Snapshot(), loaded.Snapshot())
	require.Equal(t, w.durationMs, loaded.durationMs)
	require.Equal(t, w.maxElements, loaded.maxElements)
}

func TestSlidingWindowStringCodecRoundTrip(t *testing.T) {
	w := New[string](0, 10)
	w.Add(1, "Mozilla/5.0")
	w.Add(2, "curl/8.0")

	var buf bytes.Buffer
	require.NoError(t, w.Save(&buf, StringCodec))

	loaded, err := Load[string](&buf, StringCodec)
	require.NoError(t, err)
	require.Equal(t, w.Snapshot(), loaded.Snapshot())
}
