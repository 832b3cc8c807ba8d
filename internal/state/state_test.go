package state

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIPStateTryAddPathRespectsCap(t *testing.T) {
	s := NewIPState(3600000, 100, 20, 2)
	ins, isNew := s.TryAddPath("/a")
	require.True(t, ins)
	require.True(t, isNew)

	ins, isNew = s.TryAddPath("/b")
	require.True(t, ins)
	require.True(t, isNew)

	ins, isNew = s.TryAddPath("/c")
	require.False(t, ins)
	require.True(t, isNew, "path was never stored but is still logically new")
	require.Len(t, s.PathsSeen, 2)

	ins, isNew = s.TryAddPath("/a")
	require.False(t, ins)
	require.False(t, isNew)
}

func TestIPStateAssetRatio(t *testing.T) {
	s := NewIPState(3600000, 100, 20, 1000)
	require.Equal(t, 0.0, s.AssetsPerHTMLRatio())

	s.HTML.Add(1000, 1)
	s.Asset.Add(1000, 1)
	s.Asset.Add(1001, 1)
	require.Equal(t, 2.0, s.AssetsPerHTMLRatio())
}

func TestIPStateSaveLoadRoundTrip(t *testing.T) {
	s := NewIPState(3600000, 100, 20, 1000)
	s.Requests.Add(1000, 1)
	s.Requests.Add(2000, 1)
	s.FailedLogins.Add(1500, 1)
	s.UniqueUAs.Add(1000, "curl/8")
	s.TryAddPath("/login")
	s.LastKnownUA = "curl/8"
	s.RequestTime.Update(0.12)
	s.BytesSent.Update(512)
	s.FirstSeenMs = 1000
	s.LastSeenMs = 2000

	var buf bytes.Buffer
	require.NoError(t, s.Save(&buf))

	loaded, err := LoadIPState(&buf)
	require.NoError(t, err)
	require.Equal(t, s.Requests.Count(), loaded.Requests.Count())
	require.Equal(t, s.LastKnownUA, loaded.LastKnownUA)
	require.Equal(t, s.FirstSeenMs, loaded.FirstSeenMs)
	require.Equal(t, s.LastSeenMs, loaded.LastSeenMs)
	require.Contains(t, loaded.PathsSeen, "/login")
	require.Equal(t, s.RequestTime.Mean(), loaded.RequestTime.Mean())
}

func TestPathStateSaveLoadRoundTrip(t *testing.T) {
	s := NewPathState()
	s.RequestTime.Update(0.3)
	s.BytesSent.Update(2048)
	s.SecurityCritical = true
	s.LastSeenMs = 5000

	var buf bytes.Buffer
	require.NoError(t, s.Save(&buf))

	loaded, err := LoadPathState(&buf)
	require.NoError(t, err)
	require.True(t, loaded.SecurityCritical)
	require.Equal(t, int64(5000), loaded.LastSeenMs)
	require.Equal(t, s.RequestTime.Mean(), loaded.RequestTime.Mean())
}

func TestSessionStateRecordRequestTracksDerivedFeatures(t *testing.T) {
	s := NewSessionState(50)
	s.RecordRequest(0, "/a", "GET", "curl/8", 200, false)
	s.RecordRequest(1000, "/b", "GET", "curl/8", 200, false)
	s.RecordRequest(2000, "/c", "POST", "python-requests/2", 201, false)

	require.Equal(t, int64(3), s.RequestCount)
	require.Equal(t, 3, s.UniquePathCount())
	require.Equal(t, int64(1), s.UAChanges)
	require.InDelta(t, 1.0, s.AvgTimeBetweenRequestsS(), 1e-9)
	require.InDelta(t, 0.5, s.PostToGetRatio(), 1e-9)
}

func TestSessionStateHistoryCapped(t *testing.T) {
	s := NewSessionState(2)
	s.RecordRequest(0, "/a", "GET", "ua", 200, false)
	s.RecordRequest(1, "/b", "GET", "ua", 200, false)
	s.RecordRequest(2, "/c", "GET", "ua", 200, false)
	require.Len(t, s.History, 2)
	require.Equal(t, "/b", s.History[0].Path)
	require.Equal(t, "/c", s.History[1].Path)
}

func TestSessionStateSaveLoadRoundTrip(t *testing.T) {
	s := NewSessionState(50)
	s.RecordRequest(0, "/a", "GET", "curl/8", 200, false)
	s.RecordRequest(1000, "/b", "POST", "curl/9", 500, true)

	var buf bytes.Buffer
	require.NoError(t, s.Save(&buf))

	loaded, err := LoadSessionState(&buf)
	require.NoError(t, err)
	require.Equal(t, s.RequestCount, loaded.RequestCount)
	require.Equal(t, s.GetCount, loaded.GetCount)
	require.Equal(t, s.PostCount, loaded.PostCount)
	require.Equal(t, s.UAChanges, loaded.UAChanges)
	require.Len(t, loaded.History, 2)
	require.Equal(t, "/b", loaded.History[1].Path)
}
