package analysis

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/r3dev/sentryd/internal/logentry"
	"github.com/r3dev/sentryd/internal/metrics"
)

func testEngine(cfg Config) *Engine {
	return New(cfg, zerolog.Nop(), metrics.NopSink{})
}

func entry(ip, path string, ts int64, status int) logentry.LogEntry {
	return logentry.LogEntry{
		IP:                ip,
		Method:            "GET",
		Path:              path,
		Status:            status,
		BytesSent:         512,
		RequestTimeS:      0.05,
		UserAgent:         "Mozilla/5.0",
		ParsedTimestampMs: ts,
	}
}

func TestMalformedRecordSkipsStateMutation(t *testing.T) {
	e := testEngine(DefaultConfig())
	evt := e.Process(logentry.LogEntry{IP: "10.0.0.1"})
	require.True(t, evt.Malformed)
	require.Equal(t, 0, e.IPStateCount())
}

func TestRequestsPerIPWindowCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowDurationMs = 60_000
	e := testEngine(cfg)

	var last *AnalyzedEvent
	for i, ts := range []int64{1000, 1100, 1200, 1300, 1400, 1500} {
		last = e.Process(entry("10.0.0.1", "/", ts, 200))
		if i == 0 {
			require.True(t, last.IsFirstRequestFromIP)
		}
	}
	require.Equal(t, 6, last.RequestCountInWindow)
	require.Equal(t, 1, e.IPStateCount())
}

func TestFailedLoginWindowCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailedLoginStatusCodes = []int{401, 403}
	e := testEngine(cfg)

	var last *AnalyzedEvent
	for _, ts := range []int64{0, 10, 20} {
		last = e.Process(entry("10.0.0.2", "/login", ts, 401))
	}
	require.Equal(t, 3, last.FailedLoginCountInWindow)
}

func TestSessionRecreatedAfterInactivityTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionTrackingEnabled = true
	cfg.SessionKeyComponents = []string{"ip"}
	cfg.SessionInactivityTTLMs = 1000
	e := testEngine(cfg)

	e.Process(entry("10.0.0.3", "/", 1000, 200))
	second := e.Process(entry("10.0.0.3", "/", 5000, 200))
	require.EqualValues(t, 1, second.SessionRequestCount)
}

func TestPathClassification(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, PathHTML, classifyPath("/", cfg))
	require.Equal(t, PathHTML, classifyPath("/index.html?x=1", cfg))
	require.Equal(t, PathAsset, classifyPath("/static/app.js", cfg))
	require.Equal(t, PathAsset, classifyPath("/logo.png#frag", cfg))
	require.Equal(t, PathOther, classifyPath("/api/v1/users", cfg))
}

func TestUAMissingFlagShortCircuits(t *testing.T) {
	cfg := DefaultConfig()
	e := testEngine(cfg)
	ev := entry("10.0.0.4", "/", 1000, 200)
	ev.UserAgent = ""
	evt := e.Process(ev)
	require.True(t, evt.UAFlags.Missing)
	require.False(t, evt.UAFlags.Headless)
}

func TestUACyclingDetection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxUniqueUAsPerIPInWindow = 2
	e := testEngine(cfg)

	var last *AnalyzedEvent
	for i := 0; i < 4; i++ {
		ev := entry("10.0.0.5", "/", int64(i*10), 200)
		ev.UserAgent = "agent-" + string(rune('A'+i))
		last = e.Process(ev)
	}
	require.True(t, last.UAFlags.Cycling)
}

func TestZScoreAttachedAfterMinSamples(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamplesForZScore = 5
	e := testEngine(cfg)

	var last *AnalyzedEvent
	for i := 0; i < 10; i++ {
		ev := entry("10.0.0.6", "/", int64(i*1000), 200)
		if i%2 == 0 {
			ev.RequestTimeS = 0.04
		} else {
			ev.RequestTimeS = 0.06
		}
		last = e.Process(ev)
	}
	spike := entry("10.0.0.6", "/", 10000, 200)
	spike.RequestTimeS = 5.0
	evt := e.Process(spike)
	z, ok := evt.ZScore("ip", "request_time")
	require.True(t, ok)
	require.Greater(t, z, 0.0)
	_ = last
}

func TestSnapshotRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	e := testEngine(cfg)

	ips := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}
	for i := 0; i < 100; i++ {
		ip := ips[i%len(ips)]
		e.Process(entry(ip, "/", int64(i*100), 200))
	}

	dir := t.TempDir()
	snapPath := filepath.Join(dir, "state.bin")
	require.NoError(t, e.SaveState(snapPath))

	fresh := testEngine(cfg)
	require.NoError(t, fresh.LoadState(snapPath))
	require.Equal(t, e.IPStateCount(), fresh.IPStateCount())
	require.Equal(t, 3, fresh.IPStateCount())
}

func TestSnapshotMagicMismatchLeavesEmptyState(t *testing.T) {
	cfg := DefaultConfig()
	e := testEngine(cfg)
	e.Process(entry("10.0.0.1", "/", 1000, 200))

	dir := t.TempDir()
	snapPath := filepath.Join(dir, "state.bin")
	require.NoError(t, e.SaveState(snapPath))

	otherCfg := cfg
	otherCfg.StateFileMagic = cfg.StateFileMagic + 1
	fresh := testEngine(otherCfg)
	err := fresh.LoadState(snapPath)
	require.Error(t, err)
	require.Equal(t, 0, fresh.IPStateCount())
}

func TestRunPruningRemovesStaleEntities(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StateTTLMs = 1000
	cfg.SessionTrackingEnabled = false
	e := testEngine(cfg)

	e.Process(entry("10.0.0.1", "/", 1000, 200))
	e.Process(entry("10.0.0.2", "/", 5000, 200))

	ipRemoved, _, _ := e.RunPruning()
	require.Equal(t, 1, ipRemoved)
	require.Equal(t, 1, e.IPStateCount())
}

