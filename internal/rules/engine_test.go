package rules

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/r3dev/sentryd/internal/alert"
	"github.com/r3dev/sentryd/internal/analysis"
	"github.com/r3dev/sentryd/internal/logentry"
	"github.com/r3dev/sentryd/internal/metrics"
)

type recordingManager struct {
	alerts []alert.Alert
}

func (m *recordingManager) RecordAlert(a alert.Alert) error {
	m.alerts = append(m.alerts, a)
	return nil
}
func (m *recordingManager) FlushAllAlerts() error { return nil }

func tier1OnlyConfig() Config {
	cfg := DefaultConfig()
	cfg.Tier1Enabled = true
	cfg.Tier2Enabled = false
	cfg.Tier3Enabled = false
	cfg.Tier4Enabled = false
	cfg.AlertThreshold = 1
	cfg.ThrottleDuration = time.Hour
	return cfg
}

func TestRequestsPerIPThresholdFires(t *testing.T) {
	cfg := tier1OnlyConfig()
	cfg.MaxRequestsPerIPInWindow = 5
	cfg.DangerousRequestsPerIP = 50
	mgr := &recordingManager{}
	eng := New(cfg, zerolog.Nop(), metrics.NopSink{}, nil, nil, mgr)

	aeng := analysis.New(analysis.DefaultConfig(), zerolog.Nop(), metrics.NopSink{})

	var lastAlert *alert.Alert
	for _, ts := range []int64{1000, 1100, 1200, 1300, 1400, 1500} {
		evt := aeng.Process(logentry.LogEntry{IP: "10.0.0.1", Path: "/", Status: 200, ParsedTimestampMs: ts, UserAgent: "Mozilla/5.0"})
		a, err := eng.Evaluate(evt)
		require.NoError(t, err)
		if a != nil {
			lastAlert = a
		}
	}
	require.NotNil(t, lastAlert)
	require.Equal(t, alert.Tier1Heuristic, lastAlert.Tier)
	require.Equal(t, "10.0.0.1", lastAlert.SourceIP)
	require.Greater(t, lastAlert.Score, 0.0)
	require.Len(t, mgr.alerts, 1)
}

func TestFailedLoginThresholdFires(t *testing.T) {
	cfg := tier1OnlyConfig()
	cfg.MaxFailedLoginsPerIP = 2
	cfg.DangerousFailedLoginsPerIP = 20
	mgr := &recordingManager{}
	eng := New(cfg, zerolog.Nop(), metrics.NopSink{}, nil, nil, mgr)
	aeng := analysis.New(analysis.DefaultConfig(), zerolog.Nop(), metrics.NopSink{})

	var last *alert.Alert
	for _, ts := range []int64{0, 10, 20} {
		evt := aeng.Process(logentry.LogEntry{IP: "10.0.0.2", Path: "/login", Status: 401, ParsedTimestampMs: ts, UserAgent: "Mozilla/5.0"})
		a, err := eng.Evaluate(evt)
		require.NoError(t, err)
		if a != nil {
			last = a
		}
	}
	require.NotNil(t, last)
	require.Equal(t, alert.Tier1Heuristic, last.Tier)
}

func TestAllowlistShortCircuits(t *testing.T) {
	cfg := tier1OnlyConfig()
	cfg.MaxRequestsPerIPInWindow = 2
	cfg.DangerousRequestsPerIP = 10
	_, cidr, err := net.ParseCIDR("10.0.0.0/24")
	require.NoError(t, err)
	cfg.AllowlistCIDRs = []*net.IPNet{cidr}

	mgr := &recordingManager{}
	eng := New(cfg, zerolog.Nop(), metrics.NopSink{}, nil, nil, mgr)
	aeng := analysis.New(analysis.DefaultConfig(), zerolog.Nop(), metrics.NopSink{})

	for i := 0; i < 1000; i++ {
		evt := aeng.Process(logentry.LogEntry{IP: "10.0.0.9", Path: "/", Status: 200, ParsedTimestampMs: int64(i), UserAgent: "Mozilla/5.0"})
		a, err := eng.Evaluate(evt)
		require.NoError(t, err)
		require.Nil(t, a)
	}
	require.Empty(t, mgr.alerts)
}

func TestTier2ZScoreThresholdFires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tier1Enabled = false
	cfg.Tier3Enabled = false
	cfg.Tier4Enabled = false
	cfg.ZScoreThreshold = 2.0
	cfg.AlertThreshold = 1
	cfg.ThrottleDuration = time.Hour

	mgr := &recordingManager{}
	eng := New(cfg, zerolog.Nop(), metrics.NopSink{}, nil, nil, mgr)

	acfg := analysis.DefaultConfig()
	acfg.MinSamplesForZScore = 5
	aeng := analysis.New(acfg, zerolog.Nop(), metrics.NopSink{})

	var last *alert.Alert
	for i := 0; i < 10; i++ {
		rt := 0.04
		if i%2 == 1 {
			rt = 0.06
		}
		evt := aeng.Process(logentry.LogEntry{IP: "10.0.0.6", Path: "/", Status: 200, ParsedTimestampMs: int64(i * 1000), RequestTimeS: rt, UserAgent: "Mozilla/5.0"})
		eng.Evaluate(evt)
	}
	spike := aeng.Process(logentry.LogEntry{IP: "10.0.0.6", Path: "/", Status: 200, ParsedTimestampMs: 10000, RequestTimeS: 5.0, UserAgent: "Mozilla/5.0"})
	a, err := eng.Evaluate(spike)
	require.NoError(t, err)
	require.NotNil(t, a)
	last = a
	require.Equal(t, alert.Tier2Statistical, last.Tier)
}

func TestThrottleSuppressesRepeatedAlert(t *testing.T) {
	cfg := tier1OnlyConfig()
	cfg.MaxRequestsPerIPInWindow = 1
	cfg.DangerousRequestsPerIP = 10
	cfg.ThrottleDuration = time.Hour
	cfg.ThrottleMaxInterveningAlerts = 100

	mgr := &recordingManager{}
	eng := New(cfg, zerolog.Nop(), metrics.NopSink{}, nil, nil, mgr)
	aeng := analysis.New(analysis.DefaultConfig(), zerolog.Nop(), metrics.NopSink{})

	for i := 0; i < 5; i++ {
		evt := aeng.Process(logentry.LogEntry{IP: "10.0.0.1", Path: "/", Status: 200, ParsedTimestampMs: int64(i * 100), UserAgent: "Mozilla/5.0"})
		eng.Evaluate(evt)
	}
	require.Len(t, mgr.alerts, 1, "only the first occurrence within the throttle window should produce an alert")
}
