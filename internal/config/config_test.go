package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
general:
  state_file_path: "/tmp/sentryd-state.bin"
  state_pruning_enabled: true
  state_ttl_seconds: 3600
tier1:
  enabled: true
  sliding_window_duration_seconds: 30
  max_requests_per_ip_in_window: 42
tier2:
  enabled: true
  z_score_threshold: 2.5
alerts:
  alert_threshold: 10
  throttle_duration_ms: 1000
unexpected_top_level_key: "should warn, not fail"
`

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFileParsesKnownGroupsAndIgnoresUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "config.yaml", sampleYAML)

	f, err := LoadFile(path, zerolog.Nop())
	require.NoError(t, err)
	require.True(t, f.Tier1.Enabled)
	require.Equal(t, int64(30), f.Tier1.SlidingWindowDurationSeconds)
	require.Equal(t, 42.0, f.Tier1.MaxRequestsPerIPInWindow)
	require.Equal(t, 2.5, f.Tier2.ZScoreThreshold)
}

func TestResolveAppliesOverridesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "config.yaml", sampleYAML)
	f, err := LoadFile(path, zerolog.Nop())
	require.NoError(t, err)

	rt, err := Resolve(f)
	require.NoError(t, err)
	require.Equal(t, int64(30_000), rt.Analysis.WindowDurationMs)
	require.Equal(t, 42.0, rt.Rules.MaxRequestsPerIPInWindow)
	require.Equal(t, 2.5, rt.Rules.ZScoreThreshold)
	require.Equal(t, 10.0, rt.Rules.AlertThreshold)
	require.Equal(t, time.Second, rt.Rules.ThrottleDuration)
}

func TestResolveRejectsInvalidWindow(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "config.yaml", "tier1:\n  sliding_window_duration_seconds: 0\n")
	f, err := LoadFile(path, zerolog.Nop())
	require.NoError(t, err)
	_, err = Resolve(f)
	require.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "config.yaml", sampleYAML)

	applied := make(chan *Runtime, 4)
	w, err := NewWatcher(path, zerolog.Nop(), func(rt *Runtime) { applied <- rt })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML+"\n# touch\n"), 0o644))

	select {
	case rt := <-applied:
		require.NotNil(t, rt)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherRejectsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "config.yaml", sampleYAML)

	applied := make(chan *Runtime, 4)
	w, err := NewWatcher(path, zerolog.Nop(), func(rt *Runtime) { applied <- rt })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("tier1:\n  sliding_window_duration_seconds: 0\n"), 0o644))

	select {
	case <-applied:
		t.Fatal("invalid config must not be applied")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestLoadSecretsOverlayIgnoresMissingFile(t *testing.T) {
	require.NoError(t, LoadSecretsOverlay(filepath.Join(t.TempDir(), "missing.env")))
}
