package logging

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewSetsDebugLevelInDevelopment(t *testing.T) {
	_ = New("development")
	require.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestNewSetsInfoLevelInProduction(t *testing.T) {
	_ = New("production")
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestRateLimitedLoggerSuppressesAfterQuota(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	rl := NewRateLimitedLogger(base, time.Minute, 2)

	for i := 0; i < 5; i++ {
		rl.Error("disk_write_failed", "failed to write snapshot", errors.New("disk full"))
	}

	out := buf.String()
	require.Equal(t, 3, countOccurrences(out, "disk_write_failed"))
}

func TestRateLimitedLoggerResetsAfterWindow(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	rl := NewRateLimitedLogger(base, 10*time.Millisecond, 1)

	rl.Error("k", "m", nil)
	time.Sleep(20 * time.Millisecond)
	rl.Error("k", "m", nil)

	require.Equal(t, 2, countOccurrences(buf.String(), `"rate_limit_key":"k"`))
}

func countOccurrences(haystack, needle string) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
			i += len(needle) - 1
		}
	}
	return count
}
