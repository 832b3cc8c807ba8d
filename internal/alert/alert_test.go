package alert

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewTruncatesRawSample(t *testing.T) {
	raw := strings.Repeat("x", 500)
	a := New(1000, "10.0.0.1", "too many requests", Tier1Heuristic, ActionRateLimit, "RATE_LIMIT", 80.0, "ip:10.0.0.1", 42, raw)
	require.Len(t, a.RawLogSample, maxRawSampleBytes)
}

func TestStdoutSinkNeverErrors(t *testing.T) {
	s := NewStdoutSink(zerolog.Nop())
	a := New(1000, "10.0.0.1", "reason", Tier1Heuristic, ActionLog, "LOG", 10, "k", 1, "raw")
	require.NoError(t, s.RecordAlert(a))
	require.NoError(t, s.FlushAllAlerts())
}

func TestWebhookSinkRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{URL: srv.URL, MaxRetries: 3, RetryDelay: time.Millisecond}, zerolog.Nop())
	a := New(1000, "10.0.0.1", "reason", Tier1Heuristic, ActionLog, "LOG", 10, "k", 1, "raw")
	require.NoError(t, sink.RecordAlert(a))
	require.Equal(t, 3, attempts)
}

func TestWebhookSinkGivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{URL: srv.URL, MaxRetries: 1, RetryDelay: time.Millisecond}, zerolog.Nop())
	a := New(1000, "10.0.0.1", "reason", Tier1Heuristic, ActionLog, "LOG", 10, "k", 1, "raw")
	require.Error(t, sink.RecordAlert(a))
}

func TestFanOutDeliversToAllSinks(t *testing.T) {
	one := NewStdoutSink(zerolog.Nop())
	two := NewStdoutSink(zerolog.Nop())
	fo := NewFanOut(zerolog.Nop(), one, two)
	a := New(1000, "10.0.0.1", "reason", Tier1Heuristic, ActionLog, "LOG", 10, "k", 1, "raw")
	require.NoError(t, fo.RecordAlert(a))
	require.NoError(t, fo.FlushAllAlerts())
}
