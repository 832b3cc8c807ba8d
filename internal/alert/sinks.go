package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// StdoutSink prints one structured log line per alert. It is the default
// when alerts_to_stdout is set and no webhook is configured.
type StdoutSink struct {
	log zerolog.Logger
}

// NewStdoutSink creates a sink that logs each alert via log.
func NewStdoutSink(log zerolog.Logger) *StdoutSink {
	return &StdoutSink{log: log.With().Str("component", "alert-sink-stdout").Logger()}
}

func (s *StdoutSink) RecordAlert(a Alert) error {
	s.log.Warn().
		Str("source_ip", a.SourceIP).
		Str("reason", a.Reason).
		Str("tier", string(a.Tier)).
		Str("action", string(a.Action)).
		Float64("score", a.Score).
		Str("key_id", a.KeyID).
		Uint64("log_line", a.LogLineNumber).
		Msg("alert")
	return nil
}

func (s *StdoutSink) FlushAllAlerts() error { return nil }

// WebhookConfig controls WebhookSink's retry/backoff behavior, grounded
// on the teacher pipeline's flush-with-retry idiom.
type WebhookConfig struct {
	URL        string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// WebhookSink POSTs each alert as JSON to a configured endpoint, retrying
// with exponential backoff and dropping (with a logged error) after
// MaxRetries is exhausted.
type WebhookSink struct {
	cfg    WebhookConfig
	client *http.Client
	log    zerolog.Logger
}

// NewWebhookSink creates a WebhookSink.
func NewWebhookSink(cfg WebhookConfig, log zerolog.Logger) *WebhookSink {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WebhookSink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With().Str("component", "alert-sink-webhook").Logger(),
	}
}

func (s *WebhookSink) RecordAlert(a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("alert: marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
		if err != nil {
			cancel()
			return fmt.Errorf("alert: build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		cancel()
		if err == nil && resp.StatusCode < 300 {
			resp.Body.Close()
			return nil
		}
		if resp != nil {
			resp.Body.Close()
			lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		s.log.Warn().Err(lastErr).Int("attempt", attempt+1).Str("key_id", a.KeyID).Msg("alert webhook delivery failed")
		if attempt < s.cfg.MaxRetries {
			time.Sleep(s.cfg.RetryDelay * time.Duration(1<<uint(attempt)))
		}
	}

	s.log.Error().Err(lastErr).Str("key_id", a.KeyID).Msg("alert dropped after webhook retries exhausted")
	return lastErr
}

func (s *WebhookSink) FlushAllAlerts() error { return nil }

// FanOut broadcasts every alert to all of its member sinks, grounded on
// the original C++ alert_manager's multi-sink dispatch. A sink's error
// never prevents delivery to the others; the first error is returned.
type FanOut struct {
	sinks []Manager
	log   zerolog.Logger
}

// NewFanOut creates a FanOut over the given sinks.
func NewFanOut(log zerolog.Logger, sinks ...Manager) *FanOut {
	return &FanOut{sinks: sinks, log: log.With().Str("component", "alert-fanout").Logger()}
}

func (f *FanOut) RecordAlert(a Alert) error {
	var firstErr error
	for _, s := range f.sinks {
		if err := s.RecordAlert(a); err != nil {
			f.log.Error().Err(err).Msg("alert sink failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (f *FanOut) FlushAllAlerts() error {
	var firstErr error
	for _, s := range f.sinks {
		if err := s.FlushAllAlerts(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
