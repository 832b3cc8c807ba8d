package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// PagerDutyConfig configures the PagerDuty Events API v2 sink.
type PagerDutyConfig struct {
	RoutingKey  string
	Enabled     bool
	SourceName  string
	MinTier     Tier
	HTTPTimeout time.Duration
}

// DefaultPagerDutyConfig returns sane defaults; paging is off until a
// routing key is configured.
func DefaultPagerDutyConfig() PagerDutyConfig {
	return PagerDutyConfig{
		Enabled:     false,
		SourceName:  "sentryd",
		MinTier:     Tier3ML,
		HTTPTimeout: 10 * time.Second,
	}
}

// PagerDutySink pages on-call via the PagerDuty Events API v2 for
// alerts at or above MinTier, deduplicating on source IP and reason so
// a sustained attack opens one incident rather than one per request.
type PagerDutySink struct {
	cfg    PagerDutyConfig
	client *http.Client
	log    zerolog.Logger
}

// NewPagerDutySink builds a paging sink. Events are dropped silently
// when cfg.Enabled is false or RoutingKey is empty, so callers can wire
// this unconditionally.
func NewPagerDutySink(cfg PagerDutyConfig, log zerolog.Logger) *PagerDutySink {
	return &PagerDutySink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		log:    log.With().Str("component", "alert-sink-pagerduty").Logger(),
	}
}

var tierSeverity = map[Tier]int{
	Tier1Heuristic:  1,
	Tier2Statistical: 2,
	Tier3ML:          3,
	Tier4Dynamic:     3,
}

func (s *PagerDutySink) RecordAlert(a Alert) error {
	if !s.cfg.Enabled || s.cfg.RoutingKey == "" {
		return nil
	}
	if tierSeverity[a.Tier] < tierSeverity[s.cfg.MinTier] {
		return nil
	}

	severity := "warning"
	if a.Action == ActionBlock {
		severity = "critical"
	} else if a.Action == ActionRateLimit || a.Action == ActionChallenge {
		severity = "error"
	}

	dedupKey := fmt.Sprintf("sentryd-%s-%s", a.SourceIP, a.Reason)
	payload := map[string]any{
		"routing_key":  s.cfg.RoutingKey,
		"event_action": "trigger",
		"dedup_key":    dedupKey,
		"payload": map[string]any{
			"summary":   fmt.Sprintf("sentryd: %s from %s (%s)", a.Reason, a.SourceIP, a.Tier),
			"severity":  severity,
			"source":    s.cfg.SourceName,
			"component": "sentryd",
			"group":     "security",
			"class":     string(a.Tier),
			"timestamp": time.UnixMilli(int64(a.EventTimestampMs)).UTC().Format(time.RFC3339),
			"custom_details": map[string]any{
				"action":   string(a.Action),
				"score":    a.Score,
				"key_id":   a.KeyID,
				"log_line": a.LogLineNumber,
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pagerduty: marshal failed: %w", err)
	}

	resp, err := s.client.Post(pagerDutyEventsURL, "application/json", bytes.NewReader(body))
	if err != nil {
		s.log.Error().Err(err).Str("dedup_key", dedupKey).Msg("pagerduty API call failed")
		return fmt.Errorf("pagerduty: API call failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		s.log.Error().Int("status", resp.StatusCode).Str("dedup_key", dedupKey).Msg("pagerduty API error")
		return fmt.Errorf("pagerduty: HTTP %d", resp.StatusCode)
	}

	s.log.Info().Str("dedup_key", dedupKey).Str("severity", severity).Msg("pagerduty alert triggered")
	return nil
}

func (s *PagerDutySink) FlushAllAlerts() error { return nil }
