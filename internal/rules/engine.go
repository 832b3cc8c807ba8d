package rules

import (
	"fmt"
	"net"
	"sync"
	"time"

	ahocorasick "github.com/cloudflare/ahocorasick"
	"github.com/rs/zerolog"

	"github.com/r3dev/sentryd/internal/alert"
	"github.com/r3dev/sentryd/internal/analysis"
	"github.com/r3dev/sentryd/internal/metrics"
)

// ModelSource is the Tier-3 dependency: a handle onto the currently
// active ML model. ModelManager satisfies this.
type ModelSource interface {
	ScoreWithExplanation(featureVector []float64) (score float64, explanation string, ready bool)
}

// LearningSource is the Tier-4 dependency.
type LearningSource interface {
	EntityMeanStdDev(entityType, entityID string) (mean, stddev float64, established bool)
}

type throttleEntry struct {
	lastFiredAt time.Time
	intervening int
}

// Engine evaluates each AnalyzedEvent across the four tiers and hands any
// resulting alert.Alert to the configured alert.Manager.
type Engine struct {
	mu  sync.RWMutex
	cfg Config
	log zerolog.Logger
	met metrics.Sink

	pathMatcher *ahocorasick.Matcher
	uaMatcher   *ahocorasick.Matcher

	throttle map[string]*throttleEntry

	model    ModelSource
	learning LearningSource
	manager  alert.Manager
}

// New creates a RuleEngine. model and learning may be nil until their
// owning packages are wired up; their tiers are skipped when nil.
func New(cfg Config, log zerolog.Logger, met metrics.Sink, model ModelSource, learning LearningSource, manager alert.Manager) *Engine {
	if met == nil {
		met = metrics.NopSink{}
	}
	e := &Engine{
		cfg:      cfg,
		log:      log.With().Str("component", "rule-engine").Logger(),
		met:      met,
		throttle: make(map[string]*throttleEntry),
		model:    model,
		learning: learning,
		manager:  manager,
	}
	e.rebuildMatchers()
	return e
}

// Reconfigure swaps tunables and rebuilds the Aho-Corasick matchers.
func (e *Engine) Reconfigure(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.rebuildMatchers()
}

func (e *Engine) rebuildMatchers() {
	if len(e.cfg.SuspiciousPathSubstrings) > 0 {
		e.pathMatcher = ahocorasick.NewStringMatcher(e.cfg.SuspiciousPathSubstrings)
	} else {
		e.pathMatcher = nil
	}
	if len(e.cfg.SuspiciousUASubstrings) > 0 {
		e.uaMatcher = ahocorasick.NewStringMatcher(e.cfg.SuspiciousUASubstrings)
	} else {
		e.uaMatcher = nil
	}
}

func isAllowlisted(ip string, cidrs []*net.IPNet) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range cidrs {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// firing is one candidate alert a tier wants to raise; the engine sums
// every firing's score into the aggregate (clamped to 100) and reports
// the highest-scoring firing's reason/tier on the resulting alert.
type firing struct {
	tier   alert.Tier
	reason string
	score  float64
}

// Evaluate runs the four tiers in order and returns an alert.Alert when
// the aggregated score clears AlertThreshold and the throttle allows it.
// It returns (nil, nil) when nothing fires or the event is allowlisted.
func (e *Engine) Evaluate(evt *analysis.AnalyzedEvent) (*alert.Alert, error) {
	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()

	if evt.Malformed {
		return nil, nil
	}
	if isAllowlisted(evt.IP, cfg.AllowlistCIDRs) {
		return nil, nil
	}

	var firings []firing
	aggregate := 0.0

	add := func(f firing) {
		firings = append(firings, f)
		aggregate += f.score
		if aggregate > 100.0 {
			aggregate = 100.0
		}
	}
	atCap := func() bool { return aggregate >= 98.0 }

	timed := func(tier alert.Tier, run func()) {
		start := time.Now()
		run()
		e.met.Observe("tier_evaluation_seconds", map[string]string{"tier": string(tier)}, time.Since(start).Seconds())
	}

	if cfg.Tier1Enabled && !atCap() {
		timed(alert.Tier1Heuristic, func() { e.evaluateTier1(evt, cfg, add) })
	}
	if cfg.Tier2Enabled && !atCap() {
		timed(alert.Tier2Statistical, func() { e.evaluateTier2(evt, cfg, add) })
	}
	if cfg.Tier3Enabled && !atCap() && e.model != nil {
		timed(alert.Tier3ML, func() { e.evaluateTier3(evt, cfg, add) })
	}
	if cfg.Tier4Enabled && !atCap() && e.learning != nil {
		timed(alert.Tier4Dynamic, func() { e.evaluateTier4(evt, cfg, add) })
	}

	if len(firings) == 0 || aggregate < cfg.AlertThreshold {
		e.met.Counter("events_evaluated_total", map[string]string{"fired": "false"}, 1)
		return nil, nil
	}

	best := firings[0]
	for _, f := range firings[1:] {
		if f.score > best.score {
			best = f
		}
	}

	keyID := fmt.Sprintf("%s|%s", evt.IP, best.reason)
	if e.isThrottled(keyID, cfg) {
		e.met.Counter("alerts_throttled_total", nil, 1)
		return nil, nil
	}

	action := cfg.ActionMapping[string(best.tier)]
	if action == "" {
		action = string(alert.ActionLog)
	}

	a := alert.New(uint64(evt.ParsedTimestampMs), evt.IP, best.reason, best.tier, alert.Action(action), action, aggregate, keyID, evt.OriginalLineNo, evt.Raw)

	e.met.Counter("events_evaluated_total", map[string]string{"fired": "true"}, 1)
	e.met.Counter("rule_hits_total", map[string]string{"reason": best.reason}, 1)

	if e.manager != nil {
		if err := e.manager.RecordAlert(a); err != nil {
			return &a, fmt.Errorf("rules: record alert: %w", err)
		}
	}
	return &a, nil
}

// isThrottled implements spec.md §3.2(5): identical (ip, reason) alerts
// within throttle_duration are suppressed unless enough other alerts for
// the same key have already been recorded.
func (e *Engine) isThrottled(keyID string, cfg Config) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.throttle[keyID]
	now := time.Now()
	if !ok {
		e.throttle[keyID] = &throttleEntry{lastFiredAt: now}
		return false
	}
	if now.Sub(t.lastFiredAt) >= cfg.ThrottleDuration {
		t.lastFiredAt = now
		t.intervening = 0
		return false
	}
	if t.intervening >= cfg.ThrottleMaxInterveningAlerts {
		t.lastFiredAt = now
		t.intervening = 0
		return false
	}
	t.intervening++
	return true
}
