// Package analysis implements the AnalysisEngine: the per-event pipeline
// that folds each LogEntry into per-IP, per-path, and per-session state
// and produces an AnalyzedEvent carrying z-scores, UA flags, session
// features, and a fixed feature vector for the rule and ML tiers.
package analysis

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/r3dev/sentryd/internal/features"
	"github.com/r3dev/sentryd/internal/logentry"
	"github.com/r3dev/sentryd/internal/metrics"
	"github.com/r3dev/sentryd/internal/state"
	"github.com/r3dev/sentryd/internal/stats"
)

const (
	epsTime   = 1e-6
	epsBytes  = 1.0
	epsRate   = 0.01
	epsVolume = 0.5
)

// Engine owns the three per-entity maps and the global pruning clock.
type Engine struct {
	mu sync.RWMutex

	cfg Config
	log zerolog.Logger
	met metrics.Sink

	ips      map[string]*state.IPState
	paths    map[string]*state.PathState
	sessions map[string]*state.SessionState

	maxTimestampSeenMs int64
}

// New creates an AnalysisEngine with the given configuration.
func New(cfg Config, log zerolog.Logger, met metrics.Sink) *Engine {
	if met == nil {
		met = metrics.NopSink{}
	}
	return &Engine{
		cfg:      cfg,
		log:      log.With().Str("component", "analysis-engine").Logger(),
		met:      met,
		ips:      make(map[string]*state.IPState),
		paths:    make(map[string]*state.PathState),
		sessions: make(map[string]*state.SessionState),
	}
}

// Reconfigure swaps the engine's configuration and propagates the new
// window parameters onto every existing IP state, preserving data.
func (e *Engine) Reconfigure(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	for _, ip := range e.ips {
		ip.Reconfigure(cfg.WindowDurationMs, cfg.MaxElementsPerWindow, 0)
	}
}

// IPStateCount, PathStateCount, SessionStateCount expose map sizes for
// snapshot verification and metrics gauges.
func (e *Engine) IPStateCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.ips)
}
func (e *Engine) PathStateCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.paths)
}
func (e *Engine) SessionStateCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

// Process runs the 13-step per-event pipeline from spec.md §4.6.
func (e *Engine) Process(entry logentry.LogEntry) *AnalyzedEvent {
	evt := &AnalyzedEvent{LogEntry: entry, ZScores: make(map[string]float64)}

	if !entry.HasTimestamp() {
		evt.Malformed = true
		e.met.Counter("malformed_records_total", nil, 1)
		return evt
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ts := entry.ParsedTimestampMs
	if ts > e.maxTimestampSeenMs {
		e.maxTimestampSeenMs = ts
	}
	now := e.maxTimestampSeenMs

	ip, ipCreated := e.getOrCreateIP(entry.IP, ts)
	path := e.getOrCreatePath(entry.Path, ts)

	evt.IsFirstRequestFromIP = ipCreated
	ip.LastSeenMs = ts
	path.LastSeenMs = ts

	inserted, isNew := ip.TryAddPath(entry.Path)
	if isNew {
		evt.IsPathNewForIP = true
		if !inserted {
			e.log.Warn().Str("ip", entry.IP).Str("path", entry.Path).Msg("paths_seen_by_ip at capacity, dropping new path")
		}
	}

	ip.Requests.Add(ts, 1)
	ip.Requests.Prune(now)
	evt.RequestCountInWindow = ip.Requests.Count()

	if entry.IsFailedLoginStatus(e.cfg.FailedLoginStatusCodes) {
		ip.FailedLogins.Add(ts, 1)
	}
	ip.FailedLogins.Prune(now)
	evt.FailedLoginCountInWindow = ip.FailedLogins.Count()

	evt.PathClass = classifyPath(entry.Path, e.cfg)
	switch evt.PathClass {
	case PathHTML:
		ip.HTML.Add(ts, 1)
	case PathAsset:
		ip.Asset.Add(ts, 1)
	}
	evt.AssetsPerHTMLRatio = ip.AssetsPerHTMLRatio()
	evt.HTMLCountForIP = ip.HTML.Count()

	if e.cfg.SessionTrackingEnabled {
		e.processSession(evt, entry, ts)
	}

	errVal := 0.0
	if entry.IsErrorStatus() {
		errVal = 1.0
	}
	ip.RequestTime.Update(entry.RequestTimeS)
	ip.BytesSent.Update(float64(entry.BytesSent))
	ip.ErrorRate.Update(errVal)
	ip.RequestVolume.Update(float64(evt.RequestCountInWindow))

	path.RequestTime.Update(entry.RequestTimeS)
	path.BytesSent.Update(float64(entry.BytesSent))
	path.ErrorRate.Update(errVal)
	path.RequestVolume.Update(float64(evt.RequestCountInWindow))

	e.attachZScore(evt, "ip", "request_time", ip.RequestTime, entry.RequestTimeS, epsTime)
	e.attachZScore(evt, "ip", "bytes_sent", ip.BytesSent, float64(entry.BytesSent), epsBytes)
	e.attachZScore(evt, "ip", "error_event", ip.ErrorRate, errVal, epsRate)
	e.attachZScore(evt, "ip", "request_volume", ip.RequestVolume, float64(evt.RequestCountInWindow), epsVolume)

	e.attachZScore(evt, "path", "request_time", path.RequestTime, entry.RequestTimeS, epsTime)
	e.attachZScore(evt, "path", "bytes_sent", path.BytesSent, float64(entry.BytesSent), epsBytes)
	e.attachZScore(evt, "path", "error_event", path.ErrorRate, errVal, epsRate)
	e.attachZScore(evt, "path", "request_volume", path.RequestVolume, float64(evt.RequestCountInWindow), epsVolume)

	evt.UAFlags = analyzeUA(ip, entry.UserAgent, e.cfg, ts)

	e.extractFeatures(evt)

	e.met.Counter("records_processed_total", nil, 1)
	return evt
}

func (e *Engine) attachZScore(evt *AnalyzedEvent, entity, metric string, tracker *stats.Tracker, current, eps float64) {
	if tracker.Count() < int64(e.cfg.MinSamplesForZScore) {
		return
	}
	sd := tracker.StdDev()
	if sd <= eps {
		return
	}
	evt.ZScores[zKey(entity, metric)] = (current - tracker.Mean()) / sd
}

func (e *Engine) getOrCreateIP(ip string, ts int64) (s *state.IPState, created bool) {
	s, ok := e.ips[ip]
	if !ok {
		s = state.NewIPState(e.cfg.WindowDurationMs, e.cfg.MaxElementsPerWindow, 0, e.cfg.MaxUniquePathsStoredPerIP)
		s.FirstSeenMs = ts
		e.ips[ip] = s
		return s, true
	}
	return s, false
}

func (e *Engine) getOrCreatePath(path string, ts int64) *state.PathState {
	s, ok := e.paths[path]
	if !ok {
		s = state.NewPathState()
		e.paths[path] = s
	}
	return s
}

// processSession implements spec.md §4.6 step 8: build the session key,
// create-or-reuse the session, and derive session-level features.
func (e *Engine) processSession(evt *AnalyzedEvent, entry logentry.LogEntry, ts int64) {
	key := e.sessionKey(entry)
	evt.SessionKey = key

	sess, ok := e.sessions[key]
	if !ok || ts-sess.LastSeenMs > e.cfg.SessionInactivityTTLMs {
		sess = state.NewSessionState(e.cfg.SessionMaxHistory)
		e.sessions[key] = sess
	}
	sess.RecordRequest(ts, entry.Path, entry.Method, entry.UserAgent, entry.Status, entry.IsFailedLoginStatus(e.cfg.FailedLoginStatusCodes))

	evt.SessionRequestCount = sess.RequestCount
	evt.SessionUniquePaths = sess.UniquePathCount()
	evt.SessionFailedLogins = sess.FailedLoginCount
	evt.SessionUAChanges = sess.UAChanges

	if sess.RequestCount >= 2 {
		evt.DerivedSession = &SessionFeatures{
			AvgTimeBetweenRequestsS: sess.AvgTimeBetweenRequestsS(),
			PostToGetRatio:          sess.PostToGetRatio(),
			UAChangesInSession:      sess.UAChanges,
		}
	}
}

func (e *Engine) sessionKey(entry logentry.LogEntry) string {
	parts := make([]string, 0, len(e.cfg.SessionKeyComponents))
	for _, c := range e.cfg.SessionKeyComponents {
		switch c {
		case "ip":
			parts = append(parts, entry.IP)
		case "ua":
			parts = append(parts, entry.UserAgent)
		default:
			e.log.Warn().Str("component", c).Msg("unknown session_key_components entry ignored")
		}
	}
	return strings.Join(parts, "|")
}

// extractFeatures builds the fixed-length, tanh-normalized feature vector
// consumed by the ML tier, per spec.md §4.6 step 12.
func (e *Engine) extractFeatures(evt *AnalyzedEvent) {
	var v features.Vector
	v.Set(features.RequestTimeS, evt.RequestTimeS)
	v.Set(features.BytesSent, float64(evt.BytesSent))
	v.SetBool(features.HTTPStatus4xx, evt.Status >= 400 && evt.Status < 500)
	v.SetBool(features.HTTPStatus5xx, evt.Status >= 500 && evt.Status < 600)
	v.SetBool(features.IsUAMissing, evt.UAFlags.Missing)
	v.SetBool(features.IsUAHeadless, evt.UAFlags.Headless)
	v.SetBool(features.IsUAKnownBad, evt.UAFlags.KnownBad)
	v.SetBool(features.IsUACycling, evt.UAFlags.Cycling)
	v.SetBool(features.IsPathNewForIP, evt.IsPathNewForIP)

	if z, ok := evt.ZScore("ip", "request_time"); ok {
		v.Set(features.IPRequestTimeZScore, z)
	}
	if z, ok := evt.ZScore("ip", "bytes_sent"); ok {
		v.Set(features.IPBytesSentZScore, z)
	}
	if z, ok := evt.ZScore("ip", "error_event"); ok {
		v.Set(features.IPErrorEventZScore, z)
	}
	if z, ok := evt.ZScore("ip", "request_volume"); ok {
		v.Set(features.IPRequestVolumeZScore, z)
	}
	if z, ok := evt.ZScore("path", "request_time"); ok {
		v.Set(features.PathRequestTimeZScore, z)
	}
	if z, ok := evt.ZScore("path", "bytes_sent"); ok {
		v.Set(features.PathBytesSentZScore, z)
	}
	if z, ok := evt.ZScore("path", "error_event"); ok {
		v.Set(features.PathErrorEventZScore, z)
	}

	if evt.DerivedSession != nil {
		v.Set(features.AvgTimeBetweenRequestsS, evt.DerivedSession.AvgTimeBetweenRequestsS)
		v.Set(features.PostToGetRatio, evt.DerivedSession.PostToGetRatio)
		v.Set(features.UAChangesInSession, float64(evt.DerivedSession.UAChangesInSession))
	}

	evt.Features = v
}

// RunPruning drops IP/path/session entries whose last_seen predates the
// configured TTL relative to the engine's monotone clock.
func (e *Engine) RunPruning() (ipRemoved, pathRemoved, sessionRemoved int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.cfg.StatePruningEnabled || e.cfg.StateTTLMs <= 0 {
		return 0, 0, 0
	}
	now := e.maxTimestampSeenMs

	for k, s := range e.ips {
		if now-s.LastSeenMs > e.cfg.StateTTLMs {
			delete(e.ips, k)
			ipRemoved++
		}
	}
	for k, s := range e.paths {
		if now-s.LastSeenMs > e.cfg.StateTTLMs {
			delete(e.paths, k)
			pathRemoved++
		}
	}
	if e.cfg.SessionInactivityTTLMs > 0 {
		for k, s := range e.sessions {
			if now-s.LastSeenMs > e.cfg.SessionInactivityTTLMs {
				delete(e.sessions, k)
				sessionRemoved++
			}
		}
	}
	return ipRemoved, pathRemoved, sessionRemoved
}
