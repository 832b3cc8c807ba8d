// Package learning implements the LearningEngine: per-entity baselines
// built from rolling statistics and a seasonal model, adaptive threshold
// calculation, manual overrides, and an audit trail of threshold changes.
package learning

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/r3dev/sentryd/internal/rolling"
	"github.com/r3dev/sentryd/internal/seasonal"
)

// AuditEntry records one threshold change for a baseline.
type AuditEntry struct {
	TimestampMs int64
	OldValue    float64
	NewValue    float64
	Percentile  float64
	Reason      string
	OperatorID  string
}

// Override is a manually pinned threshold value.
type Override struct {
	Active     bool
	Value      float64
	OperatorID string
	SetAtMs    int64
}

type cachedThreshold struct {
	value     float64
	expiresAt time.Time
}

// Baseline is the learned summary of normal behavior for one entity.
type Baseline struct {
	rolling          *rolling.Stats
	seasonal         *seasonal.Model
	securityCritical bool
	override         Override
	cache            map[float64]cachedThreshold
	audit            []AuditEntry
	maxAudit         int
	lastUpdatedMs    int64
}

// Config controls LearningEngine-wide tunables.
type Config struct {
	MinSamplesForBaseline      int
	MinSamplesForSeasonal      int
	RollingAlpha               float64
	RollingWindowSize          int
	ThresholdCacheTTL          time.Duration
	MaxThresholdChangePercent  float64
	MaxAuditEntriesPerEntity   int
	AutoMarkLoginPathsCritical bool
	AutoMarkAdminPathsCritical bool
	FailedLoginCriticalIPs     bool
	FailedLoginCriticalThresh  int
}

// DefaultConfig returns reference defaults matching spec.md §6.2/§4.5.
func DefaultConfig() Config {
	return Config{
		MinSamplesForBaseline:      30,
		MinSamplesForSeasonal:      30,
		RollingAlpha:               0.1,
		RollingWindowSize:          200,
		ThresholdCacheTTL:          5 * time.Minute,
		MaxThresholdChangePercent:  25.0,
		MaxAuditEntriesPerEntity:   200,
		AutoMarkLoginPathsCritical: true,
		AutoMarkAdminPathsCritical: true,
		FailedLoginCriticalIPs:     true,
		FailedLoginCriticalThresh:  5,
	}
}

// Engine owns all per-(entity_type, entity_id) baselines.
type Engine struct {
	mu         sync.RWMutex
	cfg        Config
	baselines  map[string]*Baseline
	log        zerolog.Logger
}

// New creates a LearningEngine.
func New(cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		baselines: make(map[string]*Baseline),
		log:       log.With().Str("component", "learning-engine").Logger(),
	}
}

func key(entityType, entityID string) string {
	return entityType + ":" + entityID
}

// Reconfigure swaps engine-wide tunables; existing baselines keep their
// accumulated state.
func (e *Engine) Reconfigure(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

func (e *Engine) getOrCreate(entityType, entityID string) *Baseline {
	k := key(entityType, entityID)
	e.mu.RLock()
	b, ok := e.baselines[k]
	e.mu.RUnlock()
	if ok {
		return b
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok = e.baselines[k]; ok {
		return b
	}
	b = &Baseline{
		rolling:  rolling.New(e.cfg.RollingAlpha, e.cfg.RollingWindowSize, e.cfg.MinSamplesForBaseline),
		seasonal: seasonal.New(e.cfg.MinSamplesForSeasonal),
		cache:    make(map[float64]cachedThreshold),
		maxAudit: e.cfg.MaxAuditEntriesPerEntity,
	}
	e.baselines[k] = b
	return b
}

// ProcessEvent folds one observation into the named entity's baseline,
// updating both its rolling statistics and its seasonal model.
func (e *Engine) ProcessEvent(entityType, entityID string, value float64, ts time.Time) {
	b := e.getOrCreate(entityType, entityID)
	b.rolling.Add(value, ts.UnixMilli())
	b.seasonal.Add(value, ts)
	b.seasonal.Recompute(ts, false)
	b.lastUpdatedMs = ts.UnixMilli()

	if e.cfg.FailedLoginCriticalIPs && entityType == "ip_failed_logins" && value >= float64(e.cfg.FailedLoginCriticalThresh) {
		b.securityCritical = true
	}
}

// MarkSecurityCritical flags (or unflags) an entity as security-critical.
// AutoFlagPath calls it for paths matching the login/admin substrings it
// is given; nothing in the event pipeline calls AutoFlagPath, so paths
// are flagged only when a caller does so explicitly.
func (e *Engine) MarkSecurityCritical(entityType, entityID string, critical bool) {
	b := e.getOrCreate(entityType, entityID)
	e.mu.Lock()
	defer e.mu.Unlock()
	b.securityCritical = critical
}

// CalculateThreshold returns the adaptive threshold at percentile p for
// the given entity. Unestablished baselines return NaN (the documented
// sentinel). An active manual override always wins.
func (e *Engine) CalculateThreshold(entityType, entityID string, p float64) float64 {
	b := e.getOrCreate(entityType, entityID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if b.override.Active {
		return b.override.Value
	}
	if !b.rolling.Established() {
		return math.NaN()
	}

	cached, hadCache := b.cache[p]
	if hadCache && time.Now().Before(cached.expiresAt) {
		return cached.value
	}

	newValue := b.rolling.Percentile(p * 100)
	finalValue := newValue

	if hadCache {
		changePct := 0.0
		if cached.value != 0 {
			changePct = math.Abs(newValue-cached.value) / math.Abs(cached.value) * 100
		}

		if b.securityCritical && changePct > e.cfg.MaxThresholdChangePercent {
			e.log.Warn().
				Float64("old", cached.value).
				Float64("new", newValue).
				Float64("change_pct", changePct).
				Msg("security-critical baseline rejected threshold change")
			finalValue = cached.value
		} else if changePct > 1.0 {
			entry := AuditEntry{
				TimestampMs: time.Now().UnixMilli(),
				OldValue:    cached.value,
				NewValue:    newValue,
				Percentile:  p,
				Reason:      "recalculated",
				OperatorID:  "system",
			}
			b.audit = append(b.audit, entry)
			if b.maxAudit > 0 && len(b.audit) > b.maxAudit {
				b.audit = b.audit[len(b.audit)-b.maxAudit:]
			}
		}
	}

	b.cache[p] = cachedThreshold{value: finalValue, expiresAt: time.Now().Add(e.cfg.ThresholdCacheTTL)}
	return finalValue
}

// SetManualOverride pins the threshold for an entity to a fixed value.
func (e *Engine) SetManualOverride(entityType, entityID string, value float64, operatorID string) {
	b := e.getOrCreate(entityType, entityID)
	e.mu.Lock()
	defer e.mu.Unlock()
	b.override = Override{Active: true, Value: value, OperatorID: operatorID, SetAtMs: time.Now().UnixMilli()}
	for p := range b.cache {
		delete(b.cache, p)
	}
}

// ClearManualOverride removes a manual override, restoring learned
// thresholds on the next CalculateThreshold call.
func (e *Engine) ClearManualOverride(entityType, entityID string) {
	b := e.getOrCreate(entityType, entityID)
	e.mu.Lock()
	defer e.mu.Unlock()
	b.override = Override{}
	for p := range b.cache {
		delete(b.cache, p)
	}
}

// SeasonalFactor returns the seasonal multiplier for the entity at ts.
// Unestablished baselines return the neutral factor 1.0. Per spec.md §11
// this is exposed but never multiplied into tier-4 thresholds by default.
func (e *Engine) SeasonalFactor(entityType, entityID string, ts time.Time) float64 {
	b := e.getOrCreate(entityType, entityID)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return b.seasonal.SeasonalFactor(ts)
}

// AuditLog returns a copy of the entity's recorded threshold changes.
func (e *Engine) AuditLog(entityType, entityID string) []AuditEntry {
	b := e.getOrCreate(entityType, entityID)
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]AuditEntry, len(b.audit))
	copy(out, b.audit)
	return out
}

// EntityMeanStdDev exposes the baseline's current EWMA mean/stddev for
// tier-4 dynamic-threshold sigma checks.
func (e *Engine) EntityMeanStdDev(entityType, entityID string) (mean, stddev float64, established bool) {
	b := e.getOrCreate(entityType, entityID)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return b.rolling.Mean(), b.rolling.StdDev(), b.rolling.Established()
}

// AutoFlagPath marks an entity security-critical if its path matches one
// of the configured sensitive-path substrings.
func (e *Engine) AutoFlagPath(path string, loginSubstrings, adminSubstrings []string) {
	if !e.cfg.AutoMarkLoginPathsCritical && !e.cfg.AutoMarkAdminPathsCritical {
		return
	}
	matched := false
	if e.cfg.AutoMarkLoginPathsCritical {
		for _, s := range loginSubstrings {
			if containsSubstring(path, s) {
				matched = true
				break
			}
		}
	}
	if !matched && e.cfg.AutoMarkAdminPathsCritical {
		for _, s := range adminSubstrings {
			if containsSubstring(path, s) {
				matched = true
				break
			}
		}
	}
	if matched {
		e.MarkSecurityCritical("path", path, true)
	}
}

func containsSubstring(s, sub string) bool {
	return len(sub) > 0 && len(s) >= len(sub) && indexOf(s, sub) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// CleanupExpired drops baselines whose lastUpdatedMs is older than ttl
// relative to nowMs.
func (e *Engine) CleanupExpired(nowMs int64, ttlMs int64) int {
	if ttlMs <= 0 {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for k, b := range e.baselines {
		if nowMs-b.lastUpdatedMs > ttlMs {
			delete(e.baselines, k)
			removed++
		}
	}
	return removed
}

// Count returns the number of tracked baselines.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.baselines)
}

// String implements fmt.Stringer for diagnostics.
func (o Override) String() string {
	if !o.Active {
		return "none"
	}
	return fmt.Sprintf("%.4f by %s", o.Value, o.OperatorID)
}
