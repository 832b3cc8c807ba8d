package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/r3dev/sentryd/internal/analysis"
	"github.com/r3dev/sentryd/internal/learning"
	"github.com/r3dev/sentryd/internal/mlmodel"
	"github.com/r3dev/sentryd/internal/rules"
	"github.com/r3dev/sentryd/internal/threatfeed"
)

// Runtime is the fully resolved, in-process configuration: the YAML
// option groups translated into each subsystem's own Config type, plus
// secrets pulled from the environment (overlaid from .env by
// LoadSecretsOverlay before Resolve runs).
type Runtime struct {
	General  GeneralOptions
	Analysis analysis.Config
	Rules    rules.Config
	Learning learning.Config
	MLModel  mlmodel.Config

	RedisURL string
}

// Resolve translates a parsed File into a Runtime, applying the secret
// overlay's environment variables for deployment-sensitive paths/URLs.
func Resolve(f *File) (*Runtime, error) {
	allow, err := threatfeed.ParseCIDRs(splitNonEmpty(getEnvOrDefault("SENTRYD_ALLOWLIST_CIDRS", "")))
	if err != nil {
		return nil, fmt.Errorf("parse allowlist CIDRs: %w", err)
	}

	rt := &Runtime{
		General:  f.General,
		Analysis: analysisConfigFrom(f),
		Rules:    rulesConfigFrom(f, allow),
		Learning: learningConfigFrom(f),
		MLModel:  mlModelConfigFrom(f),
		RedisURL: getEnvOrDefault("SENTRYD_REDIS_URL", "redis://localhost:6379"),
	}

	if err := Validate(rt); err != nil {
		return nil, err
	}
	return rt, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func analysisConfigFrom(f *File) analysis.Config {
	d := analysis.DefaultConfig()
	t1 := f.Tier1
	if t1.SlidingWindowDurationSeconds > 0 {
		d.WindowDurationMs = t1.SlidingWindowDurationSeconds * 1000
	}
	if len(t1.FailedLoginStatusCodes) > 0 {
		d.FailedLoginStatusCodes = t1.FailedLoginStatusCodes
	}
	if t1.MaxUniquePathsStoredPerIP > 0 {
		d.MaxUniquePathsStoredPerIP = t1.MaxUniquePathsStoredPerIP
	}
	if t1.MaxUniqueUAsPerIPInWindow > 0 {
		d.MaxUniqueUAsPerIPInWindow = t1.MaxUniqueUAsPerIPInWindow
	}
	if len(t1.HTMLExactPaths) > 0 {
		d.HTMLExactPaths = t1.HTMLExactPaths
	}
	if len(t1.AssetPathPrefixes) > 0 {
		d.AssetPathPrefixes = t1.AssetPathPrefixes
	}
	if len(t1.HTMLPathSuffixes) > 0 {
		d.HTMLPathSuffixes = t1.HTMLPathSuffixes
	}
	if len(t1.AssetPathSuffixes) > 0 {
		d.AssetPathSuffixes = t1.AssetPathSuffixes
	}
	d.SessionTrackingEnabled = t1.SessionTrackingEnabled
	if len(t1.SessionKeyComponents) > 0 {
		d.SessionKeyComponents = t1.SessionKeyComponents
	}
	if t1.SessionInactivityTTLSeconds > 0 {
		d.SessionInactivityTTLMs = t1.SessionInactivityTTLSeconds * 1000
	}
	d.CheckUserAgentAnomalies = t1.CheckUserAgentAnomalies
	if len(t1.HeadlessBrowserSubstrings) > 0 {
		d.HeadlessBrowserSubstrings = t1.HeadlessBrowserSubstrings
	}
	if len(t1.KnownBadUASubstrings) > 0 {
		d.KnownBadUASubstrings = t1.KnownBadUASubstrings
	}
	if t1.MinChromeVersion > 0 {
		d.MinChromeVersion = t1.MinChromeVersion
	}
	if t1.MinFirefoxVersion > 0 {
		d.MinFirefoxVersion = t1.MinFirefoxVersion
	}
	if f.Tier2.MinSamplesForZScore > 0 {
		d.MinSamplesForZScore = f.Tier2.MinSamplesForZScore
	}
	d.StatePruningEnabled = f.General.StatePruningEnabled
	if f.General.StateTTLSeconds > 0 {
		d.StateTTLMs = f.General.StateTTLSeconds * 1000
	}
	if f.General.StateFileMagic != 0 {
		d.StateFileMagic = f.General.StateFileMagic
	}
	return d
}

func rulesConfigFrom(f *File, allow []*net.IPNet) rules.Config {
	d := rules.DefaultConfig()
	t1 := f.Tier1
	d.AllowlistCIDRs = allow
	d.Tier1Enabled = t1.Enabled
	if t1.MaxRequestsPerIPInWindow > 0 {
		d.MaxRequestsPerIPInWindow = t1.MaxRequestsPerIPInWindow
	}
	if t1.DangerousRequestsPerIP > 0 {
		d.DangerousRequestsPerIP = t1.DangerousRequestsPerIP
	}
	if t1.MaxFailedLoginsPerIP > 0 {
		d.MaxFailedLoginsPerIP = t1.MaxFailedLoginsPerIP
	}
	if t1.DangerousFailedLoginsPerIP > 0 {
		d.DangerousFailedLoginsPerIP = t1.DangerousFailedLoginsPerIP
	}
	if len(t1.SuspiciousPathSubstrings) > 0 {
		d.SuspiciousPathSubstrings = t1.SuspiciousPathSubstrings
	}
	if len(t1.SuspiciousUASubstrings) > 0 {
		d.SuspiciousUASubstrings = t1.SuspiciousUASubstrings
	}
	if len(t1.SensitivePathSubstrings) > 0 {
		d.SensitivePathSubstrings = t1.SensitivePathSubstrings
	}
	if t1.MinAssetsPerHTMLRatio > 0 {
		d.MinAssetsPerHTMLRatio = t1.MinAssetsPerHTMLRatio
	}
	if t1.MinHTMLRequestsForRatioCheck > 0 {
		d.MinHTMLRequestsForRatioCheck = t1.MinHTMLRequestsForRatioCheck
	}
	if t1.MaxFailedLoginsPerSession > 0 {
		d.MaxFailedLoginsPerSession = t1.MaxFailedLoginsPerSession
	}
	if t1.MaxRequestsPerSessionInWindow > 0 {
		d.MaxRequestsPerSessionWindow = t1.MaxRequestsPerSessionInWindow
	}
	if t1.MaxUAChangesPerSession > 0 {
		d.MaxUAChangesPerSession = t1.MaxUAChangesPerSession
	}
	applyScoreOverride(&d.ScoreRequestsBase, t1.ScoreRequestsBase)
	applyScoreOverride(&d.ScoreFailedLoginsBase, t1.ScoreFailedLoginsBase)
	applyScoreOverride(&d.ScoreSuspiciousMatch, t1.ScoreSuspiciousMatch)
	applyScoreOverride(&d.ScoreUAMissing, t1.ScoreUAMissing)
	applyScoreOverride(&d.ScoreUAHeadless, t1.ScoreUAHeadless)
	applyScoreOverride(&d.ScoreUAKnownBad, t1.ScoreUAKnownBad)
	applyScoreOverride(&d.ScoreUAOutdated, t1.ScoreUAOutdated)
	applyScoreOverride(&d.ScoreUACycling, t1.ScoreUACycling)
	applyScoreOverride(&d.ScoreLowAssetRatio, t1.ScoreLowAssetRatio)
	applyScoreOverride(&d.ScoreSensitivePathFirstAccess, t1.ScoreSensitivePathFirstAccess)
	applyScoreOverride(&d.ScoreSessionFailedLogins, t1.ScoreSessionFailedLogins)
	applyScoreOverride(&d.ScoreSessionRequests, t1.ScoreSessionRequests)
	applyScoreOverride(&d.ScoreSessionUAChanges, t1.ScoreSessionUAChanges)

	d.Tier2Enabled = f.Tier2.Enabled
	if f.Tier2.ZScoreThreshold > 0 {
		d.ZScoreThreshold = f.Tier2.ZScoreThreshold
	}
	applyScoreOverride(&d.ScoreZScoreBase, f.Tier2.ScoreZScoreBase)

	d.Tier3Enabled = f.Tier3.Enabled
	if f.Tier3.AnomalyScoreThreshold > 0 {
		d.AnomalyScoreThreshold = f.Tier3.AnomalyScoreThreshold
	}

	d.Tier4Enabled = f.Tier4.Enabled
	if f.Tier4.Sigma > 0 {
		d.Sigma = f.Tier4.Sigma
	}

	if f.Alerts.AlertThreshold > 0 {
		d.AlertThreshold = f.Alerts.AlertThreshold
	}
	if f.Alerts.ThrottleDurationMs > 0 {
		d.ThrottleDuration = time.Duration(f.Alerts.ThrottleDurationMs) * time.Millisecond
	}
	if f.Alerts.ThrottleMaxInterveningAlerts > 0 {
		d.ThrottleMaxInterveningAlerts = f.Alerts.ThrottleMaxInterveningAlerts
	}
	if len(f.Alerts.ActionMapping) > 0 {
		d.ActionMapping = f.Alerts.ActionMapping
	}
	return d
}

func applyScoreOverride(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func learningConfigFrom(f *File) learning.Config {
	d := learning.DefaultConfig()
	t4 := f.Tier4
	if f.Tier2.MinSamplesForZScore > 0 {
		d.MinSamplesForBaseline = f.Tier2.MinSamplesForZScore
	}
	if t4.MinSamplesForSeasonalPattern > 0 {
		d.MinSamplesForSeasonal = t4.MinSamplesForSeasonalPattern
	}
	if t4.ThresholdCacheTTLSeconds > 0 {
		d.ThresholdCacheTTL = time.Duration(t4.ThresholdCacheTTLSeconds) * time.Second
	}
	if t4.SecurityCriticalMaxChangePercent > 0 {
		d.MaxThresholdChangePercent = t4.SecurityCriticalMaxChangePercent
	}
	if t4.MaxAuditEntriesPerEntity > 0 {
		d.MaxAuditEntriesPerEntity = t4.MaxAuditEntriesPerEntity
	}
	d.AutoMarkLoginPathsCritical = t4.AutoMarkLoginPathsCritical
	d.AutoMarkAdminPathsCritical = t4.AutoMarkAdminPathsCritical
	d.FailedLoginCriticalIPs = t4.AutoMarkHighFailedLoginIPsCritical
	if t4.FailedLoginThresholdForCritical > 0 {
		d.FailedLoginCriticalThresh = t4.FailedLoginThresholdForCritical
	}
	return d
}

func mlModelConfigFrom(f *File) mlmodel.Config {
	t3 := f.Tier3
	return mlmodel.Config{
		ModelPath:                  t3.ModelPath,
		ModelMetadataPath:          t3.ModelMetadataPath,
		AutomatedRetrainingEnabled: t3.AutomatedRetrainingEnabled,
		TrainingScriptPath:         t3.TrainingScriptPath,
		RetrainingIntervalSeconds:  t3.RetrainingIntervalSeconds,
		TrainingTimeout:            10 * time.Minute,
	}
}

// Validate enforces the checks the hot-reload path relies on to reject a
// config: a positive window, a non-negative alert threshold and throttle
// duration, and a state file path that either does not exist yet or can
// be stat'ed. The action mapping is not checked.
func Validate(rt *Runtime) error {
	if rt.Analysis.WindowDurationMs <= 0 {
		return fmt.Errorf("tier1.sliding_window_duration_seconds must be positive")
	}
	if rt.Rules.AlertThreshold < 0 {
		return fmt.Errorf("alerts.alert_threshold must be non-negative")
	}
	if rt.Rules.ThrottleDuration < 0 {
		return fmt.Errorf("alerts.throttle_duration_ms must be non-negative")
	}
	if rt.General.StateFilePath != "" {
		if _, err := os.Stat(rt.General.StateFilePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("general.state_file_path unusable: %w", err)
		}
	}
	return nil
}
