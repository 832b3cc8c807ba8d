package rules

import (
	"strings"

	"github.com/r3dev/sentryd/internal/alert"
	"github.com/r3dev/sentryd/internal/analysis"
)

func (e *Engine) evaluateTier1(evt *analysis.AnalyzedEvent, cfg Config, add func(firing)) {
	if f := cfg.MaxRequestsPerIPInWindow; float64(evt.RequestCountInWindow) > f {
		score := ScoreFromThreshold(float64(evt.RequestCountInWindow), f, cfg.DangerousRequestsPerIP, cfg.ScoreRequestsBase)
		if score > 0 {
			add(firing{alert.Tier1Heuristic, "requests_per_ip_exceeded", score})
		}
	}

	if f := cfg.MaxFailedLoginsPerIP; float64(evt.FailedLoginCountInWindow) > f {
		score := ScoreFromThreshold(float64(evt.FailedLoginCountInWindow), f, cfg.DangerousFailedLoginsPerIP, cfg.ScoreFailedLoginsBase)
		if score > 0 {
			add(firing{alert.Tier1Heuristic, "failed_logins_per_ip_exceeded", score})
		}
	}

	if e.pathMatcher != nil && len(e.pathMatcher.Match([]byte(evt.Path))) > 0 {
		add(firing{alert.Tier1Heuristic, "suspicious_path_pattern", cfg.ScoreSuspiciousMatch})
	}
	if e.uaMatcher != nil && evt.UserAgent != "" && len(e.uaMatcher.Match([]byte(evt.UserAgent))) > 0 {
		add(firing{alert.Tier1Heuristic, "suspicious_ua_pattern", cfg.ScoreSuspiciousMatch})
	}

	if evt.UAFlags.KnownBad {
		add(firing{alert.Tier1Heuristic, "ua_known_bad", cfg.ScoreUAKnownBad})
	}
	if evt.UAFlags.Headless {
		add(firing{alert.Tier1Heuristic, "ua_headless", cfg.ScoreUAHeadless})
	}
	if evt.UAFlags.Cycling {
		add(firing{alert.Tier1Heuristic, "ua_cycling", cfg.ScoreUACycling})
	}
	if evt.UAFlags.Missing {
		add(firing{alert.Tier1Heuristic, "ua_missing", cfg.ScoreUAMissing})
	}
	if evt.UAFlags.Outdated {
		add(firing{alert.Tier1Heuristic, "ua_outdated", cfg.ScoreUAOutdated})
	}

	if evt.HTMLCountForIP >= cfg.MinHTMLRequestsForRatioCheck && evt.AssetsPerHTMLRatio < cfg.MinAssetsPerHTMLRatio {
		add(firing{alert.Tier1Heuristic, "low_asset_to_html_ratio", cfg.ScoreLowAssetRatio})
	}

	if evt.IsPathNewForIP && isSensitivePath(evt.Path, cfg.SensitivePathSubstrings) {
		add(firing{alert.Tier1Heuristic, "sensitive_path_first_access", cfg.ScoreSensitivePathFirstAccess})
	}

	if evt.SessionFailedLogins > cfg.MaxFailedLoginsPerSession {
		add(firing{alert.Tier1Heuristic, "failed_logins_per_session_exceeded", cfg.ScoreSessionFailedLogins})
	}
	if evt.SessionRequestCount > cfg.MaxRequestsPerSessionWindow {
		add(firing{alert.Tier1Heuristic, "requests_per_session_exceeded", cfg.ScoreSessionRequests})
	}
	if evt.SessionUAChanges > cfg.MaxUAChangesPerSession {
		add(firing{alert.Tier1Heuristic, "ua_changes_per_session_exceeded", cfg.ScoreSessionUAChanges})
	}
}

// isSensitivePath reports whether path contains a configured substring.
func isSensitivePath(path string, substrings []string) bool {
	for _, s := range substrings {
		if s != "" && strings.Contains(path, s) {
			return true
		}
	}
	return false
}
