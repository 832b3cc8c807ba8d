// Package rules implements the RuleEngine: the four-tier scoring pipeline
// that turns an analysis.AnalyzedEvent into zero or one alert.Alert.
package rules

import (
	"net"
	"time"
)

// Config carries every tier's tunables, per spec.md §6.2.
type Config struct {
	AllowlistCIDRs []*net.IPNet

	Tier1Enabled bool

	MaxRequestsPerIPInWindow    float64
	DangerousRequestsPerIP      float64
	ScoreRequestsBase           float64
	MaxFailedLoginsPerIP        float64
	DangerousFailedLoginsPerIP  float64
	ScoreFailedLoginsBase       float64

	SuspiciousPathSubstrings []string
	SuspiciousUASubstrings   []string
	ScoreSuspiciousMatch     float64

	ScoreUAMissing  float64
	ScoreUAHeadless float64
	ScoreUAKnownBad float64
	ScoreUAOutdated float64
	ScoreUACycling  float64

	MinAssetsPerHTMLRatio        float64
	MinHTMLRequestsForRatioCheck int
	ScoreLowAssetRatio           float64

	SensitivePathSubstrings      []string
	ScoreSensitivePathFirstAccess float64

	MaxFailedLoginsPerSession    int64
	ScoreSessionFailedLogins     float64
	MaxRequestsPerSessionWindow  int64
	ScoreSessionRequests         float64
	MaxUAChangesPerSession       int64
	ScoreSessionUAChanges        float64

	Tier2Enabled        bool
	ZScoreThreshold     float64
	ScoreZScoreBase     float64

	Tier3Enabled           bool
	AnomalyScoreThreshold  float64

	Tier4Enabled bool
	Sigma        float64

	AlertThreshold              float64
	ThrottleDuration            time.Duration
	ThrottleMaxInterveningAlerts int
	ActionMapping               map[string]string
}

// DefaultConfig mirrors spec.md reference defaults.
func DefaultConfig() Config {
	return Config{
		Tier1Enabled:                 true,
		MaxRequestsPerIPInWindow:     100,
		DangerousRequestsPerIP:       1000,
		ScoreRequestsBase:            40,
		MaxFailedLoginsPerIP:         5,
		DangerousFailedLoginsPerIP:   20,
		ScoreFailedLoginsBase:        50,
		ScoreSuspiciousMatch:         70,
		ScoreUAMissing:               20,
		ScoreUAHeadless:              55,
		ScoreUAKnownBad:              90,
		ScoreUAOutdated:              15,
		ScoreUACycling:               60,
		MinAssetsPerHTMLRatio:        0.2,
		MinHTMLRequestsForRatioCheck: 5,
		ScoreLowAssetRatio:           35,
		ScoreSensitivePathFirstAccess: 45,
		MaxFailedLoginsPerSession:    3,
		ScoreSessionFailedLogins:     55,
		MaxRequestsPerSessionWindow:  200,
		ScoreSessionRequests:         40,
		MaxUAChangesPerSession:       3,
		ScoreSessionUAChanges:        35,
		Tier2Enabled:                 true,
		ZScoreThreshold:              3.0,
		ScoreZScoreBase:              65,
		Tier3Enabled:                 false,
		AnomalyScoreThreshold:        0.8,
		Tier4Enabled:                 false,
		Sigma:                        3.0,
		AlertThreshold:               50,
		ThrottleDuration:             5 * time.Minute,
		ThrottleMaxInterveningAlerts: 10,
		ActionMapping: map[string]string{
			"TIER1_HEURISTIC":  "RATE_LIMIT",
			"TIER2_STATISTICAL": "CHALLENGE",
			"TIER3_ML":         "CHALLENGE",
			"TIER4_DYNAMIC":    "LOG",
		},
	}
}

// ScoreFromThreshold implements spec.md §4.7's linear-ramp helper: 0
// below threshold, else linear interpolation toward max at danger.
func ScoreFromThreshold(v, thr, danger, base float64) float64 {
	const max = 98.0
	if v < thr {
		return 0
	}
	if danger <= thr {
		return base
	}
	frac := (v - thr) / (danger - thr)
	score := base + frac*(max-base)
	if score > max {
		score = max
	}
	return score
}

// ScoreFromZScore implements spec.md §4.7's tier-2 scoring helper.
func ScoreFromZScore(z, zt, base float64) float64 {
	az := z
	if az < 0 {
		az = -az
	}
	if az < zt {
		return 0
	}
	score := base + (az-zt)*5.0
	if score > 99 {
		score = 99
	}
	return score
}
