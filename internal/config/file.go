// Package config loads the YAML configuration file covering every
// option group from spec.md §6.2 (General, Tier1..4, Alerts,
// Monitoring), overlays deployment secrets from a .env file the way the
// teacher's config.Load does, and watches the YAML file for hot reload.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML shape. Field names mirror spec.md §6.2's
// option names; yaml.v3's default strict-unknown-key behavior is off
// (we decode into a plain struct and separately diff keys, see
// warnUnknownKeys), matching the "unknown keys MUST be ignored with a
// warning" invariant rather than failing the load.
type File struct {
	General  GeneralOptions  `yaml:"general"`
	Tier1    Tier1Options    `yaml:"tier1"`
	Tier2    Tier2Options    `yaml:"tier2"`
	Tier3    Tier3Options    `yaml:"tier3"`
	Tier4    Tier4Options    `yaml:"tier4"`
	Alerts   AlertsOptions   `yaml:"alerts"`
	Monitoring MonitoringOptions `yaml:"monitoring"`
}

type GeneralOptions struct {
	LogInputPath        string `yaml:"log_input_path"`
	AllowlistPath        string `yaml:"allowlist_path"`
	StateFilePath        string `yaml:"state_file_path"`
	StateFileMagic       uint32 `yaml:"state_file_magic"`
	StatePruningEnabled  bool   `yaml:"state_pruning_enabled"`
	StateTTLSeconds      int64  `yaml:"state_ttl_seconds"`
	AlertsToStdout       bool   `yaml:"alerts_to_stdout"`
}

type Tier1Options struct {
	Enabled                       bool     `yaml:"enabled"`
	SlidingWindowDurationSeconds  int64    `yaml:"sliding_window_duration_seconds"`
	MaxRequestsPerIPInWindow      float64  `yaml:"max_requests_per_ip_in_window"`
	DangerousRequestsPerIP        float64  `yaml:"dangerous_requests_per_ip"`
	MaxFailedLoginsPerIP          float64  `yaml:"max_failed_logins_per_ip"`
	DangerousFailedLoginsPerIP    float64  `yaml:"dangerous_failed_logins_per_ip"`
	FailedLoginStatusCodes        []int    `yaml:"failed_login_status_codes"`
	CheckUserAgentAnomalies       bool     `yaml:"check_user_agent_anomalies"`
	HeadlessBrowserSubstrings     []string `yaml:"headless_browser_substrings"`
	KnownBadUASubstrings          []string `yaml:"known_bad_ua_substrings"`
	MinChromeVersion              int      `yaml:"min_chrome_version"`
	MinFirefoxVersion             int      `yaml:"min_firefox_version"`
	MaxUniqueUAsPerIPInWindow     int      `yaml:"max_unique_uas_per_ip_in_window"`
	MaxUniquePathsStoredPerIP     int      `yaml:"max_unique_paths_stored_per_ip"`
	HTMLExactPaths                []string `yaml:"html_exact_paths"`
	AssetPathPrefixes             []string `yaml:"asset_path_prefixes"`
	HTMLPathSuffixes               []string `yaml:"html_path_suffixes"`
	AssetPathSuffixes              []string `yaml:"asset_path_suffixes"`
	MinAssetsPerHTMLRatio          float64  `yaml:"min_assets_per_html_ratio"`
	MinHTMLRequestsForRatioCheck   int      `yaml:"min_html_requests_for_ratio_check"`
	SessionTrackingEnabled         bool     `yaml:"session_tracking_enabled"`
	SessionKeyComponents           []string `yaml:"session_key_components"`
	SessionInactivityTTLSeconds    int64    `yaml:"session_inactivity_ttl_seconds"`
	MaxFailedLoginsPerSession      int64    `yaml:"max_failed_logins_per_session"`
	MaxRequestsPerSessionInWindow  int64    `yaml:"max_requests_per_session_in_window"`
	MaxUAChangesPerSession         int64    `yaml:"max_ua_changes_per_session"`
	SuspiciousPathSubstrings       []string `yaml:"suspicious_path_substrings"`
	SuspiciousUASubstrings         []string `yaml:"suspicious_ua_substrings"`
	SensitivePathSubstrings        []string `yaml:"sensitive_path_substrings"`

	ScoreRequestsBase             float64 `yaml:"score_requests_base"`
	ScoreFailedLoginsBase         float64 `yaml:"score_failed_logins_base"`
	ScoreSuspiciousMatch          float64 `yaml:"score_suspicious_match"`
	ScoreUAMissing                float64 `yaml:"score_ua_missing"`
	ScoreUAHeadless               float64 `yaml:"score_ua_headless"`
	ScoreUAKnownBad               float64 `yaml:"score_ua_known_bad"`
	ScoreUAOutdated               float64 `yaml:"score_ua_outdated"`
	ScoreUACycling                float64 `yaml:"score_ua_cycling"`
	ScoreLowAssetRatio            float64 `yaml:"score_low_asset_ratio"`
	ScoreSensitivePathFirstAccess float64 `yaml:"score_sensitive_path_first_access"`
	ScoreSessionFailedLogins      float64 `yaml:"score_session_failed_logins"`
	ScoreSessionRequests          float64 `yaml:"score_session_requests"`
	ScoreSessionUAChanges         float64 `yaml:"score_session_ua_changes"`
}

type Tier2Options struct {
	Enabled                   bool    `yaml:"enabled"`
	MinSamplesForZScore       int     `yaml:"min_samples_for_z_score"`
	ZScoreThreshold           float64 `yaml:"z_score_threshold"`
	HistoricalDeviationFactor float64 `yaml:"historical_deviation_factor"`
	ScoreZScoreBase           float64 `yaml:"score_z_score_base"`
}

type Tier3Options struct {
	Enabled                    bool   `yaml:"enabled"`
	ModelPath                  string `yaml:"model_path"`
	ModelMetadataPath          string `yaml:"model_metadata_path"`
	AnomalyScoreThreshold      float64 `yaml:"anomaly_score_threshold"`
	AutomatedRetrainingEnabled bool   `yaml:"automated_retraining_enabled"`
	TrainingScriptPath         string `yaml:"training_script_path"`
	RetrainingIntervalSeconds  int    `yaml:"retraining_interval_seconds"`
}

type Tier4Options struct {
	Enabled                              bool    `yaml:"enabled"`
	MinSamplesForSeasonalPattern         int     `yaml:"min_samples_for_seasonal_pattern"`
	SeasonalDetectionSensitivity         float64 `yaml:"seasonal_detection_sensitivity"`
	ThresholdCacheTTLSeconds             int64   `yaml:"threshold_cache_ttl_seconds"`
	SecurityCriticalMaxChangePercent     float64 `yaml:"security_critical_max_change_percent"`
	AutoMarkLoginPathsCritical           bool    `yaml:"auto_mark_login_paths_critical"`
	AutoMarkAdminPathsCritical           bool    `yaml:"auto_mark_admin_paths_critical"`
	AutoMarkHighFailedLoginIPsCritical   bool    `yaml:"auto_mark_high_failed_login_ips_critical"`
	FailedLoginThresholdForCritical      int     `yaml:"failed_login_threshold_for_critical"`
	MaxAuditEntriesPerEntity             int     `yaml:"max_audit_entries_per_entity"`
	Sigma                                float64 `yaml:"sigma"`
}

type AlertsOptions struct {
	AlertThreshold               float64           `yaml:"alert_threshold"`
	ThrottleDurationMs            int64             `yaml:"throttle_duration_ms"`
	ThrottleMaxInterveningAlerts int               `yaml:"alert_throttle_max_intervening_alerts"`
	ActionMapping                map[string]string `yaml:"action_mapping"`
	WebhookURL                    string            `yaml:"webhook_url"`
}

type MonitoringOptions struct {
	EnableDeepTiming bool   `yaml:"enable_deep_timing"`
	MetricsAddr      string `yaml:"metrics_addr"`
}

// LoadFile reads and parses the YAML file at path. Unknown top-level
// keys are detected by decoding twice (once into File, once into a
// generic map) and diffing; each unknown key is logged at WARN and
// otherwise ignored, per spec.md §6.2.
func LoadFile(path string, log zerolog.Logger) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err == nil {
		warnUnknownKeys(generic, log)
	}

	return &f, nil
}

var knownTopLevelKeys = map[string]bool{
	"general": true, "tier1": true, "tier2": true, "tier3": true,
	"tier4": true, "alerts": true, "monitoring": true,
}

func warnUnknownKeys(generic map[string]any, log zerolog.Logger) {
	for k := range generic {
		if !knownTopLevelKeys[k] {
			log.Warn().Str("key", k).Msg("ignoring unknown config key")
		}
	}
}

// LoadSecretsOverlay loads a .env-style file (Redis URL, allowlist CIDRs,
// webhook URL, PagerDuty routing key, Datadog address) into the process
// environment, the way the teacher's config.Load overlays secrets
// before reading them back out with os.LookupEnv. A missing file is not
// an error — secrets are optional.
func LoadSecretsOverlay(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

func getEnvOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
