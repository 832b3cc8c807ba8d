package analysis

// Config carries every AnalysisEngine tunable read from the tier1/general
// configuration groups that shape windowing, path classification, session
// tracking, and UA analysis. RuleEngine thresholds (max_requests_per_ip,
// etc.) live in the rules package; this engine only produces the counts
// and z-scores those rules evaluate.
type Config struct {
	WindowDurationMs          int64
	MaxElementsPerWindow      int
	MaxUniquePathsStoredPerIP int
	MaxUniqueUAsPerIPInWindow int

	FailedLoginStatusCodes []int

	HTMLExactPaths    []string
	AssetPathPrefixes []string
	HTMLPathSuffixes  []string
	AssetPathSuffixes []string

	SessionTrackingEnabled   bool
	SessionKeyComponents     []string
	SessionInactivityTTLMs   int64
	SessionMaxHistory        int

	CheckUserAgentAnomalies   bool
	HeadlessBrowserSubstrings []string
	KnownBadUASubstrings      []string
	MinChromeVersion          int
	MinFirefoxVersion         int

	MinSamplesForZScore int

	StatePruningEnabled bool
	StateTTLMs          int64

	StateFileMagic uint32
}

const stateFileVersion uint32 = 1

// DefaultConfig mirrors the reference defaults from spec.md §6.2.
func DefaultConfig() Config {
	return Config{
		WindowDurationMs:          60_000,
		MaxElementsPerWindow:      10_000,
		MaxUniquePathsStoredPerIP: 500,
		MaxUniqueUAsPerIPInWindow: 20,
		FailedLoginStatusCodes:    []int{401, 403},
		HTMLExactPaths:            []string{"/", "/index.html"},
		AssetPathPrefixes:         []string{"/static/", "/assets/", "/css/", "/js/", "/img/"},
		HTMLPathSuffixes:          []string{".html", ".htm"},
		AssetPathSuffixes:         []string{".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".woff", ".woff2"},
		SessionTrackingEnabled:    true,
		SessionKeyComponents:      []string{"ip", "ua"},
		SessionInactivityTTLMs:    30 * 60 * 1000,
		SessionMaxHistory:         50,
		CheckUserAgentAnomalies:   true,
		HeadlessBrowserSubstrings: []string{"HeadlessChrome", "PhantomJS", "Puppeteer", "Selenium"},
		KnownBadUASubstrings:      []string{"sqlmap", "Nmap", "nikto", "masscan"},
		MinChromeVersion:          90,
		MinFirefoxVersion:         90,
		MinSamplesForZScore:       30,
		StatePruningEnabled:       true,
		StateTTLMs:                24 * 60 * 60 * 1000,
		StateFileMagic:            0x53545259, // "STRY"
	}
}
