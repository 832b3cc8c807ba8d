package analysis

import (
	"github.com/r3dev/sentryd/internal/features"
	"github.com/r3dev/sentryd/internal/logentry"
)

// PathClass classifies a request path for asset/HTML ratio tracking.
type PathClass int

const (
	PathOther PathClass = iota
	PathHTML
	PathAsset
)

func (c PathClass) String() string {
	switch c {
	case PathHTML:
		return "HTML"
	case PathAsset:
		return "ASSET"
	default:
		return "OTHER"
	}
}

// UAFlags holds the outcome of advanced user-agent analysis (step 11).
type UAFlags struct {
	Missing              bool
	Headless             bool
	KnownBad             bool
	Outdated             bool
	PlatformInconsistent bool
	Changed              bool
	Cycling              bool
}

// SessionFeatures are the derived scalars computed from a session's
// accumulated history; nil when the session has fewer than two requests.
type SessionFeatures struct {
	AvgTimeBetweenRequestsS float64
	PostToGetRatio          float64
	UAChangesInSession      int64
}

// AnalyzedEvent is the immutable record the AnalysisEngine hands to the
// RuleEngine: the original LogEntry plus every derived scalar computed
// while folding the event into per-IP/path/session state.
type AnalyzedEvent struct {
	logentry.LogEntry

	Malformed bool

	IsFirstRequestFromIP bool
	IsPathNewForIP       bool

	RequestCountInWindow     int
	FailedLoginCountInWindow int

	PathClass          PathClass
	AssetsPerHTMLRatio float64
	HTMLCountForIP     int

	SessionKey           string
	SessionRequestCount  int64
	SessionUniquePaths   int
	SessionFailedLogins  int64
	SessionUAChanges     int64
	DerivedSession       *SessionFeatures

	ZScores map[string]float64

	UAFlags UAFlags

	Features features.Vector
}

// ZScore looks up a z-score by entity ("ip"/"path") and metric
// ("request_time"/"bytes_sent"/"error_event"/"request_volume").
func (e *AnalyzedEvent) ZScore(entity, metric string) (float64, bool) {
	v, ok := e.ZScores[entity+"_"+metric]
	return v, ok
}

func zKey(entity, metric string) string { return entity + "_" + metric }
