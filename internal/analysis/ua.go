package analysis

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/r3dev/sentryd/internal/state"
)

var (
	chromeVersionRe = regexp.MustCompile(`Chrome/(\d+)`)
	firefoxVersionRe = regexp.MustCompile(`Firefox/(\d+)`)

	desktopMarkers = []string{"Windows NT", "Macintosh", "X11; Linux"}
	mobileMarkers  = []string{"Mobile", "Android", "iPhone", "iPad"}
)

// analyzeUA implements spec.md §4.6 step 11, gated entirely behind
// check_user_agent_anomalies: missing/headless/known-bad/outdated/
// platform/cycling checks all run only when the flag is enabled,
// mirroring the original's perform_advanced_ua_analysis returning
// immediately when the flag is off.
func analyzeUA(ip *state.IPState, ua string, cfg Config, nowMs int64) UAFlags {
	var flags UAFlags

	if !cfg.CheckUserAgentAnomalies {
		return flags
	}

	if ua == "" || ua == "-" {
		flags.Missing = true
		return flags
	}

	for _, s := range cfg.HeadlessBrowserSubstrings {
		if s != "" && strings.Contains(ua, s) {
			flags.Headless = true
			break
		}
	}
	for _, s := range cfg.KnownBadUASubstrings {
		if s != "" && strings.Contains(ua, s) {
			flags.KnownBad = true
			break
		}
	}

	if m := chromeVersionRe.FindStringSubmatch(ua); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v < cfg.MinChromeVersion {
			flags.Outdated = true
		}
	}
	if m := firefoxVersionRe.FindStringSubmatch(ua); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v < cfg.MinFirefoxVersion {
			flags.Outdated = true
		}
	}

	hasDesktop, hasMobile := false, false
	for _, m := range desktopMarkers {
		if strings.Contains(ua, m) {
			hasDesktop = true
			break
		}
	}
	for _, m := range mobileMarkers {
		if strings.Contains(ua, m) {
			hasMobile = true
			break
		}
	}
	flags.PlatformInconsistent = hasDesktop && hasMobile

	ip.UniqueUAs.Prune(nowMs)
	if ip.LastKnownUA != "" && ua != ip.LastKnownUA {
		flags.Changed = true
	}

	alreadyKnown := false
	for _, sample := range ip.UniqueUAs.Snapshot() {
		if sample.Value == ua {
			alreadyKnown = true
			break
		}
	}
	if !alreadyKnown {
		ip.UniqueUAs.Add(nowMs, ua)
	}
	if ip.UniqueUAs.Count() > cfg.MaxUniqueUAsPerIPInWindow {
		flags.Cycling = true
	}

	ip.LastKnownUA = ua
	return flags
}
