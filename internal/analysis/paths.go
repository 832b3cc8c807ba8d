package analysis

import "strings"

// stripQueryAndFragment removes a trailing `?...` or `#...` suffix so
// suffix matching operates on the bare path.
func stripQueryAndFragment(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		return path[:i]
	}
	return path
}

// classifyPath implements spec.md §4.6 step 7's classification order:
// exact HTML match, then asset prefix match, then suffix match against
// the configured HTML/asset extension lists.
func classifyPath(path string, cfg Config) PathClass {
	bare := stripQueryAndFragment(path)

	for _, exact := range cfg.HTMLExactPaths {
		if bare == exact {
			return PathHTML
		}
	}
	for _, prefix := range cfg.AssetPathPrefixes {
		if strings.HasPrefix(bare, prefix) {
			return PathAsset
		}
	}
	for _, suffix := range cfg.HTMLPathSuffixes {
		if strings.HasSuffix(bare, suffix) {
			return PathHTML
		}
	}
	for _, suffix := range cfg.AssetPathSuffixes {
		if strings.HasSuffix(bare, suffix) {
			return PathAsset
		}
	}
	return PathOther
}

// isSensitivePath reports whether path contains any of the configured
// sensitive-path substrings. Nothing in this package calls it; the rule
// engine and the learning engine each carry their own substring match.
func isSensitivePath(path string, substrings []string) bool {
	for _, s := range substrings {
		if s != "" && strings.Contains(path, s) {
			return true
		}
	}
	return false
}
