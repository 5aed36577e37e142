package winget

import (
	"strings"
	"unicode"

	goversion "github.com/hashicorp/go-version"
)

// IsUnknownVersion reports whether winget could not determine a version.
// winget prints "Unknown" or a lower bound such as "< 2.0".
func IsUnknownVersion(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, "unknown") || strings.HasPrefix(v, "<")
}

// NormalizeVersion extracts the dotted numeric part of a version string
// ("v1.2.3 (x64)" -> "1.2.3"). Strings without one are returned trimmed.
func NormalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if m := versionPattern.FindString(v); m != "" {
		return m
	}
	return v
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

// IsUpgrade decides whether a current/available pair is a real pending update.
// Both sides must carry digits and differ; when both parse as versions the
// available one must be newer. Raw strings are compared before normalized
// ones. An unknown current version passes only when
// includeUnknown is set.
func IsUpgrade(current, available string, includeUnknown bool) bool {
	if IsUnknownVersion(available) || !hasDigit(available) {
		return false
	}
	if IsUnknownVersion(current) {
		return includeUnknown
	}
	if !hasDigit(current) {
		return false
	}

	// Compare the raw strings first so prerelease suffixes ("1.0.0-rc1")
	// take part in the ordering.
	if cv, av, ok := parsePair(strings.TrimSpace(current), strings.TrimSpace(available)); ok {
		return av.GreaterThan(cv)
	}

	cur := NormalizeVersion(current)
	avail := NormalizeVersion(available)
	if cur == avail {
		return false
	}
	if cv, av, ok := parsePair(cur, avail); ok {
		return av.GreaterThan(cv)
	}
	return true
}

func parsePair(current, available string) (*goversion.Version, *goversion.Version, bool) {
	cv, err := goversion.NewVersion(current)
	if err != nil {
		return nil, nil, false
	}
	av, err := goversion.NewVersion(available)
	if err != nil {
		return nil, nil, false
	}
	return cv, av, true
}
