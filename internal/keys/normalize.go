package keys

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// UnknownSiteCode is the site code used when a label normalizes to nothing.
const UnknownSiteCode = "UNKNOWN"

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	disallowed    = regexp.MustCompile(`[^A-Z0-9_-]`)
)

// NormalizeSiteCode maps a free-text site label onto the canonical code used
// as a storage folder name. The result only contains [A-Z0-9_-], so applying
// it twice yields the same value.
func NormalizeSiteCode(label string) string {
	s := strings.TrimSpace(label)
	if s == "" {
		return UnknownSiteCode
	}

	// transform.Chain keeps state, build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if stripped, _, err := transform.String(t, s); err == nil {
		s = stripped
	}

	s = strings.ToUpper(s)
	s = whitespaceRun.ReplaceAllString(s, "_")
	s = disallowed.ReplaceAllString(s, "")
	if s == "" {
		return UnknownSiteCode
	}
	return s
}
