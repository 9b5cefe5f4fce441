package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	slugDisallowed   = regexp.MustCompile(`[^a-z0-9\s-]`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
	hyphenRun        = regexp.MustCompile(`-+`)
	unsafeFilenameCh = regexp.MustCompile("[\\\\/\x00\x08\x09\x1a\n\r\t\x0b:*?\"<>|]")
)

// Fold lowercases s and strips combining marks, so "Café" becomes "cafe".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// Slugify turns a display name into a URL-safe key.
//
// Characters outside [a-z0-9], whitespace and hyphen are dropped, whitespace
// runs become a single hyphen and hyphen runs collapse. An input with no
// usable characters yields "".
func Slugify(s string) string {
	slug := strings.TrimSpace(Fold(s))
	slug = slugDisallowed.ReplaceAllString(slug, "")
	slug = whitespaceRun.ReplaceAllString(slug, "-")
	slug = hyphenRun.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// SanitizeFilename replaces characters that are unsafe in file names with "-".
func SanitizeFilename(name string) string {
	return unsafeFilenameCh.ReplaceAllString(name, "-")
}

// CollapseSpaces trims s and replaces every whitespace run with one space.
func CollapseSpaces(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
