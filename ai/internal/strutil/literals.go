package strutil

import (
	"regexp"
	"strings"
)

// Placeholders substituted for query-specific literals.
const (
	PlaceholderURL     = "{url}"
	PlaceholderValue   = "{value}"
	PlaceholderPath    = "{path}"
	PlaceholderVersion = "{version}"
	PlaceholderID      = "{id}"
	PlaceholderNumber  = "{n}"
)

var (
	urlRegex     = regexp.MustCompile(`\bhttps?://[^\s)>\]"']+`)
	quotedRegex  = regexp.MustCompile("\"[^\"\\n]+\"|'[^'\\n]+'|`[^`\\n]+`")
	absPathRegex = regexp.MustCompile(`(^|[\s(=:,])((?:~|\.{1,2})?/[\w.\-]+(?:/[\w.\-]+)*/?)`)
	relPathRegex = regexp.MustCompile(`\b[\w\-.]+(?:/[\w\-.]+)*/[\w\-]+\.\w+\b`)
	versionRegex = regexp.MustCompile(`\bv?\d+\.\d+(?:\.\d+)?(?:[-+][\w.]+)?\b`)
	uuidRegex    = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	hexRegex     = regexp.MustCompile(`(?i)\b[0-9a-f]{7,64}\b`)
	numberRegex  = regexp.MustCompile(`\b\d+\b`)
)

// Generalize replaces query-specific literals (URLs, quoted values, paths,
// versions, ids, numbers) with placeholders and returns how many it replaced.
func Generalize(text string) (string, int) {
	count := 0
	replace := func(re *regexp.Regexp, placeholder string, s string) string {
		return re.ReplaceAllStringFunc(s, func(string) string {
			count++
			return placeholder
		})
	}

	out := replace(urlRegex, PlaceholderURL, text)
	out = replace(quotedRegex, PlaceholderValue, out)
	out = absPathRegex.ReplaceAllStringFunc(out, func(m string) string {
		count++
		sub := absPathRegex.FindStringSubmatch(m)
		return sub[1] + PlaceholderPath
	})
	out = replace(relPathRegex, PlaceholderPath, out)
	out = replace(versionRegex, PlaceholderVersion, out)
	out = replace(uuidRegex, PlaceholderID, out)
	out = hexRegex.ReplaceAllStringFunc(out, func(m string) string {
		if !isHexID(m) {
			return m
		}
		count++
		return PlaceholderID
	})
	out = replace(numberRegex, PlaceholderNumber, out)
	return out, count
}

// CountLiterals returns how many literals Generalize would replace.
func CountLiterals(text string) int {
	_, n := Generalize(text)
	return n
}

// isHexID requires both a digit and a hex letter so plain words and plain
// numbers are left to other rules.
func isHexID(s string) bool {
	lower := strings.ToLower(s)
	return strings.ContainsAny(lower, "0123456789") && strings.ContainsAny(lower, "abcdef")
}
