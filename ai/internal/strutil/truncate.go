// Package strutil holds text helpers shared by the scoring and pattern code.
package strutil

// Truncate cuts s to maxLen runes and appends "...". Returns "" if maxLen <= 0.
func Truncate(s string, maxLen int) string {
	if s == "" || maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
