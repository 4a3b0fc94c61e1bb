// Package filter masks credentials and addresses in text that outlives the
// request it came from.
package filter

import (
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
)

// FilterType is one kind of sensitive value.
type FilterType int

const (
	// Email filters email addresses.
	Email FilterType = iota

	// IP filters IPv4 addresses.
	IP

	// APIKey filters provider keys such as sk-..., AKIA... and ghp_....
	APIKey

	// BearerToken filters the token of an "Authorization: Bearer" value.
	BearerToken

	// Password filters the value of password=... and similar assignments.
	Password
)

// FilterConfig configures the filter.
type FilterConfig struct {
	// Enabled filter types. Empty enables all of them.
	Enabled []FilterType

	// MaskChar is the character used for masking.
	MaskChar rune

	// KeepFirstN keeps first N characters unmasked.
	KeepFirstN int

	// KeepLastN keeps last N characters unmasked.
	KeepLastN int
}

// DefaultConfig returns default filter configuration.
func DefaultConfig() FilterConfig {
	return FilterConfig{
		Enabled:    []FilterType{Email, IP, APIKey, BearerToken, Password},
		MaskChar:   '*',
		KeepFirstN: 2,
	}
}

type pattern struct {
	re *regexp.Regexp
	// group is the submatch that gets masked; 0 masks the whole match.
	group int
}

var patterns = map[FilterType]pattern{
	Email:       {re: regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)},
	IP:          {re: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d\d?)\.){3}(?:25[0-5]|2[0-4]\d|1?\d\d?)\b`)},
	APIKey:      {re: regexp.MustCompile(`\b(?:(?:sk|pk|rk)-[A-Za-z0-9_-]{16,}|AKIA[0-9A-Z]{16}|gh[pousr]_[A-Za-z0-9]{30,}|xox[abpr]-[A-Za-z0-9-]{10,})\b`)},
	BearerToken: {re: regexp.MustCompile(`(?i)\bbearer\s+([A-Za-z0-9._~+/=-]{16,})`), group: 1},
	Password:    {re: regexp.MustCompile(`(?i)\b(?:password|passwd|pwd|secret|token)\s*[:=]\s*["']?([^\s"'&]{4,})`), group: 1},
}

// Match is one sensitive value found in text.
type Match struct {
	Type     FilterType
	Start    int
	End      int
	Original string
	Replaced string
}

// Filter masks sensitive values. It is safe for concurrent use.
type Filter struct {
	config  FilterConfig
	types   []FilterType
	matches atomic.Int64
}

// NewFilter creates a filter.
func NewFilter(cfg FilterConfig) *Filter {
	if len(cfg.Enabled) == 0 {
		cfg.Enabled = DefaultConfig().Enabled
	}
	if cfg.MaskChar == 0 {
		cfg.MaskChar = '*'
	}
	f := &Filter{config: cfg}
	for _, ft := range cfg.Enabled {
		if _, ok := patterns[ft]; ok {
			f.types = append(f.types, ft)
		}
	}
	return f
}

// DefaultFilter creates a filter with default configuration.
func DefaultFilter() *Filter {
	return NewFilter(DefaultConfig())
}

// FindMatches returns non-overlapping matches in text order. Where matches
// overlap the earlier, then longer, one wins.
func (f *Filter) FindMatches(text string) []Match {
	var found []Match
	for _, ft := range f.types {
		p := patterns[ft]
		for _, idx := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := idx[2*p.group], idx[2*p.group+1]
			if start < 0 {
				continue
			}
			original := text[start:end]
			found = append(found, Match{
				Type:     ft,
				Start:    start,
				End:      end,
				Original: original,
				Replaced: f.maskString(original, ft),
			})
		}
	}
	if len(found) == 0 {
		return nil
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].Start == found[j].Start {
			return found[i].End > found[j].End
		}
		return found[i].Start < found[j].Start
	})
	out := found[:0]
	lastEnd := -1
	for _, m := range found {
		if m.Start < lastEnd {
			continue
		}
		out = append(out, m)
		lastEnd = m.End
	}
	return out
}

// FilterText returns text with every match masked.
func (f *Filter) FilterText(text string) string {
	matches := f.FindMatches(text)
	if len(matches) == 0 {
		return text
	}
	f.matches.Add(int64(len(matches)))

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, m := range matches {
		b.WriteString(text[prev:m.Start])
		b.WriteString(m.Replaced)
		prev = m.End
	}
	b.WriteString(text[prev:])
	return b.String()
}

// Validate reports whether text contains nothing to mask.
func (f *Filter) Validate(text string) bool {
	return len(f.FindMatches(text)) == 0
}

// Masked returns the number of values masked so far.
func (f *Filter) Masked() int64 {
	return f.matches.Load()
}

func (f *Filter) maskString(s string, ft FilterType) string {
	if ft == Email {
		return maskEmail(s, f.config.KeepFirstN, f.config.MaskChar)
	}

	runes := []rune(s)
	length := len(runes)
	if length <= f.config.KeepFirstN+f.config.KeepLastN {
		return strings.Repeat(string(f.config.MaskChar), length)
	}
	for i := f.config.KeepFirstN; i < length-f.config.KeepLastN; i++ {
		runes[i] = f.config.MaskChar
	}
	return string(runes)
}

// maskEmail masks the user and the domain name but keeps "@" and the TLD.
func maskEmail(email string, keepFirst int, maskChar rune) string {
	runes := []rune(email)
	atPos := strings.IndexRune(email, '@')
	if atPos < 0 {
		return email
	}
	atPos = len([]rune(email[:atPos]))
	dotPos := len(runes)
	for i := len(runes) - 1; i > atPos; i-- {
		if runes[i] == '.' {
			dotPos = i
			break
		}
	}

	for i := range runes {
		switch {
		case i < atPos && i >= keepFirst:
			runes[i] = maskChar
		case i > atPos && i < dotPos:
			runes[i] = maskChar
		}
	}
	return string(runes)
}
