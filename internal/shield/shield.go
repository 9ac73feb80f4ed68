// Package shield cleans untrusted chat input and scores how suspicious it is.
package shield

import (
	"regexp"
	"strings"

	"github.com/dlclark/regexp2"
	"golang.org/x/text/unicode/norm"
)

// Defaults used when Options fields are zero.
const (
	DefaultMaxLen    = 4000
	DefaultThreshold = 12

	maxReasons = 6
)

var (
	bidiAndNulls = regexp.MustCompile(`[\x{202A}-\x{202E}\x{2066}-\x{2069}\x{200E}\x{200F}\x{061C}\x{200B}-\x{200D}\x{FEFF}\x00]`)
	dangerous    = regexp.MustCompile(`(?i)\b(?:javascript|vbscript|file|data):`)
	tags         = regexp.MustCompile(`(?i)</?[a-z][a-z0-9]*\b[^>]*>`)
	onAttr       = regexp.MustCompile(`(?i)\bon\w+\s*=`)
	importRule   = regexp.MustCompile(`(?i)@import\s+['"]?[^'"]+['"]?`)
	links        = regexp.MustCompile(`(?i)\bhttps?://`)

	// These two need backreferences, which RE2 does not support.
	cssURL  = regexp2.MustCompile(`url\(\s*(['"]?)(.*?)\1\s*\)`, regexp2.IgnoreCase)
	repeats = regexp2.MustCompile(`([^\s])\1{2,}`, regexp2.None)

	angles = strings.NewReplacer("<", "&lt;", ">", "&gt;")
)

type suspect struct {
	id string
	re *regexp.Regexp
}

var suspects = []suspect{
	{"script_open", regexp.MustCompile(`(?i)<script`)},
	{"script_close", regexp.MustCompile(`(?i)</script`)},
	{"iframe", regexp.MustCompile(`(?i)<iframe`)},
	{"object", regexp.MustCompile(`(?i)<object`)},
	{"embed", regexp.MustCompile(`(?i)<embed`)},
	{"svg", regexp.MustCompile(`(?i)<svg`)},
	{"xlink_href", regexp.MustCompile(`(?i)xlink:href`)},
	{"onerror", regexp.MustCompile(`(?i)onerror\s*=`)},
	{"onload", regexp.MustCompile(`(?i)onload\s*=`)},
	{"path_traversal", regexp.MustCompile(`\.\./`)},
	{"sql_keywords", regexp.MustCompile(`(?i)\b(?:select|union|insert|update|delete|drop)\b.*\bfrom\b`)},
	{"external_url", regexp.MustCompile(`(?i)\b(?:https?|ftp)://\S{2,}`)},
}

// Options tunes Scan.
type Options struct {
	MaxLen    int
	Threshold int
}

// Result is the outcome of Scan.
type Result struct {
	OK        bool
	Score     int
	Sanitized string
	Reasons   []string
}

// Scan sanitizes input and computes its risk score on the raw text.
// Sanitized is only set when the input passes.
func Scan(input string, opts Options) Result {
	if opts.MaxLen <= 0 {
		opts.MaxLen = DefaultMaxLen
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}

	score, hits := Risk(input)
	if score >= opts.Threshold {
		if len(hits) > maxReasons {
			hits = hits[:maxReasons]
		}
		return Result{Score: score, Reasons: hits}
	}
	return Result{OK: true, Score: score, Sanitized: Sanitize(input, opts.MaxLen)}
}

// Risk scores raw input: 10 per suspicious pattern, 2 per link up to 10 and
// 1 per angle bracket up to 10. It returns the ids of the matched patterns.
func Risk(input string) (int, []string) {
	score := 0
	var hits []string
	for _, s := range suspects {
		if s.re.MatchString(input) {
			score += 10
			hits = append(hits, s.id)
		}
	}
	score += min(2*len(links.FindAllStringIndex(input, -1)), 10)
	score += min(strings.Count(input, "<")+strings.Count(input, ">"), 10)
	return score, hits
}

// Sanitize normalizes input, strips control and markup, neutralizes script
// URI schemes, tames repeated characters and escapes angle brackets.
func Sanitize(input string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	t := norm.NFKC.String(input)
	t = bidiAndNulls.ReplaceAllString(t, "")
	if r := []rune(t); len(r) > maxLen {
		t = string(r[:maxLen])
	}
	t = scrub(t)
	if out, err := repeats.Replace(t, "$1$1", -1, -1); err == nil {
		t = out
	}
	return strings.TrimSpace(t)
}

func scrub(s string) string {
	s = onAttr.ReplaceAllString(s, "")
	s = tags.ReplaceAllString(s, "")
	s = importRule.ReplaceAllString(s, "")

	out, err := cssURL.ReplaceFunc(s, func(m regexp2.Match) string {
		u := strings.Join(strings.Fields(m.GroupByNumber(2).String()), "")
		if dangerous.MatchString(u) {
			return "url(about:blank)"
		}
		return m.String()
	}, -1, -1)
	if err == nil {
		s = out
	}

	s = dangerous.ReplaceAllString(s, "about:blank:")
	return angles.Replace(s)
}
