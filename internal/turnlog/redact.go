package turnlog

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Redacted replaces anything that looks like a credential.
const Redacted = "•REDACTED•"

const maxFieldLen = 2048

var secretPattern = regexp.MustCompile(`(?i)(sk-[a-z0-9_\-]{10,}|xai-[a-z0-9_\-]{10,}|ya29\.[\w\-.]+|eyJ[a-z0-9_\-]+\.[a-z0-9_\-]+\.[a-z0-9_\-]+)`)

// Redact masks API keys, OAuth tokens and JWTs and caps the field length.
func Redact(s string) string {
	if utf8.RuneCountInString(s) > maxFieldLen {
		s = string([]rune(s)[:maxFieldLen]) + "…"
	}
	return secretPattern.ReplaceAllString(s, Redacted)
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= PreviewLen {
		return s
	}
	return string(r[:PreviewLen]) + "…"
}
