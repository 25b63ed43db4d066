// Package redact masks credential shaped substrings of free text.
package redact

import (
	"regexp"
	"strings"
)

const marker = "****"

type matcher struct {
	re *regexp.Regexp
	// group is the submatch index holding the secret, 0 is the full match.
	group int
}

// Order matters: specific provider keys are masked before the generic assignment
// matcher sees them.
var matchers = []matcher{
	// URL userinfo, password when present, the user otherwise (token only userinfo).
	{re: regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]*://[^/\s:@]+:([^/\s@]+)@`), group: 1},
	{re: regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]*://([^/\s:@]{8,})@`), group: 1},
	// Anthropic.
	{re: regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`)},
	// OpenAI.
	{re: regexp.MustCompile(`\bsk-(?:proj-|svcacct-)?[A-Za-z0-9_-]{20,}`)},
	// GitHub classic and fine grained.
	{re: regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}`)},
	{re: regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{20,}`)},
	// Google.
	{re: regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}`)},
	// AWS access key ids.
	{re: regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
	// Vercel and Cursor style tokens.
	{re: regexp.MustCompile(`\b(?:vc[pkia]_|crsr_|key_)[A-Za-z0-9_-]{20,}`)},
	// Bearer tokens.
	{re: regexp.MustCompile(`(?i)\bbearer\s+([A-Za-z0-9._~+/=-]{8,})`), group: 1},
	// Generic assignments: FOO_KEY=..., "api_token": "...", DB_PASSWORD: ...
	{re: regexp.MustCompile(`(?i)\b[A-Z0-9_]*(?:KEY|TOKEN|SECRET|PASSWORD)["']?\s*[:=]\s*["']?([^\s"'&,;]+)`), group: 1},
}

// Mask returns the fixed shape mask of a secret keeping the first and last four characters.
// Secrets of 12 characters or less are fully masked.
func Mask(secret string) string {
	if len(secret) <= 12 {
		return marker
	}
	return secret[:4] + marker + "..." + marker + secret[len(secret)-4:]
}

// String returns the text with every credential shaped substring masked.
// Redacting an already redacted text returns the same text.
func String(s string) string {
	if s == "" {
		return s
	}

	for _, m := range matchers {
		s = replace(m, s)
	}
	return s
}

func replace(m matcher, s string) string {
	idxs := m.re.FindAllStringSubmatchIndex(s, -1)
	if len(idxs) == 0 {
		return s
	}

	var b strings.Builder
	last := 0
	for _, idx := range idxs {
		start, end := idx[2*m.group], idx[2*m.group+1]
		if start < 0 {
			continue
		}
		secret := s[start:end]
		if strings.Contains(secret, marker) {
			continue
		}
		b.WriteString(s[last:start])
		b.WriteString(Mask(secret))
		last = end
	}
	b.WriteString(s[last:])

	return b.String()
}

// Args redacts every argument of a command line.
func Args(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		out = append(out, String(a))
	}
	return out
}

// Error returns the redacted error message, empty if err is nil.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
