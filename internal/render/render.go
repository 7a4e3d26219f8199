// Package render substitutes {placeholder} tokens in tenant-authored
// response scripts. Every outward-facing string in the system passes
// through [Render] exactly once, so a leaked placeholder always means a
// missing value, never a missing render call.
package render

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z][a-zA-Z0-9_]*)\}`)

// Render substitutes each {name} token with values[name]. Tokens whose
// value is empty or absent are removed together with a preceding comma, and
// the surrounding punctuation is repaired so "Thanks, {callerName}." comes
// out as "Thanks." rather than "Thanks, .".
func Render(tmpl string, values map[string]string) string {
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(tok string) string {
		name := tok[1 : len(tok)-1]
		if v, ok := values[name]; ok && v != "" {
			return v
		}
		// Sentinel for the cleanup pass below; never appears in scripts.
		return "\x00"
	})
	if !strings.ContainsRune(out, '\x00') {
		return out
	}
	return cleanup(out)
}

var (
	danglingCommaRe = regexp.MustCompile(`,?\s*\x00`)
	spacePunctRe    = regexp.MustCompile(`\s+([.,!?;:])`)
	multiSpaceRe    = regexp.MustCompile(`\s{2,}`)
)

func cleanup(s string) string {
	s = danglingCommaRe.ReplaceAllString(s, "")
	s = spacePunctRe.ReplaceAllString(s, "$1")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// HasUnrendered reports whether text still carries a {placeholder} token.
// The compliance checker uses this to flag leaked placeholders.
func HasUnrendered(text string) bool {
	return placeholderRe.MatchString(text)
}

// Names returns the distinct placeholder names appearing in tmpl, in order
// of first appearance.
func Names(tmpl string) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
