package extract

import (
	"regexp"
	"strings"
)

// NameResult is a successful name extraction.
type NameResult struct {
	// Name is the extracted value, title-cased, one or two tokens.
	Name string

	// MatchedPattern names the rule that produced the value, for audit.
	MatchedPattern string

	// AssumedSingleTokenAs is "first" or "last" for single-token names,
	// decided by membership in the tenant's common-first-names list.
	AssumedSingleTokenAs string
}

// NameOptions carries per-turn context into [ExtractName].
type NameOptions struct {
	// ExpectingName is true iff the active booking slot is a name slot.
	// Bare 1–2 token utterances are only accepted as names when set.
	ExpectingName bool

	// StopWords extends the built-in stop-word list with tenant words.
	StopWords []string

	// CommonFirstNames classifies single tokens as assumed-first.
	CommonFirstNames []string

	// CollectedFirst and CollectedLast reject candidates equal to a part
	// already on file ("Mark Mark" protection).
	CollectedFirst string
	CollectedLast  string
}

// builtinNameStopWords reject tokens that STT and callers commonly place
// where a name would be: greetings, service verbs, trade nouns, question
// words, and adverbs.
var builtinNameStopWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "good": true, "morning": true,
	"afternoon": true, "evening": true, "thanks": true, "thank": true,
	"yes": true, "yeah": true, "no": true, "okay": true, "ok": true,
	"air": true, "conditioning": true, "conditioner": true, "hvac": true,
	"heat": true, "heating": true, "furnace": true, "plumbing": true,
	"plumber": true, "electric": true, "electrical": true, "appliance": true,
	"repair": true, "service": true, "fix": true, "schedule": true,
	"appointment": true, "technician": true, "tech": true, "broken": true,
	"leaking": true, "unit": true, "house": true, "home": true,
	"what": true, "when": true, "where": true, "who": true, "why": true,
	"how": true, "which": true, "can": true, "could": true, "would": true,
	"currently": true, "actually": true, "basically": true, "really": true,
	"probably": true, "definitely": true, "maybe": true, "today": true,
	"tomorrow": true, "please": true, "need": true, "want": true,
	"calling": true, "about": true, "the": true, "a": true, "an": true,
	"my": true, "your": true, "name": true, "is": true, "it": true,
	"not": true, "this": true, "that": true,
}

// explicitNamePatterns are tried in order; the first capture wins. Each
// captures one or two name tokens after a self-identification phrase.
var explicitNamePatterns = []struct {
	label string
	re    *regexp.Regexp
}{
	{"my_name_is", regexp.MustCompile(`(?i)\bmy\s+name\s+is\s+([A-Za-z'\-]+)(?:\s+([A-Za-z'\-]+))?`)},
	{"last_name_is", regexp.MustCompile(`(?i)\blast\s+name\s+is\s+([A-Za-z'\-]+)`)},
	{"first_name_is", regexp.MustCompile(`(?i)\bfirst\s+name\s+is\s+([A-Za-z'\-]+)`)},
	{"this_is", regexp.MustCompile(`(?i)^(?:yes,?\s+)?this\s+is\s+([A-Za-z'\-]+)(?:\s+([A-Za-z'\-]+))?`)},
	{"thats", regexp.MustCompile(`(?i)^that'?s\s+([A-Za-z'\-]+)(?:\s+([A-Za-z'\-]+))?\s*[.!]?$`)},
	{"its", regexp.MustCompile(`(?i)^it'?s\s+([A-Za-z'\-]+)(?:\s+([A-Za-z'\-]+))?\s*[.!]?$`)},
}

// ExtractName extracts a caller name from free-form text, or returns nil.
//
// The extractor is deliberately conservative: any candidate token found in
// the stop-word list rejects the whole candidate, and bare tokens are only
// accepted while a name slot is active. See the package comment.
func ExtractName(text string, opts NameOptions) *NameResult {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	stop := make(map[string]bool, len(builtinNameStopWords)+len(opts.StopWords))
	for w := range builtinNameStopWords {
		stop[w] = true
	}
	for _, w := range opts.StopWords {
		stop[strings.ToLower(strings.TrimSpace(w))] = true
	}

	// Explicit self-identification patterns beat everything else and are
	// honoured even when a name was not expected.
	for _, p := range explicitNamePatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		tokens := captureTokens(m)
		if r := buildResult(tokens, p.label, stop, opts); r != nil {
			return r
		}
	}

	if !opts.ExpectingName {
		return nil
	}

	// Bare answer: 1–2 capitalizable word tokens while a name slot is open.
	fields := strings.Fields(strings.Trim(text, ".!?,"))
	if len(fields) == 0 || len(fields) > 2 {
		return nil
	}
	for _, f := range fields {
		if !isNameToken(f) {
			return nil
		}
	}
	return buildResult(fields, "bare_answer", stop, opts)
}

// captureTokens collects the non-empty capture groups of a regexp match.
func captureTokens(m []string) []string {
	var tokens []string
	for _, g := range m[1:] {
		if g != "" {
			tokens = append(tokens, g)
		}
	}
	return tokens
}

// buildResult validates tokens against the stop list and already-collected
// parts, then assembles the NameResult.
func buildResult(tokens []string, pattern string, stop map[string]bool, opts NameOptions) *NameResult {
	if len(tokens) == 0 || len(tokens) > 2 {
		return nil
	}
	cased := make([]string, 0, len(tokens))
	for _, t := range tokens {
		lower := strings.ToLower(t)
		if stop[lower] {
			return nil
		}
		if equalsFold(t, opts.CollectedFirst) || equalsFold(t, opts.CollectedLast) {
			// A candidate equal to an already-collected part is caller
			// confusion, not new information.
			return nil
		}
		cased = append(cased, titleCase(t))
	}

	r := &NameResult{
		Name:           strings.Join(cased, " "),
		MatchedPattern: pattern,
	}
	if len(cased) == 1 {
		if pattern == "last_name_is" {
			r.AssumedSingleTokenAs = "last"
		} else if inListFold(cased[0], opts.CommonFirstNames) || pattern == "first_name_is" {
			r.AssumedSingleTokenAs = "first"
		} else {
			r.AssumedSingleTokenAs = "last"
		}
	}
	return r
}

// isNameToken accepts alphabetic tokens with optional apostrophes/hyphens
// (O'Brien, Smith-Jones). Digits or other symbols reject.
func isNameToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '\'', r == '-':
		default:
			return false
		}
	}
	return true
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func equalsFold(a, b string) bool {
	return b != "" && strings.EqualFold(a, b)
}

func inListFold(s string, list []string) bool {
	for _, item := range list {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
