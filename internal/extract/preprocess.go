// Package extract holds the pure text-analysis functions of the
// conversation core: the filler/vocabulary preprocessor, the per-slot value
// extractors (name, phone, address, time), the canonical urgency
// classifier, and the discovery-field extractor.
//
// Every function here is side-effect free: text in, structured value (or
// nothing) out. Extraction is conservative by design — returning nothing is
// always preferred over returning a wrong value, because a wrong value
// poisons the slot-completion gates downstream.
package extract

import (
	"regexp"
	"strings"
)

// builtinFillers are discourse fillers stripped before any matching.
// Tenants extend this list via fillerWords.custom.
var builtinFillers = map[string]bool{
	"um": true, "uh": true, "umm": true, "uhh": true, "erm": true,
	"hmm": true, "hm": true, "ah": true, "er": true,
	"like": false, // too lossy to strip globally; kept for reference
}

// Preprocessor normalises caller text before interception and extraction:
// it strips filler words and translates trade slang through the tenant's
// synonym map. Construct one per turn with the tenant's lists.
type Preprocessor struct {
	fillers   map[string]bool
	synonyms  map[string]string
	protected map[string]bool
}

// NewPreprocessor builds a Preprocessor from tenant word lists. All lookups
// are case-insensitive.
func NewPreprocessor(customFillers []string, synonyms map[string]string, protectedWords []string) *Preprocessor {
	p := &Preprocessor{
		fillers:   make(map[string]bool, len(builtinFillers)+len(customFillers)),
		synonyms:  make(map[string]string, len(synonyms)),
		protected: make(map[string]bool, len(protectedWords)),
	}
	for w, strip := range builtinFillers {
		if strip {
			p.fillers[w] = true
		}
	}
	for _, w := range customFillers {
		p.fillers[strings.ToLower(strings.TrimSpace(w))] = true
	}
	for from, to := range synonyms {
		p.synonyms[strings.ToLower(strings.TrimSpace(from))] = to
	}
	for _, w := range protectedWords {
		p.protected[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return p
}

// Apply returns text with fillers removed and synonyms substituted. The
// result may be empty — the silence intercept handles that downstream.
// Protected words (STT-boosted proper nouns, product names) pass through
// both stages untouched.
func (p *Preprocessor) Apply(text string) string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		key := strings.ToLower(strings.Trim(f, ".,!?;:"))
		if p.protected[key] {
			out = append(out, f)
			continue
		}
		if p.fillers[key] {
			continue
		}
		if repl, ok := p.synonyms[key]; ok {
			// Preserve trailing punctuation from the original token.
			if trail := trailingPunct(f); trail != "" {
				repl += trail
			}
			out = append(out, repl)
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

func trailingPunct(s string) string {
	i := len(s)
	for i > 0 && strings.ContainsRune(".,!?;:", rune(s[i-1])) {
		i--
	}
	return s[i:]
}

// alnumCount counts ASCII letters and digits in s.
func alnumCount(s string) int {
	n := 0
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			n++
		}
	}
	return n
}

// IsSilence reports whether text is empty, punctuation-only, or carries at
// most one alphanumeric character — the silence intercept's definition of
// "nothing usable was said".
func IsSilence(text string) bool {
	return alnumCount(text) <= 1
}

var greetingOnlyRe = regexp.MustCompile(`(?i)^(good\s+(morning|afternoon|evening)|hello|hi|hey)[\s.,!]*$`)

// IsGreetingOnly reports whether text is purely a salutation.
func IsGreetingOnly(text string) bool {
	return greetingOnlyRe.MatchString(strings.TrimSpace(text))
}

// ContainsAnyFold reports whether text contains any of the phrases,
// case-insensitively. Empty phrases never match.
func ContainsAnyFold(text string, phrases []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}

// affirmativeWords start a consent-grade "yes".
var affirmativeWords = map[string]bool{
	"yes": true, "yeah": true, "yep": true, "yup": true, "sure": true,
	"absolutely": true, "ok": true, "okay": true, "please": true,
	"definitely": true, "certainly": true, "correct": true,
}

// StartsAffirmative reports whether the first word of text is an
// affirmative ("yes", "yeah", "sure", ...).
func StartsAffirmative(text string) bool {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return false
	}
	return affirmativeWords[strings.Trim(fields[0], ".,!?")]
}

// negationWords veto an otherwise affirmative reading.
var negationWords = map[string]bool{
	"not": true, "don't": true, "dont": true, "never": true, "no": true, "nope": true,
}

// ContainsNegation reports whether text carries a negation word.
func ContainsNegation(text string) bool {
	for _, f := range strings.Fields(strings.ToLower(text)) {
		if negationWords[strings.Trim(f, ".,!?")] {
			return true
		}
	}
	return false
}

// StartsNegative reports whether text opens with a refusal.
func StartsNegative(text string) bool {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return false
	}
	switch strings.Trim(fields[0], ".,!?") {
	case "no", "nope", "nah", "negative":
		return true
	}
	return false
}

// WordCount returns the number of whitespace-separated tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
