package extract

import (
	"regexp"
	"strings"
)

// streetTypeAlternation is the fixed street-type vocabulary shared by the
// address extractor and the phone extractor's address-context reject.
const streetTypeAlternation = `street|st|avenue|ave|boulevard|blvd|parkway|pkwy|drive|dr|road|rd|lane|ln|court|ct|circle|cir|place|pl|way|terrace|ter|trail|trl|highway|hwy|loop|crossing|xing`

// AddressResult is a successful address extraction.
type AddressResult struct {
	// Full is the complete extracted address when state or ZIP was present.
	Full string

	// Street is the street-number + street-name portion.
	Street string

	// City, State, Zip are populated when detected.
	City  string
	State string
	Zip   string
}

// HasFull reports whether the extraction produced a complete address
// (street plus state or ZIP).
func (r *AddressResult) HasFull() bool { return r.Full != "" }

var (
	// timePhraseRe rejects relative-time utterances that superficially look
	// like addresses ("2 weeks ago", "last week", "yesterday").
	timePhraseRe = regexp.MustCompile(`(?i)\b(\d+\s+(?:day|days|week|weeks|month|months|year|years)\s+ago|yesterday|last\s+(?:week|month|year)|the\s+other\s+day)\b`)

	// streetRe captures the street number and name:
	// 1–5 digit number, 1–4 words, a street-type token.
	streetRe = regexp.MustCompile(`(?i)\b(\d{1,5})\s+((?:[A-Za-z][A-Za-z.']*\s+){0,4}?(?:` + streetTypeAlternation + `))\b\.?`)

	// zipRe finds a 5-digit group; position is validated by the caller so
	// a leading street number is never mistaken for a ZIP.
	zipRe = regexp.MustCompile(`\b(\d{5})\b`)

	// addressPrefixRe strips conversational lead-ins before parsing.
	addressPrefixRe = regexp.MustCompile(`(?i)^(?:yeah,?\s+|yes,?\s+|uh,?\s+)?(?:my\s+address\s+is\s+|the\s+address\s+is\s+|it'?s\s+at\s+|it'?s\s+|address\s+is\s+|i'?m\s+at\s+|we'?re\s+at\s+)`)

	unitTokenRe = regexp.MustCompile(`(?i)(?:\b(?:apt|apartment|unit|suite|ste)\b\.?\s*|#\s*)([A-Za-z0-9\-]+)`)
)

// usStates maps full state names and abbreviations for detection.
var usStates = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR",
	"california": "CA", "colorado": "CO", "connecticut": "CT", "delaware": "DE",
	"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID",
	"illinois": "IL", "indiana": "IN", "iowa": "IA", "kansas": "KS",
	"kentucky": "KY", "louisiana": "LA", "maine": "ME", "maryland": "MD",
	"massachusetts": "MA", "michigan": "MI", "minnesota": "MN",
	"mississippi": "MS", "missouri": "MO", "montana": "MT", "nebraska": "NE",
	"nevada": "NV", "new hampshire": "NH", "new jersey": "NJ",
	"new mexico": "NM", "new york": "NY", "north carolina": "NC",
	"north dakota": "ND", "ohio": "OH", "oklahoma": "OK", "oregon": "OR",
	"pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
	"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT",
	"vermont": "VT", "virginia": "VA", "washington": "WA",
	"west virginia": "WV", "wisconsin": "WI", "wyoming": "WY",
}

var stateAbbrevRe = regexp.MustCompile(`\b(AL|AK|AZ|AR|CA|CO|CT|DE|FL|GA|HI|ID|IL|IN|IA|KS|KY|LA|ME|MD|MA|MI|MN|MS|MO|MT|NE|NV|NH|NJ|NM|NY|NC|ND|OH|OK|OR|PA|RI|SC|SD|TN|TX|UT|VT|VA|WA|WV|WI|WY)\b`)

// ExtractAddress parses a US street address from text, or returns nil.
//
// Requirements: a 1–5 digit street number followed by a street-type word.
// A 5-digit group that does not open the utterance is treated as the ZIP,
// never as the street number. When a state name or ZIP is present the full
// address is returned; otherwise only the street portion.
func ExtractAddress(text string) *AddressResult {
	text = strings.TrimSpace(text)
	if text == "" || timePhraseRe.MatchString(text) {
		return nil
	}
	text = addressPrefixRe.ReplaceAllString(text, "")

	m := streetRe.FindStringSubmatchIndex(text)
	if m == nil {
		return nil
	}
	street := strings.TrimRight(text[m[0]:m[1]], ".")
	rest := text[m[1]:]

	r := &AddressResult{Street: normalizeSpaces(street)}

	// ZIP: a 5-digit group after the street portion. The street number was
	// consumed above, so any hit here is genuinely a ZIP.
	if zm := zipRe.FindStringSubmatch(rest); zm != nil {
		r.Zip = zm[1]
	}

	// State: abbreviation or full name anywhere after the street.
	if sm := stateAbbrevRe.FindString(rest); sm != "" {
		r.State = sm
	} else {
		lower := strings.ToLower(rest)
		for name, abbrev := range usStates {
			if strings.Contains(lower, name) {
				r.State = abbrev
				break
			}
		}
	}

	// City: words between the street portion and the state/ZIP.
	r.City = extractCity(rest, r.State, r.Zip)

	if r.State != "" || r.Zip != "" {
		parts := []string{r.Street}
		if r.City != "" {
			parts = append(parts, r.City)
		}
		if r.State != "" {
			parts = append(parts, r.State)
		}
		if r.Zip != "" {
			parts = append(parts, r.Zip)
		}
		r.Full = strings.Join(parts, " ")
	}
	return r
}

// extractCity pulls the word run between the street and the first
// state/ZIP marker.
func extractCity(rest, state, zip string) string {
	s := rest
	if zip != "" {
		s = strings.Split(s, zip)[0]
	}
	if state != "" {
		if idx := stateAbbrevRe.FindStringIndex(s); idx != nil {
			s = s[:idx[0]]
		} else {
			lower := strings.ToLower(s)
			for name := range usStates {
				if i := strings.Index(lower, name); i >= 0 {
					s = s[:i]
					break
				}
			}
		}
	}
	s = strings.Trim(normalizeSpaces(s), " ,.")
	// Cities are 1–3 plain word tokens; anything else is noise.
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 3 {
		return ""
	}
	for _, f := range fields {
		if !isAlphaToken(f) {
			return ""
		}
	}
	return s
}

// DetectUnit finds an apartment/unit/suite designation in text.
func DetectUnit(text string) (string, bool) {
	m := unitTokenRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// noUnitRe matches "no unit" / "none" / "no apartment" answers.
var noUnitRe = regexp.MustCompile(`(?i)^\s*(?:no|none|nope|no\s+unit|no\s+apartment|there\s+isn'?t\s+one|single\s+family)\b`)

// SaysNoUnit reports whether the caller said there is no unit number.
func SaysNoUnit(text string) bool {
	return noUnitRe.MatchString(text)
}

// cityAnswerRe accepts a bare "City" or "City 33966" style breakdown answer.
var cityAnswerRe = regexp.MustCompile(`(?i)^([A-Za-z][A-Za-z\s.']{1,40}?)(?:,?\s*(\d{5}))?\s*[.!]?$`)

// ParseCityAnswer parses the answer to a city breakdown prompt. Returns the
// city and optional ZIP.
func ParseCityAnswer(text string) (city, zip string, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" || IsSilence(text) {
		return "", "", false
	}
	m := cityAnswerRe.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	city = strings.Trim(normalizeSpaces(m[1]), " ,.")
	if WordCount(city) > 3 {
		return "", "", false
	}
	return city, m[2], true
}

func normalizeSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isAlphaToken(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '.' || r == '\'') {
			return false
		}
	}
	return s != ""
}
