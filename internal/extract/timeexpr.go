package extract

import (
	"regexp"
	"strings"
)

// TimeResult is a successful time-preference extraction.
type TimeResult struct {
	// Raw is the normalized human-readable preference stored in the slot.
	Raw string

	// Day is "today", "tomorrow", "this_week", or a weekday name.
	Day string

	// Window is "morning", "afternoon", or "evening".
	Window string

	// SpecificTime is a clock time like "2 PM" when the caller gave one.
	SpecificTime string

	// IsAsap flags as-soon-as-possible requests for the finalizer.
	IsAsap bool
}

var (
	asapRe = regexp.MustCompile(`(?i)\b(as\s+soon\s+as\s+possible|asap|earliest(?:\s+(?:you|available|possible))?|right\s+away|immediately|today\s+if\s+possible|soonest)\b`)

	// asapQuestionRe rejects questions about the terminology itself.
	asapQuestionRe = regexp.MustCompile(`(?i)\bwhat\s+(?:is|does)\s+asap\b|\bwhat'?s\s+asap\b`)

	dayRe = regexp.MustCompile(`(?i)\b(today|tomorrow|tonight|this\s+week|next\s+week|monday|tuesday|wednesday|thursday|friday|saturday|sunday|weekend)\b`)

	windowRe = regexp.MustCompile(`(?i)\b(morning|afternoon|evening|midday|noon)\b`)

	// specificTimeRe requires AM/PM or an at/around/by prefix so bare
	// numbers (street addresses, quantities) never read as times.
	specificTimeRe = regexp.MustCompile(`(?i)\b(?:(?:at|around|by|before|after)\s+)(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)?\b|\b(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)\b`)
)

// ExtractTimePreference parses a scheduling preference from text, or
// returns nil.
//
// Rejections, in order: salutations ("good morning" is not a window),
// utterances carrying a phone number, and questions about what "ASAP"
// means. Specific clock times require an AM/PM marker or an at/around/by
// prefix to disambiguate from street numbers.
func ExtractTimePreference(text string) *TimeResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if IsGreetingOnly(trimmed) {
		return nil
	}
	if ExtractPhone(trimmed) != "" {
		return nil
	}
	if asapQuestionRe.MatchString(trimmed) {
		return nil
	}

	r := &TimeResult{}

	if asapRe.MatchString(trimmed) {
		r.IsAsap = true
	}
	if m := dayRe.FindString(trimmed); m != "" {
		r.Day = normalizeDay(m)
	}
	for _, m := range windowRe.FindAllString(trimmed, -1) {
		if greetingWindow(trimmed, m) {
			continue
		}
		r.Window = normalizeWindow(m)
		break
	}
	if m := specificTimeRe.FindStringSubmatch(trimmed); m != nil {
		r.SpecificTime = formatClock(m)
	}

	if !r.IsAsap && r.Day == "" && r.Window == "" && r.SpecificTime == "" {
		return nil
	}

	r.Raw = buildRaw(r)
	return r
}

// greetingWindow reports whether the window word is part of a salutation
// ("good morning") rather than a preference.
func greetingWindow(text, window string) bool {
	re := regexp.MustCompile(`(?i)\bgood\s+` + regexp.QuoteMeta(window) + `\b`)
	return re.MatchString(text)
}

func normalizeDay(s string) string {
	s = strings.ToLower(normalizeSpaces(s))
	switch s {
	case "this week":
		return "this_week"
	case "next week":
		return "next_week"
	case "tonight":
		return "today"
	default:
		return s
	}
}

func normalizeWindow(s string) string {
	switch strings.ToLower(s) {
	case "midday", "noon":
		return "afternoon"
	default:
		return strings.ToLower(s)
	}
}

func formatClock(m []string) string {
	hour, min, ampm := m[1], m[2], m[3]
	if hour == "" {
		hour, min, ampm = m[4], m[5], m[6]
	}
	out := hour
	if min != "" {
		out += ":" + min
	}
	if ampm != "" {
		out += " " + strings.ToUpper(strings.ReplaceAll(ampm, ".", ""))
	}
	return out
}

func buildRaw(r *TimeResult) string {
	if r.IsAsap {
		return "as soon as possible"
	}
	var parts []string
	if r.Day != "" {
		parts = append(parts, strings.ReplaceAll(r.Day, "_", " "))
	}
	if r.SpecificTime != "" {
		parts = append(parts, "at "+r.SpecificTime)
	} else if r.Window != "" {
		parts = append(parts, r.Window)
	}
	return strings.Join(parts, " ")
}
