package extract

import (
	"strings"

	"github.com/relaydesk/relaydesk/internal/session"
)

// urgency keyword tables, checked from most to least severe. The classifier
// is the single source of urgency values in the system; every detection
// path funnels through it so the persisted enum never drifts.
var (
	emergencyKeywords = []string{
		"emergency", "flooding", "flooded", "burst pipe", "gas leak",
		"smell gas", "sparking", "sparks", "smoke", "fire",
		"water everywhere", "sewage", "carbon monoxide", "no heat",
	}
	urgentKeywords = []string{
		"asap", "as soon as possible", "right away", "urgent", "urgently",
		"today", "immediately", "can't wait", "cannot wait", "earliest",
		"soonest", "no ac", "not cooling at all", "no air",
	}
	repeatKeywords = []string{
		"again", "still broken", "still not", "came back", "come back",
		"second time", "third time", "keeps happening", "same problem",
		"same issue", "happened before", "already fixed",
	}
)

// ClassifyUrgency maps caller text onto the canonical urgency enum.
// The result is always a valid [session.Urgency]; callers can persist it
// without further validation.
func ClassifyUrgency(text string) session.Urgency {
	lower := strings.ToLower(text)
	for _, k := range emergencyKeywords {
		if strings.Contains(lower, k) {
			return session.UrgencyEmergency
		}
	}
	for _, k := range urgentKeywords {
		if strings.Contains(lower, k) {
			return session.UrgencyUrgent
		}
	}
	for _, k := range repeatKeywords {
		if strings.Contains(lower, k) {
			return session.UrgencyRepeatIssue
		}
	}
	return session.UrgencyNormal
}

// NormalizeUrgency coerces an arbitrary string (legacy stores, channel
// metadata) into the canonical enum, defaulting to normal.
func NormalizeUrgency(raw string) session.Urgency {
	u := session.Urgency(strings.ToLower(strings.TrimSpace(raw)))
	if u.IsValid() {
		return u
	}
	return session.UrgencyNormal
}
