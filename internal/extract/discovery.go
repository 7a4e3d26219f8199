package extract

import (
	"regexp"
	"strings"

	"github.com/relaydesk/relaydesk/internal/session"
)

// DiscoveryOptions carries tenant word lists into [UpdateDiscovery].
type DiscoveryOptions struct {
	// DescribingProblem phrases mark an utterance as an issue description.
	DescribingProblem []string

	// TechNameExcludeWords reject false technician-name captures
	// ("the technician said" — "said" is not a name).
	TechNameExcludeWords []string
}

var (
	issueIndicatorRe = regexp.MustCompile(`(?i)\b(not\s+(?:cooling|heating|working|draining|turning|running)|broken?|leak(?:ing|s)?|clogged|stopped\s+working|won'?t\s+(?:start|turn|drain|cool|heat)|no\s+(?:heat|air|hot\s+water|power)|making\s+(?:a\s+)?(?:noise|sound)|tripp(?:ed|ing)|frozen|dripping|smell)\b`)

	techMentionRe = regexp.MustCompile(`(?i)\b(?:technician|tech)\s+(?:named\s+)?([A-Z][a-z]+)\b|\b([A-Z][a-z]+)\s+(?:was|came)\s+(?:the\s+)?(?:technician|tech)\b`)

	tenureRe = regexp.MustCompile(`(?i)\b(?:customer|with\s+you(?:\s+guys)?)\s+for\s+(\d+\s+years?)\b|\bbeen\s+(?:a\s+customer|with\s+you)\s+(?:for\s+)?(\d+\s+years?)\b`)

	temperatureRe = regexp.MustCompile(`(?i)\b(\d{2,3})\s*(?:degrees|°)\b`)

	equipmentRe = regexp.MustCompile(`(?i)\b(ac\s+unit|air\s+condition(?:er|ing)|furnace|heat\s+pump|water\s+heater|boiler|thermostat|compressor|condenser|dishwasher|washer|dryer|refrigerator|fridge|oven|stove|garbage\s+disposal|sump\s+pump|breaker\s+(?:box|panel))\b`)
)

// UpdateDiscovery runs the pattern-based discovery extractor over text and
// folds new findings into d. Existing values are never overwritten — the
// first capture wins for the life of the session. Urgency always funnels
// through [ClassifyUrgency] so only canonical values reach the store.
//
// Returns true when the utterance reads as a problem description.
func UpdateDiscovery(text string, d *session.Discovery, opts DiscoveryOptions) bool {
	describing := issueIndicatorRe.MatchString(text)
	if !describing {
		if _, hit := ContainsAnyFold(text, opts.DescribingProblem); hit {
			describing = true
		}
	}

	if describing && d.Issue == "" {
		d.Issue = summarizeIssue(text)
	}

	if u := ClassifyUrgency(text); severity(u) > severity(d.Urgency) {
		d.Urgency = u
	}
	if d.Urgency == "" {
		d.Urgency = session.UrgencyNormal
	}

	if d.TechMentioned == "" {
		if name := extractTechName(text, opts.TechNameExcludeWords); name != "" {
			d.TechMentioned = name
		}
	}
	if d.Tenure == "" {
		if m := tenureRe.FindStringSubmatch(text); m != nil {
			if m[1] != "" {
				d.Tenure = m[1]
			} else {
				d.Tenure = m[2]
			}
		}
	}
	if d.Temperature == "" {
		if m := temperatureRe.FindStringSubmatch(text); m != nil {
			d.Temperature = m[1] + " degrees"
		}
	}
	if d.Equipment == "" {
		if m := equipmentRe.FindString(text); m != "" {
			d.Equipment = strings.ToLower(normalizeSpaces(m))
		}
	}

	return describing
}

// summarizeIssue trims an issue description to a storable single line.
func summarizeIssue(text string) string {
	s := normalizeSpaces(strings.TrimSpace(text))
	if len(s) > 200 {
		s = s[:197] + "..."
	}
	return s
}

func extractTechName(text string, excludeWords []string) string {
	m := techMentionRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	name := m[1]
	if name == "" {
		name = m[2]
	}
	if inListFold(name, excludeWords) {
		return ""
	}
	// Common verbs that follow "the tech ..." and capture as names.
	switch strings.ToLower(name) {
	case "said", "came", "was", "told", "fixed", "who", "that":
		return ""
	}
	return name
}

func severity(u session.Urgency) int {
	switch u {
	case session.UrgencyEmergency:
		return 3
	case session.UrgencyUrgent:
		return 2
	case session.UrgencyRepeatIssue:
		return 1
	default:
		return 0
	}
}
