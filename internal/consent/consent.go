// Package consent implements the booking-consent gate. The detector is a
// pure predicate over the caller's text, the tenant's trigger configuration,
// and a small slice of session context; it never touches storage or the LLM.
package consent

import (
	"strings"

	"github.com/relaydesk/relaydesk/internal/extract"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// Result is the outcome of a consent check. Reason names the rule that
// fired, for the audit record.
type Result struct {
	HasConsent    bool
	MatchedPhrase string
	Reason        string
}

// Context is the session state the detector needs. Callers populate it from
// the live session before the check.
type Context struct {
	// ConsentPending is true when a prior scenario reply implied scheduling
	// and the system is waiting for a yes.
	ConsentPending bool

	// LastAgentText is the most recent agent turn, used to detect
	// affirmative answers to a scheduling offer.
	LastAgentText string

	// HasDiscoveryFlow gates the implicit-consent rules, which only apply
	// to tenants running the discovery lane.
	HasDiscoveryFlow bool
}

// schedulingOfferWords mark an agent turn as having offered scheduling.
var schedulingOfferWords = []string{
	"schedule", "appointment", "technician", "send", "come out", "back out",
}

// implicitConsentPhrases grant consent without a preceding offer, but only
// for tenants with a discovery flow.
var implicitConsentPhrases = []string{
	"i need service", "send someone", "come out", "fix it",
	"get someone out", "need a technician",
}

// Detect evaluates the consent rules in order and returns the first hit.
//
// Two anti-false-positive rules veto everything: a trailing "?" means the
// caller asked a question, and an "okay"-prefixed utterance longer than
// eight further words is an acknowledgment carrying new content, not a yes.
func Detect(text string, cfg tenant.DiscoveryConsent, triggers tenant.DetectionTriggers, ctx Context) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{Reason: "empty"}
	}

	if strings.HasSuffix(trimmed, "?") {
		return Result{Reason: "question"}
	}
	if ackWithNewContent(trimmed) {
		return Result{Reason: "acknowledgment_with_content"}
	}

	if !cfg.BookingRequiresExplicitConsent {
		return Result{HasConsent: true, Reason: "tenant_bypass"}
	}

	if phrase, ok := extract.ContainsAnyFold(trimmed, triggers.WantsBooking); ok {
		return Result{HasConsent: true, MatchedPhrase: phrase, Reason: "wants_booking"}
	}

	if ctx.ConsentPending && startsConsentYes(trimmed, cfg.ConsentYesWords) {
		return Result{HasConsent: true, MatchedPhrase: firstWord(trimmed), Reason: "pending_affirmative"}
	}

	if agentOfferedScheduling(ctx.LastAgentText) &&
		extract.StartsAffirmative(trimmed) && !extract.ContainsNegation(trimmed) {
		return Result{HasConsent: true, MatchedPhrase: firstWord(trimmed), Reason: "offer_affirmative"}
	}

	if ctx.HasDiscoveryFlow {
		phrases := append(append([]string{}, triggers.ImplicitConsent...), cfg.ConsentPhrases...)
		if len(phrases) == 0 {
			phrases = implicitConsentPhrases
		}
		if phrase, ok := extract.ContainsAnyFold(trimmed, phrases); ok {
			return Result{HasConsent: true, MatchedPhrase: phrase, Reason: "implicit_phrase"}
		}
	}

	return Result{Reason: "no_match"}
}

// ackWithNewContent detects "okay, <long new utterance>" — the leading
// acknowledgment is not consent when more than eight words follow it.
func ackWithNewContent(text string) bool {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return false
	}
	switch strings.Trim(fields[0], ".,!") {
	case "okay", "ok", "alright":
		return len(fields)-1 > 8
	}
	return false
}

// startsConsentYes checks the first word against the tenant's yes words,
// falling back to the built-in affirmative list.
func startsConsentYes(text string, yesWords []string) bool {
	if len(yesWords) == 0 {
		return extract.StartsAffirmative(text)
	}
	first := firstWord(text)
	for _, w := range yesWords {
		if strings.EqualFold(first, strings.TrimSpace(w)) {
			return true
		}
	}
	return false
}

func agentOfferedScheduling(agentText string) bool {
	if agentText == "" {
		return false
	}
	_, ok := extract.ContainsAnyFold(agentText, schedulingOfferWords)
	return ok
}

func firstWord(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], ".,!?")
}
