// Package scenario implements the tier-1.5 response cascade: ranked
// scenario candidates come back from a retriever, and the cascade decides
// whether one of them may speak, which of its replies fits the caller's
// utterance, and what side effects the reply carries.
package scenario

import (
	"context"
	"regexp"
	"strings"

	"github.com/relaydesk/relaydesk/internal/extract"
	"github.com/relaydesk/relaydesk/internal/render"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// MatchSource label for scenario-answered turns.
const SourceMatched = "SCENARIO_MATCHED"

// DefaultThreshold is the tier-1.5 confidence floor when global config
// does not override it.
const DefaultThreshold = 0.65

// Candidate is one ranked scenario from the retriever.
type Candidate struct {
	ID           string
	Name         string
	Type         string
	Confidence   float64
	QuickReplies []string
	FullReplies  []string
}

// Retriever ranks tenant scenarios against a caller utterance. The
// production implementation lives in the postgres store; tests supply
// their own.
type Retriever interface {
	Retrieve(ctx context.Context, companyID, text string, topK int) ([]Candidate, error)
}

// Result is a scenario reply selected by the cascade.
type Result struct {
	Reply       string
	ScenarioID  string
	Name        string
	Type        string
	Confidence  float64
	MatchSource string

	// ConsentPendingSet is true when the reply implied scheduling and the
	// cascade marked the session consent-pending this turn.
	ConsentPendingSet bool
}

// Params carries one turn's context into [Select].
type Params struct {
	Text       string
	Session    *session.Session
	Consent    tenant.DiscoveryConsent
	Threshold  float64
	Values     map[string]string // placeholder values for rendering
	TurnNumber int

	// OwnerPriority is the discovery-lane mode in which scenarios always
	// speak, overriding the auto-response kill switches.
	OwnerPriority bool

	// DescribedProblem is true when the caller's utterance reads as a
	// problem description; it drives the appropriateness filter.
	DescribedProblem bool
}

// issueKeywordRe feeds the reply-length heuristic: a mid-length utterance
// carrying an issue keyword deserves the fuller reply.
var issueKeywordRe = regexp.MustCompile(`(?i)\b(not\s+cooling|not\s+heating|not\s+working|broken?|leak(?:ing|s)?|clogged|stopped|won'?t|no\s+(?:heat|air|power)|noise|frozen)\b`)

// schedulingImpliedRe marks replies that promise a visit; speaking one of
// these without consent on file arms the consent-pending flag.
var schedulingImpliedRe = regexp.MustCompile(`(?i)we'?ll\s+send|get\s+a\s+tech(?:nician)?\s+out|schedule|let\s+me\s+get|come\s+take\s+a\s+look`)

// positiveOpeners are tone-deaf openers for problem descriptions.
var positiveOpeners = []string{"sounds good", "great", "perfect", "awesome", "wonderful"}

// Select applies the cascade to ranked candidates and returns the reply the
// top scenario should speak, or nil when the turn must fall through to the
// LLM.
func Select(candidates []Candidate, p Params) *Result {
	if len(candidates) == 0 {
		return nil
	}
	if !p.OwnerPriority && (p.Consent.DisableScenarioAutoResponses || p.Consent.ForceLLMDiscovery) {
		return nil
	}

	threshold := p.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	top := candidates[0]
	if top.Confidence < threshold {
		return nil
	}
	if !typeAllowed(top.Type, p.Consent.AutoReplyAllowedScenarioTypes) {
		return nil
	}

	reply := pickReply(top, p)
	if reply == "" {
		return nil
	}
	reply = render.Render(reply, p.Values)

	r := &Result{
		Reply:       reply,
		ScenarioID:  top.ID,
		Name:        top.Name,
		Type:        top.Type,
		Confidence:  top.Confidence,
		MatchSource: SourceMatched,
	}

	if schedulingImpliedRe.MatchString(reply) && !p.Session.Booking.ConsentGiven && !p.Session.Booking.ConsentPending {
		p.Session.Booking.ConsentPending = true
		p.Session.Booking.ConsentPendTurn = p.TurnNumber
		r.ConsentPendingSet = true
		if p.Consent.AutoInjectConsentInScenarios && p.Consent.ConsentQuestionTemplate != "" {
			q := render.Render(p.Consent.ConsentQuestionTemplate, p.Values)
			if q != "" && !strings.Contains(reply, q) {
				r.Reply = strings.TrimSpace(reply + " " + q)
			}
		}
	}
	return r
}

// pickReply chooses between the quick and full reply pools.
//
// Long inputs (>30 words), and mid-length inputs (>15 words) that carry an
// issue keyword, get a full reply; everything else gets a quick reply. The
// appropriateness filter then drops positive-opener replies when the caller
// was describing a problem.
func pickReply(c Candidate, p Params) string {
	words := extract.WordCount(p.Text)
	wantFull := words > 30 || (words > 15 && issueKeywordRe.MatchString(p.Text))

	pools := [][]string{c.QuickReplies, c.FullReplies}
	if wantFull {
		pools = [][]string{c.FullReplies, c.QuickReplies}
	}
	for _, pool := range pools {
		for _, reply := range pool {
			if p.DescribedProblem && startsPositive(reply) {
				continue
			}
			if strings.TrimSpace(reply) != "" {
				return reply
			}
		}
	}
	return ""
}

func startsPositive(reply string) bool {
	lower := strings.ToLower(strings.TrimSpace(reply))
	for _, opener := range positiveOpeners {
		if strings.HasPrefix(lower, opener) {
			return true
		}
	}
	return false
}

func typeAllowed(scenarioType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, t := range allowed {
		if strings.EqualFold(t, scenarioType) {
			return true
		}
	}
	return false
}
