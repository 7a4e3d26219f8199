// Package intercept implements the deterministic pre-routing handlers that
// run before scenario matching and the LLM: silence prompts, scripted
// greetings, escalation triggers, and meta-intents (repeat, confirm-info,
// slot queries, technician history, repair). Every handler is zero-cost —
// no model call, no retrieval — and returns a fully rendered reply.
package intercept

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/relaydesk/relaydesk/internal/extract"
	"github.com/relaydesk/relaydesk/internal/render"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// Match-source labels recorded on the turn response and audit record.
const (
	SourceSilence     = "SILENCE_PROMPT"
	SourceGreeting    = "GREETING_RULE"
	SourceEscalation  = "ESCALATION_TRIGGER"
	SourceRepeat      = "META_REPEAT"
	SourceConfirmInfo = "META_CONFIRM_INFO"
	SourceQuerySlot   = "META_QUERY_SLOT"
	SourceTechHistory = "META_TECH_HISTORY"
	SourceRepair      = "META_REPAIR"
)

// greetingSimilarity is the Jaro-Winkler floor for fuzzy greeting rules.
// Tuned for one-or-two-word STT noise ("good mornin", "hellooo").
const greetingSimilarity = 0.88

const defaultMaxSilences = 3

// Result is a handled intercept: the reply to speak and how it was matched.
type Result struct {
	Reply            string
	MatchSource      string
	RequiresTransfer bool
}

// Params carries one turn's inputs into [Evaluate].
type Params struct {
	// Text is the caller utterance after preprocessing.
	Text string

	// Session is mutated by handlers that track state (silence counter,
	// greeted lock).
	Session *session.Session

	Behavior    tenant.FrontDeskBehavior
	CompanyName string

	// Now supplies the clock for the {time} greeting placeholder.
	Now time.Time
}

// Evaluate runs the intercept chain in strict order and returns the first
// handler that fires, or (nil, false) when the turn should continue to
// scenario matching.
func Evaluate(p Params) (*Result, bool) {
	if extract.IsSilence(p.Text) {
		// A silent turn while a confirm-back answer is pending belongs to
		// the booking flow, which aborts after the second one.
		if confirmPending(p.Session) {
			return nil, false
		}
		return silence(p), true
	}
	// A non-silent turn breaks the consecutive-silence run.
	p.Session.Metrics.SilenceCount = 0

	if r := greeting(p); r != nil {
		return r, true
	}
	if r := escalation(p); r != nil {
		return r, true
	}
	return MetaIntent(p)
}

// MetaIntent runs only the meta-intent handlers. The orchestrator calls
// this a second time after booking-intent evaluation, where the earlier
// handlers no longer apply.
func MetaIntent(p Params) (*Result, bool) {
	for _, h := range []func(Params) *Result{
		repeatRequest, confirmInfo, querySlot, techHistory, repairBehavior,
	} {
		if r := h(p); r != nil {
			return r, true
		}
	}
	return nil, false
}

// confirmPending reports whether the active booking slot is waiting on a
// confirm-back answer.
func confirmPending(sess *session.Session) bool {
	if sess.Mode != session.ModeBooking || sess.Booking.ActiveSlot == "" {
		return false
	}
	meta, ok := sess.Booking.Meta[sess.Booking.ActiveSlot]
	return ok && meta.PendingConfirm
}

func silence(p Params) *Result {
	sess := p.Session
	sess.Metrics.SilenceCount++

	max := p.Behavior.MaxSilenceCount
	if max <= 0 {
		max = defaultMaxSilences
	}
	if sess.Metrics.SilenceCount >= max {
		msg := p.Behavior.Escalation.TransferMessage
		if msg == "" {
			msg = "I'm having trouble hearing you. Let me connect you with someone who can help."
		}
		return &Result{
			Reply:            render.Render(msg, baseValues(p)),
			MatchSource:      SourceSilence,
			RequiresTransfer: true,
		}
	}

	prompts := p.Behavior.SilencePrompts
	if len(prompts) == 0 {
		prompts = []string{"Sorry, I didn't catch that. Could you say that again?"}
	}
	prompt := prompts[(sess.Metrics.SilenceCount-1)%len(prompts)]
	return &Result{
		Reply:       render.Render(prompt, baseValues(p)),
		MatchSource: SourceSilence,
	}
}

// fillerPrefixRe strips leading acknowledgments before greeting matching.
var fillerPrefixRe = regexp.MustCompile(`(?i)^(?:yes,?\s+|yeah,?\s+|uh,?\s+|um,?\s+)+`)

func greeting(p Params) *Result {
	sess := p.Session
	if sess.Locks.Greeted || len(sess.Turns) > 0 {
		return nil
	}
	text := strings.ToLower(strings.Trim(fillerPrefixRe.ReplaceAllString(strings.TrimSpace(p.Text), ""), ".,!? "))
	if text == "" {
		return nil
	}

	for _, rule := range p.Behavior.Stages.GreetingRules {
		trigger := strings.ToLower(strings.TrimSpace(rule.Trigger))
		if trigger == "" {
			continue
		}
		matched := text == trigger
		if !matched && rule.Fuzzy {
			matched = matchr.JaroWinkler(text, trigger, true) >= greetingSimilarity
		}
		if !matched {
			continue
		}
		sess.Locks.Greeted = true
		return &Result{
			Reply:       render.Render(rule.Response, baseValues(p)),
			MatchSource: SourceGreeting,
		}
	}
	return nil
}

func escalation(p Params) *Result {
	esc := p.Behavior.Escalation
	if !esc.Enabled || len(esc.TriggerPhrases) == 0 {
		return nil
	}
	if _, ok := extract.ContainsAnyFold(p.Text, esc.TriggerPhrases); !ok {
		return nil
	}
	msg := esc.TransferMessage
	if msg == "" {
		msg = "Of course — let me connect you with a team member right away."
	}
	return &Result{
		Reply:            render.Render(msg, baseValues(p)),
		MatchSource:      SourceEscalation,
		RequiresTransfer: true,
	}
}

var repeatRe = regexp.MustCompile(`(?i)\b(say\s+that\s+again|didn'?t\s+catch\s+that|repeat\s+that|come\s+again|one\s+more\s+time)\b`)

func repeatRequest(p Params) *Result {
	if !repeatRe.MatchString(p.Text) {
		return nil
	}
	last := p.Session.LastAgentText()
	if last == "" {
		return nil
	}
	return &Result{Reply: last, MatchSource: SourceRepeat}
}

var confirmInfoRe = regexp.MustCompile(`(?i)\b(read\s+that\s+back|can\s+you\s+confirm|what\s+do\s+you\s+have\s+so\s+far|everything\s+you\s+have)\b`)

func confirmInfo(p Params) *Result {
	if !confirmInfoRe.MatchString(p.Text) {
		return nil
	}
	parts := collectedSummary(p.Session, p.Behavior)
	if len(parts) == 0 {
		return &Result{
			Reply:       "I don't have anything on file yet — let's start with your name.",
			MatchSource: SourceConfirmInfo,
		}
	}
	return &Result{
		Reply:       "Here's what I have so far: " + strings.Join(parts, ", ") + ". Is that all correct?",
		MatchSource: SourceConfirmInfo,
	}
}

// querySlotRe captures which stored value the caller is asking about.
var querySlotRe = regexp.MustCompile(`(?i)\bwhat(?:'?s|\s+is)?\s+(?:my\s+|the\s+)?(name|phone(?:\s+number)?|number|address|time|appointment)\s*(?:do\s+you\s+have|on\s+file|did\s+i\s+give)?\b`)

func querySlot(p Params) *Result {
	m := querySlotRe.FindStringSubmatch(p.Text)
	if m == nil {
		return nil
	}
	var slotType tenant.SlotType
	switch {
	case strings.HasPrefix(strings.ToLower(m[1]), "phone"), strings.EqualFold(m[1], "number"):
		slotType = tenant.SlotPhone
	case strings.EqualFold(m[1], "name"):
		slotType = tenant.SlotName
	case strings.EqualFold(m[1], "address"):
		slotType = tenant.SlotAddress
	default:
		slotType = tenant.SlotTime
	}

	value := slotValueByType(p.Session, p.Behavior, slotType)
	if value == "" {
		return &Result{
			Reply:       fmt.Sprintf("I don't have your %s yet — could you share it?", spokenSlotName(slotType)),
			MatchSource: SourceQuerySlot,
		}
	}
	return &Result{
		Reply:       fmt.Sprintf("I have your %s as %s.", spokenSlotName(slotType), value),
		MatchSource: SourceQuerySlot,
	}
}

var techHistoryRe = regexp.MustCompile(`(?i)\bwho\s+(?:was|is)\s+(?:the|my|that)\s+(?:technician|tech)\b|\bwhich\s+tech(?:nician)?\b`)

func techHistory(p Params) *Result {
	if !techHistoryRe.MatchString(p.Text) {
		return nil
	}
	if tech := p.Session.Discovery.TechMentioned; tech != "" {
		return &Result{
			Reply:       fmt.Sprintf("You mentioned %s was your technician.", tech),
			MatchSource: SourceTechHistory,
		}
	}
	return &Result{
		Reply:       "I don't have that on file here, but the office can look it up when they follow up.",
		MatchSource: SourceTechHistory,
	}
}

var repairRe = regexp.MustCompile(`(?i)\byou'?re\s+not\s+listening\b|\bi\s+(?:already|just)\s+(?:told|said|gave)\b`)

func repairBehavior(p Params) *Result {
	if !repairRe.MatchString(p.Text) {
		return nil
	}
	reply := "I'm sorry about that — let me get this right."
	if last := p.Session.LastAgentText(); last != "" {
		reply += " " + last
	}
	return &Result{Reply: reply, MatchSource: SourceRepair}
}

// collectedSummary renders "name Mark Gonzales, phone 5551234567, ..." in
// the tenant's slot order.
func collectedSummary(sess *session.Session, behavior tenant.FrontDeskBehavior) []string {
	var parts []string
	for _, slot := range behavior.BookingSlots {
		if v := sess.SlotValue(slot.ID); v != "" {
			parts = append(parts, fmt.Sprintf("%s %s", spokenSlotName(slot.Type), v))
		}
	}
	return parts
}

func slotValueByType(sess *session.Session, behavior tenant.FrontDeskBehavior, t tenant.SlotType) string {
	for _, slot := range behavior.BookingSlots {
		if slot.Type != t {
			continue
		}
		if v := sess.SlotValue(slot.ID); v != "" {
			return v
		}
	}
	return ""
}

func spokenSlotName(t tenant.SlotType) string {
	switch t {
	case tenant.SlotPhone:
		return "phone number"
	case tenant.SlotTime:
		return "time preference"
	default:
		return string(t)
	}
}

func baseValues(p Params) map[string]string {
	return map[string]string{
		"companyName": p.CompanyName,
		"time":        timeOfDay(p.Now),
		"callerName":  slotValueByType(p.Session, p.Behavior, tenant.SlotName),
	}
}

// timeOfDay renders the {time} greeting placeholder ("morning",
// "afternoon", "evening").
func timeOfDay(now time.Time) string {
	switch h := now.Hour(); {
	case h < 12:
		return "morning"
	case h < 17:
		return "afternoon"
	default:
		return "evening"
	}
}
