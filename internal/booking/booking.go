// Package booking implements the booking-flow controller: an ordered
// cascade of per-slot sub-flows (name, phone, address, time), loop
// prevention, mid-call rules, abort handling, and the idempotent finalizer.
// The controller runs only while the session is in booking mode; the turn
// orchestrator owns the mode transition that gets it there.
package booking

import (
	"log/slog"

	"github.com/relaydesk/relaydesk/internal/extract"
	"github.com/relaydesk/relaydesk/internal/render"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// Match-source labels for booking-lane replies.
const (
	SourceSlotQuestion   = "BOOKING_SLOT_QUESTION"
	SourceConfirmPrompt  = "BOOKING_CONFIRM_PROMPT"
	SourceConfirmRequest = "BOOKING_CONFIRM_REQUEST"
	SourceMidCallRule    = "BOOKING_MIDCALL_RULE"
	SourceLoopEscalate   = "BOOKING_LOOP_ESCALATION"
	SourceAbort          = "BOOKING_ABORTED"
	SourceAccessFlow     = "BOOKING_ACCESS_FLOW"
)

const defaultMaxSameQuestion = 2

// Controller drives booking-slot collection for one tenant.
type Controller struct {
	behavior    tenant.FrontDeskBehavior
	companyName string
	variantMap  map[string][]string
	validator   AddressValidator
	log         *slog.Logger
}

// AddressValidator normalizes a street address against an external source
// (Google Maps in production). Nil disables validation.
type AddressValidator interface {
	Validate(address string) (normalized string, confident bool, err error)
}

// NewController builds a Controller. variantMap is the precomputed
// spelling-variant map from tenant admin config; validator may be nil.
func NewController(behavior tenant.FrontDeskBehavior, companyName string, variantMap map[string][]string, validator AddressValidator, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		behavior:    behavior,
		companyName: companyName,
		variantMap:  variantMap,
		validator:   validator,
		log:         log,
	}
}

// TurnInput is one caller turn presented to the controller.
type TurnInput struct {
	Text       string
	Sess       *session.Session
	TurnNumber int

	// CallerPhone is the inbound caller ID, used by the phone sub-flow's
	// caller-ID offer.
	CallerPhone string

	// Trade scopes the access flow (plumbing, hvac, ...).
	Trade string
}

// Result is the controller's contribution to the turn response.
type Result struct {
	Reply            string
	MatchSource      string
	RequiresTransfer bool

	// AllComplete signals the orchestrator to run the finalizer.
	AllComplete bool

	// Aborted is set when the caller cancelled the booking.
	Aborted bool

	// ExtractedSlots lists slot IDs whose values were captured this turn;
	// the anti-repeat guardrail makes them ineligible to be asked again in
	// the same turn.
	ExtractedSlots []string
}

// stepOutcome is one sub-flow step's verdict.
type stepOutcome struct {
	reply            string // non-empty: speak and stop
	matchSource      string
	requiresTransfer bool
	isSlotQuestion   bool // eligible for mid-call rule wrapping
	consumedValue    bool // the caller's text filled (part of) this slot
	aborted          bool // the step gave up on the booking entirely
}

// Run advances the booking flow by one caller turn. It folds the text into
// the first incomplete slot's sub-flow, then either emits that slot's next
// prompt, moves on to the following slot, or reports completion.
func (c *Controller) Run(in TurnInput) *Result {
	sess := in.Sess

	if r := c.checkAbort(in); r != nil {
		return r
	}

	result := &Result{}
	for i := range c.behavior.BookingSlots {
		slot := c.behavior.BookingSlots[i]
		if !slot.Required {
			continue
		}
		if SlotComplete(sess, slot) {
			continue
		}

		meta := sess.Booking.MetaFor(slot.ID)
		out := c.step(in, slot, meta)
		if out.aborted {
			return c.abort(sess)
		}
		if out.consumedValue {
			result.ExtractedSlots = append(result.ExtractedSlots, slot.ID)
		}
		if out.reply == "" {
			// The turn's text completed this slot; fall through to the
			// next incomplete one with the text already consumed.
			in.Text = ""
			continue
		}

		if out.isSlotQuestion && len(result.ExtractedSlots) == 0 {
			if mc := c.midCallRule(in, slot, meta, out.reply); mc != nil {
				return mc
			}
		}

		sess.Booking.ActiveSlot = slot.ID
		sess.Booking.ActiveSlotType = slot.Type
		sess.Locks.MarkAsked(slot.ID)
		result.Reply = out.reply
		result.MatchSource = out.matchSource
		result.RequiresTransfer = out.requiresTransfer
		return result
	}

	result.AllComplete = true
	return result
}

// step dispatches the turn to the slot's sub-flow.
func (c *Controller) step(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta) stepOutcome {
	switch slot.Type {
	case tenant.SlotName:
		return c.nameStep(in, slot, meta)
	case tenant.SlotPhone:
		return c.phoneStep(in, slot, meta)
	case tenant.SlotAddress:
		return c.addressStep(in, slot, meta)
	case tenant.SlotTime:
		return c.timeStep(in, slot, meta)
	default:
		return c.genericStep(in, slot, meta)
	}
}

// genericStep covers email and custom slots: free-text capture with the
// standard confirm-back machinery.
func (c *Controller) genericStep(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta) stepOutcome {
	sess := in.Sess
	active := sess.Booking.ActiveSlot == slot.ID

	if meta.PendingConfirm {
		return c.resolveConfirm(in, slot, meta, sess.SlotValue(slot.ID))
	}

	if active && in.Text != "" && !extract.IsSilence(in.Text) {
		sess.SetSlot(slot.ID, in.Text)
		meta.ExtractionMisses = 0
		if slot.ConfirmBack {
			return c.confirmPrompt(slot, meta, in.Text)
		}
		return stepOutcome{consumedValue: true}
	}

	return c.askQuestion(slot, meta, slot.Question)
}

// askQuestion emits a slot question with loop prevention applied.
func (c *Controller) askQuestion(slot tenant.BookingSlot, meta *session.SlotMeta, question string) stepOutcome {
	meta.AskedCount++

	if meta.AskedCount > 1 && len(slot.RepromptVariant) > 0 {
		question = slot.RepromptVariant[(meta.AskedCount-2)%len(slot.RepromptVariant)]
	}

	lp := c.behavior.LoopPrevention
	max := lp.MaxSameQuestion
	if max <= 0 {
		max = defaultMaxSameQuestion
	}
	if lp.Enabled && meta.AskedCount > max {
		meta.LoopCount++
		if lp.OnLoop == "escalate" || meta.LoopCount >= 2 {
			msg := c.behavior.Escalation.OfferMessage
			if msg == "" {
				msg = "I'm having trouble getting that — would you like me to connect you with the office?"
			}
			return stepOutcome{
				reply:            c.render(msg),
				matchSource:      SourceLoopEscalate,
				requiresTransfer: true,
			}
		}
		if lp.RephraseIntro != "" {
			question = lp.RephraseIntro + " " + question
		}
	}

	return stepOutcome{
		reply:          c.render(question),
		matchSource:    SourceSlotQuestion,
		isSlotQuestion: true,
	}
}

// confirmPrompt emits a confirm-back prompt for a freshly captured value.
func (c *Controller) confirmPrompt(slot tenant.BookingSlot, meta *session.SlotMeta, value string) stepOutcome {
	meta.PendingConfirm = true
	meta.Confirmed = false
	prompt := slot.ConfirmPrompt
	if prompt == "" {
		prompt = "I have {value} — is that right?"
	}
	return stepOutcome{
		reply:         render.Render(prompt, c.valuesWith("value", value)),
		matchSource:   SourceConfirmPrompt,
		consumedValue: true,
	}
}

// resolveConfirm interprets the caller's answer to a confirm-back prompt.
func (c *Controller) resolveConfirm(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta, value string) stepOutcome {
	text := in.Text
	sess := in.Sess

	switch {
	case extract.IsSilence(text):
		meta.ConfirmSilenceCount++
		if meta.ConfirmSilenceCount >= 2 {
			// Two consecutive silences while waiting on a confirmation mean
			// the caller is gone: take what we have as a message and end the
			// booking lane.
			meta.PendingConfirm = false
			return stepOutcome{aborted: true}
		}
		prompt := slot.ConfirmPrompt
		if prompt == "" {
			prompt = "I have {value} — is that right?"
		}
		return stepOutcome{
			reply:       render.Render(prompt, c.valuesWith("value", value)),
			matchSource: SourceConfirmPrompt,
		}

	case extract.StartsAffirmative(text) && !extract.ContainsNegation(text):
		meta.PendingConfirm = false
		meta.Confirmed = true
		return stepOutcome{}

	case extract.StartsNegative(text):
		meta.PendingConfirm = false
		meta.Confirmed = false
		sess.SetSlot(slot.ID, "")
		return c.askQuestion(slot, meta, slot.Question)

	default:
		// Not a yes/no: treat as a corrected value attempt.
		meta.PendingConfirm = false
		sess.SetSlot(slot.ID, "")
		return c.step(in, slot, meta)
	}
}

// checkAbort handles tenant abort phrases.
func (c *Controller) checkAbort(in TurnInput) *Result {
	if len(c.behavior.BookingAbortPhrase) == 0 {
		return nil
	}
	if _, ok := extract.ContainsAnyFold(in.Text, c.behavior.BookingAbortPhrase); !ok {
		return nil
	}
	return c.abort(in.Sess)
}

// abort ends the booking lane. Whatever was collected so far stands as a
// message for the office, recorded under the message-taken outcome.
func (c *Controller) abort(sess *session.Session) *Result {
	sess.TransitionMode(session.ModeComplete)
	sess.Booking.OutcomeMode = tenant.OutcomeMessageTaken

	script := c.behavior.AbortScript
	if script == "" {
		script = "No problem at all. Feel free to call back any time."
	}
	return &Result{
		Reply:       c.render(script),
		MatchSource: SourceAbort,
		Aborted:     true,
	}
}

// midCallRule evaluates the active slot's mid-call rules against a turn
// that produced no slot value. The rendered template always carries the
// pending slot question.
func (c *Controller) midCallRule(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta, slotQuestion string) *Result {
	if in.Text == "" {
		return nil
	}
	for _, rule := range slot.MidCallRules {
		if rule.Trigger == "" {
			continue
		}
		if _, ok := extract.ContainsAnyFold(in.Text, []string{rule.Trigger}); !ok {
			continue
		}

		state := meta.MidCallFired[rule.Trigger]
		if rule.MaxPerCall > 0 && state.Count >= rule.MaxPerCall {
			continue
		}
		if rule.CooldownTurns > 0 && state.Count > 0 && in.TurnNumber-state.LastFiredTurn < rule.CooldownTurns {
			continue
		}

		state.Count++
		state.LastFiredTurn = in.TurnNumber
		if meta.MidCallFired == nil {
			meta.MidCallFired = make(map[string]session.MidCallState)
		}
		meta.MidCallFired[rule.Trigger] = state

		tmpl := rule.ResponseTemplate
		if !hasSlotQuestionToken(tmpl) {
			tmpl = tmpl + " {slotQuestion}"
		}
		reply := render.Render(tmpl, c.valuesWith("slotQuestion", slotQuestion))

		r := &Result{Reply: reply, MatchSource: SourceMidCallRule}
		if rule.Action == "escalate" {
			r.RequiresTransfer = true
		}
		return r
	}
	return nil
}

func hasSlotQuestionToken(tmpl string) bool {
	for _, name := range render.Names(tmpl) {
		if name == "slotQuestion" {
			return true
		}
	}
	return false
}

func (c *Controller) render(tmpl string) string {
	return render.Render(tmpl, c.values())
}

func (c *Controller) values() map[string]string {
	return map[string]string{"companyName": c.companyName}
}

func (c *Controller) valuesWith(key, value string) map[string]string {
	v := c.values()
	v[key] = value
	return v
}
