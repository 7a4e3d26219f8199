package booking

import (
	"strings"

	"github.com/relaydesk/relaydesk/internal/extract"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// timeStep drives the time-preference sub-flow: day/window/ASAP parsing
// with a binary morning-or-afternoon fallback after repeated misses.
func (c *Controller) timeStep(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta) stepOutcome {
	sess := in.Sess
	active := sess.Booking.ActiveSlot == slot.ID

	if meta.PendingConfirm {
		return c.resolveConfirm(in, slot, meta, sess.SlotValue(slot.ID))
	}

	// Binary fallback answers ("morning" / "afternoon") parse through the
	// normal extractor, so no dedicated state is needed.
	if r := extract.ExtractTimePreference(in.Text); r != nil {
		sess.SetSlot(slot.ID, r.Raw)
		meta.IsAsap = r.IsAsap
		meta.ExtractionMisses = 0
		if slot.ConfirmBack {
			return c.confirmPrompt(slot, meta, r.Raw)
		}
		return stepOutcome{consumedValue: true}
	}

	// Bare ASAP acceptance when the tenant offers it.
	if slot.OfferAsap && active && extract.StartsAffirmative(in.Text) && meta.AskedCount > 0 &&
		strings.Contains(strings.ToLower(lastAskText(sess)), "soon") {
		sess.SetSlot(slot.ID, "as soon as possible")
		meta.IsAsap = true
		return stepOutcome{consumedValue: true}
	}

	if active {
		meta.ExtractionMisses++
		if slot.OfferMorningAfternoon && meta.ExtractionMisses >= 2 {
			return stepOutcome{
				reply:          c.render("Would morning or afternoon work better for you?"),
				matchSource:    SourceSlotQuestion,
				isSlotQuestion: true,
			}
		}
	}

	question := slot.Question
	if question == "" {
		question = "When would you like us to come out?"
	}
	if slot.OfferAsap && slot.AsapPhrase != "" && meta.AskedCount == 0 {
		question = question + " " + slot.AsapPhrase
	}
	return c.askQuestion(slot, meta, question)
}

func lastAskText(sess *session.Session) string {
	return sess.LastAgentText()
}
