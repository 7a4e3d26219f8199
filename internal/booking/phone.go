package booking

import (
	"github.com/relaydesk/relaydesk/internal/extract"
	"github.com/relaydesk/relaydesk/internal/render"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// Breakdown steps stored in SlotMeta.BreakdownStep.
const (
	breakdownAreaCode = "area_code"
	breakdownRest     = "rest_of_number"
)

// phoneStep drives the phone sub-flow: caller-ID offer, "text me" reuse,
// direct capture, and the two-step breakdown for unclear input.
func (c *Controller) phoneStep(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta) stepOutcome {
	sess := in.Sess
	active := sess.Booking.ActiveSlot == slot.ID

	if meta.PendingConfirm {
		return c.resolveConfirm(in, slot, meta, sess.SlotValue(slot.ID))
	}

	// Caller-ID offer resolution.
	if meta.OfferedCallerID && active {
		switch {
		case extract.StartsAffirmative(in.Text) && !extract.ContainsNegation(in.Text):
			sess.SetSlot(slot.ID, extract.NormalizePhone(in.CallerPhone))
			meta.OfferedCallerID = false
			return stepOutcome{consumedValue: true}
		case extract.StartsNegative(in.Text):
			meta.OfferedCallerID = false
			return c.askQuestion(slot, meta, slot.Question)
		}
		// Neither yes nor no: maybe they just said the number.
		meta.OfferedCallerID = false
	}

	// Breakdown in progress.
	switch meta.BreakdownStep {
	case breakdownAreaCode:
		if area, ok := extract.IsAreaCode(in.Text); ok {
			meta.AreaCodePart = area
			meta.BreakdownStep = breakdownRest
			prompt := slot.RestOfNumberAsk
			if prompt == "" {
				prompt = "Got it — and the rest of the number?"
			}
			return stepOutcome{reply: c.render(prompt), matchSource: SourceSlotQuestion, consumedValue: true}
		}
		// A full number during breakdown wins outright.
		if digits := extract.ExtractPhone(in.Text); digits != "" {
			return c.acceptPhone(in, slot, meta, digits)
		}
		return c.askBreakdownAreaCode(slot, meta)

	case breakdownRest:
		if rest, ok := extract.RestOfNumber(in.Text); ok {
			meta.BreakdownStep = ""
			return c.acceptPhone(in, slot, meta, meta.AreaCodePart+rest)
		}
		if digits := extract.ExtractPhone(in.Text); digits != "" {
			meta.BreakdownStep = ""
			return c.acceptPhone(in, slot, meta, digits)
		}
		prompt := slot.RestOfNumberAsk
		if prompt == "" {
			prompt = "Sorry — what's the rest of the number after the area code?"
		}
		return stepOutcome{reply: c.render(prompt), matchSource: SourceSlotQuestion}
	}

	// "Text me" / "use this number" reuses caller ID.
	if slot.AcceptTextMe && in.CallerPhone != "" && extract.WantsCallerID(in.Text) {
		sess.SetSlot(slot.ID, extract.NormalizePhone(in.CallerPhone))
		return stepOutcome{consumedValue: true}
	}

	if digits := extract.ExtractPhone(in.Text); digits != "" {
		return c.acceptPhone(in, slot, meta, digits)
	}

	// Nothing captured. First touch with caller ID available: offer it.
	if slot.OfferCallerID && in.CallerPhone != "" && !meta.OfferedCallerID && meta.AskedCount == 0 {
		meta.OfferedCallerID = true
		meta.AskedCount++
		prompt := slot.CallerIDPrompt
		if prompt == "" {
			prompt = "Is {callerId} a good number to reach you?"
		}
		return stepOutcome{
			reply:          render.Render(prompt, c.valuesWith("callerId", formatPhone(in.CallerPhone))),
			matchSource:    SourceSlotQuestion,
			isSlotQuestion: true,
		}
	}

	if active {
		meta.ExtractionMisses++
		if slot.BreakDownUnclear && meta.ExtractionMisses >= 2 {
			return c.askBreakdownAreaCode(slot, meta)
		}
	}
	return c.askQuestion(slot, meta, slot.Question)
}

// acceptPhone stores the normalized number and runs confirm-back.
func (c *Controller) acceptPhone(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta, digits string) stepOutcome {
	normalized := extract.NormalizePhone(digits)
	in.Sess.SetSlot(slot.ID, normalized)
	meta.ExtractionMisses = 0
	if slot.ConfirmBack {
		return c.confirmPrompt(slot, meta, formatPhone(normalized))
	}
	return stepOutcome{consumedValue: true}
}

func (c *Controller) askBreakdownAreaCode(slot tenant.BookingSlot, meta *session.SlotMeta) stepOutcome {
	meta.BreakdownStep = breakdownAreaCode
	prompt := slot.AreaCodePrompt
	if prompt == "" {
		prompt = "Let's take it in two parts — what's the area code?"
	}
	return stepOutcome{reply: c.render(prompt), matchSource: SourceSlotQuestion}
}

// formatPhone renders 10-digit numbers as 555-123-4567 for speech.
func formatPhone(digits string) string {
	switch len(digits) {
	case 10:
		return digits[:3] + "-" + digits[3:6] + "-" + digits[6:]
	case 7:
		return digits[:3] + "-" + digits[3:]
	default:
		return digits
	}
}
