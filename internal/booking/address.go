package booking

import (
	"math/rand"
	"strings"

	"github.com/relaydesk/relaydesk/internal/extract"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

const breakdownCity = "city"

// addressStep drives the address sub-flow: capture, city/ZIP breakdown,
// optional maps validation, unit detection, confirm-back, and the access
// flow for applicable trades.
func (c *Controller) addressStep(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta) stepOutcome {
	sess := in.Sess
	active := sess.Booking.ActiveSlot == slot.ID

	if sess.Booking.Access.Step != "" {
		return c.accessStep(in, slot, meta)
	}

	if meta.UnitPending {
		return c.resolveUnit(in, slot, meta)
	}

	if meta.PendingConfirm {
		out := c.resolveConfirm(in, slot, meta, sess.SlotValue(slot.ID))
		if out.reply == "" && meta.Confirmed {
			// Confirmed address: the access flow may take over.
			if next := c.maybeStartAccessFlow(in, slot, meta); next.reply != "" {
				return next
			}
		}
		return out
	}

	// City/ZIP breakdown in progress: the street part is already on file.
	if meta.BreakdownStep == breakdownCity {
		if city, zip, ok := extract.ParseCityAnswer(in.Text); ok {
			meta.BreakdownStep = ""
			full := meta.StreetPart + " " + city
			if zip != "" {
				full += " " + zip
			}
			meta.CityPart = city
			return c.acceptAddress(in, slot, meta, full)
		}
		prompt := slot.CityPrompt
		if prompt == "" {
			prompt = "And what city is that in?"
		}
		return stepOutcome{reply: c.render(prompt), matchSource: SourceSlotQuestion}
	}

	if r := extract.ExtractAddress(in.Text); r != nil {
		if r.HasFull() || slot.AddressConfirmLevel == "street_only" || slot.AcceptPartialAddress {
			value := r.Full
			if value == "" {
				value = r.Street
			}
			return c.acceptAddress(in, slot, meta, value)
		}
		// Street captured but no city/state/ZIP: break down.
		meta.StreetPart = r.Street
		meta.BreakdownStep = breakdownCity
		prompt := slot.CityPrompt
		if prompt == "" {
			prompt = "Got the street — what city is that in?"
		}
		return stepOutcome{reply: c.render(prompt), matchSource: SourceSlotQuestion, consumedValue: true}
	}

	if active {
		meta.ExtractionMisses++
		if meta.ExtractionMisses >= 2 && slot.PartialAddressPrompt != "" {
			return stepOutcome{reply: c.render(slot.PartialAddressPrompt), matchSource: SourceSlotQuestion}
		}
	}
	return c.askQuestion(slot, meta, slot.Question)
}

// acceptAddress runs validation, unit detection, and confirm-back on a
// captured address.
func (c *Controller) acceptAddress(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta, value string) stepOutcome {
	sess := in.Sess
	meta.ExtractionMisses = 0

	// External validation: high confidence silently replaces, low
	// confidence confirms the normalized version back.
	lowConfidence := false
	if slot.UseMapsValidation && c.validator != nil {
		normalized, confident, err := c.validator.Validate(value)
		if err != nil {
			c.log.Warn("address validation unavailable", "error", err)
		} else if normalized != "" {
			meta.MapsNormalized = normalized
			if confident {
				value = normalized
			} else {
				value = normalized
				lowConfidence = true
			}
		}
	}

	sess.SetSlot(slot.ID, value)

	// Unit detection before confirmation.
	if unit, ok := extract.DetectUnit(value + " " + in.Text); ok {
		meta.Unit = unit
	} else if c.shouldAskUnit(slot) && meta.Unit == "" && !meta.UnitNotApplicable {
		meta.UnitPending = true
		return stepOutcome{
			reply:         c.render(c.unitPrompt(slot)),
			matchSource:   SourceSlotQuestion,
			consumedValue: true,
		}
	}

	if slot.ConfirmBack || lowConfidence {
		return c.confirmPrompt(slot, meta, value)
	}
	out := c.maybeStartAccessFlow(in, slot, meta)
	out.consumedValue = true
	return out
}

func (c *Controller) shouldAskUnit(slot tenant.BookingSlot) bool {
	return slot.UnitNumberMode == "always"
}

func (c *Controller) unitPrompt(slot tenant.BookingSlot) string {
	if len(slot.UnitPromptVariants) > 0 {
		return slot.UnitPromptVariants[rand.Intn(len(slot.UnitPromptVariants))]
	}
	return "Is there an apartment or unit number?"
}

// resolveUnit interprets the answer to the unit question.
func (c *Controller) resolveUnit(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta) stepOutcome {
	sess := in.Sess

	if extract.SaysNoUnit(in.Text) {
		meta.UnitPending = false
		meta.UnitNotApplicable = true
	} else if unit, ok := extract.DetectUnit(in.Text); ok {
		meta.UnitPending = false
		meta.Unit = unit
		sess.SetSlot(slot.ID, sess.SlotValue(slot.ID)+" Unit "+unit)
	} else if token := bareUnitToken(in.Text); token != "" {
		meta.UnitPending = false
		meta.Unit = token
		sess.SetSlot(slot.ID, sess.SlotValue(slot.ID)+" Unit "+token)
	} else {
		return stepOutcome{reply: c.render(c.unitPrompt(slot)), matchSource: SourceSlotQuestion}
	}

	if slot.ConfirmBack {
		return c.confirmPrompt(slot, meta, sess.SlotValue(slot.ID))
	}
	out := c.maybeStartAccessFlow(in, slot, meta)
	out.consumedValue = true
	return out
}

// bareUnitToken accepts a short alphanumeric answer ("4B", "12") to the
// unit question.
func bareUnitToken(text string) string {
	fields := strings.Fields(strings.Trim(text, ".,!?"))
	if len(fields) != 1 || len(fields[0]) > 6 {
		return ""
	}
	token := fields[0]
	hasDigit := false
	for _, r := range token {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '-':
		default:
			return ""
		}
	}
	if !hasDigit {
		return ""
	}
	return token
}

// Access-flow steps stored in Booking.Access.Step.
const (
	accessPropertyType = "property_type"
	accessUnit         = "unit"
	accessInstructions = "instructions"
	accessGated        = "gated"
	accessGateType     = "gate_type"
	accessGateCode     = "gate_code"
)

// maybeStartAccessFlow begins the post-address access sub-dialogue when the
// tenant has it enabled for this trade.
func (c *Controller) maybeStartAccessFlow(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta) stepOutcome {
	af := c.behavior.AccessFlow
	sess := in.Sess
	if !af.AppliesTo(in.Trade) || sess.Booking.Access.Resolution != "" || sess.Booking.Access.Step != "" {
		return stepOutcome{}
	}
	if !af.PropertyTypeEnabled {
		return stepOutcome{}
	}
	sess.Booking.Access.Step = accessPropertyType
	q := af.PropertyTypeQuestion
	if q == "" {
		q = "Is this a house, condo, apartment, or business?"
	}
	return stepOutcome{reply: c.render(q), matchSource: SourceAccessFlow}
}

// accessStep advances the access sub-dialogue one question at a time,
// giving up (never looping) after the tenant's follow-up budget.
func (c *Controller) accessStep(in TurnInput, slot tenant.BookingSlot, meta *session.SlotMeta) stepOutcome {
	af := c.behavior.AccessFlow
	sess := in.Sess
	acc := &sess.Booking.Access

	maxFollowUps := af.MaxFollowUps
	if maxFollowUps <= 0 {
		maxFollowUps = 2
	}

	advance := func(nextStep, question string) stepOutcome {
		acc.Step = nextStep
		acc.FollowUps = 0
		if nextStep == "" {
			return stepOutcome{}
		}
		return stepOutcome{reply: c.render(question), matchSource: SourceAccessFlow}
	}
	retry := func(question string) stepOutcome {
		acc.FollowUps++
		if acc.FollowUps >= maxFollowUps {
			acc.Resolution = "unknown_or_not_given"
			acc.Step = ""
			return stepOutcome{}
		}
		return stepOutcome{reply: c.render(question), matchSource: SourceAccessFlow}
	}

	switch acc.Step {
	case accessPropertyType:
		pt := parsePropertyType(in.Text)
		if pt == "" {
			return retry(orDefault(af.PropertyTypeQuestion, "Is this a house, condo, apartment, or business?"))
		}
		acc.PropertyType = pt
		if pt == "house" {
			return advance(accessGated, orDefault(af.GatedQuestion, "Is the community open, or is it gated?"))
		}
		if acc.Unit == "" && meta.Unit == "" {
			return advance(accessUnit, orDefault(af.UnitQuestion, "What's the unit number there?"))
		}
		return advance(accessInstructions, orDefault(af.AccessInstructionAsk, "Any access instructions for the tech — knock, call, door code?"))

	case accessUnit:
		if unit, ok := extract.DetectUnit(in.Text); ok {
			acc.Unit = unit
		} else if token := bareUnitToken(in.Text); token != "" {
			acc.Unit = token
		} else if extract.SaysNoUnit(in.Text) {
			acc.Unit = "none"
		} else {
			return retry(orDefault(af.UnitQuestion, "What's the unit number there?"))
		}
		return advance(accessInstructions, orDefault(af.AccessInstructionAsk, "Any access instructions for the tech — knock, call, door code?"))

	case accessInstructions:
		if strings.TrimSpace(in.Text) != "" && !extract.IsSilence(in.Text) {
			acc.Instructions = strings.TrimSpace(in.Text)
			acc.Resolution = "resolved"
			return advance("", "")
		}
		return retry(orDefault(af.AccessInstructionAsk, "Any access instructions for the tech?"))

	case accessGated:
		switch {
		case extract.ContainsNegation(in.Text) || containsWordFold(in.Text, "open"):
			acc.Gated = "open"
			acc.Resolution = "resolved"
			return advance("", "")
		case containsWordFold(in.Text, "gated") || extract.StartsAffirmative(in.Text):
			acc.Gated = "gated"
			return advance(accessGateType, orDefault(af.GateAccessTypeAsk, "Is there a gate code, or a guard at the gate?"))
		}
		return retry(orDefault(af.GatedQuestion, "Is the community open, or is it gated?"))

	case accessGateType:
		hasCode := containsWordFold(in.Text, "code")
		hasGuard := containsWordFold(in.Text, "guard")
		switch {
		case hasCode && hasGuard:
			acc.GateAccessType = "both"
			return advance(accessGateCode, orDefault(af.GateCodeQuestion, "What's the gate code?"))
		case hasCode:
			acc.GateAccessType = "code"
			return advance(accessGateCode, orDefault(af.GateCodeQuestion, "What's the gate code?"))
		case hasGuard:
			acc.GateAccessType = "guard"
			acc.Resolution = "resolved"
			notify := orDefault(af.GateGuardNotify, "Please let the guard know {companyName} is coming.")
			out := advance("", "")
			out.reply = c.render(notify)
			out.matchSource = SourceAccessFlow
			return out
		}
		return retry(orDefault(af.GateAccessTypeAsk, "Is there a gate code, or a guard at the gate?"))

	case accessGateCode:
		code := extractGateCode(in.Text)
		if code == "" {
			return retry(orDefault(af.GateCodeQuestion, "What's the gate code?"))
		}
		acc.GateCode = code
		acc.Resolution = "resolved"
		if acc.GateAccessType == "both" {
			acc.GuardNotified = true
			out := advance("", "")
			out.reply = c.render(orDefault(af.GateGuardNotify, "Please also let the guard know {companyName} is coming."))
			out.matchSource = SourceAccessFlow
			return out
		}
		return advance("", "")
	}

	// Unknown step state: close out rather than loop.
	acc.Resolution = "unknown_or_not_given"
	acc.Step = ""
	return stepOutcome{}
}

func parsePropertyType(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "house") || strings.Contains(lower, "single family"):
		return "house"
	case strings.Contains(lower, "condo"):
		return "condo"
	case strings.Contains(lower, "apartment") || strings.Contains(lower, "apt"):
		return "apartment"
	case strings.Contains(lower, "business") || strings.Contains(lower, "commercial") || strings.Contains(lower, "office"):
		return "commercial"
	}
	return ""
}

func extractGateCode(text string) string {
	var digits strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' || r == '#' || r == '*' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() < 3 {
		return ""
	}
	return digits.String()
}

func containsWordFold(text, word string) bool {
	for _, f := range strings.Fields(strings.ToLower(text)) {
		if strings.Trim(f, ".,!?") == word {
			return true
		}
	}
	return false
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
