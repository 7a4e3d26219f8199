package booking

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/relaydesk/relaydesk/internal/extract"
	"github.com/relaydesk/relaydesk/internal/render"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

var (
	questionOpenerRe = regexp.MustCompile(`(?i)^(what|when|where|how|why|can\s+you|could\s+you|do\s+you|does|is\s+there|are\s+you)\b`)

	interruptTopicRe = regexp.MustCompile(`(?i)\b(price|pricing|cost|charge|fee|how\s+much|availability|available|hours|open|warranty|guarantee|licensed|insured)\b`)
)

// IsInterruption reports whether the caller's text is a question that
// interrupts the booking flow rather than an answer to the active slot.
// Inputs that parse as a value for the active slot are never interruptions.
func (c *Controller) IsInterruption(text string, sess *session.Session) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if c.looksLikeSlotAnswer(text, sess) {
		return false
	}
	return strings.HasSuffix(text, "?") ||
		questionOpenerRe.MatchString(text) ||
		interruptTopicRe.MatchString(text)
}

func (c *Controller) looksLikeSlotAnswer(text string, sess *session.Session) bool {
	slot := c.behavior.SlotByID(sess.Booking.ActiveSlot)
	if slot == nil {
		return false
	}
	switch slot.Type {
	case tenant.SlotName:
		nm := sess.Booking.MetaFor(slot.ID).Name
		opts := extract.NameOptions{ExpectingName: true, CommonFirstNames: c.behavior.CommonFirstNames}
		if nm != nil {
			opts.CollectedFirst, opts.CollectedLast = nm.First, nm.Last
		}
		return extract.ExtractName(text, opts) != nil
	case tenant.SlotPhone:
		return extract.ExtractPhone(text) != ""
	case tenant.SlotAddress:
		return extract.ExtractAddress(text) != nil
	case tenant.SlotTime:
		return extract.ExtractTimePreference(text) != nil
	default:
		return false
	}
}

// ResumeBlock renders the tenant's resume-booking block appended after an
// interruption is answered: collected summary plus the pending question.
func (c *Controller) ResumeBlock(sess *session.Session) string {
	var collected []string
	for _, slot := range c.behavior.BookingSlots {
		if v := sess.SlotValue(slot.ID); v != "" {
			collected = append(collected, v)
		}
	}

	next := ""
	if slot := firstIncomplete(sess, c.behavior.BookingSlots); slot != nil {
		next = c.render(slot.Question)
	}

	tmpl := c.behavior.ResumeBookingBlock
	if tmpl == "" {
		tmpl = "Okay — back to the booking. I have {collectedSummary}. {nextQuestion}"
	}
	values := c.values()
	values["collectedSummary"] = strings.Join(collected, ", ")
	values["nextQuestion"] = next
	return render.Render(tmpl, values)
}

// ConfirmationRequest handles "what X do you have?" asked during booking,
// reading the current value back with the slot's confirm template. The
// last-name special case re-asks instead of echoing the first name.
func (c *Controller) ConfirmationRequest(text string, sess *session.Session) (string, bool) {
	m := confirmReqRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	asked := strings.ToLower(m[1])
	if asked == "" {
		asked = strings.ToLower(m[2])
	}

	if strings.Contains(asked, "last name") {
		for i := range c.behavior.BookingSlots {
			slot := c.behavior.BookingSlots[i]
			if slot.Type != tenant.SlotName {
				continue
			}
			nm := sess.Booking.MetaFor(slot.ID).Name
			if nm == nil || nm.Last == "" || !nm.LastConfirmed && nm.AssumedSingleTokenAs == "last" {
				q := slot.LastNameQuestion
				if q == "" {
					q = "Let me make sure I get that — what's your last name?"
				}
				recordTrace(sess, sess.Metrics.TotalTurns, promptMissingLast, q)
				return c.render(q), true
			}
			return fmt.Sprintf("I have your last name as %s.", nm.Last), true
		}
	}

	var slotType tenant.SlotType
	switch {
	case strings.Contains(asked, "phone") || strings.Contains(asked, "number"):
		slotType = tenant.SlotPhone
	case strings.Contains(asked, "address"):
		slotType = tenant.SlotAddress
	case strings.Contains(asked, "time") || strings.Contains(asked, "appointment"):
		slotType = tenant.SlotTime
	default:
		slotType = tenant.SlotName
	}

	for _, slot := range c.behavior.BookingSlots {
		if slot.Type != slotType {
			continue
		}
		value := sess.SlotValue(slot.ID)
		if value == "" {
			return fmt.Sprintf("I don't have that yet. %s", c.render(slot.Question)), true
		}
		if slot.ConfirmPrompt != "" {
			return render.Render(slot.ConfirmPrompt, c.valuesWith("value", value)), true
		}
		return fmt.Sprintf("I have %s.", value), true
	}
	return "", false
}

var confirmReqRe = regexp.MustCompile(`(?i)\bwhat(?:'?s|\s+is)?\s+(?:my\s+|the\s+)?((?:last\s+name|first\s+name|name|phone(?:\s+number)?|number|address|time|appointment))\b.*\b(?:do\s+you\s+have|on\s+file|did\s+i\s+give|again)\b|\bwhat\s+is\s+my\s+((?:last\s+name|name|phone|address))\b`)
