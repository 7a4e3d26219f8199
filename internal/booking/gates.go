package booking

import (
	"strings"

	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// SlotComplete reports whether a slot needs no further collection work.
//
// The golden rule: a present value with a resolved confirmation flow is
// complete, and meta state never overrides a present value. Gates only ever
// consult meta to decide whether confirmation is still in flight.
func SlotComplete(sess *session.Session, slot tenant.BookingSlot) bool {
	value := sess.SlotValue(slot.ID)
	if value == "" {
		return false
	}
	meta := sess.Booking.MetaFor(slot.ID)

	switch slot.Type {
	case tenant.SlotName:
		return nameComplete(value, slot, meta)
	case tenant.SlotAddress:
		// An in-flight access flow keeps the address slot open.
		if sess.Booking.Access.Step != "" {
			return false
		}
		return confirmBackComplete(value, slot, meta)
	default:
		return confirmBackComplete(value, slot, meta)
	}
}

func nameComplete(value string, slot tenant.BookingSlot, meta *session.SlotMeta) bool {
	nm := meta.Name
	if nm != nil {
		if nm.DuplicateConfirmPend {
			return false
		}
		if nm.AskedSpellingVariant && nm.SpellingVariantAnswer == "" {
			return false
		}
		if nm.First != "" && nm.Last != "" {
			return true
		}
	}
	if strings.Contains(strings.TrimSpace(value), " ") {
		return true
	}

	// Single-word value: confirmation and full-name collection must both be
	// resolved before the slot closes.
	if slot.ConfirmBack && !(nm != nil && nm.LastConfirmed) && meta.PendingConfirm {
		return false
	}
	if slot.AskFullName && !(nm != nil && nm.AskedMissingPartOnce) {
		return false
	}
	return true
}

func confirmBackComplete(value string, slot tenant.BookingSlot, meta *session.SlotMeta) bool {
	if meta.UnitPending {
		return false
	}
	if !slot.ConfirmBack {
		return true
	}
	return meta.Confirmed || !meta.PendingConfirm
}

// firstIncomplete returns the first incomplete required slot, or nil when
// every required slot is complete.
func firstIncomplete(sess *session.Session, slots []tenant.BookingSlot) *tenant.BookingSlot {
	for i := range slots {
		if !slots[i].Required {
			continue
		}
		if !SlotComplete(sess, slots[i]) {
			return &slots[i]
		}
	}
	return nil
}

// AllComplete reports whether every required slot is complete.
func AllComplete(sess *session.Session, slots []tenant.BookingSlot) bool {
	return firstIncomplete(sess, slots) == nil
}
