package booking

import (
	"testing"

	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

func TestSlotComplete_ValueBeatsMeta(t *testing.T) {
	t.Parallel()

	slot := tenant.BookingSlot{ID: "phone", Type: tenant.SlotPhone, Required: true}
	sess := &session.Session{}

	if SlotComplete(sess, slot) {
		t.Error("empty slot reported complete")
	}

	sess.SetSlot("phone", "5551234567")
	// Stale meta (asked counts, misses) must not keep a valued slot open.
	meta := sess.Booking.MetaFor("phone")
	meta.AskedCount = 5
	meta.ExtractionMisses = 3
	if !SlotComplete(sess, slot) {
		t.Error("valued slot with resolved confirmation reported incomplete")
	}
}

func TestSlotComplete_ConfirmBackPending(t *testing.T) {
	t.Parallel()

	slot := tenant.BookingSlot{ID: "phone", Type: tenant.SlotPhone, Required: true, ConfirmBack: true}
	sess := &session.Session{}
	sess.SetSlot("phone", "5551234567")

	meta := sess.Booking.MetaFor("phone")
	meta.PendingConfirm = true
	if SlotComplete(sess, slot) {
		t.Error("slot complete while confirmation pending")
	}

	meta.PendingConfirm = false
	meta.Confirmed = true
	if !SlotComplete(sess, slot) {
		t.Error("confirmed slot reported incomplete")
	}
}

func TestNameComplete(t *testing.T) {
	t.Parallel()

	slot := tenant.BookingSlot{ID: "name", Type: tenant.SlotName, Required: true, AskFullName: true}
	sess := &session.Session{}

	// Two-word value is complete regardless of meta.
	sess.SetSlot("name", "Mark Gonzales")
	if !SlotComplete(sess, slot) {
		t.Error("full name reported incomplete")
	}

	// Single word with askFullName outstanding is incomplete.
	sess2 := &session.Session{}
	sess2.SetSlot("name", "Mark")
	if SlotComplete(sess2, slot) {
		t.Error("single-word name complete before the missing part was asked")
	}
	sess2.Booking.MetaFor("name").Name = &session.NameMeta{First: "Mark", AskedMissingPartOnce: true}
	if !SlotComplete(sess2, slot) {
		t.Error("single-word name incomplete after the missing part was asked")
	}

	// Pending spelling variant blocks completion.
	sess3 := &session.Session{}
	sess3.SetSlot("name", "Mark Gonzales")
	sess3.Booking.MetaFor("name").Name = &session.NameMeta{
		First: "Mark", Last: "Gonzales", AskedSpellingVariant: true,
	}
	if SlotComplete(sess3, slot) {
		t.Error("slot complete while spelling variant unanswered")
	}
}

func TestAddressIncompleteWhileAccessFlowActive(t *testing.T) {
	t.Parallel()

	slot := tenant.BookingSlot{ID: "address", Type: tenant.SlotAddress, Required: true}
	sess := &session.Session{}
	sess.SetSlot("address", "42 Oak Street Austin TX")
	sess.Booking.Access.Step = accessPropertyType

	if SlotComplete(sess, slot) {
		t.Error("address complete while access flow in flight")
	}
	sess.Booking.Access.Step = ""
	if !SlotComplete(sess, slot) {
		t.Error("address incomplete after access flow resolved")
	}
}
