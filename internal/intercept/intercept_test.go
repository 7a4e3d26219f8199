package intercept_test

import (
	"strings"
	"testing"
	"time"

	"github.com/relaydesk/relaydesk/internal/intercept"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

func newParams(text string, sess *session.Session) intercept.Params {
	if sess == nil {
		sess = &session.Session{}
	}
	return intercept.Params{
		Text:        text,
		Session:     sess,
		CompanyName: "Apex Air",
		Now:         time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Behavior: tenant.FrontDeskBehavior{
			SilencePrompts:  []string{"Are you still there?", "Sorry, I didn't catch that."},
			MaxSilenceCount: 3,
			Stages: tenant.ConversationStages{GreetingRules: []tenant.GreetingRule{
				{Trigger: "good morning", Response: "Good {time}! Thanks for calling {companyName}. How can I help?", Fuzzy: true},
			}},
			Escalation: tenant.Escalation{
				Enabled:         true,
				TriggerPhrases:  []string{"speak to a person", "real human"},
				TransferMessage: "One moment while I connect you.",
			},
			BookingSlots: []tenant.BookingSlot{
				{ID: "name", Type: tenant.SlotName},
				{ID: "phone", Type: tenant.SlotPhone},
				{ID: "address", Type: tenant.SlotAddress},
			},
		},
	}
}

func TestSilenceRotatesPrompts(t *testing.T) {
	t.Parallel()

	sess := &session.Session{}
	p := newParams("...", sess)

	r, ok := intercept.Evaluate(p)
	if !ok || r.MatchSource != intercept.SourceSilence {
		t.Fatalf("first silence: got %+v", r)
	}
	if r.Reply != "Are you still there?" {
		t.Errorf("first prompt = %q", r.Reply)
	}

	r, _ = intercept.Evaluate(p)
	if r.Reply != "Sorry, I didn't catch that." {
		t.Errorf("second prompt = %q, want rotation", r.Reply)
	}

	// Third consecutive silence hits the max and offers transfer.
	r, _ = intercept.Evaluate(p)
	if !r.RequiresTransfer {
		t.Errorf("third silence: RequiresTransfer = false, got %+v", r)
	}
}

func TestSilenceCounterResetsOnSpeech(t *testing.T) {
	t.Parallel()

	sess := &session.Session{}
	intercept.Evaluate(newParams("", sess))
	intercept.Evaluate(newParams("", sess))
	// Real speech resets the run even when nothing else intercepts.
	intercept.Evaluate(newParams("my AC is broken", sess))
	if sess.Metrics.SilenceCount != 0 {
		t.Errorf("SilenceCount = %d after speech, want 0", sess.Metrics.SilenceCount)
	}
}

func TestGreetingIntercept(t *testing.T) {
	t.Parallel()

	sess := &session.Session{}
	r, ok := intercept.Evaluate(newParams("yes, good morning", sess))
	if !ok || r.MatchSource != intercept.SourceGreeting {
		t.Fatalf("got %+v, want greeting intercept", r)
	}
	if r.Reply != "Good morning! Thanks for calling Apex Air. How can I help?" {
		t.Errorf("Reply = %q", r.Reply)
	}
	if !sess.Locks.Greeted {
		t.Error("greeted lock not set")
	}

	// Second greeting never intercepts again.
	if _, ok := intercept.Evaluate(newParams("good morning", sess)); ok {
		t.Error("greeting intercepted twice")
	}
}

func TestGreetingFuzzyMatch(t *testing.T) {
	t.Parallel()

	r, ok := intercept.Evaluate(newParams("good mornin", &session.Session{}))
	if !ok || r.MatchSource != intercept.SourceGreeting {
		t.Errorf("fuzzy greeting missed: %+v", r)
	}
}

func TestGreetingSkippedForSessionsWithHistory(t *testing.T) {
	t.Parallel()

	sess := &session.Session{Turns: []session.Turn{{Role: "assistant", Text: "How can I help?"}}}
	if r, ok := intercept.Evaluate(newParams("good morning", sess)); ok {
		t.Errorf("greeting fired on a session with history: %+v", r)
	}
}

func TestEscalationIntercept(t *testing.T) {
	t.Parallel()

	r, ok := intercept.Evaluate(newParams("I want to speak to a person", &session.Session{}))
	if !ok || !r.RequiresTransfer || r.MatchSource != intercept.SourceEscalation {
		t.Errorf("got %+v, want escalation transfer", r)
	}
}

func TestRepeatRequest(t *testing.T) {
	t.Parallel()

	sess := &session.Session{Turns: []session.Turn{{Role: "assistant", Text: "What's your address?"}}}
	r, ok := intercept.Evaluate(newParams("sorry, say that again?", sess))
	if !ok || r.Reply != "What's your address?" {
		t.Errorf("got %+v, want last agent text", r)
	}
}

func TestConfirmInfoEnumeratesSlots(t *testing.T) {
	t.Parallel()

	sess := &session.Session{}
	sess.SetSlot("name", "Mark Gonzales")
	sess.SetSlot("phone", "5551234567")

	r, ok := intercept.Evaluate(newParams("can you read that back to me", sess))
	if !ok || r.MatchSource != intercept.SourceConfirmInfo {
		t.Fatalf("got %+v", r)
	}
	if !strings.Contains(r.Reply, "Mark Gonzales") || !strings.Contains(r.Reply, "5551234567") {
		t.Errorf("summary missing slots: %q", r.Reply)
	}
}

func TestQuerySlot(t *testing.T) {
	t.Parallel()

	sess := &session.Session{}
	sess.SetSlot("address", "42 Oak Street")

	r, ok := intercept.Evaluate(newParams("what address do you have?", sess))
	if !ok || !strings.Contains(r.Reply, "42 Oak Street") {
		t.Fatalf("got %+v, want stored address", r)
	}

	// Unknown value degrades gracefully.
	r, ok = intercept.Evaluate(newParams("what phone number do you have?", sess))
	if !ok || !strings.Contains(r.Reply, "don't have") {
		t.Errorf("got %+v, want graceful fallback", r)
	}
}

func TestTechHistory(t *testing.T) {
	t.Parallel()

	sess := &session.Session{Discovery: session.Discovery{TechMentioned: "Steve"}}
	r, ok := intercept.Evaluate(newParams("who was the technician last time?", sess))
	if !ok || !strings.Contains(r.Reply, "Steve") {
		t.Errorf("got %+v, want Steve", r)
	}

	r, ok = intercept.Evaluate(newParams("who was the technician?", &session.Session{}))
	if !ok || r.MatchSource != intercept.SourceTechHistory {
		t.Errorf("got %+v, want graceful tech-history fallback", r)
	}
}

func TestRepairBehavior(t *testing.T) {
	t.Parallel()

	sess := &session.Session{Turns: []session.Turn{{Role: "assistant", Text: "What's your phone number?"}}}
	r, ok := intercept.Evaluate(newParams("I already told you that", sess))
	if !ok || r.MatchSource != intercept.SourceRepair {
		t.Fatalf("got %+v", r)
	}
	if !strings.Contains(r.Reply, "What's your phone number?") {
		t.Errorf("repair reply does not re-prompt: %q", r.Reply)
	}
}
