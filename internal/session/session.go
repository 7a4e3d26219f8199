// Package session defines the conversation session model: one continuous
// conversation on one channel, keyed by (company, channel, channel
// identifier). The session is the only mutable state in the turn pipeline;
// it is loaded once at the top of a turn, mutated in memory, and persisted
// once at the end.
//
// Locks are monotonic: once set they are never cleared. They protect the
// conversation against regressions (re-greeting a caller, re-entering
// discovery after booking started, re-asking an answered slot).
package session

import (
	"time"

	"github.com/relaydesk/relaydesk/internal/tenant"
)

// Mode is the sum type driving top-level turn routing.
type Mode string

const (
	ModeDiscovery Mode = "DISCOVERY"
	ModeBooking   Mode = "BOOKING"
	ModeComplete  Mode = "COMPLETE"
	ModeError     Mode = "ERROR"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeDiscovery, ModeBooking, ModeComplete, ModeError:
		return true
	}
	return false
}

// Phase is the legacy display phase kept for dashboards and channel
// adapters that predate Mode.
type Phase string

const (
	PhaseGreeting  Phase = "greeting"
	PhaseDiscovery Phase = "discovery"
	PhaseBooking   Phase = "booking"
	PhaseComplete  Phase = "complete"
	PhaseError     Phase = "error"
)

// PhaseFor maps a mode onto its display phase.
func PhaseFor(m Mode) Phase {
	switch m {
	case ModeBooking:
		return PhaseBooking
	case ModeComplete:
		return PhaseComplete
	case ModeError:
		return PhaseError
	default:
		return PhaseDiscovery
	}
}

// AgentIntent classifies what the agent's most recent reply was doing, so
// the next turn's consent detector can interpret a bare "yes".
type AgentIntent string

const (
	IntentOfferSchedule       AgentIntent = "OFFER_SCHEDULE"
	IntentBookingSlotQuestion AgentIntent = "BOOKING_SLOT_QUESTION"
	IntentDiscovery           AgentIntent = "DISCOVERY"
	IntentAskClarification    AgentIntent = "ASK_CLARIFICATION"
	IntentTransfer            AgentIntent = "TRANSFER"
)

// Urgency is the single canonical urgency enum. Values outside this set
// must never be persisted.
type Urgency string

const (
	UrgencyNormal      Urgency = "normal"
	UrgencyRepeatIssue Urgency = "repeat_issue"
	UrgencyUrgent      Urgency = "urgent"
	UrgencyEmergency   Urgency = "emergency"
)

// IsValid reports whether u is a recognised urgency value.
func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyNormal, UrgencyRepeatIssue, UrgencyUrgent, UrgencyEmergency:
		return true
	}
	return false
}

// Turn is one utterance in the session transcript.
type Turn struct {
	Role       string    `json:"role"` // "user" | "assistant"
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	TokensUsed int       `json:"tokensUsed"`
	Source     string    `json:"source"` // matchSource of the producing handler
}

// NameMeta is the per-call state of the name sub-flow.
type NameMeta struct {
	First                 string   `json:"first,omitempty"`
	Last                  string   `json:"last,omitempty"`
	LastConfirmed         bool     `json:"lastConfirmed,omitempty"`
	AskedMissingPartOnce  bool     `json:"askedMissingPartOnce,omitempty"`
	MissingPartMisses     int      `json:"missingPartMisses,omitempty"`
	AssumedSingleTokenAs  string   `json:"assumedSingleTokenAs,omitempty"` // "first" | "last"
	AskedSpellingVariant  bool     `json:"askedSpellingVariant,omitempty"`
	SpellingVariantAnswer string   `json:"spellingVariantAnswer,omitempty"`
	SpellingVariantOpts   []string `json:"spellingVariantOptions,omitempty"`
	DuplicateConfirmPend  bool     `json:"duplicateConfirmPending,omitempty"`
}

// SlotMeta is per-slot collection state shared by the confirm-back slots
// (phone, address, time, email) plus the bookkeeping every slot carries.
type SlotMeta struct {
	PendingConfirm      bool      `json:"pendingConfirm,omitempty"`
	Confirmed           bool      `json:"confirmed,omitempty"`
	ConfirmSilenceCount int       `json:"confirmSilenceCount,omitempty"`
	BreakdownStep       string    `json:"breakdownStep,omitempty"`
	AskedCount          int       `json:"askedCount,omitempty"`
	LoopCount           int       `json:"loopCount,omitempty"`
	OfferedCallerID     bool      `json:"offeredCallerId,omitempty"`
	AreaCodePart        string    `json:"areaCodePart,omitempty"`
	StreetPart          string    `json:"streetPart,omitempty"`
	CityPart            string    `json:"cityPart,omitempty"`
	UnitPending         bool      `json:"unitPending,omitempty"`
	Unit                string    `json:"unit,omitempty"`
	UnitNotApplicable   bool      `json:"unitNotApplicable,omitempty"`
	MapsNormalized      string    `json:"mapsNormalized,omitempty"`
	ExtractionMisses    int       `json:"extractionMisses,omitempty"`
	IsAsap              bool      `json:"isAsap,omitempty"`
	Name                *NameMeta `json:"name,omitempty"`

	// MidCallFired tracks per-rule trigger counts and last-fired turn for
	// cooldown enforcement, keyed by rule trigger.
	MidCallFired map[string]MidCallState `json:"midCallFired,omitempty"`
}

// MidCallState tracks one mid-call rule's usage within the call.
type MidCallState struct {
	Count         int `json:"count"`
	LastFiredTurn int `json:"lastFiredTurn"`
}

// NameTrace records the last name-flow prompt so the next turn can
// interpret the caller's answer against what was actually asked.
type NameTrace struct {
	LastPromptTurn int    `json:"lastPromptTurn"`
	LastPromptType string `json:"lastPromptType"` // name_prompt | missing_first | missing_last | duplicate_confirm | spelling_variant_ask
	LastPromptText string `json:"lastPromptText"`
	Outcome        string `json:"outcome,omitempty"`
}

// AccessInfo is the result of the post-address access sub-flow.
type AccessInfo struct {
	PropertyType   string `json:"propertyType,omitempty"` // house | condo | apartment | commercial
	Unit           string `json:"unit,omitempty"`
	Gated          string `json:"gated,omitempty"`          // "open" | "gated"
	GateAccessType string `json:"gateAccessType,omitempty"` // "code" | "guard" | "both"
	GateCode       string `json:"gateCode,omitempty"`
	Instructions   string `json:"instructions,omitempty"`
	GuardNotified  bool   `json:"guardNotified,omitempty"`
	Resolution     string `json:"resolution,omitempty"` // "" | "unknown_or_not_given"
	Step           string `json:"step,omitempty"`       // active access-flow question
	FollowUps      int    `json:"followUps,omitempty"`
}

// Booking is the booking-lane state of a session.
type Booking struct {
	ConsentGiven     bool      `json:"consentGiven"`
	ConsentPhrase    string    `json:"consentPhrase,omitempty"`
	ConsentTurn      int       `json:"consentTurn,omitempty"`
	ConsentTimestamp time.Time `json:"consentTimestamp,omitempty"`
	ConsentPending   bool      `json:"consentPending,omitempty"`
	ConsentPendTurn  int       `json:"consentPendingTurn,omitempty"`

	ActiveSlot     string               `json:"activeSlot,omitempty"`
	ActiveSlotType tenant.SlotType      `json:"activeSlotType,omitempty"`
	Meta           map[string]*SlotMeta `json:"meta,omitempty"`
	NameTrace      *NameTrace           `json:"nameTrace,omitempty"`
	Access         AccessInfo           `json:"access,omitempty"`

	CompletedAt      time.Time          `json:"completedAt,omitempty"`
	BookingRequestID string             `json:"bookingRequestId,omitempty"`
	OutcomeMode      tenant.OutcomeMode `json:"outcomeMode,omitempty"`
}

// MetaFor returns the SlotMeta for slotID, creating it if absent.
func (b *Booking) MetaFor(slotID string) *SlotMeta {
	if b.Meta == nil {
		b.Meta = make(map[string]*SlotMeta)
	}
	m, ok := b.Meta[slotID]
	if !ok {
		m = &SlotMeta{}
		b.Meta[slotID] = m
	}
	return m
}

// Discovery accumulates what the caller has told us about the problem.
type Discovery struct {
	Issue                   string  `json:"issue,omitempty"`
	Urgency                 Urgency `json:"urgency,omitempty"`
	TechMentioned           string  `json:"techMentioned,omitempty"`
	Tenure                  string  `json:"tenure,omitempty"`
	Temperature             string  `json:"temperature,omitempty"`
	Equipment               string  `json:"equipment,omitempty"`
	TurnCount               int     `json:"turnCount"`
	OfferedScheduling       bool    `json:"offeredScheduling"`
	AskedClarifyingQuestion bool    `json:"askedClarifyingQuestion"`
}

// Locks are monotonic per-session invariants. Once true, never reset.
type Locks struct {
	Greeted        bool            `json:"greeted"`
	IssueCaptured  bool            `json:"issueCaptured"`
	BookingStarted bool            `json:"bookingStarted"`
	BookingLocked  bool            `json:"bookingLocked"`
	AskedSlots     map[string]bool `json:"askedSlots,omitempty"`
}

// MarkAsked records that the agent asked for slotID at least once.
func (l *Locks) MarkAsked(slotID string) {
	if l.AskedSlots == nil {
		l.AskedSlots = make(map[string]bool)
	}
	l.AskedSlots[slotID] = true
}

// Memory is advisory conversational context; nothing here gates routing.
type Memory struct {
	RollingSummary     string            `json:"rollingSummary,omitempty"`
	Facts              map[string]string `json:"facts,omitempty"`
	AcknowledgedClaims []string          `json:"acknowledgedClaims,omitempty"`
	LastUserIntent     string            `json:"lastUserIntent,omitempty"`
}

// Metrics are per-session counters used by intercepts and reporting.
type Metrics struct {
	TotalTurns   int `json:"totalTurns"`
	SilenceCount int `json:"silenceCount"`
}

// Flags are detection-trigger booleans derived from tenant-configured
// phrase lists at the top of each turn. They are recomputed per turn and
// persisted for audit only.
type Flags struct {
	WantsBooking       bool `json:"wantsBooking,omitempty"`
	DescribingProblem  bool `json:"describingProblem,omitempty"`
	TrustConcern       bool `json:"trustConcern,omitempty"`
	RefusedSlot        bool `json:"refusedSlot,omitempty"`
	CallerFeelsIgnored bool `json:"callerFeelsIgnored,omitempty"`
}

// Session is one continuous conversation on one channel.
type Session struct {
	ID        string         `json:"id"`
	CompanyID string         `json:"companyId"`
	Channel   tenant.Channel `json:"channel"`

	// Identifier is the channel-specific lookup key: call SID for voice,
	// phone number for SMS, generated token for web and test.
	Identifier string `json:"identifier"`

	Mode  Mode  `json:"mode"`
	Phase Phase `json:"phase"`

	CollectedSlots map[string]string `json:"collectedSlots,omitempty"`

	// CandidateSlots holds values extracted before booking was active and
	// before the agent asked for them. They are promoted into
	// CollectedSlots when the slot persistence gate opens.
	CandidateSlots map[string]string `json:"candidateSlots,omitempty"`

	Booking   Booking   `json:"booking"`
	Discovery Discovery `json:"discovery"`
	Locks     Locks     `json:"locks"`
	Memory    Memory    `json:"memory"`
	Turns     []Turn    `json:"turns,omitempty"`

	LastAgentIntent AgentIntent `json:"lastAgentIntent,omitempty"`
	Metrics         Metrics     `json:"metrics"`
	Flags           Flags       `json:"flags"`

	CallerPhone string `json:"callerPhone,omitempty"`
	CallSID     string `json:"callSid,omitempty"`
	CustomerID  string `json:"customerId,omitempty"`

	// Version supports optimistic concurrency at save time.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SlotValue returns the collected value for slotID, or "".
func (s *Session) SlotValue(slotID string) string {
	if s.CollectedSlots == nil {
		return ""
	}
	return s.CollectedSlots[slotID]
}

// SetSlot writes a collected slot value.
func (s *Session) SetSlot(slotID, value string) {
	if s.CollectedSlots == nil {
		s.CollectedSlots = make(map[string]string)
	}
	s.CollectedSlots[slotID] = value
}

// SetCandidate stores an ephemeral pre-gate slot value.
func (s *Session) SetCandidate(slotID, value string) {
	if s.CandidateSlots == nil {
		s.CandidateSlots = make(map[string]string)
	}
	s.CandidateSlots[slotID] = value
}

// PromoteCandidates moves any candidate values into CollectedSlots without
// overwriting values collected through the booking flow.
func (s *Session) PromoteCandidates() {
	for id, v := range s.CandidateSlots {
		if s.SlotValue(id) == "" {
			s.SetSlot(id, v)
		}
	}
	s.CandidateSlots = nil
}

// LastAgentText returns the text of the most recent assistant turn, or "".
func (s *Session) LastAgentText() string {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == "assistant" {
			return s.Turns[i].Text
		}
	}
	return ""
}

// AppendTurn records an utterance on the transcript.
func (s *Session) AppendTurn(role, text, source string, tokens int) {
	s.Turns = append(s.Turns, Turn{
		Role:       role,
		Text:       text,
		Timestamp:  time.Now().UTC(),
		TokensUsed: tokens,
		Source:     source,
	})
}

// TransitionMode advances the session mode, honouring monotonicity: once
// booking has started the mode never regresses to discovery, and COMPLETE
// is terminal except for the explicit new-booking reset (which callers
// perform via [Session.ResetForNewBooking]).
func (s *Session) TransitionMode(next Mode) {
	if s.Mode == ModeComplete && next != ModeComplete {
		return
	}
	if s.Locks.BookingStarted && next == ModeDiscovery {
		return
	}
	s.Mode = next
	s.Phase = PhaseFor(next)
	if next == ModeBooking {
		s.Locks.BookingStarted = true
	}
}

// ResetForNewBooking starts a fresh booking lane after an explicit
// "new booking" request in COMPLETE mode. The greeted lock and transcript
// survive; slot state and booking locks reset.
func (s *Session) ResetForNewBooking() {
	s.Mode = ModeDiscovery
	s.Phase = PhaseDiscovery
	s.CollectedSlots = nil
	s.CandidateSlots = nil
	s.Booking = Booking{}
	s.Locks.BookingStarted = false
	s.Locks.BookingLocked = false
	s.Locks.AskedSlots = nil
	s.Discovery.OfferedScheduling = false
}

// BackfillLocks reconstructs lock state for sessions persisted before a
// lock existed, or restored from partial saves. Locks only ever gain truth.
func (s *Session) BackfillLocks() {
	if len(s.Turns) > 0 {
		s.Locks.Greeted = true
	}
	if s.Discovery.Issue != "" {
		s.Locks.IssueCaptured = true
	}
	if s.Mode == ModeBooking || s.Booking.ConsentGiven {
		s.Locks.BookingStarted = true
	}
}
