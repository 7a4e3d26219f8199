// Package tenant defines the per-company configuration model consumed by the
// conversation core, the traced config reader, and the hot-config cache.
//
// Every prompt string the agent speaks is tenant-editable. The core therefore
// treats a [Company] as an immutable value for the duration of one turn:
// loaded (usually from cache) at the top of the turn pipeline and never
// mutated. Admin-surface writes go to the document store and invalidate the
// cache; they are outside this module.
package tenant

import "strings"

// Channel identifies the conversation transport a session arrived on.
type Channel string

const (
	ChannelVoice   Channel = "voice"
	ChannelSMS     Channel = "sms"
	ChannelWebsite Channel = "website"
	ChannelTest    Channel = "test"
)

// IsValid reports whether c is a recognised channel.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelVoice, ChannelSMS, ChannelWebsite, ChannelTest:
		return true
	}
	return false
}

// NormalizeChannel maps adapter channel aliases onto the canonical storage
// channel. Telephony adapters send "phone"; the test console sends "test";
// both are stored as voice-like sessions keyed by their own identifier.
func NormalizeChannel(raw string) Channel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "phone", "voice":
		return ChannelVoice
	case "sms", "text":
		return ChannelSMS
	case "website", "web", "webchat":
		return ChannelWebsite
	case "test", "console":
		return ChannelTest
	default:
		return Channel(strings.ToLower(raw))
	}
}

// SlotType discriminates the per-slot state machine used to collect a value.
type SlotType string

const (
	SlotName    SlotType = "name"
	SlotPhone   SlotType = "phone"
	SlotAddress SlotType = "address"
	SlotTime    SlotType = "time"
	SlotEmail   SlotType = "email"
	SlotCustom  SlotType = "custom"
)

// IsValid reports whether t is a recognised slot type.
func (t SlotType) IsValid() bool {
	switch t {
	case SlotName, SlotPhone, SlotAddress, SlotTime, SlotEmail, SlotCustom:
		return true
	}
	return false
}

// Company is the full tenant configuration document. It is read-only per
// turn; the orchestrator must never write through it.
type Company struct {
	ID           string   `json:"companyId"`
	Name         string   `json:"name"`
	Trade        string   `json:"trade"`
	ServiceAreas []string `json:"serviceAreas"`

	FrontDesk FrontDeskBehavior `json:"frontDeskBehavior"`

	Calendar CalendarConfig `json:"calendarConfig"`
	SMS      SMSConfig      `json:"smsConfig"`
}

// FrontDeskBehavior groups every conversational knob a tenant can turn.
type FrontDeskBehavior struct {
	BookingSlots       []BookingSlot      `json:"bookingSlots"`
	Stages             ConversationStages `json:"conversationStages"`
	DetectionTriggers  DetectionTriggers  `json:"detectionTriggers"`
	DiscoveryConsent   DiscoveryConsent   `json:"discoveryConsent"`
	NameVariants       NameVariants       `json:"nameSpellingVariants"`
	FastPathBooking    FastPathBooking    `json:"fastPathBooking"`
	BookingOutcome     BookingOutcome     `json:"bookingOutcome"`
	Escalation         Escalation         `json:"escalation"`
	LoopPrevention     LoopPrevention     `json:"loopPrevention"`
	AccessFlow         AccessFlow         `json:"accessFlow"`
	SilencePrompts     []string           `json:"silencePrompts"`
	MaxSilenceCount    int                `json:"maxSilenceCount"`
	BookingAbortPhrase []string           `json:"bookingAbortPhrases"`
	AbortScript        string             `json:"abortScript"`
	ResumeBookingBlock string             `json:"resumeBookingBlock"`
	DiscoveryFlowSteps []string           `json:"discoveryFlowSteps"`
	Vocabulary         CallerVocabulary   `json:"callerVocabulary"`
	FillerWords        FillerWords        `json:"fillerWords"`
	NameStopWords      []string           `json:"nameStopWords"`
	CommonFirstNames   []string           `json:"commonFirstNames"`
	STTProtectedWords  []string           `json:"sttProtectedWords"`
}

// HasDiscoveryFlow reports whether the tenant runs the owner-priority
// discovery lane (discovery-flow steps configured). When true, consent
// detection sets a scheduling-accepted signal instead of locking booking
// mode immediately.
func (b FrontDeskBehavior) HasDiscoveryFlow() bool {
	return len(b.DiscoveryFlowSteps) > 0
}

// SlotByID returns the booking slot definition with the given id, or nil.
func (b FrontDeskBehavior) SlotByID(id string) *BookingSlot {
	for i := range b.BookingSlots {
		if b.BookingSlots[i].ID == id {
			return &b.BookingSlots[i]
		}
	}
	return nil
}

// BookingSlot is one ordered slot definition in the tenant's booking flow.
// Field availability depends on Type; unrelated fields are ignored by the
// sub-flow for other types.
type BookingSlot struct {
	ID              string   `json:"slotId"`
	Type            SlotType `json:"type"`
	Question        string   `json:"question"`
	ConfirmPrompt   string   `json:"confirmPrompt"`
	RepromptVariant []string `json:"repromptVariants"`
	Required        bool     `json:"required"`
	ConfirmBack     bool     `json:"confirmBack"`

	// Name-type options.
	AskFullName        bool   `json:"askFullName"`
	AskMissingNamePart bool   `json:"askMissingNamePart"`
	ConfirmSpelling    bool   `json:"confirmSpelling"`
	FirstNameQuestion  string `json:"firstNameQuestion"`
	LastNameQuestion   string `json:"lastNameQuestion"`

	// Phone-type options.
	OfferCallerID    bool   `json:"offerCallerId"`
	CallerIDPrompt   string `json:"callerIdPrompt"`
	AcceptTextMe     bool   `json:"acceptTextMe"`
	BreakDownUnclear bool   `json:"breakDownIfUnclear"`
	AreaCodePrompt   string `json:"areaCodePrompt"`
	RestOfNumberAsk  string `json:"restOfNumberPrompt"`
	OfferToSendText  bool   `json:"offerToSendText"`

	// Address-type options.
	CityPrompt           string   `json:"cityPrompt"`
	ZipPrompt            string   `json:"zipPrompt"`
	PartialAddressPrompt string   `json:"partialAddressPrompt"`
	AddressConfirmLevel  string   `json:"addressConfirmLevel"` // "full" | "street_only"
	AcceptPartialAddress bool     `json:"acceptPartialAddress"`
	UseMapsValidation    bool     `json:"useGoogleMapsValidation"`
	UnitNumberMode       string   `json:"unitNumberMode"` // "never" | "detect" | "always"
	UnitPromptVariants   []string `json:"unitPromptVariants"`

	// Time-type options.
	OfferAsap             bool   `json:"offerAsap"`
	AsapPhrase            string `json:"asapPhrase"`
	OfferMorningAfternoon bool   `json:"offerMorningAfternoon"`

	// Email-type options.
	SpellOutEmail bool `json:"spellOutEmail"`

	MidCallRules []MidCallRule `json:"midCallRules"`
}

// MidCallRule answers an off-script caller remark during booking and steers
// the conversation back to the active slot question.
type MidCallRule struct {
	Trigger          string `json:"trigger"`
	ResponseTemplate string `json:"responseTemplate"`
	CooldownTurns    int    `json:"cooldown"`
	MaxPerCall       int    `json:"maxPerCall"`
	Action           string `json:"action"` // "continue" | "escalate"
}

// ConversationStages holds stage-scoped scripted rules.
type ConversationStages struct {
	GreetingRules []GreetingRule `json:"greetingRules"`
}

// FillerWords extends the built-in filler list with tenant-specific words.
type FillerWords struct {
	Custom []string `json:"custom"`
}

// GreetingRule maps a caller greeting onto a tenant-scripted response.
// Fuzzy rules tolerate STT noise via Jaro-Winkler similarity.
type GreetingRule struct {
	Trigger  string `json:"trigger"`
	Response string `json:"response"`
	Fuzzy    bool   `json:"fuzzy"`
}

// DetectionTriggers holds tenant-configured phrase lists that raise
// detection flags on the session.
type DetectionTriggers struct {
	WantsBooking         []string `json:"wantsBooking"`
	DescribingProblem    []string `json:"describingProblem"`
	TrustConcern         []string `json:"trustConcern"`
	RefusedSlot          []string `json:"refusedSlot"`
	CallerFeelsIgnored   []string `json:"callerFeelsIgnored"`
	ImplicitConsent      []string `json:"implicitConsentPhrases"`
	DirectIntentPatterns []string `json:"directIntentPatterns"`
}

// DiscoveryConsent controls the consent gate between discovery and booking.
type DiscoveryConsent struct {
	BookingRequiresExplicitConsent bool                `json:"bookingRequiresExplicitConsent"`
	ForceLLMDiscovery              bool                `json:"forceLLMDiscovery"`
	DisableScenarioAutoResponses   bool                `json:"disableScenarioAutoResponses"`
	AutoReplyAllowedScenarioTypes  []string            `json:"autoReplyAllowedScenarioTypes"`
	ConsentPhrases                 []string            `json:"consentPhrases"`
	ConsentYesWords                []string            `json:"consentYesWords"`
	ConsentRequiresYesAfterPrompt  bool                `json:"consentRequiresYesAfterPrompt"`
	MinDiscoveryFieldsBeforeOffer  []string            `json:"minDiscoveryFieldsBeforeConsent"`
	AutoInjectConsentInScenarios   bool                `json:"autoInjectConsentInScenarios"`
	ConsentQuestionTemplate        string              `json:"consentQuestionTemplate"`
	ClarifyingQuestions            ClarifyingQuestions `json:"clarifyingQuestions"`
	IssueCaptureMinConfidence      float64             `json:"issueCaptureMinConfidence"`
	TechNameExcludeWords           []string            `json:"techNameExcludeWords"`
	MaxDiscoveryTurns              int                 `json:"maxDiscoveryTurns"`
}

// ClarifyingQuestions enables a single clarifying question when the caller's
// issue description matches a vague pattern.
type ClarifyingQuestions struct {
	Enabled       bool     `json:"enabled"`
	VaguePatterns []string `json:"vaguePatterns"`
}

// NameVariants configures the once-per-call spelling-variant disambiguation
// (Mark/Marc, Brian/Bryan).
type NameVariants struct {
	Enabled        bool                `json:"enabled"`
	Mode           string              `json:"mode"`   // "1_char_only" | "any_variant"
	Source         string              `json:"source"` // "curated_list" | "auto_scan"
	VariantGroups  map[string][]string `json:"variantGroups"`
	PrecomputedMap map[string][]string `json:"precomputedVariantMap"`
	MaxAsksPerCall int                 `json:"maxAsksPerCall"`
	Script         string              `json:"script"`
}

// FastPathBooking detects strong booking intent ("send someone", "ASAP")
// and offers scheduling without further discovery turns.
type FastPathBooking struct {
	Enabled               bool     `json:"enabled"`
	TriggerKeywords       []string `json:"triggerKeywords"`
	OfferScript           string   `json:"offerScript"`
	OneQuestionScript     string   `json:"oneQuestionScript"`
	MaxDiscoveryQuestions int      `json:"maxDiscoveryQuestions"`
}

// OutcomeMode selects how a finished booking is handed off.
type OutcomeMode string

const (
	OutcomeConfirmedOnCall     OutcomeMode = "confirmed_on_call"
	OutcomePendingDispatch     OutcomeMode = "pending_dispatch"
	OutcomeCallbackRequired    OutcomeMode = "callback_required"
	OutcomeTransferToScheduler OutcomeMode = "transfer_to_scheduler"
	OutcomeAfterHoursHold      OutcomeMode = "after_hours_hold"

	// OutcomeMessageTaken is recorded when the caller aborts a booking
	// mid-flow. It is a session outcome, not a configurable tenant mode.
	OutcomeMessageTaken OutcomeMode = "message_taken"
)

// IsValid reports whether m is a recognised outcome mode.
func (m OutcomeMode) IsValid() bool {
	switch m {
	case OutcomeConfirmedOnCall, OutcomePendingDispatch, OutcomeCallbackRequired,
		OutcomeTransferToScheduler, OutcomeAfterHoursHold, OutcomeMessageTaken:
		return true
	}
	return false
}

// BookingOutcome maps the finalization mode onto tenant response scripts.
type BookingOutcome struct {
	Mode              OutcomeMode            `json:"mode"`
	FinalScripts      map[OutcomeMode]string `json:"finalScripts"`
	AsapVariantScript string                 `json:"asapVariantScript"`
	UseAsapVariant    bool                   `json:"useAsapVariant"`
	CustomFinalScript string                 `json:"customFinalScript"`
}

// Escalation configures the human-transfer intercept.
type Escalation struct {
	Enabled         bool     `json:"enabled"`
	TriggerPhrases  []string `json:"triggerPhrases"`
	TransferMessage string   `json:"transferMessage"`
	OfferMessage    string   `json:"offerMessage"`
}

// LoopPrevention bounds how many times the same slot question may repeat.
type LoopPrevention struct {
	Enabled         bool   `json:"enabled"`
	MaxSameQuestion int    `json:"maxSameQuestion"`
	RephraseIntro   string `json:"rephraseIntro"`
	OnLoop          string `json:"onLoop"` // "rephrase" | "escalate"
}

// AccessFlow is the post-address sub-dialogue for property type, unit,
// gate codes, and access instructions. Scoped to field-service trades.
type AccessFlow struct {
	Enabled              bool     `json:"enabled"`
	TradeApplicability   []string `json:"tradeApplicability"`
	PropertyTypeEnabled  bool     `json:"propertyTypeEnabled"`
	PropertyTypeQuestion string   `json:"propertyTypeQuestion"`
	UnitQuestion         string   `json:"unitQuestion"`
	GatedQuestion        string   `json:"gatedQuestion"`
	GateAccessTypeAsk    string   `json:"gateAccessTypeQuestion"`
	GateCodeQuestion     string   `json:"gateCodeQuestion"`
	GateGuardNotify      string   `json:"gateGuardNotifyPrompt"`
	AccessInstructionAsk string   `json:"accessInstructionQuestion"`
	MaxFollowUps         int      `json:"maxFollowUps"`
}

// AppliesTo reports whether the access flow is active for the given trade.
// An empty applicability list means all trades.
func (a AccessFlow) AppliesTo(trade string) bool {
	if !a.Enabled {
		return false
	}
	if len(a.TradeApplicability) == 0 {
		return true
	}
	for _, t := range a.TradeApplicability {
		if strings.EqualFold(t, trade) {
			return true
		}
	}
	return false
}

// CallerVocabulary maps trade slang onto canonical terms before extraction.
type CallerVocabulary struct {
	SynonymMap map[string]string `json:"synonymMap"`
}

// CalendarConfig enables the calendar side effect for finalized bookings.
type CalendarConfig struct {
	Enabled    bool   `json:"enabled"`
	CalendarID string `json:"calendarId"`
	TimeZone   string `json:"timeZone"`
	DefaultDur int    `json:"defaultDurationMinutes"`
}

// SMSConfig enables confirmation and reminder texts for finalized bookings.
type SMSConfig struct {
	Enabled            bool   `json:"enabled"`
	FromNumber         string `json:"fromNumber"`
	QuietHoursStart    int    `json:"quietHoursStart"`
	QuietHoursEnd      int    `json:"quietHoursEnd"`
	ReminderLeadMin    int    `json:"reminderLeadMinutes"`
	ConfirmationScript string `json:"confirmationScript"`
	ReminderScript     string `json:"reminderScript"`
}
