// Package turn implements the top-level turn orchestrator: one entry point
// (ProcessTurn) that channel adapters call per caller utterance. The
// pipeline runs in strict order — preprocess, deterministic intercepts,
// detection flags, booking-intent evaluation, discovery extraction, the
// slot persistence gate, mode routing, persistence, audit — and any failure
// along the way is contained into a smart fallback reply; the caller never
// hears about a technical problem.
//
// Turns are parallel across sessions and serialized within a session via a
// keyed mutex; session saves additionally use optimistic versioning, and a
// version conflict retries the whole turn once (safe: the pipeline performs
// no external side effects before save, and finalization is idempotent).
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/relaydesk/relaydesk/internal/assist"
	"github.com/relaydesk/relaydesk/internal/blackbox"
	"github.com/relaydesk/relaydesk/internal/booking"
	"github.com/relaydesk/relaydesk/internal/consent"
	"github.com/relaydesk/relaydesk/internal/extract"
	"github.com/relaydesk/relaydesk/internal/intercept"
	"github.com/relaydesk/relaydesk/internal/observe"
	"github.com/relaydesk/relaydesk/internal/render"
	"github.com/relaydesk/relaydesk/internal/scenario"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// Response tiers. Tier 1 is deterministic (intercepts, booking flow),
// tier 1.5 is a scenario answer, tier 2 is the LLM.
const (
	TierIntercept = "tier1"
	TierScenario  = "tier1.5"
	TierLLM       = "tier2"
)

// Match-source labels owned by the orchestrator itself.
const (
	SourceSchedulingOffer    = "SCHEDULING_OFFER"
	SourceFastPathOffer      = "FAST_PATH_OFFER"
	SourceFastPathQuestion   = "FAST_PATH_QUESTION"
	SourceClarifyingQuestion = "CLARIFYING_QUESTION"
	SourceBookingFinalized   = "BOOKING_FINALIZED"
	SourceNewBookingReset    = "NEW_BOOKING_RESET"
	SourceSmartFallback      = "SMART_FALLBACK"
)

// auditErrorSource marks audit records written by the error-containment
// path.
const auditErrorSource = "SCENARIO_RENDER_ERROR"

const (
	defaultTopK      = 5
	defaultThreshold = scenario.DefaultThreshold
)

// freshPrefix on an inbound session id forces a new session.
const freshPrefix = "fresh-"

// CompanySource loads tenant configuration. The production implementation
// is the redis-backed [tenant.Cache].
type CompanySource interface {
	Get(ctx context.Context, companyID string) (*tenant.Company, error)
}

// Customers looks up returning callers by phone so the first turn can
// prefill {callerName} and answer technician-history questions. Optional.
type Customers interface {
	Lookup(ctx context.Context, companyID, phone string) (name, lastTech string, err error)
}

// Input is one channel-adapter request.
type Input struct {
	CompanyID string `json:"companyId"`
	Channel   string `json:"channel"`
	UserText  string `json:"userText"`

	SessionID   string `json:"sessionId,omitempty"`
	CallerPhone string `json:"callerPhone,omitempty"`
	CallSID     string `json:"callSid,omitempty"`

	ForceNewSession       bool `json:"forceNewSession,omitempty"`
	BookingConsentPending bool `json:"bookingConsentPending,omitempty"`
	IncludeDebug          bool `json:"includeDebug,omitempty"`
}

// Signals are orchestrator outputs the channel adapter folds into its own
// external state.
type Signals struct {
	DeferToBookingRunner  bool `json:"deferToBookingRunner,omitempty"`
	SchedulingAccepted    bool `json:"schedulingAccepted,omitempty"`
	BookingModeLocked     bool `json:"bookingModeLocked,omitempty"`
	BookingConsentPending bool `json:"bookingConsentPending,omitempty"`
}

// Output is the orchestrator's response for one turn.
type Output struct {
	Success   bool   `json:"success"`
	Reply     string `json:"reply"`
	SessionID string `json:"sessionId,omitempty"`

	Phase            string `json:"phase,omitempty"`
	Mode             string `json:"mode,omitempty"`
	ConversationMode string `json:"conversationMode,omitempty"`

	SlotsCollected map[string]string `json:"slotsCollected,omitempty"`
	WantsBooking   bool              `json:"wantsBooking,omitempty"`

	MatchSource string `json:"matchSource,omitempty"`
	Tier        string `json:"tier,omitempty"`
	LatencyMs   int64  `json:"latencyMs"`
	TokensUsed  int    `json:"tokensUsed,omitempty"`

	RequiresTransfer bool   `json:"requiresTransfer,omitempty"`
	TransferReason   string `json:"transferReason,omitempty"`

	Signals Signals        `json:"signals"`
	Debug   map[string]any `json:"debug,omitempty"`
}

// Processor is the turn orchestrator. Safe for concurrent use.
type Processor struct {
	companies CompanySource
	sessions  session.Store
	retriever scenario.Retriever
	assist    *assist.Assist
	finalizer *booking.Finalizer
	audit     blackbox.Appender

	customers Customers
	validator booking.AddressValidator
	metrics   *observe.Metrics
	log       *slog.Logger
	locks     *KeyedMutex

	threshold     float64
	topK          int
	bannedPhrases []string
	now           func() time.Time
}

// Option configures a [Processor].
type Option func(*Processor)

// WithCustomers enables returning-caller prefill.
func WithCustomers(c Customers) Option {
	return func(p *Processor) { p.customers = c }
}

// WithAddressValidator sets the booking controller's address validator.
func WithAddressValidator(v booking.AddressValidator) Option {
	return func(p *Processor) { p.validator = v }
}

// WithMetrics overrides the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithScenarioThreshold overrides the tier-1.5 confidence floor.
func WithScenarioThreshold(t float64) Option {
	return func(p *Processor) { p.threshold = t }
}

// WithTopK overrides how many scenario candidates are retrieved.
func WithTopK(k int) Option {
	return func(p *Processor) { p.topK = k }
}

// WithBannedPhrases sets the global compliance banned-phrase list.
func WithBannedPhrases(phrases []string) Option {
	return func(p *Processor) { p.bannedPhrases = phrases }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// NewProcessor wires the orchestrator. audit may be nil (records are then
// dropped); assistant must not be nil.
func NewProcessor(
	companies CompanySource,
	sessions session.Store,
	retriever scenario.Retriever,
	assistant *assist.Assist,
	finalizer *booking.Finalizer,
	audit blackbox.Appender,
	log *slog.Logger,
	opts ...Option,
) *Processor {
	if log == nil {
		log = slog.Default()
	}
	p := &Processor{
		companies: companies,
		sessions:  sessions,
		retriever: retriever,
		assist:    assistant,
		finalizer: finalizer,
		audit:     audit,
		log:       log,
		locks:     NewKeyedMutex(),
		threshold: defaultThreshold,
		topK:      defaultTopK,
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// turnState accumulates one attempt's progress so the error-containment
// path can see how far the pipeline got.
type turnState struct {
	in      Input
	channel tenant.Channel
	company *tenant.Company
	started time.Time
	attempt int

	sess   *session.Session
	rec    *blackbox.Record
	reader *tenant.Reader
	text   string
	turn   int

	describing      bool
	consentRes      consent.Result
	scenarioMatched bool
	signals         Signals

	reply       string
	matchSource string
	tier        string
	source      string
	tokens      int
	transfer    bool
	transferWhy string
}

// ProcessTurn runs the full pipeline for one caller utterance.
func (p *Processor) ProcessTurn(ctx context.Context, in Input) *Output {
	started := p.now()
	channel := tenant.NormalizeChannel(in.Channel)
	if in.CompanyID == "" || !channel.IsValid() {
		return &Output{
			Success:   false,
			Reply:     "",
			LatencyMs: p.sinceMs(started),
		}
	}

	company, err := p.companies.Get(ctx, in.CompanyID)
	if err != nil {
		p.log.Error("tenant config load failed", "companyId", in.CompanyID, "error", err)
		st := &turnState{in: in, channel: channel, started: started}
		return p.smartFallback(ctx, st, err)
	}

	unlock := p.locks.Lock(p.lockKey(in, channel))
	defer unlock()

	var out *Output
	for attempt := 0; attempt < 2; attempt++ {
		var conflict bool
		out, conflict = p.attempt(ctx, in, channel, company, started, attempt)
		if !conflict {
			break
		}
		p.metrics.SaveConflicts.Add(ctx, 1)
	}
	return out
}

func (p *Processor) lockKey(in Input, channel tenant.Channel) string {
	id := in.SessionID
	if id == "" {
		id = in.CallSID
	}
	if id == "" {
		id = in.CallerPhone
	}
	return in.CompanyID + "|" + string(channel) + "|" + id
}

// attempt runs one full pipeline pass. conflict is true only for a session
// version conflict at save, which the caller retries.
func (p *Processor) attempt(ctx context.Context, in Input, channel tenant.Channel, company *tenant.Company, started time.Time, attemptNo int) (out *Output, conflict bool) {
	st := &turnState{
		in:      in,
		channel: channel,
		company: company,
		started: started,
		attempt: attemptNo,
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("turn pipeline panic",
				"companyId", in.CompanyID,
				"sessionId", in.SessionID,
				"panic", r,
				"stack", string(debug.Stack()))
			out = p.smartFallback(ctx, st, fmt.Errorf("panic: %v", r))
			conflict = false
		}
	}()

	if err := p.loadSession(ctx, st); err != nil {
		return p.smartFallback(ctx, st, err), false
	}

	sess := st.sess
	prevMode := sess.Mode
	st.turn = sess.Metrics.TotalTurns + 1
	sess.Metrics.TotalTurns = st.turn

	st.rec = blackbox.NewRecord(company.ID, string(channel), sess.ID, st.turn)
	st.rec.CallID = in.CallSID
	st.rec.PreviousMode = prevMode

	reader, err := tenant.NewReader(company)
	if err != nil {
		p.log.Warn("tenant reader unavailable for turn",
			"companyId", company.ID, "error", err)
	}
	st.reader = reader

	if in.BookingConsentPending {
		sess.Booking.ConsentPending = true
	}

	// Preprocess. May leave empty text — the silence intercept owns that.
	pre := extract.NewPreprocessor(
		company.FrontDesk.FillerWords.Custom,
		company.FrontDesk.Vocabulary.SynonymMap,
		company.FrontDesk.STTProtectedWords,
	)
	st.text = pre.Apply(in.UserText)

	ip := intercept.Params{
		Text:        st.text,
		Session:     sess,
		Behavior:    company.FrontDesk,
		CompanyName: company.Name,
		Now:         p.now(),
	}
	if r, ok := intercept.Evaluate(ip); ok {
		st.reply = r.Reply
		st.matchSource = r.MatchSource
		st.tier = TierIntercept
		st.source = "intercept"
		st.transfer = r.RequiresTransfer
		if r.RequiresTransfer {
			st.transferWhy = r.MatchSource
			sess.LastAgentIntent = session.IntentTransfer
		}
		return p.finish(ctx, st)
	}

	sess.BackfillLocks()
	p.setFlags(sess, st.text, company.FrontDesk.DetectionTriggers)

	p.evaluateBookingIntent(ctx, st)

	// Second meta-intent pass: booking-intent evaluation may have promoted
	// candidate slots that slot-query intercepts can now read back.
	if r, ok := intercept.MetaIntent(ip); ok {
		st.reply = r.Reply
		st.matchSource = r.MatchSource
		st.tier = TierIntercept
		st.source = "intercept"
		return p.finish(ctx, st)
	}

	st.describing = extract.UpdateDiscovery(st.text, &sess.Discovery, extract.DiscoveryOptions{
		DescribingProblem:    company.FrontDesk.DetectionTriggers.DescribingProblem,
		TechNameExcludeWords: company.FrontDesk.DiscoveryConsent.TechNameExcludeWords,
	})
	if st.describing {
		sess.Locks.IssueCaptured = true
	}

	if sess.Mode != session.ModeBooking {
		p.captureSlots(sess, company, st.text)
	}

	p.route(ctx, st)
	return p.finish(ctx, st)
}

func (p *Processor) loadSession(ctx context.Context, st *turnState) error {
	in := st.in
	sessionID := in.SessionID
	forceNew := in.ForceNewSession
	if strings.HasPrefix(sessionID, freshPrefix) {
		sessionID = ""
		forceNew = true
	}

	identifier := in.CallSID
	if identifier == "" {
		identifier = in.CallerPhone
	}

	sess, err := p.sessions.GetOrCreate(ctx, session.GetOrCreateParams{
		CompanyID:   in.CompanyID,
		Channel:     st.channel,
		Identifier:  identifier,
		SessionID:   sessionID,
		CallerPhone: in.CallerPhone,
		CallSID:     in.CallSID,
		ForceNew:    forceNew,
	})
	if err != nil {
		return fmt.Errorf("turn: load session: %w", err)
	}
	st.sess = sess

	if len(sess.Turns) == 0 {
		p.prefillCustomer(ctx, st)
	}
	return nil
}

// prefillCustomer seeds a new session from the customer record of a
// returning caller. Lookup misses are expected and silent.
func (p *Processor) prefillCustomer(ctx context.Context, st *turnState) {
	if p.customers == nil || st.in.CallerPhone == "" {
		return
	}
	name, lastTech, err := p.customers.Lookup(ctx, st.company.ID, st.in.CallerPhone)
	if err != nil {
		return
	}
	if name != "" {
		for _, slot := range st.company.FrontDesk.BookingSlots {
			if slot.Type == tenant.SlotName {
				st.sess.SetCandidate(slot.ID, name)
				break
			}
		}
	}
	if lastTech != "" && st.sess.Discovery.TechMentioned == "" {
		st.sess.Discovery.TechMentioned = lastTech
	}
}

func (p *Processor) setFlags(sess *session.Session, text string, trig tenant.DetectionTriggers) {
	hit := func(phrases []string) bool {
		_, ok := extract.ContainsAnyFold(text, phrases)
		return ok
	}
	f := &sess.Flags
	f.WantsBooking = f.WantsBooking || hit(trig.WantsBooking)
	f.DescribingProblem = hit(trig.DescribingProblem)
	f.TrustConcern = hit(trig.TrustConcern)
	f.RefusedSlot = hit(trig.RefusedSlot)
	f.CallerFeelsIgnored = hit(trig.CallerFeelsIgnored)
}

// evaluateBookingIntent runs the consent gate (step 8). Legacy tenants lock
// booking mode immediately on consent; discovery-flow (V110) tenants only
// raise the schedulingAccepted signal and stay in the discovery lane.
func (p *Processor) evaluateBookingIntent(ctx context.Context, st *turnState) {
	sess := st.sess
	if sess.Mode != session.ModeDiscovery {
		return
	}
	cfg := st.company.FrontDesk

	st.consentRes = consent.Detect(st.text, cfg.DiscoveryConsent, cfg.DetectionTriggers, consent.Context{
		ConsentPending:   sess.Booking.ConsentPending,
		LastAgentText:    sess.LastAgentText(),
		HasDiscoveryFlow: cfg.HasDiscoveryFlow(),
	})
	if !st.consentRes.HasConsent {
		return
	}
	// The tenant-bypass rule fires on any statement; require an actual
	// booking keyword before it opens the lane.
	if st.consentRes.Reason == "tenant_bypass" && !sess.Flags.WantsBooking {
		return
	}

	sess.Booking.ConsentGiven = true
	sess.Booking.ConsentPhrase = st.consentRes.MatchedPhrase
	sess.Booking.ConsentTurn = st.turn
	sess.Booking.ConsentTimestamp = p.now().UTC()
	sess.Booking.ConsentPending = false
	st.rec.Flag(blackbox.FlagConsentGateEnforced)
	p.metrics.ConsentDetections.Add(ctx, 1,
		metric.WithAttributes(observe.Attr("rule", st.consentRes.Reason)))

	if cfg.HasDiscoveryFlow() {
		st.signals.SchedulingAccepted = true
		st.signals.DeferToBookingRunner = true
		return
	}

	sess.TransitionMode(session.ModeBooking)
	sess.Locks.BookingLocked = true
	sess.PromoteCandidates()
	st.signals.BookingModeLocked = true
}

// captureSlots implements the slot persistence gate: outside booking mode,
// extracted phone/address/time values persist only if the agent already
// asked for that slot; otherwise they wait in candidateSlots.
func (p *Processor) captureSlots(sess *session.Session, company *tenant.Company, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	for _, slot := range company.FrontDesk.BookingSlots {
		if sess.SlotValue(slot.ID) != "" {
			continue
		}
		var value string
		switch slot.Type {
		case tenant.SlotPhone:
			value = extract.ExtractPhone(text)
		case tenant.SlotAddress:
			if r := extract.ExtractAddress(text); r != nil && r.HasFull() {
				value = r.Full
			}
		case tenant.SlotTime:
			if r := extract.ExtractTimePreference(text); r != nil {
				value = r.Raw
			}
		}
		if value == "" {
			continue
		}
		if sess.Mode == session.ModeBooking || sess.Locks.AskedSlots[slot.ID] {
			sess.SetSlot(slot.ID, value)
		} else {
			sess.SetCandidate(slot.ID, value)
		}
	}
}

// route dispatches on session mode (step 13) and fills the reply fields.
func (p *Processor) route(ctx context.Context, st *turnState) {
	switch st.sess.Mode {
	case session.ModeComplete:
		p.routeComplete(ctx, st)
	case session.ModeBooking:
		p.routeBooking(ctx, st)
	default:
		p.routeDiscovery(ctx, st)
	}
}

func wantsNewBooking(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range []string{"new booking", "another appointment", "book another", "schedule another", "one more appointment"} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func (p *Processor) routeComplete(ctx context.Context, st *turnState) {
	if wantsNewBooking(st.text) {
		st.sess.ResetForNewBooking()
		st.reply = "Of course — happy to set up another visit. What's going on this time?"
		st.matchSource = SourceNewBookingReset
		st.tier = TierIntercept
		st.source = "orchestrator"
		st.sess.LastAgentIntent = session.IntentDiscovery
		return
	}

	r := p.llmReply(ctx, st, func(ctx context.Context, params assist.Params) assist.Reply {
		return p.assist.PostBooking(ctx, params)
	})
	st.reply = r.Text
	st.matchSource = r.MatchSource
	st.tier = TierLLM
	st.source = "llm"
	st.tokens = r.TokensUsed
}

func (p *Processor) routeBooking(ctx context.Context, st *turnState) {
	sess := st.sess
	company := st.company
	ctrl := booking.NewController(
		company.FrontDesk,
		company.Name,
		company.FrontDesk.NameVariants.PrecomputedMap,
		p.validator,
		p.log,
	)

	// Deterministic read-back of collected values ("what is my last name?")
	// comes before the LLM interruption lane.
	if reply, ok := ctrl.ConfirmationRequest(st.text, sess); ok {
		st.reply = reply
		st.matchSource = booking.SourceConfirmRequest
		st.tier = TierIntercept
		st.source = "booking"
		sess.LastAgentIntent = session.IntentBookingSlotQuestion
		return
	}

	if ctrl.IsInterruption(st.text, sess) {
		r := p.llmReply(ctx, st, func(ctx context.Context, params assist.Params) assist.Reply {
			return p.assist.Interruption(ctx, params)
		})
		reply := r.Text
		if resume := ctrl.ResumeBlock(sess); resume != "" {
			reply = strings.TrimSpace(reply + " " + resume)
		}
		st.reply = reply
		st.matchSource = r.MatchSource
		st.tier = TierLLM
		st.source = "llm"
		st.tokens = r.TokensUsed
		sess.LastAgentIntent = session.IntentBookingSlotQuestion
		return
	}

	res := ctrl.Run(booking.TurnInput{
		Text:        st.text,
		Sess:        sess,
		TurnNumber:  st.turn,
		CallerPhone: st.in.CallerPhone,
		Trade:       company.Trade,
	})

	if res.AllComplete {
		p.finalizeBooking(ctx, st)
		return
	}

	st.reply = res.Reply
	st.matchSource = res.MatchSource
	st.tier = TierIntercept
	st.source = "booking"
	st.transfer = res.RequiresTransfer
	if res.RequiresTransfer {
		st.transferWhy = res.MatchSource
		sess.LastAgentIntent = session.IntentTransfer
	} else if !res.Aborted {
		sess.LastAgentIntent = session.IntentBookingSlotQuestion
	}
}

func (p *Processor) finalizeBooking(ctx context.Context, st *turnState) {
	req, script, err := p.finalizer.Finalize(ctx, st.sess, st.company)
	if err != nil {
		p.log.Error("booking finalize failed",
			"sessionId", st.sess.ID, "error", err)
		// The slots are all collected and saved; recover on a later turn
		// rather than failing the call.
		st.reply = "You're all set on my end — the office will confirm your appointment shortly."
		st.matchSource = SourceBookingFinalized
		st.tier = TierIntercept
		st.source = "booking"
		return
	}
	p.metrics.BookingsFinalized.Add(ctx, 1,
		metric.WithAttributes(observe.Attr("outcome", string(st.company.FrontDesk.BookingOutcome.Mode))))
	p.log.Info("booking finalized",
		"sessionId", st.sess.ID,
		"bookingRequestId", req.ID,
		"caseId", req.CaseID)
	st.reply = script
	st.matchSource = SourceBookingFinalized
	st.tier = TierIntercept
	st.source = "booking"
}

func (p *Processor) routeDiscovery(ctx context.Context, st *turnState) {
	sess := st.sess
	company := st.company
	cfg := company.FrontDesk.DiscoveryConsent
	sess.Discovery.TurnCount++

	if p.fastPathOffer(st) {
		return
	}

	sel := p.runScenarioCascade(ctx, st)
	if sel != nil {
		st.scenarioMatched = true
		st.rec.Flag(blackbox.FlagScenarioContextProvided)
		p.metrics.ScenarioMatches.Add(ctx, 1,
			metric.WithAttributes(observe.Attr("type", sel.Type)))
		st.reply = sel.Reply
		st.matchSource = sel.MatchSource
		st.tier = TierScenario
		st.source = "scenario"
		if sel.ConsentPendingSet {
			st.signals.BookingConsentPending = true
			sess.LastAgentIntent = session.IntentOfferSchedule
		} else {
			sess.LastAgentIntent = session.IntentDiscovery
		}
		return
	}

	if p.clarifyingQuestion(st) {
		return
	}

	// Discovery has gone on long enough: offer scheduling once instead of
	// another open-ended reply.
	if cfg.MaxDiscoveryTurns > 0 &&
		sess.Discovery.TurnCount >= cfg.MaxDiscoveryTurns &&
		!sess.Discovery.OfferedScheduling &&
		!sess.Booking.ConsentGiven {
		offer := p.tenantPrompt(st,
			"frontDeskBehavior.discoveryConsent.consentQuestionTemplate",
			"Would you like me to get a service visit scheduled for you?")
		st.reply = render.Render(offer, p.renderValues(st))
		st.matchSource = SourceSchedulingOffer
		st.tier = TierIntercept
		st.source = "orchestrator"
		sess.Discovery.OfferedScheduling = true
		sess.Booking.ConsentPending = true
		sess.Booking.ConsentPendTurn = st.turn
		sess.LastAgentIntent = session.IntentOfferSchedule
		st.signals.BookingConsentPending = true
		return
	}

	r := p.llmReply(ctx, st, func(ctx context.Context, params assist.Params) assist.Reply {
		return p.assist.Discovery(ctx, params)
	})
	st.reply = r.Text
	st.matchSource = r.MatchSource
	st.tier = TierLLM
	st.source = "llm"
	st.tokens = r.TokensUsed
	sess.LastAgentIntent = session.IntentDiscovery
}

// fastPathOffer short-circuits discovery when the caller's words carry
// strong booking intent ("send someone out"). Under the tenant's discovery
// question budget it asks the single fast-path question first; past it, it
// offers scheduling straight away.
func (p *Processor) fastPathOffer(st *turnState) bool {
	fp := st.company.FrontDesk.FastPathBooking
	sess := st.sess
	if !fp.Enabled || sess.Booking.ConsentGiven || sess.Discovery.OfferedScheduling {
		return false
	}
	if _, ok := extract.ContainsAnyFold(st.text, fp.TriggerKeywords); !ok {
		return false
	}

	if fp.MaxDiscoveryQuestions > 0 &&
		sess.Discovery.TurnCount <= fp.MaxDiscoveryQuestions &&
		sess.Discovery.Issue == "" {
		question := p.tenantPrompt(st,
			"frontDeskBehavior.fastPathBooking.oneQuestionScript",
			"Absolutely — real quick, what's going on so I can send the right tech?")
		st.reply = render.Render(question, p.renderValues(st))
		st.matchSource = SourceFastPathQuestion
		st.tier = TierIntercept
		st.source = "orchestrator"
		sess.LastAgentIntent = session.IntentAskClarification
		return true
	}

	offer := p.tenantPrompt(st,
		"frontDeskBehavior.fastPathBooking.offerScript",
		"I can get someone out to you. Want me to set that up now?")
	st.reply = render.Render(offer, p.renderValues(st))
	st.matchSource = SourceFastPathOffer
	st.tier = TierIntercept
	st.source = "orchestrator"
	sess.Discovery.OfferedScheduling = true
	sess.Booking.ConsentPending = true
	sess.Booking.ConsentPendTurn = st.turn
	sess.LastAgentIntent = session.IntentOfferSchedule
	st.signals.BookingConsentPending = true
	return true
}

// clarifyingQuestion asks one follow-up when the caller's description
// matched a tenant vague pattern ("it's broken") and no specific issue has
// been captured yet. At most once per session.
func (p *Processor) clarifyingQuestion(st *turnState) bool {
	cq := st.company.FrontDesk.DiscoveryConsent.ClarifyingQuestions
	sess := st.sess
	if !cq.Enabled || sess.Discovery.AskedClarifyingQuestion || sess.Locks.IssueCaptured {
		return false
	}
	if _, ok := extract.ContainsAnyFold(st.text, cq.VaguePatterns); !ok {
		return false
	}

	sess.Discovery.AskedClarifyingQuestion = true
	st.reply = "Just so I send the right tech — could you tell me a little more about what's going on?"
	st.matchSource = SourceClarifyingQuestion
	st.tier = TierIntercept
	st.source = "orchestrator"
	sess.LastAgentIntent = session.IntentAskClarification
	return true
}

// tenantPrompt reads a tenant script through the traced config reader so the
// access lands in the turn's audit record.
func (p *Processor) tenantPrompt(st *turnState, path, def string) string {
	if st.reader == nil {
		return def
	}
	return st.reader.Prompt(path, def)
}

// runScenarioCascade retrieves ranked candidates and applies the selection
// cascade. Retrieval failures degrade to the LLM path.
func (p *Processor) runScenarioCascade(ctx context.Context, st *turnState) *scenario.Result {
	if p.retriever == nil || strings.TrimSpace(st.text) == "" {
		return nil
	}
	retStart := p.now()
	candidates, err := p.retriever.Retrieve(ctx, st.company.ID, st.text, p.topK)
	elapsed := p.now().Sub(retStart)
	p.metrics.ScenarioRetrievalDuration.Record(ctx, elapsed.Seconds())
	if err != nil {
		p.log.Warn("scenario retrieval failed",
			"companyId", st.company.ID, "sessionId", st.sess.ID, "error", err)
		return nil
	}

	trace := &blackbox.MatchingTrace{
		CandidateCount: len(candidates),
		TotalPoolSize:  len(candidates),
		MatchMethod:    "vector_cosine",
		TimingMs:       elapsed.Milliseconds(),
	}
	st.rec.Matching = trace
	if len(candidates) > 0 {
		trace.MatchConfidence = candidates[0].Confidence
	}

	sel := scenario.Select(candidates, scenario.Params{
		Text:             st.text,
		Session:          st.sess,
		Consent:          st.company.FrontDesk.DiscoveryConsent,
		Threshold:        p.threshold,
		Values:           p.renderValues(st),
		TurnNumber:       st.turn,
		OwnerPriority:    st.company.FrontDesk.HasDiscoveryFlow(),
		DescribedProblem: st.describing,
	})
	if sel != nil {
		trace.ScenarioIDMatched = sel.ScenarioID
		trace.MatchConfidence = sel.Confidence
	}
	return sel
}

func (p *Processor) llmReply(ctx context.Context, st *turnState, call func(context.Context, assist.Params) assist.Reply) assist.Reply {
	llmStart := p.now()
	r := call(ctx, assist.Params{
		Company:  st.company,
		Session:  st.sess,
		UserText: st.text,
	})
	p.metrics.LLMDuration.Record(ctx, p.now().Sub(llmStart).Seconds())
	if r.TokensUsed > 0 {
		p.metrics.TokensUsed.Add(ctx, int64(r.TokensUsed))
	}
	return r
}

func (p *Processor) renderValues(st *turnState) map[string]string {
	v := map[string]string{
		"companyName": st.company.Name,
		"trade":       st.company.Trade,
	}
	for _, slot := range st.company.FrontDesk.BookingSlots {
		if slot.Type != tenant.SlotName {
			continue
		}
		if name := st.sess.SlotValue(slot.ID); name != "" {
			v["callerName"] = name
			v["name"] = name
			st.rec.Flag(blackbox.FlagCallerNameProvided)
		}
		break
	}
	return v
}

// finish runs steps 14–17: transcript, save (with one conflict retry
// signalled to the caller), audit, metrics, response assembly.
func (p *Processor) finish(ctx context.Context, st *turnState) (*Output, bool) {
	sess := st.sess

	sess.AppendTurn("user", st.in.UserText, "", 0)
	sess.AppendTurn("assistant", st.reply, st.matchSource, st.tokens)

	if err := p.saveSession(ctx, st); err != nil {
		if errors.Is(err, session.ErrVersionConflict) && st.attempt == 0 {
			return nil, true
		}
		// Best effort: the caller still gets the reply; the next turn
		// rebuilds from the last good save.
		p.log.Warn("session save failed",
			"sessionId", sess.ID, "turn", st.turn, "error", err)
	}

	p.writeAudit(ctx, st)

	total := p.sinceMs(st.started)
	p.metrics.RecordTurn(ctx, float64(total)/1000,
		string(st.channel), string(sess.Mode), st.tier, st.matchSource)

	out := &Output{
		Success:          true,
		Reply:            st.reply,
		SessionID:        sess.ID,
		Phase:            string(sess.Phase),
		Mode:             string(sess.Mode),
		ConversationMode: string(sess.Mode),
		SlotsCollected:   sess.CollectedSlots,
		WantsBooking:     sess.Flags.WantsBooking || sess.Booking.ConsentGiven,
		MatchSource:      st.matchSource,
		Tier:             st.tier,
		LatencyMs:        total,
		TokensUsed:       st.tokens,
		RequiresTransfer: st.transfer,
		TransferReason:   st.transferWhy,
		Signals:          st.signals,
	}
	out.Signals.BookingModeLocked = out.Signals.BookingModeLocked || sess.Locks.BookingLocked
	out.Signals.BookingConsentPending = out.Signals.BookingConsentPending || sess.Booking.ConsentPending

	if st.in.IncludeDebug {
		out.Debug = map[string]any{
			"preprocessedText": st.text,
			"turn":             st.turn,
			"previousMode":     string(st.rec.PreviousMode),
			"describedProblem": st.describing,
			"consentReason":    st.consentRes.Reason,
			"locks":            sess.Locks,
			"turnTraceId":      st.rec.TurnTraceID,
		}
	}
	return out, false
}

func (p *Processor) saveSession(ctx context.Context, st *turnState) error {
	saveStart := p.now()
	err := p.sessions.Save(ctx, st.sess)
	p.metrics.SessionSaveDuration.Record(ctx, p.now().Sub(saveStart).Seconds())
	return err
}

func (p *Processor) writeAudit(ctx context.Context, st *turnState) {
	rec := st.rec
	sess := st.sess

	rec.Mode = sess.Mode
	rec.ModeTransition = rec.PreviousMode != sess.Mode
	rec.Phase = string(sess.Phase)
	rec.Consent = blackbox.ConsentTrace{
		Detected:       st.consentRes.HasConsent,
		Phrase:         st.consentRes.MatchedPhrase,
		Given:          sess.Booking.ConsentGiven,
		BookingStarted: sess.Locks.BookingStarted,
		PendingTurn:    sess.Booking.ConsentPendTurn,
	}
	total := p.sinceMs(st.started)
	rec.Response = blackbox.ResponseTrace{
		Source:             st.source,
		Tier:               st.tier,
		MatchSource:        st.matchSource,
		TokensUsed:         st.tokens,
		LatencyMs:          total,
		TotalTurnLatencyMs: total,
	}
	rec.Discovery = blackbox.DiscoveryTrace{
		Issue:         sess.Discovery.Issue,
		Urgency:       string(sess.Discovery.Urgency),
		TechMentioned: sess.Discovery.TechMentioned,
	}
	if st.reader != nil {
		rec.ConfigAccesses = st.reader.Accesses()
	}
	if st.reply != "" {
		rec.Flag(blackbox.FlagReplyGenerated)
	}
	if st.attempt > 0 {
		rec.Flag(blackbox.FlagSessionSaveRetried)
	}

	rec.SetCompliance(blackbox.Check(blackbox.CheckInput{
		Reply:         st.reply,
		Mode:          sess.Mode,
		ConsentGiven:  sess.Booking.ConsentGiven,
		BannedPhrases: p.bannedPhrases,
	}))

	if p.audit == nil {
		return
	}
	if err := p.audit.Append(ctx, rec); err != nil {
		p.metrics.AuditFailures.Add(ctx, 1)
		p.log.Warn("audit append failed",
			"sessionId", rec.SessionID,
			"turnTraceId", rec.TurnTraceID,
			"error", err)
	}
}

func (p *Processor) sinceMs(t time.Time) int64 {
	ms := p.now().Sub(t).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}
