package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/relaydesk/relaydesk/internal/assist"
	"github.com/relaydesk/relaydesk/internal/blackbox"
	auditmock "github.com/relaydesk/relaydesk/internal/blackbox/mock"
	"github.com/relaydesk/relaydesk/internal/booking"
	"github.com/relaydesk/relaydesk/internal/scenario"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
	"github.com/relaydesk/relaydesk/pkg/provider/llm"
	llmmock "github.com/relaydesk/relaydesk/pkg/provider/llm/mock"
)

// --- in-memory fakes ---

type memCompanies struct {
	company *tenant.Company
	err     error
}

func (m *memCompanies) Get(_ context.Context, companyID string) (*tenant.Company, error) {
	if m.err != nil {
		return nil, m.err
	}
	if companyID != m.company.ID {
		return nil, tenant.ErrCompanyNotFound
	}
	return m.company, nil
}

// memSessions is an in-memory session.Store. Reads return deep copies so a
// failed save leaves the persisted state untouched, like the real store.
type memSessions struct {
	mu         sync.Mutex
	byID       map[string]*session.Session
	byIdentity map[string]string
	seq        int

	getErr    error
	conflicts int // fail this many saves with ErrVersionConflict first
	saves     int
}

func newMemSessions() *memSessions {
	return &memSessions{
		byID:       make(map[string]*session.Session),
		byIdentity: make(map[string]string),
	}
}

func cloneSession(s *session.Session) *session.Session {
	raw, _ := json.Marshal(s)
	out := &session.Session{}
	_ = json.Unmarshal(raw, out)
	return out
}

func (m *memSessions) GetOrCreate(_ context.Context, params session.GetOrCreateParams) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}

	if params.SessionID != "" && !params.ForceNew {
		if s, ok := m.byID[params.SessionID]; ok {
			return cloneSession(s), nil
		}
	}
	identity := params.CompanyID + "|" + string(params.Channel) + "|" + params.Identifier
	if params.Identifier != "" && !params.ForceNew {
		if id, ok := m.byIdentity[identity]; ok {
			return cloneSession(m.byID[id]), nil
		}
	}

	m.seq++
	s := &session.Session{
		ID:          fmt.Sprintf("sess-%d", m.seq),
		CompanyID:   params.CompanyID,
		Channel:     params.Channel,
		Identifier:  params.Identifier,
		Mode:        session.ModeDiscovery,
		Phase:       session.PhaseDiscovery,
		CallerPhone: params.CallerPhone,
		CallSID:     params.CallSID,
		Version:     1,
	}
	m.byID[s.ID] = s
	if params.Identifier != "" {
		m.byIdentity[identity] = s.ID
	}
	return cloneSession(s), nil
}

func (m *memSessions) GetByID(_ context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *memSessions) Save(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.conflicts > 0 {
		m.conflicts--
		return session.ErrVersionConflict
	}
	s.Version++
	m.byID[s.ID] = cloneSession(s)
	return nil
}

// seed installs a prepared session as persisted state.
func (m *memSessions) seed(s *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[s.ID] = cloneSession(s)
	m.byIdentity[s.CompanyID+"|"+string(s.Channel)+"|"+s.Identifier] = s.ID
}

type stubRetriever struct {
	candidates []scenario.Candidate
	err        error
	calls      int
}

func (s *stubRetriever) Retrieve(context.Context, string, string, int) ([]scenario.Candidate, error) {
	s.calls++
	return s.candidates, s.err
}

// memRequests is an in-memory booking.RequestStore.
type memRequests struct {
	mu       sync.Mutex
	byID     map[string]*booking.Request
	inserted int
}

func newMemRequests() *memRequests {
	return &memRequests{byID: make(map[string]*booking.Request)}
}

func (m *memRequests) FindActiveBySession(_ context.Context, sessionID string) (*booking.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byID {
		if r.SessionID == sessionID && r.Status != booking.StatusCancelled {
			cp := *r
			return &cp, nil
		}
	}
	return nil, booking.ErrNotFound
}

func (m *memRequests) Insert(_ context.Context, r *booking.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.SessionID == r.SessionID && existing.Status != booking.StatusCancelled {
			return booking.ErrDuplicate
		}
	}
	cp := *r
	m.byID[r.ID] = &cp
	m.inserted++
	return nil
}

func (m *memRequests) Update(_ context.Context, r *booking.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[r.ID]; !ok {
		return booking.ErrNotFound
	}
	cp := *r
	m.byID[r.ID] = &cp
	return nil
}

// --- fixtures ---

func testCompany() *tenant.Company {
	return &tenant.Company{
		ID:    "co-1",
		Name:  "Apex Air",
		Trade: "HVAC",
		FrontDesk: tenant.FrontDeskBehavior{
			BookingSlots: []tenant.BookingSlot{
				{ID: "name", Type: tenant.SlotName, Required: true, Question: "Can I get your name?"},
				{ID: "phone", Type: tenant.SlotPhone, Required: true, Question: "What's the best number to reach you?"},
				{ID: "time", Type: tenant.SlotTime, Required: true, Question: "Would morning or afternoon work better?"},
			},
			Stages: tenant.ConversationStages{
				GreetingRules: []tenant.GreetingRule{
					{Trigger: "hello", Response: "Hi, thanks for calling {companyName}! What can I help you with?"},
				},
			},
			DetectionTriggers: tenant.DetectionTriggers{
				WantsBooking:      []string{"book an appointment", "schedule a visit"},
				DescribingProblem: []string{"acting up"},
			},
			DiscoveryConsent: tenant.DiscoveryConsent{
				BookingRequiresExplicitConsent: true,
			},
			SilencePrompts: []string{"Are you still there?"},
			BookingOutcome: tenant.BookingOutcome{
				Mode: tenant.OutcomeCallbackRequired,
				FinalScripts: map[tenant.OutcomeMode]string{
					tenant.OutcomeCallbackRequired: "You're all set, {name} — your case number is {caseId}.",
				},
			},
		},
	}
}

type env struct {
	proc      *Processor
	sessions  *memSessions
	retriever *stubRetriever
	requests  *memRequests
	audit     *auditmock.Appender
	llm       *llmmock.Provider
}

func newEnv(t *testing.T, company *tenant.Company) *env {
	t.Helper()
	e := &env{
		sessions:  newMemSessions(),
		retriever: &stubRetriever{},
		requests:  newMemRequests(),
		audit:     &auditmock.Appender{},
		llm: &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{
				Content: "Got it — tell me a little more about what's happening.",
				Usage:   llm.Usage{TotalTokens: 30},
			},
		},
	}
	e.proc = NewProcessor(
		&memCompanies{company: company},
		e.sessions,
		e.retriever,
		assist.New(e.llm, nil),
		booking.NewFinalizer(e.requests, nil, nil, nil),
		e.audit,
		nil,
	)
	return e
}

func turnInput(text string) Input {
	return Input{
		CompanyID: "co-1",
		Channel:   "phone",
		UserText:  text,
		CallSID:   "CA-1",
	}
}

func lastRecord(t *testing.T, a *auditmock.Appender) *blackbox.Record {
	t.Helper()
	recs := a.Appended()
	if len(recs) == 0 {
		t.Fatal("no audit records appended")
	}
	return recs[len(recs)-1]
}

// --- tests ---

func TestProcessTurn_GreetingIntercept(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testCompany())

	out := e.proc.ProcessTurn(context.Background(), turnInput("hello"))
	if !out.Success {
		t.Fatal("turn failed")
	}
	if out.MatchSource != "GREETING_RULE" || out.Tier != TierIntercept {
		t.Errorf("matchSource/tier = %q/%q", out.MatchSource, out.Tier)
	}
	if !strings.Contains(out.Reply, "Apex Air") {
		t.Errorf("reply missing company name: %q", out.Reply)
	}
	if out.TokensUsed != 0 {
		t.Errorf("intercept spent tokens: %d", out.TokensUsed)
	}
	if e.retriever.calls != 0 {
		t.Error("intercept turn reached the scenario retriever")
	}

	rec := lastRecord(t, e.audit)
	if rec.Response.Tier != TierIntercept || rec.TurnNumber != 1 {
		t.Errorf("audit = %+v", rec.Response)
	}
}

func TestProcessTurn_SilencePrompt(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testCompany())

	out := e.proc.ProcessTurn(context.Background(), turnInput(""))
	if out.MatchSource != "SILENCE_PROMPT" {
		t.Errorf("matchSource = %q", out.MatchSource)
	}
	if out.Reply != "Are you still there?" {
		t.Errorf("reply = %q", out.Reply)
	}
}

func TestProcessTurn_ScenarioMatch(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testCompany())
	e.retriever.candidates = []scenario.Candidate{{
		ID:           "sc-cooling",
		Name:         "No cooling",
		Type:         "diagnostic",
		Confidence:   0.92,
		QuickReplies: []string{"Sorry to hear that — {companyName} can absolutely take a look."},
	}}

	out := e.proc.ProcessTurn(context.Background(), turnInput("my ac is not cooling at all"))
	if out.MatchSource != scenario.SourceMatched || out.Tier != TierScenario {
		t.Fatalf("matchSource/tier = %q/%q", out.MatchSource, out.Tier)
	}
	if !strings.Contains(out.Reply, "Apex Air") {
		t.Errorf("placeholder not rendered: %q", out.Reply)
	}

	rec := lastRecord(t, e.audit)
	if rec.Matching == nil {
		t.Fatal("audit missing matching trace")
	}
	if rec.Matching.ScenarioIDMatched != "sc-cooling" || rec.Matching.CandidateCount != 1 {
		t.Errorf("matching trace = %+v", rec.Matching)
	}
}

func TestProcessTurn_LLMDiscoveryFallback(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testCompany())

	out := e.proc.ProcessTurn(context.Background(), turnInput("my ac has been acting up lately"))
	if out.MatchSource != assist.SourceDiscovery || out.Tier != TierLLM {
		t.Fatalf("matchSource/tier = %q/%q", out.MatchSource, out.Tier)
	}
	if out.TokensUsed != 30 {
		t.Errorf("tokensUsed = %d", out.TokensUsed)
	}
	if e.retriever.calls != 1 {
		t.Errorf("retriever calls = %d", e.retriever.calls)
	}
}

func TestProcessTurn_LegacyConsentLocksBooking(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testCompany())

	out := e.proc.ProcessTurn(context.Background(), turnInput("I'd like to book an appointment"))
	if out.Mode != string(session.ModeBooking) {
		t.Fatalf("mode = %q, want BOOKING", out.Mode)
	}
	if !out.Signals.BookingModeLocked {
		t.Error("bookingModeLocked signal not set")
	}
	if out.MatchSource != booking.SourceSlotQuestion {
		t.Errorf("matchSource = %q", out.MatchSource)
	}
	if out.Reply != "Can I get your name?" {
		t.Errorf("reply = %q", out.Reply)
	}
	if !out.WantsBooking {
		t.Error("wantsBooking not set")
	}

	rec := lastRecord(t, e.audit)
	if !rec.Consent.Detected || !rec.Consent.Given {
		t.Errorf("consent trace = %+v", rec.Consent)
	}
	if !rec.ModeTransition {
		t.Error("mode transition not recorded")
	}
}

func TestProcessTurn_DiscoveryFlowSignalsWithoutLocking(t *testing.T) {
	t.Parallel()
	company := testCompany()
	company.FrontDesk.DiscoveryFlowSteps = []string{"issue", "name", "phone"}
	e := newEnv(t, company)

	out := e.proc.ProcessTurn(context.Background(), turnInput("please send someone out"))
	if out.Mode != string(session.ModeDiscovery) {
		t.Fatalf("mode = %q, want DISCOVERY", out.Mode)
	}
	if !out.Signals.SchedulingAccepted || !out.Signals.DeferToBookingRunner {
		t.Errorf("signals = %+v", out.Signals)
	}
	if out.Signals.BookingModeLocked {
		t.Error("discovery-flow tenant locked booking mode")
	}
	// Scenario pool is empty, so the reply still comes from the LLM lane.
	if out.Tier != TierLLM {
		t.Errorf("tier = %q", out.Tier)
	}
}

func TestProcessTurn_BookingCompletionFinalizes(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testCompany())

	sess := &session.Session{
		ID:         "sess-book",
		CompanyID:  "co-1",
		Channel:    tenant.ChannelVoice,
		Identifier: "CA-1",
		Mode:       session.ModeBooking,
		Phase:      session.PhaseBooking,
		Version:    3,
	}
	sess.Locks.BookingStarted = true
	sess.SetSlot("name", "Mark Gonzales")
	sess.SetSlot("phone", "5551234567")
	sess.SetSlot("time", "tomorrow morning")
	e.sessions.seed(sess)

	in := turnInput("that works for me")
	in.SessionID = "sess-book"
	out := e.proc.ProcessTurn(context.Background(), in)

	if out.MatchSource != SourceBookingFinalized {
		t.Fatalf("matchSource = %q (reply %q)", out.MatchSource, out.Reply)
	}
	if out.Mode != string(session.ModeComplete) {
		t.Errorf("mode = %q, want COMPLETE", out.Mode)
	}
	if !strings.Contains(out.Reply, "Mark Gonzales") || !strings.Contains(out.Reply, "RD-") {
		t.Errorf("outcome script = %q", out.Reply)
	}
	if e.requests.inserted != 1 {
		t.Errorf("booking requests inserted = %d", e.requests.inserted)
	}

	// A repeat completion turn must not create a second request.
	in.UserText = "great, thanks"
	out2 := e.proc.ProcessTurn(context.Background(), in)
	if e.requests.inserted != 1 {
		t.Errorf("repeat turn inserted another request: %d", e.requests.inserted)
	}
	if out2.Mode != string(session.ModeComplete) {
		t.Errorf("repeat turn mode = %q", out2.Mode)
	}
}

func TestProcessTurn_PostBookingNewBookingReset(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testCompany())

	sess := &session.Session{
		ID:         "sess-done",
		CompanyID:  "co-1",
		Channel:    tenant.ChannelVoice,
		Identifier: "CA-1",
		Mode:       session.ModeComplete,
		Phase:      session.PhaseComplete,
		Version:    5,
	}
	sess.Locks.BookingStarted = true
	sess.Locks.BookingLocked = true
	sess.SetSlot("name", "Mark Gonzales")
	e.sessions.seed(sess)

	in := turnInput("actually I need to make a new booking too")
	in.SessionID = "sess-done"
	out := e.proc.ProcessTurn(context.Background(), in)

	if out.MatchSource != SourceNewBookingReset {
		t.Fatalf("matchSource = %q", out.MatchSource)
	}
	if out.Mode != string(session.ModeDiscovery) {
		t.Errorf("mode = %q, want DISCOVERY after reset", out.Mode)
	}
	if len(out.SlotsCollected) != 0 {
		t.Errorf("slots survived the reset: %v", out.SlotsCollected)
	}
}

func TestProcessTurn_CandidateSlotGate(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testCompany())

	out := e.proc.ProcessTurn(context.Background(), turnInput("you can reach me at 555-123-4567"))
	if out.SlotsCollected["phone"] != "" {
		t.Errorf("unasked phone persisted to collected slots: %v", out.SlotsCollected)
	}

	stored, err := e.sessions.GetByID(context.Background(), out.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.CandidateSlots["phone"] != "5551234567" {
		t.Errorf("candidate slots = %v", stored.CandidateSlots)
	}
}

func TestProcessTurn_MaxDiscoveryTurnsOffersScheduling(t *testing.T) {
	t.Parallel()
	company := testCompany()
	company.FrontDesk.DiscoveryConsent.MaxDiscoveryTurns = 1
	e := newEnv(t, company)

	out := e.proc.ProcessTurn(context.Background(), turnInput("my ac has been acting up lately"))
	if out.MatchSource != SourceSchedulingOffer {
		t.Fatalf("matchSource = %q", out.MatchSource)
	}
	if !out.Signals.BookingConsentPending {
		t.Error("bookingConsentPending signal not set")
	}

	// The affirmative answer to the pending offer opens the booking lane.
	in := turnInput("yes please")
	in.SessionID = out.SessionID
	out2 := e.proc.ProcessTurn(context.Background(), in)
	if out2.Mode != string(session.ModeBooking) {
		t.Fatalf("mode after yes = %q (reply %q)", out2.Mode, out2.Reply)
	}
	if out2.Reply != "Can I get your name?" {
		t.Errorf("reply = %q", out2.Reply)
	}
}

func TestProcessTurn_ConfirmSilenceRunsBookingAbort(t *testing.T) {
	t.Parallel()
	company := testCompany()
	company.FrontDesk.BookingSlots[1].ConfirmBack = true
	company.FrontDesk.BookingSlots[1].ConfirmPrompt = "I have {value} — is that right?"
	e := newEnv(t, company)

	sess := &session.Session{
		ID:         "sess-conf",
		CompanyID:  "co-1",
		Channel:    tenant.ChannelVoice,
		Identifier: "CA-1",
		Mode:       session.ModeBooking,
		Phase:      session.PhaseBooking,
		Version:    2,
	}
	sess.Locks.BookingStarted = true
	sess.SetSlot("name", "Mark Gonzales")
	sess.SetSlot("phone", "5551234567")
	sess.Booking.MetaFor("phone").PendingConfirm = true
	sess.Booking.ActiveSlot = "phone"
	sess.Booking.ActiveSlotType = tenant.SlotPhone
	e.sessions.seed(sess)

	// An empty turn while a confirm-back answer is pending belongs to the
	// booking flow, not the generic silence prompt.
	in := turnInput("")
	in.SessionID = "sess-conf"
	out := e.proc.ProcessTurn(context.Background(), in)
	if out.MatchSource != booking.SourceConfirmPrompt {
		t.Fatalf("first empty turn matchSource = %q, want confirm re-read", out.MatchSource)
	}
	if !strings.Contains(out.Reply, "5551234567") {
		t.Errorf("reply = %q, want the number read back", out.Reply)
	}

	out2 := e.proc.ProcessTurn(context.Background(), in)
	if out2.MatchSource != booking.SourceAbort {
		t.Fatalf("second empty turn matchSource = %q (reply %q), want abort", out2.MatchSource, out2.Reply)
	}
	if out2.Mode != string(session.ModeComplete) {
		t.Errorf("mode = %q, want COMPLETE", out2.Mode)
	}

	stored, err := e.sessions.GetByID(context.Background(), "sess-conf")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Booking.OutcomeMode != tenant.OutcomeMessageTaken {
		t.Errorf("stored outcome = %q, want message_taken", stored.Booking.OutcomeMode)
	}
}

func TestProcessTurn_BookingValueReadBack(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testCompany())

	sess := &session.Session{
		ID:         "sess-read",
		CompanyID:  "co-1",
		Channel:    tenant.ChannelVoice,
		Identifier: "CA-1",
		Mode:       session.ModeBooking,
		Phase:      session.PhaseBooking,
		Version:    2,
	}
	sess.Locks.BookingStarted = true
	sess.SetSlot("name", "John Smith")
	sess.Booking.MetaFor("name").Name = &session.NameMeta{First: "John", Last: "Smith", LastConfirmed: true}
	e.sessions.seed(sess)

	in := turnInput("what is my last name?")
	in.SessionID = "sess-read"
	out := e.proc.ProcessTurn(context.Background(), in)

	if out.MatchSource != booking.SourceConfirmRequest || out.Tier != TierIntercept {
		t.Fatalf("matchSource/tier = %q/%q, want deterministic read-back", out.MatchSource, out.Tier)
	}
	if !strings.Contains(out.Reply, "Smith") {
		t.Errorf("reply = %q, want the stored last name", out.Reply)
	}
	if out.TokensUsed != 0 {
		t.Errorf("read-back spent tokens: %d", out.TokensUsed)
	}
}

func fastPathCompany() *tenant.Company {
	company := testCompany()
	company.FrontDesk.FastPathBooking = tenant.FastPathBooking{
		Enabled:               true,
		TriggerKeywords:       []string{"send someone"},
		OfferScript:           "I can get a tech headed your way — want me to set that up?",
		OneQuestionScript:     "Absolutely — real quick, what's going on?",
		MaxDiscoveryQuestions: 1,
	}
	return company
}

func TestProcessTurn_FastPathOneQuestionThenOffer(t *testing.T) {
	t.Parallel()
	e := newEnv(t, fastPathCompany())

	out := e.proc.ProcessTurn(context.Background(), turnInput("can you send someone out today"))
	if out.MatchSource != SourceFastPathQuestion {
		t.Fatalf("matchSource = %q, want the one-question script", out.MatchSource)
	}
	if out.Signals.BookingConsentPending {
		t.Error("one-question turn marked consent pending")
	}

	in := turnInput("my ac is acting up, please send someone")
	in.SessionID = out.SessionID
	out2 := e.proc.ProcessTurn(context.Background(), in)
	if out2.MatchSource != SourceFastPathOffer {
		t.Fatalf("matchSource = %q (reply %q), want the fast-path offer", out2.MatchSource, out2.Reply)
	}
	if !out2.Signals.BookingConsentPending {
		t.Error("offer turn missing bookingConsentPending signal")
	}
	if e.retriever.calls != 0 {
		t.Errorf("fast-path turns reached the scenario retriever: %d", e.retriever.calls)
	}

	// The traced config reader lands the script read in the audit record.
	rec := lastRecord(t, e.audit)
	found := false
	for _, a := range rec.ConfigAccesses {
		if a.Path == "frontDeskBehavior.fastPathBooking.offerScript" && !a.DefaultUsed {
			found = true
		}
	}
	if !found {
		t.Errorf("config accesses missing the offer-script read: %+v", rec.ConfigAccesses)
	}

	// The affirmative answer opens the booking lane.
	in.UserText = "yes please"
	out3 := e.proc.ProcessTurn(context.Background(), in)
	if out3.Mode != string(session.ModeBooking) {
		t.Fatalf("mode after yes = %q (reply %q)", out3.Mode, out3.Reply)
	}
	if out3.Reply != "Can I get your name?" {
		t.Errorf("reply = %q", out3.Reply)
	}
}

func TestProcessTurn_ClarifyingQuestionOncePerSession(t *testing.T) {
	t.Parallel()
	company := testCompany()
	company.FrontDesk.DiscoveryConsent.ClarifyingQuestions = tenant.ClarifyingQuestions{
		Enabled:       true,
		VaguePatterns: []string{"broken", "not working"},
	}
	e := newEnv(t, company)

	out := e.proc.ProcessTurn(context.Background(), turnInput("the thing is broken"))
	if out.MatchSource != SourceClarifyingQuestion || out.Tier != TierIntercept {
		t.Fatalf("matchSource/tier = %q/%q", out.MatchSource, out.Tier)
	}

	// Only once: the same vague description later falls through to the LLM.
	in := turnInput("it's just broken")
	in.SessionID = out.SessionID
	out2 := e.proc.ProcessTurn(context.Background(), in)
	if out2.MatchSource == SourceClarifyingQuestion {
		t.Error("clarifying question asked twice")
	}
	if out2.Tier != TierLLM {
		t.Errorf("tier = %q, want the LLM lane", out2.Tier)
	}
}

func TestProcessTurn_SaveConflictRetriesOnce(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testCompany())
	e.sessions.conflicts = 1

	out := e.proc.ProcessTurn(context.Background(), turnInput("hello"))
	if !out.Success {
		t.Fatal("turn failed after retry")
	}
	if e.sessions.saves != 2 {
		t.Errorf("saves = %d, want 2", e.sessions.saves)
	}

	rec := lastRecord(t, e.audit)
	found := false
	for _, f := range rec.Trace {
		if f == blackbox.FlagSessionSaveRetried {
			found = true
		}
	}
	if !found {
		t.Errorf("retried turn missing %s flag: %v", blackbox.FlagSessionSaveRetried, rec.Trace)
	}
}

func TestProcessTurn_SessionLoadFailureSmartFallback(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testCompany())
	e.sessions.getErr = errors.New("connection refused")

	out := e.proc.ProcessTurn(context.Background(), turnInput("my ac is broken"))
	if out.Success {
		t.Error("contained failure reported success")
	}
	if out.MatchSource != SourceSmartFallback {
		t.Errorf("matchSource = %q", out.MatchSource)
	}
	if out.Reply == "" || strings.Contains(strings.ToLower(out.Reply), "technical") {
		t.Errorf("fallback reply = %q", out.Reply)
	}

	rec := lastRecord(t, e.audit)
	if rec.Response.Source != auditErrorSource {
		t.Errorf("audit source = %q", rec.Response.Source)
	}
}

func TestProcessTurn_AuditFailureDoesNotBreakTurn(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testCompany())
	e.audit.Err = errors.New("audit store down")

	out := e.proc.ProcessTurn(context.Background(), turnInput("hello"))
	if !out.Success {
		t.Error("audit failure broke the turn")
	}
}

func TestProcessTurn_InvalidInput(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testCompany())

	out := e.proc.ProcessTurn(context.Background(), Input{Channel: "phone", UserText: "hi"})
	if out.Success {
		t.Error("missing companyId accepted")
	}
}
