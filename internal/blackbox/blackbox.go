// Package blackbox is the per-call append-only audit trail. Every turn
// emits exactly one Record describing how the response was produced:
// which tier answered, what matched, what the consent gate saw, and
// whether the reply passed the compliance check. Appending is best-effort
// for the caller — a broken audit store must never break the turn — but
// the orchestrator awaits the append before returning, so a successful
// turn's record is durable.
package blackbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// Execution-trace flags recorded per turn.
const (
	FlagScenarioContextProvided = "scenarioContext_provided"
	FlagCallerNameProvided      = "callerName_provided"
	FlagConsentGateEnforced     = "consentGate_enforced"
	FlagReplyGenerated          = "reply_generated"
	FlagCompliancePassed        = "compliance_passed"
	FlagComplianceFailed        = "compliance_failed"
	FlagNamePlaceholderLeaked   = "name_placeholder_leaked"
	FlagVerbosityExceeded       = "verbosity_exceeded"
	FlagSmartFallbackUsed       = "smart_fallback_used"
	FlagSessionSaveRetried      = "session_save_retried"
)

// ConsentTrace captures what the consent gate decided this turn.
type ConsentTrace struct {
	Detected       bool   `json:"consentDetected"`
	Phrase         string `json:"consentPhrase,omitempty"`
	Given          bool   `json:"consentGiven"`
	BookingStarted bool   `json:"bookingStarted"`
	PendingTurn    int    `json:"consentPendingTurn,omitempty"`
}

// ResponseTrace attributes the reply to its producer.
type ResponseTrace struct {
	Source             string `json:"responseSource"`
	Tier               string `json:"tier"`
	MatchSource        string `json:"matchSource"`
	TokensUsed         int    `json:"tokensUsed,omitempty"`
	LatencyMs          int64  `json:"latencyMs"`
	TotalTurnLatencyMs int64  `json:"totalTurnLatencyMs"`
}

// MatchingTrace is present only when the scenario cascade ran.
type MatchingTrace struct {
	FastLookupUsed    bool    `json:"fastLookupUsed"`
	CandidateCount    int     `json:"candidateCount"`
	TotalPoolSize     int     `json:"totalPoolSize"`
	MatchMethod       string  `json:"matchMethod"`
	ScenarioIDMatched string  `json:"scenarioIdMatched,omitempty"`
	MatchConfidence   float64 `json:"matchConfidence"`
	TimingMs          int64   `json:"timingMs"`
}

// DiscoveryTrace snapshots what discovery knew at the end of the turn.
type DiscoveryTrace struct {
	Issue         string `json:"issue,omitempty"`
	Urgency       string `json:"urgency,omitempty"`
	TechMentioned string `json:"techMentioned,omitempty"`
	Emotion       string `json:"emotion,omitempty"`
}

// Record is one turn's audit entry.
type Record struct {
	CallID      string    `json:"callId,omitempty"`
	CompanyID   string    `json:"companyId"`
	Channel     string    `json:"channel"`
	SessionID   string    `json:"sessionId"`
	TurnNumber  int       `json:"turnNumber"`
	TurnTraceID string    `json:"turnTraceId"`
	Timestamp   time.Time `json:"timestamp"`

	Mode           session.Mode `json:"mode"`
	PreviousMode   session.Mode `json:"previousMode"`
	ModeTransition bool         `json:"modeTransition"`
	Phase          string       `json:"phase,omitempty"`

	Consent    ConsentTrace   `json:"consent"`
	Response   ResponseTrace  `json:"response"`
	Matching   *MatchingTrace `json:"matching,omitempty"`
	Trace      []string       `json:"executionTrace,omitempty"`
	Compliance Compliance     `json:"compliance"`
	Discovery  DiscoveryTrace `json:"discovery"`

	// ConfigAccesses lists every tenant-config read the turn performed
	// through the traced reader, including where defaults substituted for
	// missing tenant values.
	ConfigAccesses []tenant.Access `json:"configAccesses,omitempty"`
}

// NewRecord starts a record for one turn with a fresh trace id.
func NewRecord(companyID, channel, sessionID string, turnNumber int) *Record {
	return &Record{
		CompanyID:   companyID,
		Channel:     channel,
		SessionID:   sessionID,
		TurnNumber:  turnNumber,
		TurnTraceID: uuid.NewString(),
		Timestamp:   time.Now().UTC(),
	}
}

// Flag appends an execution-trace flag once.
func (r *Record) Flag(name string) {
	for _, f := range r.Trace {
		if f == name {
			return
		}
	}
	r.Trace = append(r.Trace, name)
}

// SetCompliance stores the check result and mirrors it into the trace.
func (r *Record) SetCompliance(c Compliance) {
	r.Compliance = c
	if c.Passed {
		r.Flag(FlagCompliancePassed)
	} else {
		r.Flag(FlagComplianceFailed)
	}
	for _, v := range c.Violations {
		switch v {
		case ViolationPlaceholderLeak:
			r.Flag(FlagNamePlaceholderLeaked)
		case ViolationVerbosity:
			r.Flag(FlagVerbosityExceeded)
		}
	}
}

// Appender persists audit records.
type Appender interface {
	Append(ctx context.Context, rec *Record) error
}

// Append writes the record and swallows failures with a warning; the audit
// path never breaks a turn.
func Append(ctx context.Context, a Appender, rec *Record, log *slog.Logger) {
	if a == nil || rec == nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}
	if err := a.Append(ctx, rec); err != nil {
		log.Warn("audit append failed",
			"sessionId", rec.SessionID,
			"turnTraceId", rec.TurnTraceID,
			"error", err)
	}
}
