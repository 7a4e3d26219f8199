package turn

import (
	"context"
	"strings"

	"github.com/relaydesk/relaydesk/internal/blackbox"
	"github.com/relaydesk/relaydesk/internal/extract"
	"github.com/relaydesk/relaydesk/internal/session"
)

// Smart-fallback replies for the error-containment path. The agent never
// admits a technical problem; it acknowledges and re-engages.
const (
	fallbackScenarioFunnel = "I understand you're having an issue — would you like me to schedule a service appointment?"
	fallbackGarbled        = "I'm sorry, I didn't quite catch that — could you say it again?"
	fallbackGeneric        = "Let me make sure I help you with that — could you tell me a bit more about what's going on?"
)

// smartFallback converts any pipeline failure into a caller-safe reply and
// records what happened. The audit record is written with the
// error-containment source so ops can find these turns.
func (p *Processor) smartFallback(ctx context.Context, st *turnState, cause error) *Output {
	reply := fallbackGeneric
	switch {
	case st.scenarioMatched:
		reply = fallbackScenarioFunnel
	case strings.TrimSpace(st.in.UserText) == "" || extract.IsSilence(st.in.UserText):
		reply = fallbackGarbled
	}

	p.log.Error("turn contained by smart fallback",
		"companyId", st.in.CompanyID,
		"sessionId", st.in.SessionID,
		"scenarioMatched", st.scenarioMatched,
		"error", cause)
	p.metrics.SmartFallbacks.Add(ctx, 1)

	rec := st.rec
	if rec == nil {
		sessionID := st.in.SessionID
		if st.sess != nil {
			sessionID = st.sess.ID
		}
		rec = blackbox.NewRecord(st.in.CompanyID, string(st.channel), sessionID, st.turn)
		rec.CallID = st.in.CallSID
	}
	rec.Flag(blackbox.FlagSmartFallbackUsed)
	total := p.sinceMs(st.started)
	rec.Response = blackbox.ResponseTrace{
		Source:             auditErrorSource,
		Tier:               TierIntercept,
		MatchSource:        SourceSmartFallback,
		LatencyMs:          total,
		TotalTurnLatencyMs: total,
	}
	if st.sess != nil {
		rec.Mode = st.sess.Mode
		rec.Phase = string(st.sess.Phase)
	}
	blackbox.Append(ctx, p.audit, rec, p.log)

	out := &Output{
		Success:     false,
		Reply:       reply,
		MatchSource: SourceSmartFallback,
		Tier:        TierIntercept,
		LatencyMs:   total,
		Signals:     st.signals,
	}
	if st.sess != nil {
		out.SessionID = st.sess.ID
		out.Phase = string(st.sess.Phase)
		out.Mode = string(st.sess.Mode)
		out.ConversationMode = string(st.sess.Mode)
		out.SlotsCollected = st.sess.CollectedSlots
	} else {
		out.SessionID = st.in.SessionID
		out.Mode = string(session.ModeError)
	}
	return out
}
