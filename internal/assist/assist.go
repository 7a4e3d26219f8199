// Package assist wraps the LLM provider for the three conversational jobs
// the deterministic layers hand off: open-ended discovery replies,
// interruption answers during booking, and post-booking Q&A. Every call is
// bounded by a soft timeout with a scripted fallback so a slow model never
// stalls a caller.
package assist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
	"github.com/relaydesk/relaydesk/pkg/provider/llm"
)

// Match-source labels for LLM-produced replies.
const (
	SourceDiscovery    = "LLM_DISCOVERY"
	SourceInterruption = "LLM_INTERRUPTION_ANSWER"
	SourcePostBooking  = "LLM_POST_BOOKING"
	SourceFallback     = "LLM_FALLBACK"
)

// defaultTimeout is the soft budget for one completion. Voice callers hear
// dead air past roughly two seconds, so the fallback fires instead.
const defaultTimeout = 2 * time.Second

const defaultFallbackReply = "Let me get that sorted for you — one moment."

// maxHistoryTurns bounds how much transcript is replayed into the prompt.
const maxHistoryTurns = 12

// Reply is one assisted answer.
type Reply struct {
	Text        string
	TokensUsed  int
	MatchSource string

	// FellBack is true when the model errored or timed out and the
	// scripted fallback was used instead.
	FellBack bool
}

// Assist produces LLM-backed replies. Safe for concurrent use.
type Assist struct {
	provider llm.Provider
	log      *slog.Logger
	timeout  time.Duration
	fallback string
}

// Option configures an [Assist].
type Option func(*Assist)

// WithTimeout overrides the per-call soft timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Assist) { a.timeout = d }
}

// WithFallbackReply overrides the scripted timeout reply.
func WithFallbackReply(s string) Option {
	return func(a *Assist) { a.fallback = s }
}

// New builds an Assist over provider.
func New(provider llm.Provider, log *slog.Logger, opts ...Option) *Assist {
	if log == nil {
		log = slog.Default()
	}
	a := &Assist{
		provider: provider,
		log:      log,
		timeout:  defaultTimeout,
		fallback: defaultFallbackReply,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Params carries one turn's context into an assisted completion.
type Params struct {
	Company  *tenant.Company
	Session  *session.Session
	UserText string
}

// Discovery produces an empathetic discovery-phase reply: acknowledge the
// issue, optionally ask one clarifying question, never push booking slots.
func (a *Assist) Discovery(ctx context.Context, p Params) Reply {
	sys := a.systemPrompt(p.Company) + `
The caller is describing their problem. Acknowledge it in one or two short
sentences and, if the description is vague, ask one clarifying question.
Do not ask for their name, phone number, address, or preferred time.
Do not promise a price or an arrival time.`
	return a.complete(ctx, sys, p, SourceDiscovery)
}

// Interruption answers an off-topic question asked mid-booking. The booking
// controller appends its resume block afterwards, so the answer must stand
// alone and stay short.
func (a *Assist) Interruption(ctx context.Context, p Params) Reply {
	sys := a.systemPrompt(p.Company) + `
The caller interrupted the booking flow with a question. Answer it in one
or two sentences using only the company facts above. If you do not know,
say the office will confirm. Do not restart the booking yourself.`
	return a.complete(ctx, sys, p, SourceInterruption)
}

// PostBooking answers questions after the booking is finalized without
// reopening slot collection.
func (a *Assist) PostBooking(ctx context.Context, p Params) Reply {
	sys := a.systemPrompt(p.Company) + `
The caller's booking is already confirmed. Answer their question briefly
and reassure them the appointment stands. Never collect booking details
again and never create a second appointment.`
	return a.complete(ctx, sys, p, SourcePostBooking)
}

func (a *Assist) systemPrompt(company *tenant.Company) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the phone receptionist for %s", company.Name)
	if company.Trade != "" {
		fmt.Fprintf(&b, ", a %s company", company.Trade)
	}
	b.WriteString(". Speak naturally, stay under 40 words, and never mention being an AI.\n")
	if len(company.ServiceAreas) > 0 {
		fmt.Fprintf(&b, "Service areas: %s.\n", strings.Join(company.ServiceAreas, ", "))
	}
	return b.String()
}

func (a *Assist) complete(ctx context.Context, systemPrompt string, p Params, source string) Reply {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     a.history(p),
		Temperature:  0.4,
		MaxTokens:    120,
	})
	if err != nil {
		a.log.Warn("llm assist fell back",
			"source", source,
			"sessionId", p.Session.ID,
			"error", err)
		return Reply{Text: a.fallback, MatchSource: SourceFallback, FellBack: true}
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return Reply{Text: a.fallback, MatchSource: SourceFallback, FellBack: true}
	}
	return Reply{Text: text, TokensUsed: resp.Usage.TotalTokens, MatchSource: source}
}

// history replays the recent transcript plus the current utterance.
func (a *Assist) history(p Params) []llm.Message {
	turns := p.Session.Turns
	if len(turns) > maxHistoryTurns {
		turns = turns[len(turns)-maxHistoryTurns:]
	}
	msgs := make([]llm.Message, 0, len(turns)+1)
	for _, t := range turns {
		role := "user"
		if t.Role == "assistant" {
			role = "assistant"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: p.UserText})
	return msgs
}
