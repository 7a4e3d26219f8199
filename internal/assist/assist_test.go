package assist

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
	"github.com/relaydesk/relaydesk/pkg/provider/llm"
	llmmock "github.com/relaydesk/relaydesk/pkg/provider/llm/mock"
)

func testParams() Params {
	sess := &session.Session{ID: "sess-1"}
	sess.AppendTurn("user", "my ac stopped working", "", 0)
	sess.AppendTurn("assistant", "I'm sorry to hear that — how long has it been out?", "SCENARIO_MATCHED", 0)
	return Params{
		Company:  &tenant.Company{ID: "co-1", Name: "Apex Air", Trade: "HVAC"},
		Session:  sess,
		UserText: "since this morning, and it's 85 in here",
	}
}

func TestDiscovery_ReturnsModelReply(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "That sounds miserable in this heat — is the unit running at all?",
			Usage:   llm.Usage{TotalTokens: 42},
		},
	}
	a := New(p, nil)

	r := a.Discovery(context.Background(), testParams())
	if r.FellBack {
		t.Fatal("fell back with a healthy provider")
	}
	if r.MatchSource != SourceDiscovery {
		t.Errorf("MatchSource = %q", r.MatchSource)
	}
	if r.TokensUsed != 42 {
		t.Errorf("TokensUsed = %d", r.TokensUsed)
	}

	if len(p.CompleteCalls) != 1 {
		t.Fatalf("CompleteCalls = %d", len(p.CompleteCalls))
	}
	req := p.CompleteCalls[0].Req
	if !strings.Contains(req.SystemPrompt, "Apex Air") {
		t.Errorf("system prompt missing company name: %q", req.SystemPrompt)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" || !strings.Contains(last.Content, "85 in here") {
		t.Errorf("last message = %+v", last)
	}
	// Transcript history precedes the current utterance.
	if req.Messages[0].Content != "my ac stopped working" {
		t.Errorf("history[0] = %+v", req.Messages[0])
	}
}

func TestComplete_ProviderErrorFallsBack(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteErr: errors.New("rate limited")}
	a := New(p, nil, WithFallbackReply("Bear with me one second."))

	r := a.Interruption(context.Background(), testParams())
	if !r.FellBack {
		t.Fatal("expected fallback")
	}
	if r.Text != "Bear with me one second." {
		t.Errorf("Text = %q", r.Text)
	}
	if r.MatchSource != SourceFallback {
		t.Errorf("MatchSource = %q", r.MatchSource)
	}
}

func TestComplete_EmptyContentFallsBack(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "   "}}
	a := New(p, nil)

	r := a.PostBooking(context.Background(), testParams())
	if !r.FellBack {
		t.Fatal("expected fallback on empty completion")
	}
}

// slowProvider blocks until its context is cancelled.
type slowProvider struct{ llmmock.Provider }

func (s *slowProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestComplete_TimeoutFallsBack(t *testing.T) {
	t.Parallel()

	a := New(&slowProvider{}, nil, WithTimeout(10*time.Millisecond))

	start := time.Now()
	r := a.Discovery(context.Background(), testParams())
	if !r.FellBack {
		t.Fatal("expected fallback on timeout")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout not honoured, took %v", elapsed)
	}
}

func TestHistory_TruncatesLongTranscripts(t *testing.T) {
	t.Parallel()

	p := testParams()
	for i := 0; i < 30; i++ {
		p.Session.AppendTurn("user", "filler", "", 0)
	}

	a := New(&llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}, nil)
	msgs := a.history(p)
	if len(msgs) != maxHistoryTurns+1 {
		t.Errorf("history length = %d, want %d", len(msgs), maxHistoryTurns+1)
	}
}
