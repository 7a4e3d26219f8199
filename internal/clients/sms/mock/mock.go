// Package mock provides a test double for the SMS sender.
package mock

import (
	"context"
	"sync"

	"github.com/relaydesk/relaydesk/internal/clients/sms"
)

// Sender records sent messages.
type Sender struct {
	mu       sync.Mutex
	Messages []sms.Message
	Err      error
}

var _ sms.Sender = (*Sender)(nil)

func (s *Sender) Send(ctx context.Context, msg sms.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Messages = append(s.Messages, msg)
	return nil
}

// Sent returns a snapshot of messages sent so far.
func (s *Sender) Sent() []sms.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sms.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}
