// Package mock provides a test double for the calendar client.
package mock

import (
	"context"
	"sync"

	"github.com/relaydesk/relaydesk/internal/clients/calendar"
)

// Client records created events and returns canned responses.
type Client struct {
	mu     sync.Mutex
	Events []calendar.Event

	// EventID is returned from CreateEvent; Err, when set, is returned
	// instead.
	EventID string
	Err     error
}

var _ calendar.Client = (*Client)(nil)

func (c *Client) CreateEvent(ctx context.Context, ev calendar.Event) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return "", c.Err
	}
	c.Events = append(c.Events, ev)
	if c.EventID == "" {
		return "evt-1", nil
	}
	return c.EventID, nil
}

// Created returns a snapshot of the events created so far.
func (c *Client) Created() []calendar.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]calendar.Event, len(c.Events))
	copy(out, c.Events)
	return out
}
