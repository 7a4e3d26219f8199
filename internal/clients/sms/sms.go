// Package sms defines the outbound text-message sender used for booking
// confirmations and appointment reminders.
package sms

import (
	"context"
	"time"
)

// Message is one outbound SMS.
type Message struct {
	CompanyID string
	To        string
	Body      string

	// SendAt schedules delivery; zero means immediately. Quiet-hour
	// confirmations and appointment reminders use it.
	SendAt time.Time
}

// Sender delivers messages. Implementations must be safe for concurrent
// use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
